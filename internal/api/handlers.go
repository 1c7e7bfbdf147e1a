// internal/api/handlers.go
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/Corphon/GeneGenie/internal/config"
	"github.com/Corphon/GeneGenie/internal/llm"
	"github.com/Corphon/GeneGenie/internal/models"
	"github.com/Corphon/GeneGenie/internal/services"
	"github.com/Corphon/GeneGenie/internal/utils"
	"github.com/gin-gonic/gin"
)

// Handler 处理API请求
type Handler struct {
	DocumentService *services.DocumentService // 文档上传与抽取
	SummaryService  *services.SummaryService  // 序列摘要
	ExportService   *services.ExportService   // 导出
	ProgressService *services.ProgressService // 异步任务进度
	LLMService      *services.LLMService      // 模型服务
	StatsService    *services.StatsService    // 使用统计
	Metrics         *utils.AppMetrics
	Hub             *DocumentHub
	Response        *ResponseHelper

	maxUploadBytes int64
	logger         *utils.Logger
}

// HandlerDeps 创建 Handler 所需的服务
type HandlerDeps struct {
	Documents   *services.DocumentService
	Summaries   *services.SummaryService
	Exports     *services.ExportService
	Progress    *services.ProgressService
	LLM         *services.LLMService
	Stats       *services.StatsService
	Metrics     *utils.AppMetrics
	Hub         *DocumentHub
	MaxUploadMB int
}

// NewHandler 创建API处理器
func NewHandler(deps HandlerDeps) *Handler {
	maxUploadMB := deps.MaxUploadMB
	if maxUploadMB <= 0 {
		maxUploadMB = 32
	}
	return &Handler{
		DocumentService: deps.Documents,
		SummaryService:  deps.Summaries,
		ExportService:   deps.Exports,
		ProgressService: deps.Progress,
		LLMService:      deps.LLM,
		StatsService:    deps.Stats,
		Metrics:         deps.Metrics,
		Hub:             deps.Hub,
		Response:        NewResponseHelper(),
		maxUploadBytes:  int64(maxUploadMB) << 20,
		logger:          utils.GetLogger(),
	}
}

// ExtractTextRequest 纯文本抽取请求
type ExtractTextRequest struct {
	Text string `json:"text"`
}

// ExtractTextResponse 纯文本抽取结果
type ExtractTextResponse struct {
	Records       []models.Record `json:"records"`
	SentenceCount int             `json:"sentence_count"`
	TextLength    int             `json:"text_length"`
	Message       string          `json:"message,omitempty"`
}

// UpdateLLMConfigRequest 更新LLM配置的请求
type UpdateLLMConfigRequest struct {
	Provider string            `json:"provider" binding:"required"`
	Config   map[string]string `json:"config"`
}

// HealthCheck 健康检查
func (h *Handler) HealthCheck(c *gin.Context) {
	ready, state := h.LLMService.GetProviderStatus()
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"llm_ready": ready,
		"llm_state": state,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// ========================================
// 文档处理器
// ========================================

// UploadDocument 上传PDF并抽取序列；?async=true 时后台处理并返回任务ID
func (h *Handler) UploadDocument(c *gin.Context) {
	// multipart 头部留出余量
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+(1<<20))

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			h.uploadTooLarge(c)
			return
		}
		h.Response.Error(c, http.StatusBadRequest, ErrorFileUploadFailed, "缺少上传文件", err.Error())
		return
	}

	if !strings.EqualFold(filepath.Ext(fileHeader.Filename), ".pdf") {
		h.Response.Error(c, http.StatusBadRequest, ErrorFileInvalid, "只支持PDF文件", fileHeader.Filename)
		return
	}
	if fileHeader.Size > h.maxUploadBytes {
		h.uploadTooLarge(c)
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		h.Response.Error(c, http.StatusBadRequest, ErrorFileUploadFailed, "无法读取上传文件", err.Error())
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.Response.Error(c, http.StatusBadRequest, ErrorFileUploadFailed, "无法读取上传文件", err.Error())
		return
	}

	filename := filepath.Base(fileHeader.Filename)

	if c.Query("async") == "true" {
		taskID, documentID := h.DocumentService.ProcessAsync(h.ProgressService, filename, data)
		h.Response.Accepted(c, gin.H{
			"task_id":     taskID,
			"document_id": documentID,
		}, "文档处理已开始，请订阅进度更新")
		return
	}

	doc, err := h.DocumentService.Process(c.Request.Context(), filename, data)
	if err != nil {
		h.Response.HandleError(c, err, "文档处理失败")
		return
	}

	message := doc.Message()
	if message == "" {
		message = fmt.Sprintf("找到 %d 条序列", len(doc.Records))
	}
	h.Response.Created(c, doc, message)
}

func (h *Handler) uploadTooLarge(c *gin.Context) {
	h.Response.Error(c, http.StatusRequestEntityTooLarge, ErrorFileTooLarge,
		fmt.Sprintf("文件超过 %d MB 限制", h.maxUploadBytes>>20))
}

// ExtractText 对请求中的纯文本运行抽取流程，不保存
func (h *Handler) ExtractText(c *gin.Context) {
	var req ExtractTextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "无效的请求格式", err.Error())
		return
	}

	result, err := h.DocumentService.ProcessText(c.Request.Context(), req.Text)
	if err != nil {
		h.Response.HandleError(c, err, "文本抽取失败")
		return
	}

	records := result.Records
	if records == nil {
		records = []models.Record{}
	}
	view := models.Document{
		Status:        models.DocumentStatusCompleted,
		SentenceCount: result.SentenceCount,
		TextLength:    result.TextLength,
		Records:       records,
	}

	h.Response.Success(c, ExtractTextResponse{
		Records:       records,
		SentenceCount: result.SentenceCount,
		TextLength:    result.TextLength,
		Message:       view.Message(),
	})
}

// ListDocuments 列出所有文档
func (h *Handler) ListDocuments(c *gin.Context) {
	docs, err := h.DocumentService.List()
	if err != nil {
		h.Response.HandleError(c, err, "获取文档列表失败")
		return
	}
	h.Response.Success(c, docs)
}

// GetDocument 获取文档详情
func (h *Handler) GetDocument(c *gin.Context) {
	doc, err := h.DocumentService.Get(c.Param("id"))
	if err != nil {
		h.Response.HandleError(c, err, "获取文档失败")
		return
	}
	h.Response.Success(c, doc, doc.Message())
}

// DeleteDocument 删除文档
func (h *Handler) DeleteDocument(c *gin.Context) {
	if err := h.DocumentService.Delete(c.Param("id")); err != nil {
		h.Response.HandleError(c, err, "删除文档失败")
		return
	}
	h.Response.Success(c, nil, "文档已删除")
}

// GetRecords 获取文档的抽取记录
func (h *Handler) GetRecords(c *gin.Context) {
	doc, err := h.DocumentService.Get(c.Param("id"))
	if err != nil {
		h.Response.HandleError(c, err, "获取记录失败")
		return
	}
	records := doc.Records
	if records == nil {
		records = []models.Record{}
	}
	h.Response.Success(c, records)
}

// ========================================
// 摘要处理器
// ========================================

// SummarizeRecord 为单条记录生成摘要
func (h *Handler) SummarizeRecord(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		h.Response.BadRequest(c, "无效的记录索引", c.Param("index"))
		return
	}

	record, err := h.SummaryService.SummarizeRecord(c.Request.Context(), c.Param("id"), index)
	if err != nil {
		h.Response.HandleError(c, err, "生成摘要失败")
		return
	}

	message := "摘要已生成"
	if record.SummaryFailed() {
		message = "摘要生成失败，可重试"
	}
	h.Response.Success(c, gin.H{"index": index, "record": record}, message)
}

// SummarizeAll 为文档中所有缺少摘要的记录生成摘要
func (h *Handler) SummarizeAll(c *gin.Context) {
	doc, processed, err := h.SummaryService.SummarizeAll(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.Response.HandleError(c, err, "批量生成摘要失败")
		return
	}

	failed := 0
	for _, record := range doc.Records {
		if record.SummaryFailed() {
			failed++
		}
	}
	h.Response.Success(c, gin.H{
		"document":  doc,
		"processed": processed,
		"failed":    failed,
	}, fmt.Sprintf("已处理 %d 条记录", processed))
}

// ========================================
// 导出处理器
// ========================================

// ExportDocument 以 csv/json/markdown 下载文档记录；?save=true 时同时保存到文档目录
func (h *Handler) ExportDocument(c *gin.Context) {
	format, err := services.NormalizeFormat(c.Query("format"))
	if err != nil {
		h.Response.Error(c, http.StatusBadRequest, ErrorExportFormatInvalid, "不支持的导出格式", c.Query("format"))
		return
	}

	doc, err := h.DocumentService.Get(c.Param("id"))
	if err != nil {
		h.Response.HandleError(c, err, "导出失败")
		return
	}

	var result *models.ExportResult
	if c.Query("save") == "true" {
		result, err = h.ExportService.ExportAndSave(doc, format)
	} else {
		result, err = h.ExportService.Export(doc, format)
	}
	if err != nil {
		h.Response.Error(c, http.StatusInternalServerError, ErrorExportFailed, "导出失败", err.Error())
		return
	}

	h.Response.DownloadResponse(c, result.Content, services.ExportFilename(format), services.ContentType(format))
}

// ========================================
// 进度处理器
// ========================================

// SubscribeProgress 订阅任务进度的SSE端点
func (h *Handler) SubscribeProgress(c *gin.Context) {
	tracker, exists := h.ProgressService.GetTracker(c.Param("taskID"))
	if !exists {
		h.Response.NotFound(c, "任务")
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	clientGone := c.Request.Context().Done()

	// 订阅后立即收到当前状态
	updateChan := tracker.Subscribe()
	defer tracker.Unsubscribe(updateChan)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	fmt.Fprintf(c.Writer, "event: connected\ndata: {\"task_id\":%q}\n\n", tracker.TaskID)
	c.Writer.Flush()

	for {
		select {
		case <-clientGone:
			return
		case update, ok := <-updateChan:
			if !ok {
				return
			}
			data, _ := json.Marshal(update)
			fmt.Fprintf(c.Writer, "event: progress\ndata: %s\n\n", data)
			c.Writer.Flush()

			if update.Status != services.TaskStatusRunning {
				return
			}
		case <-ticker.C:
			fmt.Fprintf(c.Writer, "event: heartbeat\ndata: {\"time\":%d}\n\n", time.Now().Unix())
			c.Writer.Flush()
		}
	}
}

// CancelTask 取消正在进行的文档处理任务
func (h *Handler) CancelTask(c *gin.Context) {
	taskID := c.Param("taskID")
	if _, exists := h.ProgressService.GetTracker(taskID); !exists {
		h.Response.NotFound(c, "任务")
		return
	}
	if !h.ProgressService.Cancel(taskID) {
		h.Response.Conflict(c, "任务已结束，无法取消")
		return
	}
	h.Response.Success(c, gin.H{"task_id": taskID}, "任务已取消")
}

// ========================================
// LLM 配置处理器
// ========================================

// GetLLMStatus 获取LLM服务状态
func (h *Handler) GetLLMStatus(c *gin.Context) {
	cfg := config.GetCurrentConfig()

	h.Response.Success(c, gin.H{
		"ready":         h.LLMService.IsReady(),
		"status":        h.LLMService.GetReadyState(),
		"provider":      h.LLMService.GetProviderName(),
		"default_model": h.LLMService.GetDefaultModel(),
		"providers":     llm.ListProviders(),
		"config": gin.H{
			"provider":    cfg.LLMProvider,
			"has_api_key": cfg.LLMConfig["api_key"] != "",
			"model":       cfg.LLMConfig["default_model"],
		},
	})
}

// GetLLMModels 获取模型列表；未指定提供商时返回当前提供商的模型，refresh=true 时向提供商查询
func (h *Handler) GetLLMModels(c *gin.Context) {
	provider := c.Query("provider")

	if provider == "" || provider == h.LLMService.GetProviderName() {
		modelList, err := h.LLMService.SupportedModels(c.Request.Context(), c.Query("refresh") == "true")
		if err != nil {
			h.logger.Warn("⚠️ 获取远程模型列表失败，返回内置列表", map[string]interface{}{"error": err.Error()})
		}
		h.Response.Success(c, gin.H{
			"provider": h.LLMService.GetProviderName(),
			"models":   modelList,
			"count":    len(modelList),
		})
		return
	}

	if !slices.Contains(llm.ListProviders(), provider) {
		h.Response.Error(c, http.StatusBadRequest, ErrorLLMProviderMissing, "不支持的LLM提供商: "+provider)
		return
	}

	modelList := llm.GetSupportedModelsForProvider(provider)
	h.Response.Success(c, gin.H{
		"provider": provider,
		"models":   modelList,
		"count":    len(modelList),
	})
}

// UpdateLLMConfig 保存LLM配置并切换提供商
func (h *Handler) UpdateLLMConfig(c *gin.Context) {
	var req UpdateLLMConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "无效的请求格式", err.Error())
		return
	}
	if !slices.Contains(llm.ListProviders(), req.Provider) {
		h.Response.Error(c, http.StatusBadRequest, ErrorLLMConfigInvalid, "不支持的LLM提供商: "+req.Provider)
		return
	}

	if err := config.UpdateLLMConfig(req.Provider, req.Config); err != nil {
		h.Response.InternalError(c, "配置保存失败", err.Error())
		return
	}

	// 保存后的配置包含从环境变量注入的密钥
	settings := config.GetCurrentConfig().LLMConfig
	if err := h.LLMService.UpdateProvider(req.Provider, settings); err != nil {
		h.Response.Error(c, http.StatusPartialContent, ErrorLLMServiceUnavailable,
			"配置已保存，但LLM服务更新失败", err.Error())
		return
	}

	h.logger.Info("🔄 LLM提供商已切换", map[string]interface{}{"provider": req.Provider})
	h.Response.Success(c, gin.H{
		"provider":      req.Provider,
		"default_model": h.LLMService.GetDefaultModel(),
	}, "LLM配置更新成功")
}

// ========================================
// 统计与指标
// ========================================

// GetStats 获取摘要请求的使用统计
func (h *Handler) GetStats(c *gin.Context) {
	h.Response.Success(c, h.StatsService.GetUsageStats())
}

// ResetStats 清空使用统计
func (h *Handler) ResetStats(c *gin.Context) {
	if err := h.StatsService.ResetStats(); err != nil {
		h.Response.InternalError(c, "重置使用统计失败", err.Error())
		return
	}
	h.Response.Success(c, h.StatsService.GetUsageStats(), "使用统计已重置")
}

// GetMetrics 获取运行指标快照
func (h *Handler) GetMetrics(c *gin.Context) {
	h.Response.Success(c, h.Metrics.Collector().GetMetrics())
}
