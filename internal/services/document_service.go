// internal/services/document_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/Corphon/GeneGenie/internal/errors"
	"github.com/Corphon/GeneGenie/internal/extract"
	"github.com/Corphon/GeneGenie/internal/models"
	"github.com/Corphon/GeneGenie/internal/pdftext"
	"github.com/Corphon/GeneGenie/internal/storage"
	"github.com/Corphon/GeneGenie/internal/utils"
	"github.com/google/uuid"
)

// DocumentService 负责PDF上传后的抽取和文档持久化
type DocumentService struct {
	store    *storage.DocumentStore
	source   pdftext.Source
	pipeline *extract.Pipeline
	locks    *LockManager
	metrics  *utils.AppMetrics
	events   EventPublisher
	logger   *utils.Logger
}

// NewDocumentService 创建文档服务
func NewDocumentService(
	store *storage.DocumentStore,
	source pdftext.Source,
	pipeline *extract.Pipeline,
	locks *LockManager,
	metrics *utils.AppMetrics,
	events EventPublisher,
) *DocumentService {
	return &DocumentService{
		store:    store,
		source:   source,
		pipeline: pipeline,
		locks:    locks,
		metrics:  metrics,
		events:   publisherOrNop(events),
		logger:   utils.GetLogger(),
	}
}

// ProgressFunc 报告处理进度 (0-100)
type ProgressFunc func(progress int, message string)

// Process 抽取一份PDF并保存结果。PDF无法解析时返回文档错误，
// 失败的文档同样会被保存，状态为 failed。
func (s *DocumentService) Process(ctx context.Context, filename string, data []byte) (*models.Document, error) {
	return s.ProcessWithID(ctx, uuid.NewString(), filename, data, nil)
}

// ProcessWithID 使用指定的文档ID处理PDF
func (s *DocumentService) ProcessWithID(ctx context.Context, id, filename string, data []byte, progress ProgressFunc) (*models.Document, error) {
	if progress == nil {
		progress = func(int, string) {}
	}

	now := time.Now()
	doc := &models.Document{
		ID:        id,
		Filename:  filename,
		Size:      int64(len(data)),
		Status:    models.DocumentStatusProcessing,
		Records:   []models.Record{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.locks.WithLock(id, func() error {
		if err := s.store.SaveSource(id, data); err != nil {
			return apperrors.NewProcessingError("保存PDF失败", err)
		}
		return s.store.Save(doc)
	})
	if err != nil {
		return nil, apperrors.WrapError(err, "保存文档失败", apperrors.ErrorTypeError)
	}

	start := time.Now()
	progress(10, "正在读取PDF文本...")

	pages, err := s.source.Pages(ctx, data)
	if err != nil {
		return s.fail(doc, err)
	}

	progress(50, fmt.Sprintf("已读取 %d 页，正在抽取序列...", len(pages)))

	result, err := s.pipeline.RunContext(ctx, pages)
	if err != nil {
		return s.fail(doc, err)
	}

	progress(90, "正在保存结果...")

	doc.Status = models.DocumentStatusCompleted
	doc.PageCount = result.PageCount
	doc.SentenceCount = result.SentenceCount
	doc.TextLength = result.TextLength
	if result.Records != nil {
		doc.Records = result.Records
	}
	doc.UpdatedAt = time.Now()

	if err := s.locks.WithLock(id, func() error { return s.store.Save(doc) }); err != nil {
		return nil, apperrors.NewProcessingError("保存抽取结果失败", err)
	}

	s.metrics.RecordDocument(len(doc.Records), time.Since(start), nil)
	s.logger.Info("📄 文档处理完成", map[string]interface{}{
		"document_id": id,
		"filename":    filename,
		"pages":       doc.PageCount,
		"sentences":   doc.SentenceCount,
		"sequences":   len(doc.Records),
		"duration_ms": time.Since(start).Milliseconds(),
	})

	s.events.Publish(DocumentEvent{
		Type:       EventDocumentProcessed,
		DocumentID: id,
		Data:       doc.Summary(),
		Timestamp:  time.Now(),
	})

	return doc, nil
}

// fail 保存失败状态并返回原始错误
func (s *DocumentService) fail(doc *models.Document, cause error) (*models.Document, error) {
	doc.Status = models.DocumentStatusFailed
	doc.Error = cause.Error()
	doc.UpdatedAt = time.Now()

	if err := s.locks.WithLock(doc.ID, func() error { return s.store.Save(doc) }); err != nil {
		s.logger.Error("保存失败状态出错", map[string]interface{}{"document_id": doc.ID, "error": err.Error()})
	}

	s.metrics.RecordDocument(0, 0, cause)
	s.logger.Warn("❌ 文档处理失败", map[string]interface{}{
		"document_id": doc.ID,
		"filename":    doc.Filename,
		"error":       cause.Error(),
	})

	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		return doc, apperrors.NewAppError(apperrors.ErrorTypeTimeout, "文档处理已取消", cause)
	}
	return doc, cause
}

// ProcessAsync 在后台处理PDF，返回任务ID和文档ID
func (s *DocumentService) ProcessAsync(progressService *ProgressService, filename string, data []byte) (taskID, documentID string) {
	taskID = uuid.NewString()
	documentID = uuid.NewString()

	tracker := progressService.CreateTracker(taskID)
	ctx, cancel := context.WithCancel(context.Background())
	tracker.BindCancel(cancel)

	collector := s.metrics.Collector()
	collector.IncGauge(utils.MetricActiveTasks)

	go func() {
		defer cancel()
		defer collector.DecGauge(utils.MetricActiveTasks)

		doc, err := s.ProcessWithID(ctx, documentID, filename, data, tracker.UpdateProgress)
		if err != nil {
			tracker.Fail(err.Error())
			return
		}
		message := doc.Message()
		if message == "" {
			message = fmt.Sprintf("找到 %d 条序列", len(doc.Records))
		}
		tracker.Complete(message, doc.ID)
	}()

	return taskID, documentID
}

// ProcessText 对纯文本运行抽取流程，不做持久化
func (s *DocumentService) ProcessText(ctx context.Context, text string) (*extract.Result, error) {
	return s.pipeline.RunContext(ctx, []string{text})
}

// Get 读取文档
func (s *DocumentService) Get(id string) (*models.Document, error) {
	var doc *models.Document
	err := s.locks.WithReadLock(id, func() error {
		var err error
		doc, err = s.store.Load(id)
		return err
	})
	if err != nil {
		return nil, wrapStoreError(id, err)
	}
	return doc, nil
}

// List 返回所有文档的概要
func (s *DocumentService) List() ([]models.DocumentSummary, error) {
	docs, err := s.store.List()
	if err != nil {
		return nil, apperrors.NewProcessingError("读取文档列表失败", err)
	}

	summaries := make([]models.DocumentSummary, 0, len(docs))
	for _, doc := range docs {
		summaries = append(summaries, doc.Summary())
	}
	return summaries, nil
}

// Delete 删除文档和所有相关文件
func (s *DocumentService) Delete(id string) error {
	err := s.locks.WithLock(id, func() error { return s.store.Delete(id) })
	if err != nil {
		return wrapStoreError(id, err)
	}
	s.logger.Info("🗑️ 文档已删除", map[string]interface{}{"document_id": id})
	return nil
}

// UpdateRecords 在文档锁内修改记录并保存
func (s *DocumentService) UpdateRecords(id string, update func(doc *models.Document) error) (*models.Document, error) {
	var doc *models.Document
	err := s.locks.WithLock(id, func() error {
		var err error
		doc, err = s.store.Load(id)
		if err != nil {
			return err
		}
		if err := update(doc); err != nil {
			return err
		}
		doc.UpdatedAt = time.Now()
		return s.store.Save(doc)
	})
	if err != nil {
		return nil, wrapStoreError(id, err)
	}
	return doc, nil
}

func wrapStoreError(id string, err error) error {
	if errors.Is(err, storage.ErrDocumentNotFound) {
		return apperrors.NewNotFoundError(fmt.Sprintf("文档不存在: %s", id), err)
	}
	return apperrors.WrapError(err, "文档操作失败", apperrors.ErrorTypeError)
}
