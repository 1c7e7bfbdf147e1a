// internal/api/router.go
package api

import (
	"github.com/Corphon/GeneGenie/internal/utils"
	"github.com/gin-gonic/gin"
)

// SetupRouter 配置HTTP路由
func SetupRouter(handler *Handler, limiter *RateLimiter, debug bool) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(corsMiddleware())
	if handler.Metrics != nil {
		r.Use(MetricsMiddleware(handler.Metrics))
	}
	if debug {
		r.Use(gin.Logger())
	}

	// 上传文件的内存上限
	r.MaxMultipartMemory = handler.maxUploadBytes

	r.GET("/health", handler.HealthCheck)

	// WebSocket 路由
	r.GET("/ws/documents/:id", handler.DocumentWebSocket)

	api := r.Group("/api")
	{
		// ===============================
		// 文档相关路由
		// ===============================
		documents := api.Group("/documents")
		{
			documents.GET("", handler.ListDocuments)
			documents.POST("", limiter.UploadRateLimit(), handler.UploadDocument)
			documents.GET("/:id", handler.GetDocument)
			documents.DELETE("/:id", handler.DeleteDocument)
			documents.GET("/:id/records", handler.GetRecords)
			documents.POST("/:id/records/:index/summary", limiter.SummaryRateLimit(), handler.SummarizeRecord)
			documents.POST("/:id/summaries", limiter.SummaryRateLimit(), handler.SummarizeAll)
			documents.GET("/:id/export", handler.ExportDocument)
		}

		api.POST("/extract", handler.ExtractText)

		// ===============================
		// 进度相关
		// ===============================
		api.GET("/progress/:taskID", handler.SubscribeProgress)
		api.POST("/cancel/:taskID", handler.CancelTask)

		// ===============================
		// LLM 配置路由
		// ===============================
		llmGroup := api.Group("/llm")
		{
			llmGroup.GET("/status", handler.GetLLMStatus)
			llmGroup.GET("/models", handler.GetLLMModels)
			llmGroup.PUT("/config", handler.UpdateLLMConfig)
		}

		api.GET("/stats", handler.GetStats)
		api.DELETE("/stats", handler.ResetStats)
		api.GET("/metrics", handler.GetMetrics)
		api.GET("/ws/status", handler.GetWebSocketStatus)
	}

	utils.GetLogger().Info("🚦 路由已注册", map[string]interface{}{"routes": len(r.Routes())})
	return r
}
