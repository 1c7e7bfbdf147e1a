// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Corphon/GeneGenie/internal/api"
	"github.com/Corphon/GeneGenie/internal/config"
	"github.com/Corphon/GeneGenie/internal/extract"
	"github.com/Corphon/GeneGenie/internal/pdftext"
	"github.com/Corphon/GeneGenie/internal/services"
	"github.com/Corphon/GeneGenie/internal/storage"
	"github.com/Corphon/GeneGenie/internal/utils"

	// 注册LLM提供者
	_ "github.com/Corphon/GeneGenie/internal/llm/providers/anthropic"
	_ "github.com/Corphon/GeneGenie/internal/llm/providers/openai"
)

const (
	summaryWorkers      = 4
	shutdownTimeout     = 30 * time.Second
	taskCleanupInterval = 10 * time.Minute
	taskRetention       = time.Hour
	metricsReportPeriod = 5 * time.Minute
)

// Server 抽象 http.Server，便于测试
type Server interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// App 持有所有服务并负责启动和关闭
type App struct {
	config   *config.AppConfig
	server   Server
	router   http.Handler
	stopChan chan os.Signal

	files    *storage.FileStorage
	locks    *services.LockManager
	stats    *services.StatsService
	progress *services.ProgressService
	hub      *api.DocumentHub
	limiter  *api.RateLimiter
	handler  *api.Handler

	cancelBackground context.CancelFunc
	logger           *utils.Logger
}

// Initialize 加载配置、初始化日志并创建应用
func Initialize() (*App, error) {
	baseConfig, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}

	if err := config.InitConfig(baseConfig.DataDir); err != nil {
		return nil, fmt.Errorf("初始化配置系统失败: %w", err)
	}
	cfg := config.GetCurrentConfig()

	if err := initLogger(cfg.LogDir, cfg.DebugMode); err != nil {
		return nil, fmt.Errorf("初始化日志系统失败: %w", err)
	}

	return New(cfg)
}

// initLogger 初始化按天滚动的日志文件
func initLogger(logDir string, debug bool) error {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return err
	}
	return utils.InitDailyLogger(logDir, debug)
}

// New 按依赖顺序创建所有服务
func New(cfg *config.AppConfig) (*App, error) {
	logger := utils.GetLogger()

	files, err := storage.NewFileStorage(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	metrics := utils.NewAppMetrics()
	store := storage.NewDocumentStore(files)
	locks := services.NewLockManager()
	stats := services.NewStatsService(filepath.Join(cfg.DataDir, "stats"))
	progress := services.NewProgressService()
	hub := api.NewDocumentHub()
	limiter := api.NewRateLimiter()

	llmService := services.NewLLMService(cfg.LLMProvider, cfg.LLMConfig, stats, metrics)
	if !llmService.IsReady() {
		logger.Warn("⚠️ LLM服务未就绪，摘要请求将返回错误占位符", map[string]interface{}{
			"provider": cfg.LLMProvider,
			"state":    llmService.GetReadyState(),
		})
	}

	documents := services.NewDocumentService(
		store,
		pdftext.NewReader(),
		extract.NewPipeline(cfg.ExtractWorkers),
		locks,
		metrics,
		hub,
	)

	handler := api.NewHandler(api.HandlerDeps{
		Documents:   documents,
		Summaries:   services.NewSummaryService(llmService, documents, metrics, hub, summaryWorkers),
		Exports:     services.NewExportService(store),
		Progress:    progress,
		LLM:         llmService,
		Stats:       stats,
		Metrics:     metrics,
		Hub:         hub,
		MaxUploadMB: cfg.MaxUploadMB,
	})
	router := api.SetupRouter(handler, limiter, cfg.DebugMode)

	logger.Info("✅ 所有服务初始化完成", map[string]interface{}{
		"data_dir":     cfg.DataDir,
		"llm_provider": cfg.LLMProvider,
		"llm_ready":    llmService.IsReady(),
		"workers":      cfg.ExtractWorkers,
	})

	return &App{
		config:   cfg,
		server:   &http.Server{Addr: ":" + cfg.Port, Handler: router},
		router:   router,
		stopChan: make(chan os.Signal, 1),
		files:    files,
		locks:    locks,
		stats:    stats,
		progress: progress,
		hub:      hub,
		limiter:  limiter,
		handler:  handler,
		logger:   logger,
	}, nil
}

// Handler 返回HTTP路由
func (a *App) Handler() http.Handler {
	return a.router
}

// GetConfig 返回应用配置
func (a *App) GetConfig() *config.AppConfig {
	return a.config
}

// IsDebugMode 是否处于调试模式
func (a *App) IsDebugMode() bool {
	return a.config != nil && a.config.DebugMode
}

// Run 启动服务器并阻塞到收到停止信号或服务器出错
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancelBackground = cancel
	a.startBackgroundTasks(ctx)

	serverErr := make(chan error, 1)
	go func() {
		a.logger.Info("🌐 服务器启动", map[string]interface{}{"port": a.config.Port})
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	signal.Notify(a.stopChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(a.stopChan)

	var runErr error
	select {
	case sig := <-a.stopChan:
		a.logger.Info("🛑 收到停止信号，正在关闭服务器...", map[string]interface{}{"signal": sig.String()})
	case err := <-serverErr:
		runErr = fmt.Errorf("服务器运行失败: %w", err)
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	if err := a.server.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("服务器强制关闭: %w", err)
	}

	a.cleanup()
	if runErr == nil {
		a.logger.Info("✅ 服务器优雅关闭完成", nil)
	}
	return runErr
}

// Stop 请求 Run 退出
func (a *App) Stop() {
	select {
	case a.stopChan <- syscall.SIGTERM:
	default:
	}
}

// startBackgroundTasks 定期清理已结束的任务，调试模式下定期输出指标
func (a *App) startBackgroundTasks(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(taskCleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.progress.CleanupCompletedTasks(taskRetention)
			}
		}
	}()

	if a.IsDebugMode() && a.handler != nil && a.handler.Metrics != nil {
		a.handler.Metrics.StartMetricsCollection(ctx, metricsReportPeriod)
	}
}

// cleanup 释放所有后台资源
func (a *App) cleanup() {
	if a.cancelBackground != nil {
		a.cancelBackground()
	}
	if a.hub != nil {
		a.hub.Close()
	}
	if a.limiter != nil {
		a.limiter.Stop()
	}
	if a.stats != nil {
		if err := a.stats.Close(); err != nil {
			a.logger.Warn("保存使用统计失败", map[string]interface{}{"error": err.Error()})
		}
	}
	if a.locks != nil {
		a.locks.Close()
	}
	if a.files != nil {
		a.files.Close()
	}
	a.logger.Info("🧹 资源清理完成", nil)
}
