// internal/services/llm_service.go
package services

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Corphon/GeneGenie/internal/llm"
	"github.com/Corphon/GeneGenie/internal/utils"
)

var ErrLLMNotReady = errors.New("llm service not ready")

// 摘要请求参数
const (
	summaryMaxTokens   = 400
	summaryTemperature = 0.2
	summaryPrompt      = "Analyze the following biological sequence and explain its possible context:\nSequence: %s\nContext: %s\nProvide a concise, scientific explanation."
)

var providerDefaultModels = map[string]string{
	"openai":       "gpt-4o",
	"anthropic":    "claude-sonnet-4-5",
	"openrouter":   "openai/gpt-4o",
	"grok":         "grok-3-mini",
	"qwen":         "qwen-plus",
	"glm":          "glm-4-flash",
	"githubmodels": "gpt-4o",
}

// LLMService 提供统一的大语言模型调用接口
type LLMService struct {
	providerMutex      sync.RWMutex
	provider           llm.Provider
	providerName       string
	cache              *LLMCache
	isReady            bool
	readyState         string
	activeDefaultModel string

	stats   *StatsService
	metrics *utils.AppMetrics
}

// LLMCache 按请求内容缓存模型响应
type LLMCache struct {
	cache      map[string]*CacheEntry
	mutex      sync.RWMutex
	expiration time.Duration
	maxSize    int
}

type CacheEntry struct {
	Response  *llm.CompletionResponse
	CreatedAt time.Time
}

func newLLMCache() *LLMCache {
	return &LLMCache{
		cache:      make(map[string]*CacheEntry),
		expiration: 30 * time.Minute,
		maxSize:    1000,
	}
}

// NewLLMService 根据提供者名称和配置创建服务；初始化失败时返回未就绪的服务
func NewLLMService(providerName string, settings map[string]string, stats *StatsService, metrics *utils.AppMetrics) *LLMService {
	service := &LLMService{
		providerName: providerName,
		readyState:   "Uninitialized",
		cache:        newLLMCache(),
		stats:        stats,
		metrics:      metrics,
	}

	if providerName == "" {
		service.readyState = "LLM provider not configured"
		return service
	}
	if settings["api_key"] == "" {
		service.readyState = "API key not configured"
		return service
	}

	provider, err := llm.GetProvider(providerName, settings)
	if err != nil {
		service.readyState = fmt.Sprintf("Initialization failed: %v", err)
		return service
	}

	service.provider = provider
	service.activeDefaultModel = extractDefaultModel(settings)
	service.isReady = true
	service.readyState = "Ready"
	return service
}

// NewLLMServiceWithProvider 使用已初始化的提供者创建服务
func NewLLMServiceWithProvider(providerName string, provider llm.Provider, metrics *utils.AppMetrics) *LLMService {
	return &LLMService{
		provider:     provider,
		providerName: providerName,
		cache:        newLLMCache(),
		isReady:      provider != nil,
		readyState:   "Ready",
		metrics:      metrics,
	}
}

// IsReady 返回服务是否已就绪
func (s *LLMService) IsReady() bool {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.provider != nil && s.isReady
}

// GetReadyState 返回服务就绪状态描述
func (s *LLMService) GetReadyState() string {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.readyState
}

// GetProviderStatus 返回服务是否就绪以及可读描述
func (s *LLMService) GetProviderStatus() (bool, string) {
	if s == nil {
		return false, "LLM服务实例未初始化"
	}
	return s.IsReady(), s.GetReadyState()
}

// GetProviderName 返回当前提供者名称
func (s *LLMService) GetProviderName() string {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.providerName
}

// UpdateProvider 更新LLM服务的提供商
func (s *LLMService) UpdateProvider(providerName string, settings map[string]string) error {
	provider, err := llm.GetProvider(providerName, settings)
	if err != nil {
		s.providerMutex.Lock()
		s.isReady = false
		s.readyState = fmt.Sprintf("Configuration failed: %v", err)
		s.providerMutex.Unlock()
		return err
	}

	s.providerMutex.Lock()
	defer s.providerMutex.Unlock()

	s.provider = provider
	s.providerName = providerName
	s.activeDefaultModel = extractDefaultModel(settings)
	s.isReady = true
	s.readyState = "Ready"

	// 清理缓存
	s.cache = newLLMCache()
	return nil
}

// SupportedModels 返回当前提供者的模型列表，refresh 时向提供商查询
func (s *LLMService) SupportedModels(ctx context.Context, refresh bool) ([]string, error) {
	s.providerMutex.RLock()
	provider := s.provider
	name := s.providerName
	s.providerMutex.RUnlock()

	if provider == nil {
		return llm.GetSupportedModelsForProvider(name), nil
	}
	if refresh {
		if err := provider.FetchAvailableModels(ctx); err != nil {
			return provider.GetSupportedModels(), err
		}
	}
	return provider.GetSupportedModels(), nil
}

// GetDefaultModel 获取当前配置的默认模型
func (s *LLMService) GetDefaultModel() string {
	return s.resolveModel("")
}

func (s *LLMService) resolveModel(requestedModel string) string {
	if trimmed := strings.TrimSpace(requestedModel); trimmed != "" {
		return trimmed
	}

	s.providerMutex.RLock()
	provider := s.provider
	providerName := s.providerName
	activeDefault := s.activeDefaultModel
	s.providerMutex.RUnlock()

	if activeDefault != "" {
		return activeDefault
	}
	if model, exists := providerDefaultModels[providerName]; exists {
		return model
	}
	if provider != nil {
		if models := provider.GetSupportedModels(); len(models) > 0 {
			return models[0]
		}
	}
	return "gpt-4o"
}

func extractDefaultModel(cfg map[string]string) string {
	if model := strings.TrimSpace(cfg["default_model"]); model != "" {
		return model
	}
	return strings.TrimSpace(cfg["model"])
}

// generateCacheKey 生成缓存键
func (s *LLMService) generateCacheKey(prompt, systemPrompt, model string) string {
	s.providerMutex.RLock()
	providerName := s.providerName
	s.providerMutex.RUnlock()

	hashInput := fmt.Sprintf("%s:::%s:::%s:::%s", prompt, systemPrompt, model, providerName)
	return fmt.Sprintf("%x", md5.Sum([]byte(hashInput)))
}

func (c *LLMCache) get(key string) (*llm.CompletionResponse, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	entry, exists := c.cache[key]
	if !exists || time.Since(entry.CreatedAt) > c.expiration {
		return nil, false
	}
	return entry.Response, true
}

func (c *LLMCache) put(key string, response *llm.CompletionResponse) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.cache[key] = &CacheEntry{Response: response, CreatedAt: time.Now()}
	if len(c.cache) > c.maxSize {
		c.cleanupOldest(c.maxSize / 10)
	}
}

// cleanupOldest 清理最旧的缓存条目，调用方需持有锁
func (c *LLMCache) cleanupOldest(count int) {
	type keyAge struct {
		key string
		age time.Time
	}

	entries := make([]keyAge, 0, len(c.cache))
	for k, v := range c.cache {
		entries = append(entries, keyAge{k, v.CreatedAt})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].age.Before(entries[j].age)
	})

	for i := 0; i < min(count, len(entries)); i++ {
		delete(c.cache, entries[i].key)
	}
}

// CompleteText 调用当前提供者生成文本，相同请求命中缓存
func (s *LLMService) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	s.providerMutex.RLock()
	provider := s.provider
	ready := s.isReady
	cache := s.cache
	providerName := s.providerName
	s.providerMutex.RUnlock()

	if provider == nil || !ready {
		return nil, ErrLLMNotReady
	}

	req.Model = s.resolveModel(req.Model)
	cacheKey := s.generateCacheKey(req.Prompt, req.SystemPrompt, req.Model)
	if cached, ok := cache.get(cacheKey); ok {
		utils.GetLogger().Debug("LLM cache hit", map[string]interface{}{"cache_key_prefix": cacheKey[:8]})
		return cached, nil
	}

	start := time.Now()
	resp, err := provider.CompleteText(ctx, req)
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordLLMRequest(providerName, resp.ModelName, resp.TokensUsed, time.Since(start))
	}
	if s.stats != nil {
		if err := s.stats.RecordAPIRequest(resp.TokensUsed); err != nil {
			utils.GetLogger().Warn("Failed to record usage stats", map[string]interface{}{"error": err.Error()})
		}
	}

	cache.put(cacheKey, resp)
	return resp, nil
}

// Summarize 请求模型解释一条序列在其句子中的含义
func (s *LLMService) Summarize(ctx context.Context, sequence, sentence string) (string, error) {
	resp, err := s.CompleteText(ctx, llm.CompletionRequest{
		Prompt:      fmt.Sprintf(summaryPrompt, sequence, sentence),
		MaxTokens:   summaryMaxTokens,
		Temperature: summaryTemperature,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text), nil
}
