// internal/llm/providers/openai/openai.go
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/Corphon/GeneGenie/internal/llm"
)

// preset 描述一个兼容OpenAI chat completions协议的服务
type preset struct {
	name         string
	displayName  string
	baseURL      string
	defaultModel string
	models       []string
	headers      map[string]string
}

var presets = []preset{
	{
		name:         "openai",
		displayName:  "OpenAI",
		baseURL:      "https://api.openai.com/v1",
		defaultModel: "gpt-4o",
		models:       []string{"gpt-4o", "gpt-4o-mini", "gpt-4.1", "gpt-4.1-mini"},
	},
	{
		name:         "openrouter",
		displayName:  "OpenRouter",
		baseURL:      "https://openrouter.ai/api/v1",
		defaultModel: "openai/gpt-4o",
		models:       []string{"openai/gpt-4o", "qwen/qwen3-235b-a22b:free", "nousresearch/hermes-3-llama-3.1-405b:free"},
		headers:      map[string]string{"X-Title": "GeneGenie"},
	},
	{
		name:         "grok",
		displayName:  "xAI Grok",
		baseURL:      "https://api.x.ai/v1",
		defaultModel: "grok-3-mini",
		models:       []string{"grok-3", "grok-3-mini"},
	},
	{
		name:         "qwen",
		displayName:  "Qwen",
		baseURL:      "https://dashscope.aliyuncs.com/compatible-mode/v1",
		defaultModel: "qwen-plus",
		models:       []string{"qwen-max", "qwen-plus", "qwen-turbo"},
	},
	{
		name:         "glm",
		displayName:  "Zhipu GLM",
		baseURL:      "https://open.bigmodel.cn/api/paas/v4",
		defaultModel: "glm-4-flash",
		models:       []string{"glm-4-plus", "glm-4-air", "glm-4-flash"},
	},
	{
		name:         "githubmodels",
		displayName:  "GitHub Models",
		baseURL:      "https://models.inference.ai.azure.com",
		defaultModel: "gpt-4o",
		models:       []string{"gpt-4o", "gpt-4o-mini"},
	},
}

func init() {
	for _, p := range presets {
		p := p
		llm.Register(p.name, func() llm.Provider {
			return &Provider{preset: p, baseURL: p.baseURL}
		})
	}
}

// Provider 调用OpenAI兼容的chat completions接口
type Provider struct {
	preset          preset
	apiKey          string
	baseURL         string
	client          *http.Client
	defaultModel    string
	availableModels []string
}

func (p *Provider) Initialize(config map[string]string) error {
	apiKey := config["api_key"]
	if apiKey == "" {
		return fmt.Errorf("%s: %w", p.preset.displayName, llm.ErrMissingAPIKey)
	}
	p.apiKey = apiKey

	timeout := 60 * time.Second
	if s := config["timeout_seconds"]; s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			timeout = time.Duration(n) * time.Second
		}
	}
	p.client = &http.Client{Timeout: timeout}

	p.defaultModel = p.preset.defaultModel
	if model := config["default_model"]; model != "" {
		p.defaultModel = model
	}

	if baseURL := config["base_url"]; baseURL != "" {
		p.baseURL = baseURL
	}

	// 如果配置中包含自定义模型列表
	if customModels := config["custom_models"]; customModels != "" {
		var models []string
		if err := json.Unmarshal([]byte(customModels), &models); err == nil && len(models) > 0 {
			p.availableModels = models
		}
	}

	return nil
}

func (p *Provider) GetName() string {
	return p.preset.displayName
}

func (p *Provider) GetSupportedModels() []string {
	if len(p.availableModels) > 0 {
		return p.availableModels
	}
	return p.preset.models
}

func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	for k, v := range p.preset.headers {
		req.Header.Set(k, v)
	}
}

// FetchAvailableModels 从 /models 接口获取模型列表
func (p *Provider) FetchAvailableModels(ctx context.Context) error {
	if p.apiKey == "" {
		return llm.ErrMissingAPIKey
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models", nil)
	if err != nil {
		return err
	}
	p.setHeaders(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("获取模型列表失败(%d): %s", resp.StatusCode, string(body))
	}

	var response struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return err
	}

	models := make([]string, 0, len(response.Data))
	for _, m := range response.Data {
		models = append(models, m.ID)
	}
	if len(models) > 0 {
		p.availableModels = models
	}
	return nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (p *Provider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	messages := make([]chatMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	requestBody := map[string]interface{}{
		"model":       model,
		"messages":    messages,
		"temperature": req.Temperature,
	}
	if req.MaxTokens > 0 {
		requestBody["max_tokens"] = req.MaxTokens
	}
	if req.TopP > 0 {
		requestBody["top_p"] = req.TopP
	}
	if len(req.StopWords) > 0 {
		requestBody["stop"] = req.StopWords
	}
	for k, v := range req.ExtraParams {
		requestBody[k] = v
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	p.setHeaders(httpReq)

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(httpResp.Body)
		return nil, fmt.Errorf("%s API错误(%d): %s", p.preset.displayName, httpResp.StatusCode, string(body))
	}

	var response struct {
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(httpResp.Body).Decode(&response); err != nil {
		return nil, err
	}

	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("%s: %w", p.preset.displayName, llm.ErrEmptyResponse)
	}

	modelName := response.Model
	if modelName == "" {
		modelName = model
	}

	return &llm.CompletionResponse{
		Text:         response.Choices[0].Message.Content,
		FinishReason: response.Choices[0].FinishReason,
		TokensUsed:   response.Usage.TotalTokens,
		PromptTokens: response.Usage.PromptTokens,
		OutputTokens: response.Usage.CompletionTokens,
		ModelName:    modelName,
		ProviderName: p.GetName(),
	}, nil
}
