package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sitechat-go/internal/config"
	"strings"
	"time"
)

const openaiDefaultBaseURL = "https://api.openai.com/v1"

// openaiCostTable 是 $/1K tokens 的静态价目表，仅用于用量估算。
var openaiCostTable = map[string]float64{
	"gpt-4":         0.03,
	"gpt-4-turbo":   0.01,
	"gpt-4o":        0.005,
	"gpt-4o-mini":   0.00015,
	"gpt-3.5-turbo": 0.002,
}

type openaiAdapter struct {
	cfg    config.OpenAIConfig
	client *http.Client
}

func init() {
	Register("openai", func(cfg config.ProvidersConfig) Adapter {
		return newOpenAI(cfg.OpenAI)
	})
}

func newOpenAI(cfg config.OpenAIConfig) *openaiAdapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = openaiDefaultBaseURL
	}
	return &openaiAdapter{
		cfg:    cfg,
		client: &http.Client{Timeout: requestTimeout},
	}
}

func (a *openaiAdapter) Name() string { return "openai" }

// IsConfigured 校验 OpenAI key 格式：sk- 前缀且长度不小于 40。
func (a *openaiAdapter) IsConfigured() bool {
	key := strings.TrimSpace(a.cfg.APIKey)
	return strings.HasPrefix(key, "sk-") && len(key) >= 40
}

func (a *openaiAdapter) HistoryLimit() int { return 10 }

func (a *openaiAdapter) EstimateCost(model string, tokens int) float64 {
	return estimateCostFromTable(openaiCostTable, 0.002, model, tokens)
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
}

type openaiChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// GenerateResponse 调用 OpenAI 的 chat/completions 接口。
func (a *openaiAdapter) GenerateResponse(ctx context.Context, req *Request) (*Response, error) {
	if !a.IsConfigured() {
		return nil, fmt.Errorf("openai: %w", ErrNotConfigured)
	}

	messages := make([]openaiMessage, 0, len(req.History)+2)
	if req.System != "" {
		messages = append(messages, openaiMessage{Role: "system", Content: req.System})
	}
	for _, m := range trimHistory(req.History, a.HistoryLimit()) {
		messages = append(messages, openaiMessage{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, openaiMessage{Role: "user", Content: req.Message})

	body := openaiChatRequest{
		Model:       a.cfg.Model,
		Messages:    messages,
		MaxTokens:   a.cfg.MaxTokens,
		Temperature: a.cfg.Temperature,
	}
	reqBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal openai request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", a.cfg.BaseURL+"/chat/completions", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create openai request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)

	start := time.Now()
	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai: %w: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	respBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Vendor: "openai", StatusCode: resp.StatusCode, Message: vendorErrorText(respBytes)}
	}

	var parsed openaiChatResponse
	if err := json.Unmarshal(respBytes, &parsed); err != nil {
		return nil, fmt.Errorf("openai: %w: %v", ErrInvalidJSON, err)
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return nil, fmt.Errorf("openai: %w", ErrEmptyResponse)
	}

	return &Response{
		Text:         parsed.Choices[0].Message.Content,
		TokensUsed:   parsed.Usage.TotalTokens,
		Model:        a.cfg.Model,
		ResponseTime: float64(time.Since(start).Microseconds()) / 1000.0,
	}, nil
}
