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

const (
	claudeDefaultBaseURL = "https://api.anthropic.com"
	claudeDefaultVersion = "2023-06-01"
)

var claudeCostTable = map[string]float64{
	"claude-3-opus-20240229":   0.015,
	"claude-3-5-sonnet-latest": 0.003,
	"claude-3-sonnet-20240229": 0.003,
	"claude-3-haiku-20240307":  0.00025,
}

type claudeAdapter struct {
	cfg    config.ClaudeConfig
	client *http.Client
}

func init() {
	Register("claude", func(cfg config.ProvidersConfig) Adapter {
		return newClaude(cfg.Claude)
	})
}

func newClaude(cfg config.ClaudeConfig) *claudeAdapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = claudeDefaultBaseURL
	}
	if cfg.Version == "" {
		cfg.Version = claudeDefaultVersion
	}
	if cfg.MaxTokens == 0 {
		// Claude 的 max_tokens 是必填字段
		cfg.MaxTokens = 1024
	}
	return &claudeAdapter{
		cfg:    cfg,
		client: &http.Client{Timeout: requestTimeout},
	}
}

func (a *claudeAdapter) Name() string { return "claude" }

// IsConfigured 校验 Claude key 格式：sk-ant- 前缀。
func (a *claudeAdapter) IsConfigured() bool {
	key := strings.TrimSpace(a.cfg.APIKey)
	return strings.HasPrefix(key, "sk-ant-") && len(key) >= 30
}

func (a *claudeAdapter) HistoryLimit() int { return 10 }

func (a *claudeAdapter) EstimateCost(model string, tokens int) float64 {
	return estimateCostFromTable(claudeCostTable, 0.003, model, tokens)
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// claudeChatRequest：system 是顶层字段，messages 只含 user/assistant。
type claudeChatRequest struct {
	Model       string          `json:"model"`
	System      string          `json:"system,omitempty"`
	Messages    []claudeMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature,omitempty"`
}

type claudeChatResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// GenerateResponse 调用 Anthropic 的 /v1/messages 接口。
func (a *claudeAdapter) GenerateResponse(ctx context.Context, req *Request) (*Response, error) {
	if !a.IsConfigured() {
		return nil, fmt.Errorf("claude: %w", ErrNotConfigured)
	}

	messages := make([]claudeMessage, 0, len(req.History)+1)
	for _, m := range trimHistory(req.History, a.HistoryLimit()) {
		// Claude 的消息数组不允许 system 角色
		if m.Role != "user" && m.Role != "assistant" {
			continue
		}
		messages = append(messages, claudeMessage{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, claudeMessage{Role: "user", Content: req.Message})

	body := claudeChatRequest{
		Model:       a.cfg.Model,
		System:      req.System,
		Messages:    messages,
		MaxTokens:   a.cfg.MaxTokens,
		Temperature: a.cfg.Temperature,
	}
	reqBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal claude request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", a.cfg.BaseURL+"/v1/messages", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create claude request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", a.cfg.Version)

	start := time.Now()
	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("claude: %w: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	respBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Vendor: "claude", StatusCode: resp.StatusCode, Message: vendorErrorText(respBytes)}
	}

	var parsed claudeChatResponse
	if err := json.Unmarshal(respBytes, &parsed); err != nil {
		return nil, fmt.Errorf("claude: %w: %v", ErrInvalidJSON, err)
	}

	var text string
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("claude: %w", ErrEmptyResponse)
	}

	return &Response{
		Text:         text,
		TokensUsed:   parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
		Model:        a.cfg.Model,
		ResponseTime: float64(time.Since(start).Microseconds()) / 1000.0,
	}, nil
}
