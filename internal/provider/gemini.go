package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sitechat-go/internal/config"
	"strings"
	"time"
)

const geminiDefaultBaseURL = "https://generativelanguage.googleapis.com"

var geminiCostTable = map[string]float64{
	"gemini-1.5-pro":   0.00125,
	"gemini-1.5-flash": 0.000075,
	"gemini-pro":       0.0005,
}

type geminiAdapter struct {
	cfg    config.GeminiConfig
	client *http.Client
}

func init() {
	Register("gemini", func(cfg config.ProvidersConfig) Adapter {
		return newGemini(cfg.Gemini)
	})
}

func newGemini(cfg config.GeminiConfig) *geminiAdapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = geminiDefaultBaseURL
	}
	return &geminiAdapter{
		cfg:    cfg,
		client: &http.Client{Timeout: requestTimeout},
	}
}

func (a *geminiAdapter) Name() string { return "gemini" }

func (a *geminiAdapter) IsConfigured() bool {
	return len(strings.TrimSpace(a.cfg.APIKey)) >= 20
}

// HistoryLimit Gemini 只携带最近 3 条历史。
func (a *geminiAdapter) HistoryLimit() int { return 3 }

func (a *geminiAdapter) EstimateCost(model string, tokens int) float64 {
	return estimateCostFromTable(geminiCostTable, 0.0005, model, tokens)
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	Temperature     float64 `json:"temperature,omitempty"`
}

// geminiChatRequest：contents 使用 user/model 角色，系统提示走 systemInstruction。
type geminiChatRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiChatResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// GenerateResponse 调用 Gemini 的 generateContent 接口。
func (a *geminiAdapter) GenerateResponse(ctx context.Context, req *Request) (*Response, error) {
	if !a.IsConfigured() {
		return nil, fmt.Errorf("gemini: %w", ErrNotConfigured)
	}

	contents := make([]geminiContent, 0, len(req.History)+1)
	for _, m := range trimHistory(req.History, a.HistoryLimit()) {
		role := m.Role
		// Gemini 使用 model 而非 assistant
		if role == "assistant" {
			role = "model"
		}
		if role != "user" && role != "model" {
			continue
		}
		contents = append(contents, geminiContent{Role: role, Parts: []geminiPart{{Text: m.Content}}})
	}
	contents = append(contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: req.Message}}})

	body := geminiChatRequest{Contents: contents}
	if req.System != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}
	if a.cfg.MaxTokens != 0 || a.cfg.Temperature != 0 {
		body.GenerationConfig = &geminiGenerationConfig{
			MaxOutputTokens: a.cfg.MaxTokens,
			Temperature:     a.cfg.Temperature,
		}
	}

	reqBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal gemini request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		a.cfg.BaseURL, a.cfg.Model, url.QueryEscape(a.cfg.APIKey))
	httpReq, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini: %w: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	respBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Vendor: "gemini", StatusCode: resp.StatusCode, Message: vendorErrorText(respBytes)}
	}

	var parsed geminiChatResponse
	if err := json.Unmarshal(respBytes, &parsed); err != nil {
		return nil, fmt.Errorf("gemini: %w: %v", ErrInvalidJSON, err)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("gemini: %w", ErrEmptyResponse)
	}
	text := parsed.Candidates[0].Content.Parts[0].Text
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("gemini: %w", ErrEmptyResponse)
	}

	return &Response{
		Text: text,
		// Gemini 响应不带 usage 字段，按 4 字符 ≈ 1 token 估算
		TokensUsed:   int(math.Ceil(float64(len(text)) / 4.0)),
		Model:        a.cfg.Model,
		ResponseTime: float64(time.Since(start).Microseconds()) / 1000.0,
	}, nil
}
