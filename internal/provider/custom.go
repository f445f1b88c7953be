package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sitechat-go/internal/config"
	"strconv"
	"strings"
	"time"
)

// customAdapter 调用运维人员自行配置的 HTTP 接口：
// 认证方式、请求体格式与响应字段路径全部来自配置。
type customAdapter struct {
	cfg    config.CustomProviderConfig
	client *http.Client
}

func init() {
	Register("custom", func(cfg config.ProvidersConfig) Adapter {
		return newCustom(cfg.Custom)
	})
}

func newCustom(cfg config.CustomProviderConfig) *customAdapter {
	if cfg.AuthMethod == "" {
		cfg.AuthMethod = "bearer"
	}
	if cfg.BodyFormat == "" {
		cfg.BodyFormat = "openai"
	}
	if cfg.ResponseField == "" {
		cfg.ResponseField = "choices.0.message.content"
	}
	return &customAdapter{
		cfg:    cfg,
		client: &http.Client{Timeout: requestTimeout},
	}
}

func (a *customAdapter) Name() string { return "custom" }

// IsConfigured 自定义接口只要求 endpoint 存在；
// basic 认证额外要求用户名，其余认证方式要求 key。
func (a *customAdapter) IsConfigured() bool {
	if strings.TrimSpace(a.cfg.Endpoint) == "" {
		return false
	}
	switch a.cfg.AuthMethod {
	case "basic":
		return a.cfg.Username != ""
	case "none":
		return true
	default:
		return a.cfg.APIKey != ""
	}
}

func (a *customAdapter) HistoryLimit() int { return 10 }

// EstimateCost 自定义接口没有价目表，费用始终记 0。
func (a *customAdapter) EstimateCost(model string, tokens int) float64 { return 0 }

// buildBody 按配置的格式构造请求体。
func (a *customAdapter) buildBody(req *Request) ([]byte, error) {
	switch a.cfg.BodyFormat {
	case "simple":
		return json.Marshal(map[string]string{
			"message": req.Message,
			"system":  req.System,
		})
	case "template":
		// 占位符替换进 JSON 模板，内容需转义后再嵌入
		body := a.cfg.BodyTemplate
		body = strings.ReplaceAll(body, "{{message}}", jsonEscape(req.Message))
		body = strings.ReplaceAll(body, "{{system}}", jsonEscape(req.System))
		if !json.Valid([]byte(body)) {
			return nil, fmt.Errorf("custom body template produced invalid json")
		}
		return []byte(body), nil
	default: // openai 兼容格式
		messages := make([]map[string]string, 0, len(req.History)+2)
		if req.System != "" {
			messages = append(messages, map[string]string{"role": "system", "content": req.System})
		}
		for _, m := range trimHistory(req.History, a.HistoryLimit()) {
			messages = append(messages, map[string]string{"role": m.Role, "content": m.Content})
		}
		messages = append(messages, map[string]string{"role": "user", "content": req.Message})
		body := map[string]interface{}{
			"model":    a.cfg.Model,
			"messages": messages,
		}
		if a.cfg.MaxTokens != 0 {
			body["max_tokens"] = a.cfg.MaxTokens
		}
		if a.cfg.Temperature != 0 {
			body["temperature"] = a.cfg.Temperature
		}
		return json.Marshal(body)
	}
}

// applyAuth 按配置的认证方式设置请求头。
func (a *customAdapter) applyAuth(req *http.Request) {
	switch a.cfg.AuthMethod {
	case "api_key_header":
		header := a.cfg.AuthHeader
		if header == "" {
			header = "X-API-Key"
		}
		req.Header.Set(header, a.cfg.APIKey)
	case "basic":
		req.SetBasicAuth(a.cfg.Username, a.cfg.Password)
	case "custom_header":
		if a.cfg.AuthHeader != "" {
			req.Header.Set(a.cfg.AuthHeader, a.cfg.APIKey)
		}
	case "none":
	default: // bearer
		req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	}
}

// GenerateResponse 调用自定义接口并按字段路径提取回答文本。
func (a *customAdapter) GenerateResponse(ctx context.Context, req *Request) (*Response, error) {
	if !a.IsConfigured() {
		return nil, fmt.Errorf("custom: %w", ErrNotConfigured)
	}

	reqBytes, err := a.buildBody(req)
	if err != nil {
		return nil, fmt.Errorf("failed to build custom request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", a.cfg.Endpoint, bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create custom request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	a.applyAuth(httpReq)

	start := time.Now()
	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("custom: %w: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	respBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{Vendor: "custom", StatusCode: resp.StatusCode, Message: vendorErrorText(respBytes)}
	}

	var parsed interface{}
	if err := json.Unmarshal(respBytes, &parsed); err != nil {
		return nil, fmt.Errorf("custom: %w: %v", ErrInvalidJSON, err)
	}

	text := ExtractField(parsed, a.cfg.ResponseField)
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("custom: field %q: %w", a.cfg.ResponseField, ErrInvalidResponse)
	}

	return &Response{
		Text: text,
		// 自定义接口不上报 token 用量，按文本长度估算
		TokensUsed:   int(math.Ceil(float64(len(text)) / 4.0)),
		Model:        a.cfg.Model,
		ResponseTime: float64(time.Since(start).Microseconds()) / 1000.0,
	}, nil
}

// ExtractField 按点分路径从任意 JSON 结构中提取字符串，
// 路径段为数字时作为数组下标处理；路径不存在返回空串。
func ExtractField(data interface{}, path string) string {
	current := data
	for _, segment := range strings.Split(path, ".") {
		if segment == "" {
			continue
		}
		switch node := current.(type) {
		case map[string]interface{}:
			next, ok := node[segment]
			if !ok {
				return ""
			}
			current = next
		case []interface{}:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(node) {
				return ""
			}
			current = node[idx]
		default:
			return ""
		}
	}

	switch v := current.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

// jsonEscape 将字符串转义为可直接嵌入 JSON 模板的形式（不含外层引号）。
func jsonEscape(s string) string {
	b, _ := json.Marshal(s)
	return string(b[1 : len(b)-1])
}
