package provider

import (
	"errors"
	"fmt"
)

// 适配器错误分类。解析器不吞掉这些错误，原样上抛给调用方。
var (
	// ErrNotConfigured 表示该供应商没有可用的凭证配置。
	ErrNotConfigured = errors.New("provider is not configured")
	// ErrRequestFailed 表示传输层失败（DNS、超时等，没有收到 HTTP 响应）。
	ErrRequestFailed = errors.New("provider request failed")
	// ErrInvalidJSON 表示供应商返回 2xx 但响应体不是合法 JSON。
	ErrInvalidJSON = errors.New("provider returned invalid json")
	// ErrEmptyResponse 表示供应商返回 2xx 但提取不到任何文本。
	ErrEmptyResponse = errors.New("provider returned empty response")
	// ErrInvalidResponse 表示自定义适配器按字段路径提取失败。
	ErrInvalidResponse = errors.New("provider response missing configured field")
)

// APIError 表示供应商返回了非 2xx 的 HTTP 响应，
// 携带供应商的状态码与错误文本。
type APIError struct {
	Vendor     string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s api returned status %d", e.Vendor, e.StatusCode)
	}
	return fmt.Sprintf("%s api returned status %d: %s", e.Vendor, e.StatusCode, e.Message)
}
