// Package provider 实现了各 LLM 供应商的适配器。
// 每个适配器负责把规范化的 (消息, 历史, 系统上下文) 请求翻译成
// 该供应商的线上格式，并把响应还原为统一结构。
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"sitechat-go/internal/config"
	"sitechat-go/internal/model"
	"sort"
	"strings"
	"sync"
	"time"
)

// 供应商调用的统一超时时间。
const requestTimeout = 60 * time.Second

// Request 是与供应商无关的规范化请求。
type Request struct {
	Message string
	System  string
	History []model.ChatMessage
}

// Response 是供应商适配器返回的统一响应。
type Response struct {
	Text         string
	TokensUsed   int
	Model        string
	ResponseTime float64 // 毫秒
}

// Adapter 是所有供应商适配器实现的接口。
type Adapter interface {
	// Name 返回注册名（openai / claude / gemini / custom）。
	Name() string
	// IsConfigured 对 API 凭证做存在性与格式校验。
	IsConfigured() bool
	// HistoryLimit 返回该供应商建议携带的历史轮次数。
	HistoryLimit() int
	// GenerateResponse 执行一次同步调用。适配器自身不做重试。
	GenerateResponse(ctx context.Context, req *Request) (*Response, error)
	// EstimateCost 根据静态价目表估算费用（美元），仅用于用量仪表盘。
	EstimateCost(model string, tokens int) float64
}

// Factory 根据全局供应商配置构造一个适配器。
type Factory func(cfg config.ProvidersConfig) Adapter

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register 将一个适配器工厂登记到注册表。新增供应商只需注册，无需改分支。
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// New 按名称构造适配器，名称未注册时返回错误。
func New(name string, cfg config.ProvidersConfig) (Adapter, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown provider %q: %w", name, ErrNotConfigured)
	}
	return factory(cfg), nil
}

// Names 返回所有已注册的供应商名称（排序后，供管理接口展示）。
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// estimateCostFromTable 按 $/1K tokens 价目表估算费用，未知模型用兜底价。
func estimateCostFromTable(table map[string]float64, fallback float64, model string, tokens int) float64 {
	rate, ok := table[model]
	if !ok {
		rate = fallback
	}
	return rate * float64(tokens) / 1000.0
}

// trimHistory 只保留最近 limit 轮历史，每轮是 user+assistant 两条消息。
// 截断后丢弃开头悬空的 assistant 消息，保证历史总是从 user 开始
// （Gemini 的 contents 不接受以 model 开头的多轮对话）。
func trimHistory(history []model.ChatMessage, limit int) []model.ChatMessage {
	if limit <= 0 {
		return history
	}
	if max := 2 * limit; len(history) > max {
		history = history[len(history)-max:]
	}
	for len(history) > 0 && history[0].Role != "user" {
		history = history[1:]
	}
	return history
}

// vendorErrorText 从供应商错误响应体中尽力提取人类可读的错误文本。
// 常见封装形如 {"error":{"message":"..."}}，取不到时返回原始响应体。
func vendorErrorText(body []byte) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		if envelope.Error.Message != "" {
			return envelope.Error.Message
		}
		if envelope.Message != "" {
			return envelope.Message
		}
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 512 {
		text = text[:512]
	}
	return text
}
