// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"fmt"
	"sitechat-go/internal/config"
	"sitechat-go/internal/provider"
	"sitechat-go/pkg/log"
	"strings"

	"github.com/go-redis/redis/v8"
)

const activeProviderKey = "chat:active_provider"

// SettingsService 管理运行时的供应商设置。
// 激活项持久化在 Redis 中，读不到时回退到配置文件。
type SettingsService interface {
	AdapterSource
	ActiveProvider(ctx context.Context) string
	SetActiveProvider(ctx context.Context, name string) error
	// Overview 返回脱敏后的供应商配置视图，供管理后台展示。
	Overview(ctx context.Context) map[string]interface{}
}

type settingsService struct {
	redisClient *redis.Client
}

// NewSettingsService 创建一个新的 SettingsService 实例。
func NewSettingsService(redisClient *redis.Client) SettingsService {
	return &settingsService{redisClient: redisClient}
}

// ActiveProvider 返回当前激活的供应商名称。
func (s *settingsService) ActiveProvider(ctx context.Context) string {
	name, err := s.redisClient.Get(ctx, activeProviderKey).Result()
	if err == redis.Nil {
		return config.Conf.Providers.Active
	}
	if err != nil {
		log.Warnf("读取激活供应商失败，回退到配置文件: %v", err)
		return config.Conf.Providers.Active
	}
	return name
}

// SetActiveProvider 切换激活供应商，名称必须已在注册表中。
func (s *settingsService) SetActiveProvider(ctx context.Context, name string) error {
	name = strings.ToLower(strings.TrimSpace(name))
	registered := false
	for _, n := range provider.Names() {
		if n == name {
			registered = true
			break
		}
	}
	if !registered {
		return fmt.Errorf("unknown provider %q, registered: %v", name, provider.Names())
	}

	adapter, err := provider.New(name, config.Conf.Providers)
	if err != nil {
		return err
	}
	if !adapter.IsConfigured() {
		return fmt.Errorf("provider %q: %w", name, provider.ErrNotConfigured)
	}

	// 持久化（无过期）
	return s.redisClient.Set(ctx, activeProviderKey, name, 0).Err()
}

// Adapter 构造当前激活供应商的适配器。
func (s *settingsService) Adapter(ctx context.Context) (provider.Adapter, error) {
	return provider.New(s.ActiveProvider(ctx), config.Conf.Providers)
}

// Overview 返回脱敏后的配置视图，API key 只露出前缀。
func (s *settingsService) Overview(ctx context.Context) map[string]interface{} {
	p := config.Conf.Providers
	return map[string]interface{}{
		"active":     s.ActiveProvider(ctx),
		"registered": provider.Names(),
		"openai": map[string]interface{}{
			"model":      p.OpenAI.Model,
			"api_key":    maskKey(p.OpenAI.APIKey),
			"configured": p.OpenAI.APIKey != "",
		},
		"claude": map[string]interface{}{
			"model":      p.Claude.Model,
			"api_key":    maskKey(p.Claude.APIKey),
			"configured": p.Claude.APIKey != "",
		},
		"gemini": map[string]interface{}{
			"model":      p.Gemini.Model,
			"api_key":    maskKey(p.Gemini.APIKey),
			"configured": p.Gemini.APIKey != "",
		},
		"custom": map[string]interface{}{
			"endpoint":       p.Custom.Endpoint,
			"auth_method":    p.Custom.AuthMethod,
			"body_format":    p.Custom.BodyFormat,
			"response_field": p.Custom.ResponseField,
			"configured":     p.Custom.Endpoint != "",
		},
	}
}

// maskKey 只保留 key 的前 6 位。
func maskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 6 {
		return "******"
	}
	return key[:6] + strings.Repeat("*", 6)
}
