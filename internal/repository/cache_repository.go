// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// CacheRepository 是响应缓存：键为归一化消息的哈希，值为此前的回答文本。
// 缓存条目随时可能消失，未命中永远是安全的降级路径。
type CacheRepository interface {
	Get(ctx context.Context, message string) (string, bool, error)
	Set(ctx context.Context, message, response string, ttl time.Duration) error
}

type redisCacheRepository struct {
	redisClient *redis.Client
}

// NewCacheRepository 创建一个新的 CacheRepository 实例。
func NewCacheRepository(redisClient *redis.Client) CacheRepository {
	return &redisCacheRepository{redisClient: redisClient}
}

// cacheKey 对归一化后的消息取 sha256 作为 Redis 键。
func cacheKey(message string) string {
	sum := sha256.Sum256([]byte(message))
	return fmt.Sprintf("chat:cache:%s", hex.EncodeToString(sum[:]))
}

// Get 查询缓存。第二个返回值表示是否命中。
func (r *redisCacheRepository) Get(ctx context.Context, message string) (string, bool, error) {
	val, err := r.redisClient.Get(ctx, cacheKey(message)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get cached response: %w", err)
	}
	return val, true, nil
}

// Set 写入缓存。并发的相同写入彼此等价，后写覆盖无害。
func (r *redisCacheRepository) Set(ctx context.Context, message, response string, ttl time.Duration) error {
	if err := r.redisClient.Set(ctx, cacheKey(message), response, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cached response: %w", err)
	}
	return nil
}
