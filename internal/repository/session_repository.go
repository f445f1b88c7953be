// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// SessionRepository 维护 会话 → 当前对话 ID 的映射。
type SessionRepository interface {
	GetOrCreateConversationID(ctx context.Context, sessionID string) (string, error)
	ResetConversation(ctx context.Context, sessionID string) error
}

type redisSessionRepository struct {
	redisClient *redis.Client
}

// NewSessionRepository 创建一个新的 SessionRepository 实例。
func NewSessionRepository(redisClient *redis.Client) SessionRepository {
	return &redisSessionRepository{redisClient: redisClient}
}

// GetOrCreateConversationID 获取或创建会话对应的对话 ID。
// 映射保留 7 天，会话过期后下一条消息自然开启新对话。
func (r *redisSessionRepository) GetOrCreateConversationID(ctx context.Context, sessionID string) (string, error) {
	sessionKey := fmt.Sprintf("session:%s:current_conversation", sessionID)
	convID, err := r.redisClient.Get(ctx, sessionKey).Result()
	if err == redis.Nil {
		convID = fmt.Sprintf("conv-%d", time.Now().UnixNano())
		if err := r.redisClient.Set(ctx, sessionKey, convID, 7*24*time.Hour).Err(); err != nil {
			return "", fmt.Errorf("failed to set conversation id: %w", err)
		}
		return convID, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get conversation id: %w", err)
	}
	return convID, nil
}

// ResetConversation 丢弃会话当前的对话 ID，下一条消息将开启新对话。
func (r *redisSessionRepository) ResetConversation(ctx context.Context, sessionID string) error {
	sessionKey := fmt.Sprintf("session:%s:current_conversation", sessionID)
	return r.redisClient.Del(ctx, sessionKey).Err()
}
