// Package repository 提供了数据访问层的实现。
package repository

import (
	"sitechat-go/internal/model"

	"gorm.io/gorm"
)

// ConversationRepository 定义了对话轮次的持久化操作。
// 轮次是追加写入的，响应写入后只允许状态流转。
type ConversationRepository interface {
	CreateTurn(turn *model.ConversationTurn) error
	CompleteTurn(turn *model.ConversationTurn) error
	FailTurn(id uint) error
	// RecentMessages 把最近 limit 轮已完成的问答展开为角色消息序列。
	RecentMessages(conversationID string, limit int) ([]model.ChatMessage, error)
	ListBySession(sessionID string, limit int) ([]model.ConversationTurn, error)
	ListRecent(offset, limit int) ([]model.ConversationTurn, int64, error)
}

type conversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository 创建一个新的 ConversationRepository 实例。
func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &conversationRepository{db: db}
}

func (r *conversationRepository) CreateTurn(turn *model.ConversationTurn) error {
	return r.db.Create(turn).Error
}

// CompleteTurn 把响应内容写回轮次并置为 completed。
func (r *conversationRepository) CompleteTurn(turn *model.ConversationTurn) error {
	turn.Status = model.TurnStatusCompleted
	return r.db.Model(&model.ConversationTurn{}).Where("id = ?", turn.ID).Updates(map[string]interface{}{
		"ai_response":      turn.AIResponse,
		"source":           turn.Source,
		"provider":         turn.Provider,
		"model":            turn.Model,
		"tokens_used":      turn.TokensUsed,
		"cost_usd":         turn.CostUSD,
		"response_time_ms": turn.ResponseTimeMs,
		"status":           model.TurnStatusCompleted,
	}).Error
}

func (r *conversationRepository) FailTurn(id uint) error {
	return r.db.Model(&model.ConversationTurn{}).Where("id = ?", id).
		Update("status", model.TurnStatusFailed).Error
}

// RecentMessages 取最近 limit 轮已完成的问答并按时间正序展开，
// 每轮产生一条 user 消息和一条 assistant 消息。
func (r *conversationRepository) RecentMessages(conversationID string, limit int) ([]model.ChatMessage, error) {
	var turns []model.ConversationTurn
	err := r.db.Where("conversation_id = ? AND status = ?", conversationID, model.TurnStatusCompleted).
		Order("id desc").Limit(limit).Find(&turns).Error
	if err != nil {
		return nil, err
	}

	messages := make([]model.ChatMessage, 0, len(turns)*2)
	for i := len(turns) - 1; i >= 0; i-- {
		t := turns[i]
		messages = append(messages,
			model.ChatMessage{Role: "user", Content: t.UserMessage, Timestamp: t.CreatedAt},
			model.ChatMessage{Role: "assistant", Content: t.AIResponse, Timestamp: t.CreatedAt},
		)
	}
	return messages, nil
}

func (r *conversationRepository) ListBySession(sessionID string, limit int) ([]model.ConversationTurn, error) {
	var turns []model.ConversationTurn
	err := r.db.Where("session_id = ?", sessionID).Order("id desc").Limit(limit).Find(&turns).Error
	return turns, err
}

// ListRecent 供管理后台分页浏览全部对话记录。
func (r *conversationRepository) ListRecent(offset, limit int) ([]model.ConversationTurn, int64, error) {
	var turns []model.ConversationTurn
	var total int64

	db := r.db.Model(&model.ConversationTurn{})
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := db.Order("id desc").Offset(offset).Limit(limit).Find(&turns).Error
	if err != nil {
		return nil, 0, err
	}
	return turns, total, nil
}
