// Package model 包含了应用的数据模型定义。
package model

import "time"

// ChatMessage 代表发送给 LLM 的单条角色消息。
type ChatMessage struct {
	Role      string    `json:"role"` // "user" 或 "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// 回答来源标记。
const (
	SourceTraining        = "training"
	SourceTrainingSimilar = "training_similar"
	SourceCache           = "cache"
	SourceAPI             = "api"
)

// 对话轮次的状态流转：processing → completed | failed。
const (
	TurnStatusProcessing = "processing"
	TurnStatusCompleted  = "completed"
	TurnStatusFailed     = "failed"
)

// ConversationTurn 代表一次完整的问答交互，追加写入，
// 响应写入后除状态流转外不再修改。
type ConversationTurn struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	ConversationID string    `gorm:"size:64;index;not null" json:"conversationId"`
	SessionID      string    `gorm:"size:64;index;not null" json:"sessionId"`
	UserMessage    string    `gorm:"type:text;not null" json:"userMessage"`
	AIResponse     string    `gorm:"type:text" json:"aiResponse"`
	Source         string    `gorm:"size:24" json:"source"`
	Provider       string    `gorm:"size:32;index" json:"provider"`
	Model          string    `gorm:"size:64" json:"model"`
	TokensUsed     int       `json:"tokensUsed"`
	CostUSD        float64   `json:"costUsd"`
	ResponseTimeMs float64   `json:"responseTimeMs"`
	Status         string    `gorm:"size:16;index;default:processing" json:"status"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (ConversationTurn) TableName() string {
	return "conversation_turns"
}

// ChatEnvelope 是解析器返回给调用方的统一响应信封，与供应商无关。
type ChatEnvelope struct {
	Response       string  `json:"response"`
	TokensUsed     int     `json:"tokens_used"`
	Model          string  `json:"model"`
	Source         string  `json:"source"`
	SessionID      string  `json:"session_id"`
	ConversationID string  `json:"conversation_id"`
	ResponseTime   float64 `json:"response_time"` // 毫秒
}
