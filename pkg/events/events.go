// Package events defines the structure for usage events that are sent to Kafka.
package events

import "time"

// ChatEvent represents one resolved chat exchange, published for analytics.
type ChatEvent struct {
	SessionID      string    `json:"session_id"`
	ConversationID string    `json:"conversation_id"`
	Provider       string    `json:"provider"`
	Model          string    `json:"model"`
	Source         string    `json:"source"`
	TokensUsed     int       `json:"tokens_used"`
	CostUSD        float64   `json:"cost_usd"`
	ResponseTimeMs float64   `json:"response_time_ms"`
	CreatedAt      time.Time `json:"created_at"`
}
