// Package model 包含了应用的数据模型定义。
package model

import "time"

// UsageStat 是按 日期×供应商×来源 聚合的用量统计，仅用于仪表盘展示。
type UsageStat struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Date       string    `gorm:"size:10;uniqueIndex:idx_usage_day,priority:1" json:"date"` // 2006-01-02
	Provider   string    `gorm:"size:32;uniqueIndex:idx_usage_day,priority:2" json:"provider"`
	Source     string    `gorm:"size:24;uniqueIndex:idx_usage_day,priority:3" json:"source"`
	Requests   int64     `json:"requests"`
	TokensUsed int64     `json:"tokensUsed"`
	CostUSD    float64   `json:"costUsd"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (UsageStat) TableName() string {
	return "usage_stats"
}
