// Package model 包含了应用的数据模型定义。
package model

import "time"

// 训练问答对的状态。
const (
	TrainingStatusActive   = "active"
	TrainingStatusInactive = "inactive"
)

// TrainingPair 代表一条管理员维护的问答训练数据。
// Question 在写入时已做实体解码与去空白归一化，匹配时不区分大小写。
type TrainingPair struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Question  string    `gorm:"type:text;not null" json:"question"`
	Answer    string    `gorm:"type:text;not null" json:"answer"`
	Category  string    `gorm:"size:64;index" json:"category"`
	Status    string    `gorm:"size:16;index;default:active" json:"status"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (TrainingPair) TableName() string {
	return "training_pairs"
}
