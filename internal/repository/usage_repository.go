// Package repository 提供了数据访问层的实现。
package repository

import (
	"sitechat-go/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UsageRepository 定义了用量统计的持久化操作。
type UsageRepository interface {
	// Increment 把一次请求累加到 日期×供应商×来源 对应的统计行。
	Increment(date, provider, source string, tokens int, cost float64) error
	FindRange(from, to string) ([]model.UsageStat, error)
}

type usageRepository struct {
	db *gorm.DB
}

// NewUsageRepository 创建一个新的 UsageRepository 实例。
func NewUsageRepository(db *gorm.DB) UsageRepository {
	return &usageRepository{db: db}
}

// Increment 使用 upsert 累加计数，统计行不存在时先插入。
func (r *usageRepository) Increment(date, provider, source string, tokens int, cost float64) error {
	stat := model.UsageStat{
		Date:       date,
		Provider:   provider,
		Source:     source,
		Requests:   1,
		TokensUsed: int64(tokens),
		CostUSD:    cost,
	}
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "date"}, {Name: "provider"}, {Name: "source"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"requests":    gorm.Expr("requests + 1"),
			"tokens_used": gorm.Expr("tokens_used + ?", tokens),
			"cost_usd":    gorm.Expr("cost_usd + ?", cost),
		}),
	}).Create(&stat).Error
}

// FindRange 返回日期区间内的统计行（含两端）。
func (r *usageRepository) FindRange(from, to string) ([]model.UsageStat, error) {
	var stats []model.UsageStat
	err := r.db.Where("date >= ? AND date <= ?", from, to).
		Order("date asc").Find(&stats).Error
	return stats, err
}
