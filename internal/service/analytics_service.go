// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"sitechat-go/internal/model"
	"sitechat-go/internal/repository"
	"sitechat-go/pkg/events"
	"sitechat-go/pkg/kafka"
	"time"
)

// UsageSummary 是一段日期区间内的用量汇总。
type UsageSummary struct {
	From          string            `json:"from"`
	To            string            `json:"to"`
	TotalRequests int64             `json:"totalRequests"`
	TotalTokens   int64             `json:"totalTokens"`
	TotalCostUSD  float64           `json:"totalCostUsd"`
	BySource      map[string]int64  `json:"bySource"`
	ByProvider    map[string]int64  `json:"byProvider"`
	Daily         []model.UsageStat `json:"daily"`
}

// AnalyticsService 聚合用量事件并为仪表盘提供查询。
// 它同时实现 kafka.EventAggregator，由消费者协程直接驱动。
type AnalyticsService interface {
	Aggregate(ctx context.Context, ev events.ChatEvent) error
	UsageSummary(from, to string) (*UsageSummary, error)
	RecentConversations(offset, limit int) ([]model.ConversationTurn, int64, error)
}

type analyticsService struct {
	usageRepo repository.UsageRepository
	convRepo  repository.ConversationRepository
}

// NewAnalyticsService 创建一个新的 AnalyticsService 实例。
func NewAnalyticsService(usageRepo repository.UsageRepository, convRepo repository.ConversationRepository) AnalyticsService {
	return &analyticsService{usageRepo: usageRepo, convRepo: convRepo}
}

// 编译期断言：analyticsService 满足消费者的聚合接口。
var _ kafka.EventAggregator = (*analyticsService)(nil)

// Aggregate 把一条用量事件累加到当天的统计行。
func (s *analyticsService) Aggregate(_ context.Context, ev events.ChatEvent) error {
	day := ev.CreatedAt
	if day.IsZero() {
		day = time.Now()
	}
	providerName := ev.Provider
	if providerName == "" {
		// 训练/缓存命中没有供应商，统一记为 local
		providerName = "local"
	}
	return s.usageRepo.Increment(day.Format("2006-01-02"), providerName, ev.Source, ev.TokensUsed, ev.CostUSD)
}

// UsageSummary 汇总日期区间内的统计行。
func (s *analyticsService) UsageSummary(from, to string) (*UsageSummary, error) {
	stats, err := s.usageRepo.FindRange(from, to)
	if err != nil {
		return nil, err
	}

	summary := &UsageSummary{
		From:       from,
		To:         to,
		BySource:   make(map[string]int64),
		ByProvider: make(map[string]int64),
		Daily:      stats,
	}
	for _, st := range stats {
		summary.TotalRequests += st.Requests
		summary.TotalTokens += st.TokensUsed
		summary.TotalCostUSD += st.CostUSD
		summary.BySource[st.Source] += st.Requests
		summary.ByProvider[st.Provider] += st.Requests
	}
	return summary, nil
}

func (s *analyticsService) RecentConversations(offset, limit int) ([]model.ConversationTurn, int64, error) {
	return s.convRepo.ListRecent(offset, limit)
}

// KafkaEventPublisher 把用量事件发布到 Kafka，实现 EventPublisher。
type KafkaEventPublisher struct{}

// NewKafkaEventPublisher 创建一个新的 KafkaEventPublisher 实例。
func NewKafkaEventPublisher() *KafkaEventPublisher {
	return &KafkaEventPublisher{}
}

func (p *KafkaEventPublisher) Publish(ev events.ChatEvent) error {
	return kafka.PublishChatEvent(ev)
}
