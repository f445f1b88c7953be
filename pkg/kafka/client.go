// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"sitechat-go/internal/config"
	"sitechat-go/pkg/events"
	"sitechat-go/pkg/log"

	"github.com/segmentio/kafka-go"
)

// EventAggregator defines the interface for any service that can aggregate a
// chat event. This decouples the Kafka consumer from the concrete analytics
// implementation.
type EventAggregator interface {
	Aggregate(ctx context.Context, ev events.ChatEvent) error
}

var producer *kafka.Writer

// InitProducer 初始化 Kafka 生产者。
func InitProducer(cfg config.KafkaConfig) {
	producer = &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	log.Info("Kafka 生产者初始化成功")
}

// PublishChatEvent 发送一条聊天用量事件到 Kafka。
func PublishChatEvent(ev events.ChatEvent) error {
	evBytes, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	return producer.WriteMessages(context.Background(),
		kafka.Message{
			Key:   []byte(ev.SessionID),
			Value: evBytes,
		},
	)
}

// StartConsumer 启动一个 Kafka 消费者来聚合用量事件。
// 用量统计允许丢失个别事件，因此无论聚合是否成功都提交 offset，
// 避免一条坏事件阻塞整个分区。
func StartConsumer(cfg config.KafkaConfig, aggregator EventAggregator) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  []string{cfg.Brokers},
		Topic:    cfg.Topic,
		GroupID:  "sitechat-usage-consumer",
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})

	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", cfg.Topic)

	for {
		m, err := r.FetchMessage(context.Background())
		if err != nil {
			log.Error("从 Kafka 读取消息失败", err)
			break
		}

		var ev events.ChatEvent
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			log.Errorf("无法解析用量事件: %v, value: %s", err, string(m.Value))
		} else if err := aggregator.Aggregate(context.Background(), ev); err != nil {
			log.Errorf("聚合用量事件失败: provider=%s, source=%s, error: %v", ev.Provider, ev.Source, err)
		}

		if err := r.CommitMessages(context.Background(), m); err != nil {
			log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
		}
	}

	if err := r.Close(); err != nil {
		log.Fatalf("关闭 Kafka 消费者失败: %v", err)
	}
}
