package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"quantgate/logger"
)

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	MaxRetries   int
	RetryBackoff time.Duration
	WriteTimeout time.Duration
}

// messageWriter kafka.Writer 的最小子集，便于测试替换
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher 把领域事件转发到 Kafka topic，key 为策略名
type KafkaPublisher struct {
	writer  messageWriter
	topic   string
	timeout time.Duration
}

// NewKafkaPublisher 创建 Kafka 转发器
func NewKafkaPublisher(cfg KafkaConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("kafka brokers 与 topic 不能为空")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 100 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		Compression:            kafka.Gzip,
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            cfg.MaxRetries,
		WriteBackoffMin:        cfg.RetryBackoff,
		WriteBackoffMax:        cfg.RetryBackoff * 10,
	}
	logger.Info("✅ Kafka 事件转发已启用: brokers=%v topic=%s", cfg.Brokers, cfg.Topic)
	return &KafkaPublisher{writer: writer, topic: cfg.Topic, timeout: cfg.WriteTimeout}, nil
}

// Encode 事件的 Kafka 消息
func Encode(event *Event) (kafka.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("序列化事件失败: %w", err)
	}
	return kafka.Message{
		Key:   []byte(event.Strategy()),
		Value: data,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	}, nil
}

// ProcessEvent 实现 EventProcessor；写入失败只记录日志
func (p *KafkaPublisher) ProcessEvent(event *Event) {
	msg, err := Encode(event)
	if err != nil {
		logger.Warn("⚠️ %v", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		logger.Error("❌ 发送 Kafka 消息失败: topic=%s type=%s err=%v", p.topic, event.Type, err)
		return
	}
	logger.Debug("📤 Kafka 消息已发送: %s", event.Type)
}

// Close 关闭写入器
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
