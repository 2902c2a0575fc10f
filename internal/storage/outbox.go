package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"

	"github.com/devil3515/resume-parser/internal/storage/models"
)

// NewOutboxMessage 序列化 payload 并构造一条待发送的发件箱消息
func NewOutboxMessage(aggregateID, eventType, exchange, routingKey string, payload any) (*models.OutboxMessage, error) {
	if exchange == "" {
		return nil, fmt.Errorf("发件箱消息缺少目标交换机")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("序列化发件箱消息失败: %w", err)
	}
	return &models.OutboxMessage{
		AggregateID:      aggregateID,
		EventType:        eventType,
		Payload:          string(body),
		TargetExchange:   exchange,
		TargetRoutingKey: routingKey,
		Status:           models.OutboxStatusPending,
	}, nil
}

// aggregateIdentifier 事件可以提供自己的聚合ID
type aggregateIdentifier interface {
	AggregateID() string
}

// OutboxWriter 把事件写入 outbox_messages，由 outbox.MessageRelay 异步投递
type OutboxWriter struct {
	db       *gorm.DB
	exchange string
}

// NewOutboxWriter 创建发件箱写入器
func NewOutboxWriter(m *MySQL, exchange string) *OutboxWriter {
	return &OutboxWriter{db: m.DB(), exchange: exchange}
}

// EnqueueEvent 写入一条事件，路由键同时作为事件类型
func (w *OutboxWriter) EnqueueEvent(ctx context.Context, routingKey string, payload any) error {
	return enqueueOutbox(ctx, w.db, w.exchange, routingKey, payload)
}

func enqueueOutbox(ctx context.Context, db *gorm.DB, exchange, routingKey string, payload any) error {
	var aggregateID string
	if a, ok := payload.(aggregateIdentifier); ok {
		aggregateID = a.AggregateID()
	}
	msg, err := NewOutboxMessage(aggregateID, routingKey, exchange, routingKey, payload)
	if err != nil {
		return err
	}
	if err := db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("写入发件箱失败: %w", err)
	}
	return nil
}
