package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"elexis-pipeline/internal/config"
	"elexis-pipeline/internal/storage/models"

	"github.com/gofrs/uuid/v5"
	"gorm.io/gorm"
)

// Envelope 队列消息信封，RequestID 每行唯一，消费端按消息体去重
type Envelope struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	RequestID string      `json:"request_id"`
}

// Writer 把后续消息写入 outbox 表
type Writer struct {
	db         *gorm.DB
	exchange   string
	routingKey string
}

// NewWriter 目标为主交换机 + 路由键
func NewWriter(db *gorm.DB, cfg config.RabbitMQConfig) *Writer {
	return &Writer{db: db, exchange: cfg.Exchange, routingKey: cfg.RoutingKey}
}

// Enqueue 写入一条待中继消息
func (w *Writer) Enqueue(ctx context.Context, msgType, aggregateID string, data interface{}) error {
	row, err := w.buildMessage(msgType, aggregateID, data)
	if err != nil {
		return err
	}
	if err := w.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("insert outbox message %s: %w", msgType, err)
	}
	return nil
}

func (w *Writer) buildMessage(msgType, aggregateID string, data interface{}) (*models.OutboxMessage, error) {
	requestID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate request id: %w", err)
	}
	payload, err := json.Marshal(Envelope{Type: msgType, Data: data, RequestID: requestID.String()})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return &models.OutboxMessage{
		AggregateID:      aggregateID,
		EventType:        msgType,
		Payload:          string(payload),
		TargetExchange:   w.exchange,
		TargetRoutingKey: w.routingKey,
		Status:           models.OutboxPending,
	}, nil
}
