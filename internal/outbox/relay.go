// Package outbox 发件箱模式：后续消息先写入 outbox_messages，再由 MessageRelay 中继到 RabbitMQ。
package outbox

import (
	"context"
	"time"

	"elexis-pipeline/internal/config"
	"elexis-pipeline/internal/storage"
	"elexis-pipeline/internal/storage/models"
	"elexis-pipeline/internal/tracing"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultPollingInterval = 5 * time.Second
	defaultBatchSize       = 10
	defaultMaxRetryCount   = 5
)

// MessageRelay 轮询 outbox 表并将消息发布到消息代理
type MessageRelay struct {
	db              *gorm.DB
	publisher       storage.MessageQueue
	logger          zerolog.Logger
	pollingInterval time.Duration
	batchSize       int
	maxRetryCount   int
	done            chan struct{}
	stopped         chan struct{}
	tracer          trace.Tracer
}

// NewMessageRelay 创建中继
func NewMessageRelay(db *gorm.DB, publisher storage.MessageQueue, cfg config.OutboxConfig, logger zerolog.Logger) *MessageRelay {
	r := &MessageRelay{
		db:              db,
		publisher:       publisher,
		logger:          logger,
		pollingInterval: config.GetDuration(cfg.PollInterval, defaultPollingInterval),
		batchSize:       cfg.BatchSize,
		maxRetryCount:   cfg.MaxRetries,
		done:            make(chan struct{}),
		stopped:         make(chan struct{}),
		tracer:          otel.Tracer("elexis-pipeline/outbox"),
	}
	if r.batchSize <= 0 {
		r.batchSize = defaultBatchSize
	}
	if r.maxRetryCount <= 0 {
		r.maxRetryCount = defaultMaxRetryCount
	}
	return r
}

// Start 在后台开始轮询，ctx 结束或调用 Stop 后退出
func (r *MessageRelay) Start(ctx context.Context) {
	r.logger.Info().Dur("interval", r.pollingInterval).Msg("MessageRelay starting")
	ticker := time.NewTicker(r.pollingInterval)

	go func() {
		defer close(r.stopped)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				r.logger.Info().Msg("MessageRelay stopped")
				return
			case <-r.done:
				r.logger.Info().Msg("MessageRelay stopped")
				return
			case <-ticker.C:
				if err := r.ProcessPending(ctx); err != nil {
					r.logger.Error().Err(err).Msg("error processing pending outbox messages")
				}
			}
		}
	}()
}

// Stop 停止并等待后台 goroutine 退出
func (r *MessageRelay) Stop() {
	select {
	case <-r.done:
	default:
		close(r.done)
	}
	<-r.stopped
}

// ProcessPending 取一批待发送消息并逐条发布。
// FOR UPDATE SKIP LOCKED 让多个实例可以并行中继而不重复取同一行。
func (r *MessageRelay) ProcessPending(ctx context.Context) error {
	var messages []models.OutboxMessage

	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}
	defer tx.Rollback()

	err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("status = ?", models.OutboxPending).
		Order("created_at asc").
		Limit(r.batchSize).
		Find(&messages).Error
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to fetch pending outbox messages")
		return err
	}

	// 空轮询不建 span
	if len(messages) == 0 {
		return tx.Commit().Error
	}

	ctx, span := r.tracer.Start(ctx, "outbox.ProcessBatch",
		trace.WithAttributes(attribute.Int("messaging.batch.message_count", len(messages))),
	)
	defer span.End()

	for i := range messages {
		msg := &messages[i]
		pubErr := r.publisher.PublishMessage(ctx, msg.TargetExchange, msg.TargetRoutingKey, []byte(msg.Payload), true)
		if pubErr != nil {
			r.logger.Warn().Err(pubErr).
				Uint64("outbox_id", msg.ID).
				Str("event_type", msg.EventType).
				Str("aggregate_id", msg.AggregateID).
				Int("retries", msg.RetryCount+1).
				Msg("failed to publish outbox message")
			tracing.RecordError(span, pubErr, tracing.ErrorTypeRabbitMQ)
		}
		applyPublishResult(msg, pubErr, r.maxRetryCount, time.Now())

		// 更新失败时整批回滚，下次轮询重新拾取
		if err := tx.Save(msg).Error; err != nil {
			r.logger.Error().Err(err).Uint64("outbox_id", msg.ID).Msg("failed to update outbox message")
			return err
		}
	}

	return tx.Commit().Error
}

func applyPublishResult(msg *models.OutboxMessage, pubErr error, maxRetry int, now time.Time) {
	if pubErr != nil {
		msg.RetryCount++
		msg.ErrorMessage = pubErr.Error()
		if msg.RetryCount >= maxRetry {
			msg.Status = models.OutboxFailed
		}
		return
	}
	msg.Status = models.OutboxSent
	msg.ProcessedAt = &now
	msg.ErrorMessage = ""
}
