package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"elexis-pipeline/internal/config"
	"elexis-pipeline/internal/constants"
	"elexis-pipeline/internal/storage"

	"github.com/rs/zerolog"
)

// Handler handles one decoded message; *Pipeline implements it.
type Handler interface {
	Handle(ctx context.Context, msg Message) error
}

// Consumer 队列消费端，*storage.RabbitMQ 实现
type Consumer interface {
	Reconnect() error
	StartConsumer(ctx context.Context, queueName string, prefetchCount int, handler func(context.Context, storage.Delivery) storage.Outcome) (<-chan struct{}, error)
}

var _ Consumer = (*storage.RabbitMQ)(nil)

// DispatcherConfig 消费与去重参数
type DispatcherConfig struct {
	Queue            string
	Prefetch         int
	Workers          int
	ReconnectBackoff time.Duration
	LockTTL          time.Duration
	DoneTTL          time.Duration
	HandlerTimeout   time.Duration
	// MaxRedeliveries 与队列的 parking 阈值一致，0 表示不限
	MaxRedeliveries int
}

func DispatcherConfigFromConfig(cfg *config.Config) DispatcherConfig {
	return DispatcherConfig{
		Queue:            cfg.RabbitMQ.Queue,
		Prefetch:         cfg.RabbitMQ.PrefetchCount,
		Workers:          cfg.RabbitMQ.Workers,
		ReconnectBackoff: config.GetDuration(cfg.RabbitMQ.ReconnectBackoff, 5*time.Second),
		LockTTL:          config.GetDuration(cfg.Pipeline.MessageLockTTL, 15*time.Minute),
		DoneTTL:          config.GetDuration(cfg.Pipeline.MessageDoneTTL, 24*time.Hour),
		HandlerTimeout:   config.GetDuration(cfg.Pipeline.HandlerTimeout, 10*time.Minute),
		MaxRedeliveries:  cfg.RabbitMQ.MaxRedeliveries,
	}
}

// Dispatcher decodes deliveries, suppresses duplicates and maps handler results
// to queue outcomes: success and malformed messages are acked, anything else is
// rejected for delayed redelivery. Not-ready messages are acked without being
// remembered, so an identical message sent later is handled again.
type Dispatcher struct {
	handler Handler
	locks   storage.LockStore
	cfg     DispatcherConfig
	logger  zerolog.Logger
	sleep   func(ctx context.Context, d time.Duration)
}

// NewDispatcher locks may be nil, duplicate suppression is then off.
func NewDispatcher(handler Handler, locks storage.LockStore, cfg DispatcherConfig, logger zerolog.Logger) *Dispatcher {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.ReconnectBackoff <= 0 {
		cfg.ReconnectBackoff = 5 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 15 * time.Minute
	}
	return &Dispatcher{handler: handler, locks: locks, cfg: cfg, logger: logger, sleep: sleepCtx}
}

type finalAttemptKey struct{}

// IsFinalAttempt reports whether a failure of the current delivery parks the
// message instead of redelivering it.
func IsFinalAttempt(ctx context.Context) bool {
	final, _ := ctx.Value(finalAttemptKey{}).(bool)
	return final
}

func withFinalAttempt(ctx context.Context) context.Context {
	return context.WithValue(ctx, finalAttemptKey{}, true)
}

// MessageKey 消息体哈希，用于去重键
func MessageKey(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// HandleDelivery processes one delivery and returns how to settle it.
func (d *Dispatcher) HandleDelivery(ctx context.Context, del storage.Delivery) storage.Outcome {
	log := d.logger.With().Uint64("delivery_tag", del.DeliveryTag).Int64("deaths", del.DeathCount).Logger()

	msg, err := Decode(del.Body)
	if err != nil {
		log.Warn().Err(err).Str("outcome", "dropped").Msg("malformed message")
		return storage.OutcomeAck
	}
	log = log.With().Str("type", msg.Type()).Str("ref", msg.Ref()).Logger()

	key := MessageKey(del.Body)
	doneKey := fmt.Sprintf(constants.KeyMessageDone, key)
	if d.locks != nil {
		done, err := d.locks.IsDone(ctx, doneKey)
		if err != nil {
			log.Warn().Err(err).Msg("duplicate check unavailable")
		} else if done {
			log.Info().Str("outcome", "acked").Msg("duplicate of a handled message")
			return storage.OutcomeAck
		}

		lockKey := fmt.Sprintf(constants.KeyMessageLock, key)
		token, err := d.locks.AcquireLock(ctx, lockKey, d.cfg.LockTTL)
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("message lock unavailable, handling without it")
		case token == "":
			log.Info().Str("outcome", "requeued").Msg("same message is being handled elsewhere")
			return storage.OutcomeRetry
		default:
			defer func() {
				if _, err := d.locks.ReleaseLock(context.WithoutCancel(ctx), lockKey, token); err != nil {
					log.Warn().Err(err).Msg("release message lock failed")
				}
			}()
		}
	}

	hctx := ctx
	if d.cfg.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, d.cfg.HandlerTimeout)
		defer cancel()
	}
	if d.cfg.MaxRedeliveries > 0 && del.DeathCount >= int64(d.cfg.MaxRedeliveries) {
		hctx = withFinalAttempt(hctx)
	}
	start := time.Now()
	err = d.handler.Handle(hctx, msg)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		if d.locks != nil && d.cfg.DoneTTL > 0 {
			if err := d.locks.MarkDone(context.WithoutCancel(ctx), doneKey, d.cfg.DoneTTL); err != nil {
				log.Warn().Err(err).Msg("mark message done failed")
			}
		}
		log.Info().Str("outcome", "acked").Dur("elapsed", elapsed).Msg("message handled")
		return storage.OutcomeAck
	case IsNotReady(err):
		log.Info().Err(err).Str("outcome", "acked").Dur("elapsed", elapsed).Msg("prerequisites not ready, message not remembered")
		return storage.OutcomeAck
	case errors.Is(err, ErrMalformedMessage):
		log.Warn().Err(err).Str("outcome", "dropped").Dur("elapsed", elapsed).Msg("message rejected as malformed")
		return storage.OutcomeAck
	default:
		log.Error().Err(err).Str("outcome", "requeued").Dur("elapsed", elapsed).Msg("message handling failed")
		return storage.OutcomeRetry
	}
}

// Run consumes until ctx is done. When the connection or a consumer channel
// drops, every worker is stopped and the loop reconnects after the backoff.
func (d *Dispatcher) Run(ctx context.Context, consumer Consumer) {
	d.logger.Info().Str("queue", d.cfg.Queue).Int("workers", d.cfg.Workers).Int("prefetch", d.cfg.Prefetch).
		Msg("dispatcher started")
	for ctx.Err() == nil {
		if err := d.runRound(ctx, consumer); err != nil {
			d.logger.Error().Err(err).Dur("backoff", d.cfg.ReconnectBackoff).Msg("consumer unavailable")
		} else if ctx.Err() == nil {
			d.logger.Warn().Dur("backoff", d.cfg.ReconnectBackoff).Msg("consumer stopped, reconnecting")
		}
		d.sleep(ctx, d.cfg.ReconnectBackoff)
	}
	d.logger.Info().Msg("dispatcher stopped")
}

func (d *Dispatcher) runRound(ctx context.Context, consumer Consumer) error {
	if err := consumer.Reconnect(); err != nil {
		return err
	}
	roundCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stopped := make(chan struct{}, d.cfg.Workers)
	var wg sync.WaitGroup
	for i := 0; i < d.cfg.Workers; i++ {
		done, err := consumer.StartConsumer(roundCtx, d.cfg.Queue, d.cfg.Prefetch, d.HandleDelivery)
		if err != nil {
			cancel()
			wg.Wait()
			return fmt.Errorf("start consumer %d: %w", i, err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-done
			stopped <- struct{}{}
		}()
	}

	select {
	case <-roundCtx.Done():
	case <-stopped:
	}
	cancel()
	wg.Wait()
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
