package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"elexis-pipeline/internal/config"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
)

// MessageQueue 发布接口
type MessageQueue interface {
	PublishMessage(ctx context.Context, exchangeName, routingKey string, message []byte, persistent bool) error
	PublishJSON(ctx context.Context, exchangeName, routingKey string, data interface{}, persistent bool) error
}

var _ MessageQueue = (*RabbitMQ)(nil)

// Outcome 消费结果
type Outcome int

const (
	// OutcomeAck 确认并删除
	OutcomeAck Outcome = iota
	// OutcomeRetry 拒绝，经死信交换机进入延迟队列后重新投递
	OutcomeRetry
)

// Delivery 交给业务处理函数的消息
type Delivery struct {
	Body        []byte
	DeliveryTag uint64
	Redelivered bool
	DeathCount  int64
	MessageID   string
}

// RabbitMQ 连接与拓扑管理。连接断开后由 Reconnect 重新拨号。
type RabbitMQ struct {
	mu     sync.Mutex
	conn   *amqp.Connection
	pubCh  *amqp.Channel
	cfg    *config.RabbitMQConfig
	logger zerolog.Logger
	dial   func(url string) (*amqp.Connection, error)
}

// NewRabbitMQ 建立连接
func NewRabbitMQ(cfg *config.RabbitMQConfig, logger zerolog.Logger) (*RabbitMQ, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, fmt.Errorf("RabbitMQ URL配置不能为空")
	}
	r := &RabbitMQ{cfg: cfg, logger: logger, dial: amqp.Dial}
	if err := r.Reconnect(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reconnect 连接已关闭时重新拨号
func (r *RabbitMQ) Reconnect() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil && !r.conn.IsClosed() {
		return nil
	}
	conn, err := r.dial(r.cfg.URL)
	if err != nil {
		return fmt.Errorf("无法连接到RabbitMQ服务器: %w", err)
	}
	r.conn = conn
	r.pubCh = nil
	r.logger.Info().Msg("connected to RabbitMQ")
	return nil
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil || r.conn.IsClosed() {
		return nil
	}
	return r.conn.Close()
}

// IsClosed 连接是否不可用
func (r *RabbitMQ) IsClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn == nil || r.conn.IsClosed()
}

func (r *RabbitMQ) channel() (*amqp.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil || r.conn.IsClosed() {
		return nil, fmt.Errorf("RabbitMQ连接已关闭")
	}
	return r.conn.Channel()
}

// DeclareTopology 声明主交换机/队列，以及实现延迟重投的 retry 交换机/队列和 parking 队列。
// 主队列拒绝的消息进入 retry 队列，TTL 到期后经死信回到主交换机。
func (r *RabbitMQ) DeclareTopology() error {
	ch, err := r.channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	c := r.cfg
	delay := config.GetDuration(c.RedeliveryDelay, 30*time.Second)

	for _, ex := range []string{c.Exchange, c.RetryExchange} {
		if err := ch.ExchangeDeclare(ex, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
			return fmt.Errorf("声明exchange %s 失败: %w", ex, err)
		}
	}

	if _, err := ch.QueueDeclare(c.Queue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    c.RetryExchange,
		"x-dead-letter-routing-key": c.RoutingKey,
	}); err != nil {
		return fmt.Errorf("声明队列 %s 失败: %w", c.Queue, err)
	}
	if _, err := ch.QueueDeclare(c.RetryQueue, true, false, false, false, amqp.Table{
		"x-message-ttl":             delay.Milliseconds(),
		"x-dead-letter-exchange":    c.Exchange,
		"x-dead-letter-routing-key": c.RoutingKey,
	}); err != nil {
		return fmt.Errorf("声明队列 %s 失败: %w", c.RetryQueue, err)
	}
	if _, err := ch.QueueDeclare(c.ParkingQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("声明队列 %s 失败: %w", c.ParkingQueue, err)
	}

	if err := ch.QueueBind(c.Queue, c.RoutingKey, c.Exchange, false, nil); err != nil {
		return fmt.Errorf("绑定队列 %s 失败: %w", c.Queue, err)
	}
	if err := ch.QueueBind(c.RetryQueue, c.RoutingKey, c.RetryExchange, false, nil); err != nil {
		return fmt.Errorf("绑定队列 %s 失败: %w", c.RetryQueue, err)
	}
	return nil
}

// PublishMessage 发布消息，并把当前 trace 上下文写入消息头
func (r *RabbitMQ) PublishMessage(ctx context.Context, exchangeName, routingKey string, message []byte, persistent bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil || r.conn.IsClosed() {
		return fmt.Errorf("RabbitMQ连接已关闭")
	}
	if r.pubCh == nil || r.pubCh.IsClosed() {
		ch, err := r.conn.Channel()
		if err != nil {
			return fmt.Errorf("无法获取RabbitMQ通道: %w", err)
		}
		r.pubCh = ch
	}

	deliveryMode := amqp.Transient
	if persistent {
		deliveryMode = amqp.Persistent
	}
	headers := amqp.Table{}
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier(headers))

	return r.pubCh.PublishWithContext(ctx, exchangeName, routingKey, false, false, amqp.Publishing{
		Headers:      headers,
		DeliveryMode: deliveryMode,
		ContentType:  "application/json",
		Body:         message,
		Timestamp:    time.Now(),
	})
}

// PublishJSON 序列化后发布
func (r *RabbitMQ) PublishJSON(ctx context.Context, exchangeName, routingKey string, data interface{}, persistent bool) error {
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("JSON序列化失败: %w", err)
	}
	return r.PublishMessage(ctx, exchangeName, routingKey, body, persistent)
}

// StartConsumer 开始消费 queueName。返回的 channel 在投递通道关闭(连接或信道断开)或 ctx 结束时关闭。
// 重投次数达到 MaxRedeliveries 的消息转入 parking 队列。
func (r *RabbitMQ) StartConsumer(ctx context.Context, queueName string, prefetchCount int, handler func(context.Context, Delivery) Outcome) (<-chan struct{}, error) {
	ch, err := r.channel()
	if err != nil {
		return nil, err
	}
	if err := ch.Qos(prefetchCount, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("设置QoS失败: %w", err)
	}
	deliveries, err := ch.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("注册消费者失败: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer ch.Close()
		r.logger.Info().Str("queue", queueName).Int("prefetch", prefetchCount).Msg("consumer started")

		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					r.logger.Warn().Str("queue", queueName).Msg("delivery channel closed")
					return
				}
				r.settle(ctx, d, handler)
			}
		}
	}()
	return done, nil
}

func (r *RabbitMQ) settle(ctx context.Context, d amqp.Delivery, handler func(context.Context, Delivery) Outcome) {
	msgCtx := otel.GetTextMapPropagator().Extract(ctx, headerCarrier(d.Headers))
	del := Delivery{
		Body:        d.Body,
		DeliveryTag: d.DeliveryTag,
		Redelivered: d.Redelivered,
		DeathCount:  deathCount(d.Headers),
		MessageID:   d.MessageId,
	}

	if handler(msgCtx, del) == OutcomeAck {
		if err := d.Ack(false); err != nil {
			r.logger.Error().Err(err).Uint64("delivery_tag", d.DeliveryTag).Msg("ack failed")
		}
		return
	}

	if max := r.cfg.MaxRedeliveries; max > 0 && del.DeathCount >= int64(max) {
		if err := r.PublishMessage(ctx, "", r.cfg.ParkingQueue, d.Body, true); err == nil {
			r.logger.Warn().Int64("deaths", del.DeathCount).Str("parking_queue", r.cfg.ParkingQueue).Msg("message parked")
			_ = d.Ack(false)
			return
		} else {
			r.logger.Error().Err(err).Msg("park message failed")
		}
	}
	if err := d.Nack(false, false); err != nil {
		r.logger.Error().Err(err).Uint64("delivery_tag", d.DeliveryTag).Msg("nack failed")
	}
}

// deathCount 读取 x-death 头里的累计死信次数
func deathCount(h amqp.Table) int64 {
	raw, ok := h["x-death"].([]interface{})
	if !ok {
		return 0
	}
	var total int64
	for _, entry := range raw {
		t, ok := entry.(amqp.Table)
		if !ok {
			continue
		}
		if reason, _ := t["reason"].(string); reason != "rejected" {
			continue
		}
		switch n := t["count"].(type) {
		case int64:
			total += n
		case int32:
			total += int64(n)
		case int:
			total += int64(n)
		}
	}
	return total
}

// headerCarrier 让 amqp.Table 满足 propagation.TextMapCarrier
type headerCarrier amqp.Table

func (c headerCarrier) Get(key string) string {
	v, _ := c[key].(string)
	return v
}

func (c headerCarrier) Set(key, value string) {
	c[key] = value
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}
