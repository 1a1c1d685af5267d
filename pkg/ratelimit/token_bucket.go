package ratelimit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// TokenBucket 令牌桶限流器
type TokenBucket struct {
	rate           float64 // 每秒生成的令牌数
	capacity       float64
	tokens         float64
	lastRefillTime time.Time
	mutex          sync.Mutex
	retryWaitTime  time.Duration
	maxRetries     int
	now            func() time.Time
}

// NewTokenBucket qpm 为每分钟请求数；capacity<=0 时取 qpm/2
func NewTokenBucket(qpm int, capacity int) *TokenBucket {
	if qpm <= 0 {
		qpm = 1
	}
	if capacity <= 0 {
		capacity = qpm / 2
		if capacity <= 0 {
			capacity = 1
		}
	}
	return &TokenBucket{
		rate:           float64(qpm) / 60.0,
		capacity:       float64(capacity),
		tokens:         float64(capacity),
		lastRefillTime: time.Now(),
		retryWaitTime:  time.Second,
		maxRetries:     3,
		now:            time.Now,
	}
}

// WithRetryPolicy 设置瞬时错误的重试等待和次数
func (tb *TokenBucket) WithRetryPolicy(waitTime time.Duration, maxRetries int) *TokenBucket {
	tb.retryWaitTime = waitTime
	tb.maxRetries = maxRetries
	return tb
}

func (tb *TokenBucket) refill() {
	now := tb.now()
	elapsed := now.Sub(tb.lastRefillTime).Seconds()
	tb.lastRefillTime = now
	tb.tokens += elapsed * tb.rate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
}

// Allow 有令牌时消耗一个并返回 true
func (tb *TokenBucket) Allow() bool {
	tb.mutex.Lock()
	defer tb.mutex.Unlock()

	tb.refill()
	if tb.tokens >= 1.0 {
		tb.tokens -= 1.0
		return true
	}
	return false
}

// Wait 阻塞直到拿到令牌或 ctx 结束
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mutex.Lock()
		tb.refill()
		if tb.tokens >= 1.0 {
			tb.tokens -= 1.0
			tb.mutex.Unlock()
			return nil
		}
		waitTime := time.Duration((1.0 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mutex.Unlock()

		timer := time.NewTimer(waitTime)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// RetryWithBackoff 每次尝试前先取令牌，瞬时错误按指数退避重试
func (tb *TokenBucket) RetryWithBackoff(ctx context.Context, fn func() error) error {
	policy := Policy{
		Attempts:   tb.maxRetries + 1,
		Delay:      tb.retryWaitTime,
		Multiplier: 2,
		Retryable:  IsTransient,
	}
	err := Do(ctx, policy, func(ctx context.Context) error {
		if err := tb.Wait(ctx); err != nil {
			return Permanent(err)
		}
		return fn()
	})
	var ex *ExhaustedError
	if errors.As(err, &ex) {
		return ex.Err
	}
	return err
}

var transientMarkers = []string{
	"timeout",
	"deadline exceeded",
	"connection reset",
	"EOF",
	"connection refused",
	"429",
	"Too Many Requests",
	"rate limit",
	"RESOURCE_EXHAUSTED",
	"UNAVAILABLE",
	"no such host",
	"503",
	"502",
}

// IsTransient 根据错误信息判断是否值得重试
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	for _, m := range transientMarkers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
