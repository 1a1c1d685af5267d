package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// Policy 重试策略: 最多 Attempts 次，第 n 次失败后等待 Delay * Multiplier^(n-1)
type Policy struct {
	Attempts   int
	Delay      time.Duration
	Multiplier float64
	// Retryable 为 nil 时所有错误都重试
	Retryable func(error) bool
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent 包装后的错误不再重试
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// ExhaustedError 重试用尽
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Do 按策略执行 fn。ctx 取消时立即返回 ctx.Err()。
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	mult := p.Multiplier
	if mult <= 0 {
		mult = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		if err = ctx.Err(); err != nil {
			return err
		}
		err = fn(ctx)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if i == attempts-1 {
			break
		}

		wait := time.Duration(float64(p.Delay) * math.Pow(mult, float64(i)))
		if wait <= 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return &ExhaustedError{Attempts: attempts, Err: err}
}
