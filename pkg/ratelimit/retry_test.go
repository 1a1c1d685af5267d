package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo(t *testing.T) {
	ctx := context.Background()

	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		err := Do(ctx, Policy{Attempts: 3, Delay: time.Millisecond}, func(context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("boom")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("exhausted wraps last error", func(t *testing.T) {
		sentinel := errors.New("still broken")
		calls := 0
		err := Do(ctx, Policy{Attempts: 3}, func(context.Context) error {
			calls++
			return sentinel
		})
		assert.Equal(t, 3, calls)
		assert.ErrorIs(t, err, sentinel)
		var ex *ExhaustedError
		require.ErrorAs(t, err, &ex)
		assert.Equal(t, 3, ex.Attempts)
	})

	t.Run("permanent stops immediately", func(t *testing.T) {
		sentinel := errors.New("bad input")
		calls := 0
		err := Do(ctx, Policy{Attempts: 5}, func(context.Context) error {
			calls++
			return Permanent(sentinel)
		})
		assert.Equal(t, 1, calls)
		assert.Equal(t, sentinel, err)
	})

	t.Run("non retryable stops immediately", func(t *testing.T) {
		calls := 0
		err := Do(ctx, Policy{Attempts: 5, Retryable: IsTransient}, func(context.Context) error {
			calls++
			return errors.New("invalid json")
		})
		assert.Equal(t, 1, calls)
		assert.EqualError(t, err, "invalid json")
	})

	t.Run("zero attempts runs once", func(t *testing.T) {
		calls := 0
		_ = Do(ctx, Policy{}, func(context.Context) error {
			calls++
			return errors.New("x")
		})
		assert.Equal(t, 1, calls)
	})

	t.Run("cancelled context during backoff", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		calls := 0
		err := Do(cctx, Policy{Attempts: 3, Delay: time.Hour}, func(context.Context) error {
			calls++
			cancel()
			return errors.New("x")
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(errors.New("Post \"x\": context deadline exceeded")))
	assert.True(t, IsTransient(errors.New("status 429 Too Many Requests")))
	assert.True(t, IsTransient(errors.New("Error 503, Message: UNAVAILABLE")))
	assert.False(t, IsTransient(errors.New("invalid api key")))
	assert.False(t, IsTransient(nil))
}

func TestTokenBucket(t *testing.T) {
	t.Run("allow drains capacity then refills", func(t *testing.T) {
		now := time.Unix(0, 0)
		tb := NewTokenBucket(60, 2) // 1 token/s
		tb.now = func() time.Time { return now }
		tb.lastRefillTime = now

		assert.True(t, tb.Allow())
		assert.True(t, tb.Allow())
		assert.False(t, tb.Allow())

		now = now.Add(time.Second)
		assert.True(t, tb.Allow())
		assert.False(t, tb.Allow())
	})

	t.Run("retry with backoff retries transient errors", func(t *testing.T) {
		tb := NewTokenBucket(6000, 10).WithRetryPolicy(time.Millisecond, 2)
		calls := 0
		err := tb.RetryWithBackoff(context.Background(), func() error {
			calls++
			if calls == 1 {
				return errors.New("connection reset by peer")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("retry with backoff returns the raw error", func(t *testing.T) {
		tb := NewTokenBucket(6000, 10).WithRetryPolicy(time.Millisecond, 1)
		sentinel := errors.New("timeout")
		err := tb.RetryWithBackoff(context.Background(), func() error { return sentinel })
		assert.Equal(t, sentinel, err)
	})
}
