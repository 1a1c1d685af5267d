package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"elexis-pipeline/internal/constants"
	"elexis-pipeline/internal/storage"
	"elexis-pipeline/internal/storage/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockHandler 按预设返回错误并记录收到的消息
type MockHandler struct {
	mu   sync.Mutex
	err  error
	got  []Message
	hook func(ctx context.Context)
}

func (h *MockHandler) Handle(ctx context.Context, msg Message) error {
	h.mu.Lock()
	h.got = append(h.got, msg)
	hook := h.hook
	h.mu.Unlock()
	if hook != nil {
		hook(ctx)
	}
	return h.err
}

func rankBody(t *testing.T) []byte {
	t.Helper()
	body, err := Encode(RankMessage{JobID: jobUUID}, "")
	require.NoError(t, err)
	return body
}

func TestDispatcher_HandleDelivery(t *testing.T) {
	ctx := context.Background()
	cfg := DispatcherConfig{LockTTL: time.Minute, DoneTTL: time.Hour}

	t.Run("success acks and marks done", func(t *testing.T) {
		h, locks := &MockHandler{}, NewMockLocks()
		d := NewDispatcher(h, locks, cfg, zerolog.Nop())
		body := rankBody(t)

		assert.Equal(t, storage.OutcomeAck, d.HandleDelivery(ctx, storage.Delivery{Body: body, DeliveryTag: 1}))
		require.Len(t, h.got, 1)
		assert.Equal(t, RankMessage{JobID: jobUUID}, h.got[0])

		key := MessageKey(body)
		assert.True(t, locks.done[fmt.Sprintf(constants.KeyMessageDone, key)])
		assert.Equal(t, []string{fmt.Sprintf(constants.KeyMessageLock, key)}, locks.released)

		t.Run("duplicate is acked without handling", func(t *testing.T) {
			assert.Equal(t, storage.OutcomeAck, d.HandleDelivery(ctx, storage.Delivery{Body: body, DeliveryTag: 2, Redelivered: true}))
			assert.Len(t, h.got, 1)
		})
	})

	t.Run("malformed body is dropped", func(t *testing.T) {
		h := &MockHandler{}
		d := NewDispatcher(h, NewMockLocks(), cfg, zerolog.Nop())
		assert.Equal(t, storage.OutcomeAck, d.HandleDelivery(ctx, storage.Delivery{Body: []byte(`{"type":"nope","data":{}}`)}))
		assert.Empty(t, h.got)
	})

	t.Run("malformed result is acked", func(t *testing.T) {
		h := &MockHandler{err: malformed("bad transcript url")}
		locks := NewMockLocks()
		d := NewDispatcher(h, locks, cfg, zerolog.Nop())
		assert.Equal(t, storage.OutcomeAck, d.HandleDelivery(ctx, storage.Delivery{Body: rankBody(t)}))
		assert.Empty(t, locks.done)
	})

	t.Run("failure is retried and not marked done", func(t *testing.T) {
		h := &MockHandler{err: errors.New("db down")}
		locks := NewMockLocks()
		d := NewDispatcher(h, locks, cfg, zerolog.Nop())
		assert.Equal(t, storage.OutcomeRetry, d.HandleDelivery(ctx, storage.Delivery{Body: rankBody(t)}))
		assert.Empty(t, locks.done)
		assert.Empty(t, locks.locks, "lock is released after failure")
	})

	t.Run("not ready is acked but not marked done", func(t *testing.T) {
		h := &MockHandler{err: fmt.Errorf("score s1: %w", ErrNotReady)}
		locks := NewMockLocks()
		d := NewDispatcher(h, locks, cfg, zerolog.Nop())
		body := rankBody(t)

		assert.Equal(t, storage.OutcomeAck, d.HandleDelivery(ctx, storage.Delivery{Body: body}))
		assert.Empty(t, locks.done)

		h.err = nil
		assert.Equal(t, storage.OutcomeAck, d.HandleDelivery(ctx, storage.Delivery{Body: body}))
		assert.Len(t, h.got, 2)
	})

	t.Run("last delivery before parking is flagged", func(t *testing.T) {
		var final []bool
		h := &MockHandler{hook: func(ctx context.Context) { final = append(final, IsFinalAttempt(ctx)) }}
		d := NewDispatcher(h, nil, DispatcherConfig{MaxRedeliveries: 3}, zerolog.Nop())
		for _, deaths := range []int64{0, 2, 3, 4} {
			d.HandleDelivery(ctx, storage.Delivery{Body: rankBody(t), DeathCount: deaths})
		}
		assert.Equal(t, []bool{false, false, true, true}, final)

		unlimited := NewDispatcher(h, nil, DispatcherConfig{}, zerolog.Nop())
		final = nil
		unlimited.HandleDelivery(ctx, storage.Delivery{Body: rankBody(t), DeathCount: 50})
		assert.Equal(t, []bool{false}, final)
	})

	t.Run("message in flight elsewhere is requeued", func(t *testing.T) {
		h, locks := &MockHandler{}, NewMockLocks()
		body := rankBody(t)
		locks.locks[fmt.Sprintf(constants.KeyMessageLock, MessageKey(body))] = "other-worker"
		d := NewDispatcher(h, locks, cfg, zerolog.Nop())

		assert.Equal(t, storage.OutcomeRetry, d.HandleDelivery(ctx, storage.Delivery{Body: body}))
		assert.Empty(t, h.got)
	})

	t.Run("redis outage degrades to plain handling", func(t *testing.T) {
		h, locks := &MockHandler{}, NewMockLocks()
		locks.err = errors.New("redis: connection refused")
		d := NewDispatcher(h, locks, cfg, zerolog.Nop())

		assert.Equal(t, storage.OutcomeAck, d.HandleDelivery(ctx, storage.Delivery{Body: rankBody(t)}))
		assert.Len(t, h.got, 1)
	})

	t.Run("no lock store", func(t *testing.T) {
		h := &MockHandler{}
		d := NewDispatcher(h, nil, cfg, zerolog.Nop())
		assert.Equal(t, storage.OutcomeAck, d.HandleDelivery(ctx, storage.Delivery{Body: rankBody(t)}))
		assert.Equal(t, storage.OutcomeAck, d.HandleDelivery(ctx, storage.Delivery{Body: rankBody(t)}))
		assert.Len(t, h.got, 2)
	})

	t.Run("handler gets a deadline", func(t *testing.T) {
		var deadline bool
		h := &MockHandler{hook: func(ctx context.Context) { _, deadline = ctx.Deadline() }}
		d := NewDispatcher(h, nil, DispatcherConfig{HandlerTimeout: time.Minute}, zerolog.Nop())
		d.HandleDelivery(ctx, storage.Delivery{Body: rankBody(t)})
		assert.True(t, deadline)
	})
}

// MockConsumer 每轮启动的消费者在 stop 关闭或 ctx 结束时退出
type MockConsumer struct {
	mu         sync.Mutex
	reconnects int
	started    int
	failStart  bool
	stop       chan struct{}
	deliveries []storage.Delivery
	outcomes   []storage.Outcome
}

func (c *MockConsumer) Reconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnects++
	return nil
}

func (c *MockConsumer) StartConsumer(ctx context.Context, _ string, _ int, handler func(context.Context, storage.Delivery) storage.Outcome) (<-chan struct{}, error) {
	c.mu.Lock()
	if c.failStart {
		c.mu.Unlock()
		return nil, errors.New("channel closed")
	}
	c.started++
	deliveries := c.deliveries
	c.deliveries = nil
	stop := c.stop
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, del := range deliveries {
			out := handler(ctx, del)
			c.mu.Lock()
			c.outcomes = append(c.outcomes, out)
			c.mu.Unlock()
		}
		select {
		case <-ctx.Done():
		case <-stop:
		}
	}()
	return done, nil
}

func TestDispatcher_Run(t *testing.T) {
	t.Run("consumes until cancelled", func(t *testing.T) {
		h := &MockHandler{}
		consumer := &MockConsumer{stop: make(chan struct{}), deliveries: []storage.Delivery{{Body: rankBody(t), DeliveryTag: 7}}}
		d := NewDispatcher(h, nil, DispatcherConfig{Workers: 2}, zerolog.Nop())

		ctx, cancel := context.WithCancel(context.Background())
		finished := make(chan struct{})
		go func() {
			d.Run(ctx, consumer)
			close(finished)
		}()

		require.Eventually(t, func() bool {
			consumer.mu.Lock()
			defer consumer.mu.Unlock()
			return len(consumer.outcomes) == 1
		}, time.Second, 5*time.Millisecond)
		cancel()

		select {
		case <-finished:
		case <-time.After(time.Second):
			t.Fatal("dispatcher did not stop")
		}
		assert.Equal(t, storage.OutcomeAck, consumer.outcomes[0])
		assert.Equal(t, 2, consumer.started)
	})

	t.Run("reconnects after a consumer stops", func(t *testing.T) {
		consumer := &MockConsumer{stop: make(chan struct{})}
		close(consumer.stop)
		d := NewDispatcher(&MockHandler{}, nil, DispatcherConfig{Workers: 1}, zerolog.Nop())

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		rounds := 0
		d.sleep = func(context.Context, time.Duration) {
			rounds++
			if rounds == 3 {
				cancel()
			}
		}
		d.Run(ctx, consumer)
		assert.Equal(t, 3, consumer.reconnects)
	})

	t.Run("start failure backs off", func(t *testing.T) {
		consumer := &MockConsumer{failStart: true}
		d := NewDispatcher(&MockHandler{}, nil, DispatcherConfig{Workers: 1, ReconnectBackoff: time.Second}, zerolog.Nop())

		ctx, cancel := context.WithCancel(context.Background())
		var slept []time.Duration
		d.sleep = func(_ context.Context, dur time.Duration) {
			slept = append(slept, dur)
			cancel()
		}
		d.Run(ctx, consumer)
		assert.Equal(t, []time.Duration{time.Second}, slept)
	})
}

func TestDispatcher_RepeatedFollowUps(t *testing.T) {
	ctx := context.Background()
	cfg := DispatcherConfig{LockTTL: time.Minute, DoneTTL: time.Hour}

	t.Run("score runs again once embeddings exist", func(t *testing.T) {
		f := newFixture()
		f.store.addOrg(models.Organization{ID: "org-1", OrgName: "acme"})
		f.store.addJob(models.Job{ID: jobUUID, OrganizationID: "org-1", JobDescriptionEmbeddingID: strPtr("job-vec")})
		f.store.addCandidate(models.Candidate{ID: candUUID, OrganizationID: "org-1"})
		f.store.addScore(models.JobMatchingResumeScore{ID: scoreUUID, CandidateID: candUUID, JobID: jobUUID, OrganizationID: "org-1"})
		f.vectors.similarity = func(string, string, string) (float64, error) { return 0.82, nil }
		d := NewDispatcher(f.pipeline(t), NewMockLocks(), cfg, zerolog.Nop())
		body, err := Encode(ScoreMessage{ScoreID: scoreUUID}, "")
		require.NoError(t, err)

		assert.Equal(t, storage.OutcomeAck, d.HandleDelivery(ctx, storage.Delivery{Body: body}))
		assert.Zero(t, f.vectors.similarityCalls)

		f.store.candidates[candUUID].ResumeEmbeddingID = strPtr("resume-vec")
		assert.Equal(t, storage.OutcomeAck, d.HandleDelivery(ctx, storage.Delivery{Body: body}))
		assert.Equal(t, 1, f.vectors.similarityCalls)
		assert.InDelta(t, 0.82, f.store.score(scoreUUID).Score, 1e-9)
	})

	t.Run("rank follow-ups with new request ids re-rank", func(t *testing.T) {
		f := newFixture()
		f.store.addScore(models.JobMatchingResumeScore{ID: "a", JobID: jobUUID, Score: 0.9})
		f.store.addScore(models.JobMatchingResumeScore{ID: "b", JobID: jobUUID, Score: 0.4})
		d := NewDispatcher(f.pipeline(t), NewMockLocks(), cfg, zerolog.Nop())

		first, err := Encode(RankMessage{JobID: jobUUID}, "req-1")
		require.NoError(t, err)
		assert.Equal(t, storage.OutcomeAck, d.HandleDelivery(ctx, storage.Delivery{Body: first}))
		assert.Equal(t, 1, *f.store.score("a").Ranking)
		assert.Equal(t, 2, *f.store.score("b").Ranking)

		require.NoError(t, f.store.UpdateScore(ctx, "b", 0.95))
		second, err := Encode(RankMessage{JobID: jobUUID}, "req-2")
		require.NoError(t, err)
		assert.Equal(t, storage.OutcomeAck, d.HandleDelivery(ctx, storage.Delivery{Body: second}))
		assert.Equal(t, 2, *f.store.score("a").Ranking)
		assert.Equal(t, 1, *f.store.score("b").Ranking)
	})
}
