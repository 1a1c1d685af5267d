package pipeline

import (
	"context"
	"time"

	"elexis-pipeline/internal/constants"
	"elexis-pipeline/internal/storage"

	"github.com/rs/zerolog"
)

// Sweeper runs SweepNotJoined periodically. With a lock store only one instance
// sweeps per interval.
type Sweeper struct {
	pipeline *Pipeline
	locks    storage.LockStore
	interval time.Duration
	logger   zerolog.Logger
}

func NewSweeper(p *Pipeline, locks storage.LockStore, interval time.Duration, logger zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Sweeper{pipeline: p, locks: locks, interval: interval, logger: logger}
}

// RunOnce sweeps if this instance gets the leader lock. ran is false when another
// instance holds it.
func (s *Sweeper) RunOnce(ctx context.Context) (n int64, ran bool, err error) {
	if s.locks != nil {
		token, err := s.locks.AcquireLock(ctx, constants.KeySweepLeader, s.interval)
		if err != nil {
			s.logger.Warn().Err(err).Msg("sweep lock unavailable, sweeping without it")
		} else if token == "" {
			return 0, false, nil
		}
		// 锁不主动释放，TTL 等于间隔，保证每个间隔只跑一次
	}
	n, err = s.pipeline.SweepNotJoined(ctx)
	return n, true, err
}

// Run sweeps immediately and then every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info().Dur("interval", s.interval).Msg("not_joined sweeper started")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error().Err(err).Msg("not_joined sweep failed")
		}
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("not_joined sweeper stopped")
			return
		case <-ticker.C:
		}
	}
}
