package engine

import (
	"context"
	"time"

	"github.com/dropDatabas3/authbroker/internal/domain/repository"
	"github.com/dropDatabas3/authbroker/internal/metrics"
	"go.uber.org/zap"
)

// Leader reports whether this process currently owns singleton work. A
// single-instance deployment can pass a value that always returns true.
type Leader interface {
	IsLeader() bool
}

// Sweeper periodically removes expired OAuth sessions (§4.3). It is
// idempotent and safe to run on every instance unconditionally, but is
// leader-gated to avoid every instance in a fleet hammering the same table
// on the same tick.
type Sweeper struct {
	Sessions repository.SessionStore
	Leader   Leader
	Interval time.Duration
	Logger   *zap.Logger
}

// DefaultSweepInterval is used when Sweeper.Interval is zero.
const DefaultSweepInterval = time.Minute

// Run blocks, sweeping on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.tick(ctx)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	if s.Leader != nil && !s.Leader.IsLeader() {
		return
	}
	if _, err := s.SweepOnce(ctx); err != nil && s.Logger != nil {
		s.Logger.Warn("session sweep failed", zap.Error(err))
	}
}

// SweepOnce runs a single sweep unconditionally, bypassing leader gating.
// Used by the admin HTTP endpoint and the brokerctl CLI for an
// operator-triggered sweep outside the regular tick.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	removed, err := s.Sessions.SweepExpired(ctx)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		metrics.SessionsSweptTotal.Add(float64(removed))
		if s.Logger != nil {
			s.Logger.Info("swept expired sessions", zap.Int("removed", removed))
		}
	}
	return removed, nil
}
