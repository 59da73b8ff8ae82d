package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/wardrive-risk-map/internal/domain"
	"github.com/couchcryptid/wardrive-risk-map/internal/observability"
)

const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second
)

// Replayer runs one pass over the offline buffer.
type Replayer interface {
	Replay(ctx context.Context) (domain.ReplayReport, error)
}

// SyncLoop is the scheduler for offline buffer replay. It replays once at
// start, on every interval tick, and whenever it is nudged.
type SyncLoop struct {
	replayer Replayer
	interval time.Duration
	clock    clockwork.Clock
	nudge    chan struct{}
	logger   *slog.Logger
	metrics  *observability.Metrics
	ready    atomic.Bool
}

// NewSyncLoop creates a sync loop. A nil clock uses the real clock.
func NewSyncLoop(r Replayer, interval time.Duration, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *SyncLoop {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &SyncLoop{
		replayer: r,
		interval: interval,
		clock:    clock,
		nudge:    make(chan struct{}, 1),
		logger:   logger,
		metrics:  metrics,
	}
}

// Nudge requests a replay without waiting for the next tick. Nudges that
// arrive while one is already queued are coalesced.
func (s *SyncLoop) Nudge() {
	select {
	case s.nudge <- struct{}{}:
	default:
	}
}

// CheckReadiness returns nil once the loop has completed a replay pass.
func (s *SyncLoop) CheckReadiness(_ context.Context) error {
	if !s.ready.Load() {
		return errors.New("offline buffer has not been replayed yet")
	}
	return nil
}

// Run executes the replay schedule until the context is cancelled.
func (s *SyncLoop) Run(ctx context.Context) error {
	s.logger.Info("sync loop started", "interval", s.interval)
	s.metrics.SyncLoopRunning.Set(1)
	defer s.metrics.SyncLoopRunning.Set(0)

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	backoff := initialBackoff
	if !s.replay(ctx, &backoff) {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sync loop stopping", "reason", ctx.Err())
			return nil
		case <-ticker.Chan():
		case <-s.nudge:
		}
		if !s.replay(ctx, &backoff) {
			return nil
		}
	}
}

// replay runs passes until one succeeds, backing off between failures.
// Returns false if the loop should stop.
func (s *SyncLoop) replay(ctx context.Context, backoff *time.Duration) bool {
	for {
		report, err := s.replayer.Replay(ctx)
		switch {
		case err == nil:
			*backoff = initialBackoff
			s.ready.Store(true)
			if report.Confirmed > 0 || report.StillPending > 0 {
				s.logger.Debug("sync pass complete",
					"confirmed", report.Confirmed,
					"still_pending", report.StillPending,
				)
			}
			return true
		case errors.Is(err, ErrReplayInProgress):
			return true
		case ctx.Err() != nil:
			return false
		}

		s.logger.Error("replay failed", "error", err, "retry_in", *backoff)
		if !s.sleep(ctx, *backoff) {
			return false
		}
		*backoff = nextBackoff(*backoff, maxBackoff)
	}
}

func (s *SyncLoop) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := s.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}

func nextBackoff(current, limit time.Duration) time.Duration {
	next := current * 2
	if next > limit {
		return limit
	}
	return next
}
