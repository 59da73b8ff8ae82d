// Package pipeline orchestrates ingestion, offline replay, read resolution
// and the risk-map build over the storage and feed adapters.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/couchcryptid/wardrive-risk-map/internal/domain"
	"github.com/couchcryptid/wardrive-risk-map/internal/observability"
	"github.com/couchcryptid/wardrive-risk-map/internal/storage"
)

// ErrReplayInProgress is returned when Replay is called while another replay
// is still running.
var ErrReplayInProgress = errors.New("replay already in progress")

// CoordinatorConfig bounds remote calls and replay passes.
type CoordinatorConfig struct {
	RemoteTimeout    time.Duration
	ReplayTimeout    time.Duration
	ReplayMaxRecords int
	// ReplayRatePerMinute caps publishes during replay. Zero or less disables
	// throttling.
	ReplayRatePerMinute int
}

// Coordinator accepts observations, persists them, and forwards them to the
// remote feed, buffering whatever the feed does not accept.
type Coordinator struct {
	store   *storage.ObservationStore
	buffer  *storage.OfflineBuffer
	feed    domain.Feed
	cfg     CoordinatorConfig
	limiter *rate.Limiter
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics

	replayMu  sync.Mutex
	delivered func()
}

// NewCoordinator wires the ingestion path. feed may be nil, in which case every
// observation is buffered until a feed is configured.
func NewCoordinator(store *storage.ObservationStore, buffer *storage.OfflineBuffer, feed domain.Feed, cfg CoordinatorConfig, logger *slog.Logger, metrics *observability.Metrics) *Coordinator {
	limit := rate.Inf
	if cfg.ReplayRatePerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.ReplayRatePerMinute))
	}
	if cfg.RemoteTimeout <= 0 {
		cfg.RemoteTimeout = 10 * time.Second
	}
	if cfg.ReplayTimeout <= 0 {
		cfg.ReplayTimeout = 30 * time.Second
	}
	if cfg.ReplayMaxRecords <= 0 {
		cfg.ReplayMaxRecords = 100
	}
	return &Coordinator{
		store:   store,
		buffer:  buffer,
		feed:    feed,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		clock:   clockwork.NewRealClock(),
		logger:  logger,
		metrics: metrics,
	}
}

// WithClock replaces the clock used for replay deadlines and attempt times.
func (c *Coordinator) WithClock(clock clockwork.Clock) *Coordinator {
	c.clock = clock
	return c
}

// OnDelivered registers fn to run after each successful live publish. The
// sync loop uses it to flush the buffer as soon as connectivity returns.
func (c *Coordinator) OnDelivered(fn func()) {
	c.delivered = fn
}

// HasFeed reports whether a remote feed is configured.
func (c *Coordinator) HasFeed() bool { return c.feed != nil }

// Ingest stores obs and tries to deliver it. A storage failure on either the
// store or the buffer is returned wrapped in domain.ErrStorageWrite; a failed
// publish is not an error and yields domain.AckBuffered.
func (c *Coordinator) Ingest(ctx context.Context, obs domain.NetworkObservation) (domain.AckStatus, error) {
	if !obs.HasCoordinates() {
		c.metrics.IngestTotal.WithLabelValues("invalid").Inc()
		return "", fmt.Errorf("%w: missing or non-finite coordinates", domain.ErrInvalidObservation)
	}
	if obs.Security == "" {
		obs.Security = domain.SecurityUnknown
	}

	if err := c.store.Append(ctx, obs); err != nil {
		c.metrics.IngestTotal.WithLabelValues("storage_error").Inc()
		return "", fmt.Errorf("%w: %w", domain.ErrStorageWrite, err)
	}

	pubErr := c.publish(ctx, obs)
	if pubErr == nil {
		c.metrics.IngestTotal.WithLabelValues("delivered").Inc()
		if c.delivered != nil {
			c.delivered()
		}
		return domain.AckDelivered, nil
	}

	c.logger.Warn("publish failed, buffering observation",
		"key", obs.IdentityKey(),
		"error", pubErr,
	)
	// The observation is already stored, so the buffer write must outlive a
	// caller that gave up while publish was pending.
	bufCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.RemoteTimeout)
	defer cancel()
	if err := c.buffer.Append(bufCtx, domain.NewBufferedRecord(obs, pubErr)); err != nil {
		c.metrics.IngestTotal.WithLabelValues("storage_error").Inc()
		return "", fmt.Errorf("%w: %w", domain.ErrStorageWrite, err)
	}
	c.metrics.IngestTotal.WithLabelValues("buffered").Inc()
	return domain.AckBuffered, nil
}

// Replay retries buffered records in enqueue order. A record is removed only
// after the feed accepted it during this call. The pass stops at the replay
// deadline or record limit; records it did not reach are reported as Deferred.
func (c *Coordinator) Replay(ctx context.Context) (domain.ReplayReport, error) {
	if !c.replayMu.TryLock() {
		c.metrics.ReplayRuns.WithLabelValues("skipped").Inc()
		return domain.ReplayReport{}, ErrReplayInProgress
	}
	defer c.replayMu.Unlock()

	var report domain.ReplayReport
	pending, err := c.buffer.Snapshot(ctx)
	if err != nil {
		c.metrics.ReplayRuns.WithLabelValues("error").Inc()
		return report, fmt.Errorf("snapshot buffer: %w", err)
	}
	if len(pending) == 0 {
		c.metrics.ReplayRuns.WithLabelValues("empty").Inc()
		return report, nil
	}
	if c.feed == nil {
		report.StillPending = len(pending)
		c.metrics.ReplayRuns.WithLabelValues("no_feed").Inc()
		return report, nil
	}

	start := c.clock.Now()
	deadline := start.Add(c.cfg.ReplayTimeout)
	passCtx, cancel := context.WithTimeout(ctx, c.cfg.ReplayTimeout)
	defer cancel()

	for i, p := range pending {
		if i >= c.cfg.ReplayMaxRecords || !c.clock.Now().Before(deadline) || passCtx.Err() != nil {
			report.Deferred = len(pending) - i
			break
		}
		if err := c.limiter.Wait(passCtx); err != nil {
			report.Deferred = len(pending) - i
			break
		}

		if err := c.publish(passCtx, p.Record.Observation); err != nil {
			report.Failed++
			c.metrics.ReplayRecords.WithLabelValues("failed").Inc()
			if _, merr := c.buffer.MarkAttempt(ctx, p, c.clock.Now().UTC(), err); merr != nil {
				c.logger.Error("record replay attempt failed", "id", p.Record.ID, "error", merr)
			}
			if errors.Is(err, domain.ErrFeedThrottled) {
				c.logger.Warn("remote feed throttled, ending replay pass", "remaining", len(pending)-i-1)
				report.Deferred = len(pending) - i - 1
				break
			}
			continue
		}

		if err := c.buffer.Confirm(ctx, p.Seq); err != nil {
			// Delivered but still queued; the next pass sends it again.
			c.logger.Error("confirm replayed record failed", "id", p.Record.ID, "error", err)
			c.metrics.ReplayRecords.WithLabelValues("confirm_error").Inc()
			report.StillPending++
			continue
		}
		report.Confirmed++
		c.metrics.ReplayRecords.WithLabelValues("confirmed").Inc()
	}
	report.StillPending += report.Failed + report.Deferred
	if report.Deferred > 0 {
		c.metrics.ReplayRecords.WithLabelValues("deferred").Add(float64(report.Deferred))
	}

	c.metrics.ReplayRuns.WithLabelValues("ok").Inc()
	c.logger.Info("replay finished",
		"confirmed", report.Confirmed,
		"still_pending", report.StillPending,
		"failed", report.Failed,
		"deferred", report.Deferred,
		"duration", c.clock.Since(start),
	)
	return report, nil
}

func (c *Coordinator) publish(ctx context.Context, obs domain.NetworkObservation) error {
	if c.feed == nil {
		return domain.ErrFeedUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RemoteTimeout)
	defer cancel()

	start := time.Now()
	err := c.feed.Publish(ctx, obs)
	c.metrics.RemoteDuration.WithLabelValues("publish").Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.RemoteRequests.WithLabelValues("publish", "error").Inc()
		return fmt.Errorf("publish observation: %w", err)
	}
	c.metrics.RemoteRequests.WithLabelValues("publish", "success").Inc()
	return nil
}
