package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/wardrive-risk-map/internal/domain"
	"github.com/couchcryptid/wardrive-risk-map/internal/observability"
)

// Source names the tier a resolution came from.
type Source string

const (
	SourceRemote Source = "remote"
	SourceStore  Source = "store"
	SourceBuffer Source = "buffer"
	SourceNone   Source = "none"
)

// Resolution is the deduplicated observation set of exactly one source.
type Resolution struct {
	Source       Source
	Observations []domain.NetworkObservation
}

// ObservationSource lists observations in chronological order.
type ObservationSource interface {
	Observations(ctx context.Context) ([]domain.NetworkObservation, error)
}

// ObservationSourceFunc adapts a function to ObservationSource.
type ObservationSourceFunc func(ctx context.Context) ([]domain.NetworkObservation, error)

// Observations calls f.
func (f ObservationSourceFunc) Observations(ctx context.Context) ([]domain.NetworkObservation, error) {
	return f(ctx)
}

// Resolver answers "which networks do we know about" from the most trusted
// source that has data: remote feed, then observation store, then offline
// buffer. Sources are never merged.
type Resolver struct {
	feed          domain.Feed
	store         ObservationSource
	buffer        ObservationSource
	remoteTimeout time.Duration
	logger        *slog.Logger
	metrics       *observability.Metrics
}

// NewResolver creates a resolver. feed may be nil.
func NewResolver(feed domain.Feed, store, buffer ObservationSource, remoteTimeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Resolver {
	if remoteTimeout <= 0 {
		remoteTimeout = 10 * time.Second
	}
	return &Resolver{
		feed:          feed,
		store:         store,
		buffer:        buffer,
		remoteTimeout: remoteTimeout,
		logger:        logger,
		metrics:       metrics,
	}
}

type tier struct {
	source Source
	read   func(context.Context) ([]domain.NetworkObservation, error)
}

// Resolve walks the cascade and returns the first non-empty source after
// deduplication by identity key. It fails with domain.ErrNoDataAvailable only
// when every consulted source returned an error; if all sources are merely
// empty the result is empty with SourceNone.
func (r *Resolver) Resolve(ctx context.Context) (Resolution, error) {
	tiers := make([]tier, 0, 3)
	if r.feed != nil {
		tiers = append(tiers, tier{SourceRemote, r.queryRemote})
	}
	tiers = append(tiers,
		tier{SourceStore, r.store.Observations},
		tier{SourceBuffer, r.buffer.Observations},
	)

	var errs []error
	for _, t := range tiers {
		records, err := t.read(ctx)
		if err != nil {
			r.logger.Warn("source unavailable, falling back",
				"source", t.source,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("%s: %w", t.source, err))
			continue
		}
		if len(records) == 0 {
			continue
		}
		r.metrics.ResolveSource.WithLabelValues(string(t.source)).Inc()
		return Resolution{Source: t.source, Observations: domain.Deduplicate(records)}, nil
	}

	if len(errs) == len(tiers) {
		r.metrics.ResolveSource.WithLabelValues("error").Inc()
		return Resolution{Source: SourceNone}, fmt.Errorf("%w: %w", domain.ErrNoDataAvailable, errors.Join(errs...))
	}
	r.metrics.ResolveSource.WithLabelValues(string(SourceNone)).Inc()
	return Resolution{Source: SourceNone}, nil
}

func (r *Resolver) queryRemote(ctx context.Context) ([]domain.NetworkObservation, error) {
	ctx, cancel := context.WithTimeout(ctx, r.remoteTimeout)
	defer cancel()

	start := time.Now()
	records, err := r.feed.Query(ctx)
	r.metrics.RemoteDuration.WithLabelValues("query").Observe(time.Since(start).Seconds())
	if err != nil {
		r.metrics.RemoteRequests.WithLabelValues("query", "error").Inc()
		return nil, fmt.Errorf("query feed: %w", err)
	}
	r.metrics.RemoteRequests.WithLabelValues("query", "success").Inc()
	return records, nil
}
