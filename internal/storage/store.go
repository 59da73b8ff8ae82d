package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/wardrive-risk-map/internal/domain"
	"github.com/couchcryptid/wardrive-risk-map/internal/observability"
)

// ObservationStore is the append-only record of every accepted observation.
type ObservationStore struct {
	log     Log
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewObservationStore wraps a Log with observation encoding.
func NewObservationStore(log Log, logger *slog.Logger, metrics *observability.Metrics) *ObservationStore {
	return &ObservationStore{log: log, logger: logger, metrics: metrics}
}

// Append durably records an observation.
func (s *ObservationStore) Append(ctx context.Context, obs domain.NetworkObservation) error {
	payload, err := json.Marshal(obs)
	if err != nil {
		return fmt.Errorf("encode observation: %w", err)
	}
	if _, err := s.log.Append(ctx, payload); err != nil {
		return fmt.Errorf("append observation: %w", err)
	}
	return nil
}

// All returns every readable observation in append order. Corrupt entries
// are skipped and counted.
func (s *ObservationStore) All(ctx context.Context) ([]domain.NetworkObservation, error) {
	entries, err := s.log.ReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("read observations: %w", err)
	}

	out := make([]domain.NetworkObservation, 0, len(entries))
	for _, e := range entries {
		var obs domain.NetworkObservation
		if err := json.Unmarshal(e.Payload, &obs); err != nil {
			s.logger.Warn("skipping corrupt observation record", "seq", e.Seq, "error", err)
			s.metrics.CorruptRecords.WithLabelValues("store").Inc()
			continue
		}
		out = append(out, obs)
	}
	return out, nil
}

// Entries exposes the raw log for integrity checks.
func (s *ObservationStore) Entries(ctx context.Context) ([]Entry, error) {
	return s.log.ReadAll(ctx)
}

// Ping checks the underlying log.
func (s *ObservationStore) Ping(ctx context.Context) error { return s.log.Ping(ctx) }
