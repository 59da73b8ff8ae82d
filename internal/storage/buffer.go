package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/couchcryptid/wardrive-risk-map/internal/domain"
	"github.com/couchcryptid/wardrive-risk-map/internal/observability"
)

// PendingRecord is a buffered record together with its log position.
type PendingRecord struct {
	Seq    uint64
	Record domain.BufferedRecord
}

// OfflineBuffer queues observations until the remote feed confirms them.
// All mutations go through one mutex so appends from ingestion never race
// with replay confirming or updating records.
type OfflineBuffer struct {
	mu      sync.Mutex
	log     Log
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewOfflineBuffer wraps a Log with buffered-record encoding.
func NewOfflineBuffer(log Log, logger *slog.Logger, metrics *observability.Metrics) *OfflineBuffer {
	return &OfflineBuffer{log: log, logger: logger, metrics: metrics}
}

// Append queues a record.
func (b *OfflineBuffer) Append(ctx context.Context, rec domain.BufferedRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode buffered record: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.log.Append(ctx, payload); err != nil {
		return fmt.Errorf("append buffered record: %w", err)
	}
	b.metrics.BufferDepth.Inc()
	return nil
}

// Snapshot returns the queued records in enqueue order.
func (b *OfflineBuffer) Snapshot(ctx context.Context) ([]PendingRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries, err := b.log.ReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("read buffer: %w", err)
	}

	out := make([]PendingRecord, 0, len(entries))
	for _, e := range entries {
		var rec domain.BufferedRecord
		if err := json.Unmarshal(e.Payload, &rec); err != nil {
			b.logger.Warn("skipping corrupt buffered record", "seq", e.Seq, "error", err)
			b.metrics.CorruptRecords.WithLabelValues("buffer").Inc()
			continue
		}
		out = append(out, PendingRecord{Seq: e.Seq, Record: rec})
	}
	b.metrics.BufferDepth.Set(float64(len(out)))
	return out, nil
}

// Observations returns the buffered observations in enqueue order.
func (b *OfflineBuffer) Observations(ctx context.Context) ([]domain.NetworkObservation, error) {
	pending, err := b.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.NetworkObservation, len(pending))
	for i, p := range pending {
		out[i] = p.Record.Observation
	}
	return out, nil
}

// Confirm removes a record after the remote feed accepted it.
func (b *OfflineBuffer) Confirm(ctx context.Context, seq uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed, err := b.log.Delete(ctx, seq)
	if err != nil {
		return fmt.Errorf("confirm buffered record %d: %w", seq, err)
	}
	b.metrics.BufferDepth.Sub(float64(removed))
	return nil
}

// MarkAttempt records a failed delivery attempt.
func (b *OfflineBuffer) MarkAttempt(ctx context.Context, p PendingRecord, at time.Time, cause error) (domain.BufferedRecord, error) {
	rec := p.Record
	rec.AttemptCount++
	rec.LastAttemptAt = &at
	if cause != nil {
		rec.LastError = cause.Error()
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return p.Record, fmt.Errorf("encode buffered record: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.log.Update(ctx, p.Seq, payload); err != nil {
		return p.Record, fmt.Errorf("update buffered record %d: %w", p.Seq, err)
	}
	return rec, nil
}

// Len returns the number of readable queued records.
func (b *OfflineBuffer) Len(ctx context.Context) (int, error) {
	pending, err := b.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	return len(pending), nil
}

// Entries exposes the raw log for integrity checks.
func (b *OfflineBuffer) Entries(ctx context.Context) ([]Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.log.ReadAll(ctx)
}

// Ping checks the underlying log.
func (b *OfflineBuffer) Ping(ctx context.Context) error { return b.log.Ping(ctx) }
