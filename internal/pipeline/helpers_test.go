package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/wardrive-risk-map/internal/domain"
	"github.com/couchcryptid/wardrive-risk-map/internal/observability"
	"github.com/couchcryptid/wardrive-risk-map/internal/storage"
)

var errRemoteDown = errors.New("remote down")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeFeed is an in-memory domain.Feed with switchable failures.
type fakeFeed struct {
	mu         sync.Mutex
	publishErr error
	rejectMAC  map[string]bool
	published  []domain.NetworkObservation
	records    []domain.NetworkObservation
	queryErr   error

	// onPublish runs before each publish, outside the lock.
	onPublish func(ctx context.Context, obs domain.NetworkObservation) error
	// onQuery runs before each query, outside the lock.
	onQuery func(ctx context.Context) error
}

func (f *fakeFeed) Publish(ctx context.Context, obs domain.NetworkObservation) error {
	if f.onPublish != nil {
		if err := f.onPublish(ctx, obs); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	if f.rejectMAC[obs.MAC] {
		return errors.New("rejected by remote")
	}
	f.published = append(f.published, obs)
	return nil
}

func (f *fakeFeed) Query(ctx context.Context) ([]domain.NetworkObservation, error) {
	if f.onQuery != nil {
		if err := f.onQuery(ctx); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return append([]domain.NetworkObservation(nil), f.records...), nil
}

func (f *fakeFeed) setPublishErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.publishErr = err
}

func (f *fakeFeed) publishedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

// failingLog fails Append and ReadAll while delegating everything else.
type failingLog struct {
	storage.Log
	err error
}

func (f failingLog) Append(context.Context, []byte) (uint64, error) { return 0, f.err }

func (f failingLog) ReadAll(context.Context) ([]storage.Entry, error) { return nil, f.err }

func testMetrics() *observability.Metrics {
	return observability.NewMetricsForTesting()
}

type harness struct {
	store   *storage.ObservationStore
	buffer  *storage.OfflineBuffer
	metrics *observability.Metrics
}

func newHarness(storeLog, bufferLog storage.Log) harness {
	metrics := testMetrics()
	return harness{
		store:   storage.NewObservationStore(storeLog, discardLogger(), metrics),
		buffer:  storage.NewOfflineBuffer(bufferLog, discardLogger(), metrics),
		metrics: metrics,
	}
}

func (h harness) coordinator(feed domain.Feed, cfg CoordinatorConfig) *Coordinator {
	return NewCoordinator(h.store, h.buffer, feed, cfg, discardLogger(), h.metrics)
}

func ptr[T any](v T) *T { return &v }

func obsAt(mac string, lat, lon float64, sec domain.Security, at time.Time) domain.NetworkObservation {
	return domain.NetworkObservation{
		SSID:       "net-" + mac,
		MAC:        mac,
		Channel:    6,
		RSSI:       ptr(-70),
		Security:   sec,
		Latitude:   ptr(lat),
		Longitude:  ptr(lon),
		ObservedAt: at,
	}
}

func storeCount(t *testing.T, h harness) int {
	t.Helper()
	all, err := h.store.All(context.Background())
	require.NoError(t, err)
	return len(all)
}

func bufferCount(t *testing.T, h harness) int {
	t.Helper()
	n, err := h.buffer.Len(context.Background())
	require.NoError(t, err)
	return n
}
