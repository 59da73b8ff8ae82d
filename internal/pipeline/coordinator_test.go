package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sqlitelog "github.com/couchcryptid/wardrive-risk-map/internal/adapter/sqlite"
	"github.com/couchcryptid/wardrive-risk-map/internal/domain"
	"github.com/couchcryptid/wardrive-risk-map/internal/storage"
)

var t0 = time.Date(2024, 4, 26, 15, 0, 0, 0, time.UTC)

func TestIngest_DeliveredWhenFeedAccepts(t *testing.T) {
	h := newHarness(storage.NewMemoryLog(), storage.NewMemoryLog())
	feed := &fakeFeed{}
	c := h.coordinator(feed, CoordinatorConfig{})

	nudged := 0
	c.OnDelivered(func() { nudged++ })

	ack, err := c.Ingest(context.Background(), obsAt("AA:00:00:00:00:01", 37.76, -122.42, domain.SecurityOpen, t0))
	require.NoError(t, err)

	assert.Equal(t, domain.AckDelivered, ack)
	assert.Equal(t, 1, storeCount(t, h))
	assert.Equal(t, 0, bufferCount(t, h))
	assert.Equal(t, 1, feed.publishedCount())
	assert.Equal(t, 1, nudged)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.IngestTotal.WithLabelValues("delivered")))
}

func TestIngest_BufferedThenReplayConfirms(t *testing.T) {
	h := newHarness(storage.NewMemoryLog(), storage.NewMemoryLog())
	feed := &fakeFeed{publishErr: errRemoteDown}
	c := h.coordinator(feed, CoordinatorConfig{})

	ack, err := c.Ingest(context.Background(), obsAt("AA:00:00:00:00:01", 37.76, -122.42, domain.SecurityOpen, t0))
	require.NoError(t, err)
	assert.Equal(t, domain.AckBuffered, ack)
	assert.Equal(t, 1, storeCount(t, h))
	assert.Equal(t, 1, bufferCount(t, h))

	pending, err := h.buffer.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Zero(t, pending[0].Record.AttemptCount)
	assert.Contains(t, pending[0].Record.LastError, "remote down")

	feed.setPublishErr(nil)
	report, err := c.Replay(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.ReplayReport{Confirmed: 1}, report)
	assert.Equal(t, 0, bufferCount(t, h))
	assert.Equal(t, 1, storeCount(t, h), "replay never touches the store")
}

func TestIngest_PublishTimeoutBuffers(t *testing.T) {
	h := newHarness(storage.NewMemoryLog(), storage.NewMemoryLog())
	feed := &fakeFeed{onPublish: func(ctx context.Context, _ domain.NetworkObservation) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	c := h.coordinator(feed, CoordinatorConfig{RemoteTimeout: 20 * time.Millisecond})

	ack, err := c.Ingest(context.Background(), obsAt("AA:00:00:00:00:01", 37.76, -122.42, domain.SecurityWEP, t0))
	require.NoError(t, err)
	assert.Equal(t, domain.AckBuffered, ack)
	assert.Equal(t, 1, bufferCount(t, h))
}

func TestIngest_CallerDeadlineStillBuffers(t *testing.T) {
	bufferLog, err := sqlitelog.Open(context.Background(), filepath.Join(t.TempDir(), "buffer.db"), discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = bufferLog.Close() })

	h := newHarness(storage.NewMemoryLog(), bufferLog)
	feed := &fakeFeed{onPublish: func(ctx context.Context, _ domain.NetworkObservation) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	c := h.coordinator(feed, CoordinatorConfig{RemoteTimeout: 5 * time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	ack, err := c.Ingest(ctx, obsAt("AA:00:00:00:00:01", 37.76, -122.42, domain.SecurityOpen, t0))
	require.NoError(t, err)
	assert.Equal(t, domain.AckBuffered, ack)
	assert.Equal(t, 1, storeCount(t, h))
	assert.Equal(t, 1, bufferCount(t, h))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.BufferDepth))
}

func TestIngest_NoFeedBuffers(t *testing.T) {
	h := newHarness(storage.NewMemoryLog(), storage.NewMemoryLog())
	c := h.coordinator(nil, CoordinatorConfig{})

	ack, err := c.Ingest(context.Background(), obsAt("AA:00:00:00:00:01", 37.76, -122.42, domain.SecurityOpen, t0))
	require.NoError(t, err)
	assert.Equal(t, domain.AckBuffered, ack)
	assert.False(t, c.HasFeed())

	report, err := c.Replay(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.ReplayReport{StillPending: 1}, report)
	assert.Equal(t, 1, bufferCount(t, h))
}

func TestIngest_MissingSecurityBecomesUnknown(t *testing.T) {
	h := newHarness(storage.NewMemoryLog(), storage.NewMemoryLog())
	c := h.coordinator(&fakeFeed{}, CoordinatorConfig{})

	o := obsAt("AA:00:00:00:00:01", 37.76, -122.42, "", t0)
	o.RSSI = nil
	_, err := c.Ingest(context.Background(), o)
	require.NoError(t, err)

	all, err := h.store.All(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, domain.SecurityUnknown, all[0].Security)
	assert.Nil(t, all[0].RSSI)
}

func TestIngest_RejectsMissingCoordinates(t *testing.T) {
	h := newHarness(storage.NewMemoryLog(), storage.NewMemoryLog())
	c := h.coordinator(&fakeFeed{}, CoordinatorConfig{})

	o := obsAt("AA:00:00:00:00:01", 0, 0, domain.SecurityOpen, t0)
	o.Latitude = nil

	_, err := c.Ingest(context.Background(), o)
	require.ErrorIs(t, err, domain.ErrInvalidObservation)
	assert.Equal(t, 0, storeCount(t, h))
}

func TestIngest_StoreFailureIsStorageWriteError(t *testing.T) {
	h := newHarness(failingLog{Log: storage.NewMemoryLog(), err: errors.New("disk full")}, storage.NewMemoryLog())
	feed := &fakeFeed{}
	c := h.coordinator(feed, CoordinatorConfig{})

	_, err := c.Ingest(context.Background(), obsAt("AA:00:00:00:00:01", 37.76, -122.42, domain.SecurityOpen, t0))
	require.ErrorIs(t, err, domain.ErrStorageWrite)
	assert.Contains(t, err.Error(), "disk full")
	assert.Zero(t, feed.publishedCount(), "nothing is published if the store write failed")
}

func TestIngest_BufferFailureIsStorageWriteError(t *testing.T) {
	h := newHarness(storage.NewMemoryLog(), failingLog{Log: storage.NewMemoryLog(), err: errors.New("disk full")})
	c := h.coordinator(&fakeFeed{publishErr: errRemoteDown}, CoordinatorConfig{})

	_, err := c.Ingest(context.Background(), obsAt("AA:00:00:00:00:01", 37.76, -122.42, domain.SecurityOpen, t0))
	require.ErrorIs(t, err, domain.ErrStorageWrite)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.IngestTotal.WithLabelValues("storage_error")))
}

func TestReplay_FailureIncrementsAttempts(t *testing.T) {
	h := newHarness(storage.NewMemoryLog(), storage.NewMemoryLog())
	feed := &fakeFeed{publishErr: errRemoteDown}
	c := h.coordinator(feed, CoordinatorConfig{})

	_, err := c.Ingest(context.Background(), obsAt("AA:00:00:00:00:01", 37.76, -122.42, domain.SecurityOpen, t0))
	require.NoError(t, err)

	for range 2 {
		report, err := c.Replay(context.Background())
		require.NoError(t, err)
		assert.Equal(t, domain.ReplayReport{StillPending: 1, Failed: 1}, report)
	}

	pending, err := h.buffer.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 2, pending[0].Record.AttemptCount)
	require.NotNil(t, pending[0].Record.LastAttemptAt)
	assert.Contains(t, pending[0].Record.LastError, "remote down")
}

func TestReplay_RemovesOnlyConfirmedRecords(t *testing.T) {
	h := newHarness(storage.NewMemoryLog(), storage.NewMemoryLog())
	feed := &fakeFeed{publishErr: errRemoteDown}
	c := h.coordinator(feed, CoordinatorConfig{})

	for _, mac := range []string{"AA:00:00:00:00:01", "AA:00:00:00:00:02", "AA:00:00:00:00:03"} {
		_, err := c.Ingest(context.Background(), obsAt(mac, 37.76, -122.42, domain.SecurityOpen, t0))
		require.NoError(t, err)
	}

	feed.mu.Lock()
	feed.publishErr = nil
	feed.rejectMAC = map[string]bool{"AA:00:00:00:00:02": true}
	feed.mu.Unlock()

	report, err := c.Replay(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.ReplayReport{Confirmed: 2, StillPending: 1, Failed: 1}, report)

	pending, err := h.buffer.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "AA:00:00:00:00:02", pending[0].Record.Observation.MAC)
	assert.Equal(t, 1, pending[0].Record.AttemptCount)
}

func TestReplay_MaxRecordsDefersRemainder(t *testing.T) {
	h := newHarness(storage.NewMemoryLog(), storage.NewMemoryLog())
	feed := &fakeFeed{publishErr: errRemoteDown}
	c := h.coordinator(feed, CoordinatorConfig{ReplayMaxRecords: 2})

	for _, mac := range []string{"AA:00:00:00:00:01", "AA:00:00:00:00:02", "AA:00:00:00:00:03"} {
		_, err := c.Ingest(context.Background(), obsAt(mac, 37.76, -122.42, domain.SecurityOpen, t0))
		require.NoError(t, err)
	}
	feed.setPublishErr(nil)

	report, err := c.Replay(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.ReplayReport{Confirmed: 2, StillPending: 1, Deferred: 1}, report)

	pending, err := h.buffer.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "AA:00:00:00:00:03", pending[0].Record.Observation.MAC)
	assert.Zero(t, pending[0].Record.AttemptCount, "deferred records are not attempts")
}

func TestReplay_DeadlineDefersRemainder(t *testing.T) {
	h := newHarness(storage.NewMemoryLog(), storage.NewMemoryLog())
	fc := clockwork.NewFakeClockAt(t0)
	feed := &fakeFeed{publishErr: errRemoteDown}
	c := h.coordinator(feed, CoordinatorConfig{ReplayTimeout: 10 * time.Second}).WithClock(fc)

	for _, mac := range []string{"AA:00:00:00:00:01", "AA:00:00:00:00:02", "AA:00:00:00:00:03"} {
		_, err := c.Ingest(context.Background(), obsAt(mac, 37.76, -122.42, domain.SecurityOpen, t0))
		require.NoError(t, err)
	}

	feed.setPublishErr(nil)
	feed.onPublish = func(context.Context, domain.NetworkObservation) error {
		fc.Advance(11 * time.Second)
		return nil
	}

	report, err := c.Replay(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.ReplayReport{Confirmed: 1, StillPending: 2, Deferred: 2}, report)
	assert.Equal(t, 2, bufferCount(t, h))
}

func TestReplay_EmptyBuffer(t *testing.T) {
	h := newHarness(storage.NewMemoryLog(), storage.NewMemoryLog())
	c := h.coordinator(&fakeFeed{}, CoordinatorConfig{})

	report, err := c.Replay(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.ReplayReport{}, report)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.ReplayRuns.WithLabelValues("empty")))
}

func TestReplay_SnapshotErrorIsReturned(t *testing.T) {
	h := newHarness(storage.NewMemoryLog(), failingLog{Log: storage.NewMemoryLog(), err: errors.New("io error")})
	c := h.coordinator(&fakeFeed{}, CoordinatorConfig{})

	_, err := c.Replay(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "snapshot buffer")
}

func TestReplay_OnlyOneAtATime(t *testing.T) {
	h := newHarness(storage.NewMemoryLog(), storage.NewMemoryLog())
	feed := &fakeFeed{publishErr: errRemoteDown}
	c := h.coordinator(feed, CoordinatorConfig{})

	_, err := c.Ingest(context.Background(), obsAt("AA:00:00:00:00:01", 37.76, -122.42, domain.SecurityOpen, t0))
	require.NoError(t, err)

	entered := make(chan struct{})
	release := make(chan struct{})
	feed.setPublishErr(nil)
	feed.onPublish = func(context.Context, domain.NetworkObservation) error {
		close(entered)
		<-release
		return nil
	}

	var wg sync.WaitGroup
	var first domain.ReplayReport
	var firstErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		first, firstErr = c.Replay(context.Background())
	}()

	<-entered
	_, err = c.Replay(context.Background())
	require.ErrorIs(t, err, ErrReplayInProgress)

	close(release)
	wg.Wait()
	require.NoError(t, firstErr)
	assert.Equal(t, 1, first.Confirmed)
}

func TestIngest_ConcurrentWithReplay(t *testing.T) {
	h := newHarness(storage.NewMemoryLog(), storage.NewMemoryLog())
	feed := &fakeFeed{publishErr: errRemoteDown}
	c := h.coordinator(feed, CoordinatorConfig{ReplayMaxRecords: 1000})

	const n = 50
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mac := []string{"AA:00:00:00:00:01", "AA:00:00:00:00:02"}[i%2]
			_, err := c.Ingest(context.Background(), obsAt(mac, 37.76, -122.42, domain.SecurityOpen, t0))
			assert.NoError(t, err)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range 5 {
			_, _ = c.Replay(context.Background())
		}
	}()
	wg.Wait()

	assert.Equal(t, n, storeCount(t, h))
	assert.Equal(t, n, bufferCount(t, h), "nothing confirmed while the remote is down")
}

func TestReplay_ThrottleEndsPass(t *testing.T) {
	h := newHarness(storage.NewMemoryLog(), storage.NewMemoryLog())
	feed := &fakeFeed{publishErr: errRemoteDown}
	c := h.coordinator(feed, CoordinatorConfig{})

	for _, mac := range []string{"AA:00:00:00:00:01", "AA:00:00:00:00:02", "AA:00:00:00:00:03"} {
		_, err := c.Ingest(context.Background(), obsAt(mac, 37.76, -122.42, domain.SecurityOpen, t0))
		require.NoError(t, err)
	}
	feed.setPublishErr(fmt.Errorf("status 429: %w", domain.ErrFeedThrottled))

	report, err := c.Replay(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.ReplayReport{StillPending: 3, Failed: 1, Deferred: 2}, report)
}
