//go:build integration

package integration_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	badgerlog "github.com/couchcryptid/wardrive-risk-map/internal/adapter/badger"
	"github.com/couchcryptid/wardrive-risk-map/internal/adapter/kafka"
	sqlitelog "github.com/couchcryptid/wardrive-risk-map/internal/adapter/sqlite"
	"github.com/couchcryptid/wardrive-risk-map/internal/domain"
	"github.com/couchcryptid/wardrive-risk-map/internal/observability"
	"github.com/couchcryptid/wardrive-risk-map/internal/pipeline"
	"github.com/couchcryptid/wardrive-risk-map/internal/storage"
	"github.com/couchcryptid/wardrive-risk-map/internal/zone"
)

const testFeedTopic = "test-wardrive-observations"

func observation(i int, base time.Time) domain.NetworkObservation {
	lat := 37.7599 + float64(i%3)*0.00003
	lon := -122.4194 + float64(i/3)*0.00003
	rssi := -55 - i
	return domain.NetworkObservation{
		SSID:       fmt.Sprintf("cafe-%d", i),
		MAC:        fmt.Sprintf("02:00:00:00:00:%02X", i),
		Channel:    6,
		RSSI:       &rssi,
		Security:   domain.SecurityOpen,
		Latitude:   &lat,
		Longitude:  &lon,
		ObservedAt: base.Add(time.Duration(i) * time.Second),
	}
}

// TestKafkaFeed_PublishQuery verifies the feed adapter round-trips
// observations and returns them oldest first across partitions.
func TestKafkaFeed_PublishQuery(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testFeedTopic, 2)

	feed := kafka.NewFeed(kafka.Config{Brokers: []string{broker}, Topic: testFeedTopic}, discardLogger())
	defer feed.Close()

	base := time.Date(2024, 4, 26, 15, 0, 0, 0, time.UTC)
	for i := range 6 {
		require.NoError(t, feed.Publish(ctx, observation(i, base)))
	}

	got, err := feed.Query(ctx)
	require.NoError(t, err)
	require.Len(t, got, 6)
	for i, obs := range got {
		assert.Equal(t, fmt.Sprintf("02:00:00:00:00:%02X", i), obs.MAC)
		assert.True(t, obs.ObservedAt.Equal(base.Add(time.Duration(i)*time.Second)))
		assert.Equal(t, domain.SecurityOpen, obs.Security)
	}
}

// TestOfflineReplayToKafka ingests while the broker is unreachable, then
// replays the durable buffer into a live broker and reads the risk map back
// from the remote feed.
func TestOfflineReplayToKafka(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testFeedTopic, 1)

	logger := discardLogger()
	metrics := observability.NewMetricsForTesting()

	storeLog, err := sqlitelog.Open(ctx, filepath.Join(t.TempDir(), "observations.db"), logger)
	require.NoError(t, err)
	defer storeLog.Close()
	bufferLog, err := badgerlog.Open(badgerlog.Config{Path: filepath.Join(t.TempDir(), "buffer")})
	require.NoError(t, err)
	defer bufferLog.Close()

	store := storage.NewObservationStore(storeLog, logger, metrics)
	buffer := storage.NewOfflineBuffer(bufferLog, logger, metrics)

	cfg := pipeline.CoordinatorConfig{RemoteTimeout: 2 * time.Second, ReplayTimeout: 30 * time.Second}

	offline := kafka.NewFeed(kafka.Config{Brokers: []string{"127.0.0.1:1"}, Topic: testFeedTopic}, logger)
	defer offline.Close()
	down := pipeline.NewCoordinator(store, buffer, offline, cfg, logger, metrics)

	base := time.Date(2024, 4, 26, 15, 0, 0, 0, time.UTC)
	for i := range 4 {
		ack, err := down.Ingest(ctx, observation(i, base))
		require.NoError(t, err)
		assert.Equal(t, domain.AckBuffered, ack)
	}
	n, err := buffer.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, n)

	online := kafka.NewFeed(kafka.Config{Brokers: []string{broker}, Topic: testFeedTopic}, logger)
	defer online.Close()
	up := pipeline.NewCoordinator(store, buffer, online, cfg, logger, metrics)

	report, err := up.Replay(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.ReplayReport{Confirmed: 4}, report)

	n, err = buffer.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	resolver := pipeline.NewResolver(online, pipeline.ObservationSourceFunc(store.All), buffer, 10*time.Second, logger, metrics)
	builder := pipeline.NewBuilder(resolver, nil, pipeline.BuilderConfig{
		EpsMeters: 60,
		MinPoints: 3,
		Policy:    domain.UnknownAsSecure,
		Zones:     zone.DefaultOptions(),
	}, logger, metrics)

	snap, err := builder.Build(ctx)
	require.NoError(t, err)
	assert.Equal(t, pipeline.SourceRemote, snap.Source)
	assert.Len(t, snap.Observations, 4)
	require.Len(t, snap.Zones, 1)
	assert.Equal(t, 4, snap.Zones[0].MemberCount)
}
