// Package app wires configuration to the storage, feed and pipeline
// components shared by the service and the operator CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/couchcryptid/wardrive-risk-map/internal/adapter/adafruit"
	badgerlog "github.com/couchcryptid/wardrive-risk-map/internal/adapter/badger"
	"github.com/couchcryptid/wardrive-risk-map/internal/adapter/kafka"
	"github.com/couchcryptid/wardrive-risk-map/internal/adapter/mapbox"
	sqlitelog "github.com/couchcryptid/wardrive-risk-map/internal/adapter/sqlite"
	"github.com/couchcryptid/wardrive-risk-map/internal/config"
	"github.com/couchcryptid/wardrive-risk-map/internal/domain"
	"github.com/couchcryptid/wardrive-risk-map/internal/observability"
	"github.com/couchcryptid/wardrive-risk-map/internal/pipeline"
	"github.com/couchcryptid/wardrive-risk-map/internal/storage"
	"github.com/couchcryptid/wardrive-risk-map/internal/zone"
)

// App holds the wired components. Close releases the logs and feed.
type App struct {
	Store       *storage.ObservationStore
	Buffer      *storage.OfflineBuffer
	Feed        domain.Feed
	Geocoder    domain.Geocoder
	Coordinator *pipeline.Coordinator
	Resolver    *pipeline.Resolver
	Builder     *pipeline.Builder
	Sync        *pipeline.SyncLoop

	logger  *slog.Logger
	closers []io.Closer
}

// Open builds every component described by cfg.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) (*App, error) {
	a := &App{logger: logger}

	storeLog, err := openLog(ctx, cfg.StoreBackend, cfg.StorePath, logger)
	if err != nil {
		return nil, fmt.Errorf("open observation store: %w", err)
	}
	a.closers = append(a.closers, storeLog)

	bufferLog, err := openLog(ctx, cfg.BufferBackend, cfg.BufferPath, logger)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("open offline buffer: %w", err)
	}
	a.closers = append(a.closers, bufferLog)

	a.Store = storage.NewObservationStore(storeLog, logger, metrics)
	a.Buffer = storage.NewOfflineBuffer(bufferLog, logger, metrics)

	feed, closer := openFeed(cfg, logger)
	if closer != nil {
		a.closers = append(a.closers, closer)
	}
	if feed != nil {
		a.Feed = feed
		logger.Info("remote feed configured", "backend", cfg.FeedBackend)
	} else {
		logger.Warn("no remote feed configured, observations stay buffered")
	}

	if cfg.MapboxEnabled {
		client := mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, metrics, logger)
		a.Geocoder = mapbox.NewCachedGeocoder(client, cfg.MapboxCacheSize, metrics)
		metrics.GeocodeEnabled.Set(1)
		logger.Info("mapbox geocoding enabled", "cache_size", cfg.MapboxCacheSize, "timeout", cfg.MapboxTimeout)
	} else {
		metrics.GeocodeEnabled.Set(0)
		logger.Info("mapbox geocoding disabled")
	}

	a.Coordinator = pipeline.NewCoordinator(a.Store, a.Buffer, a.Feed, pipeline.CoordinatorConfig{
		RemoteTimeout:       cfg.Sync.RemoteTimeout,
		ReplayTimeout:       cfg.Sync.ReplayTimeout,
		ReplayMaxRecords:    cfg.Sync.ReplayMaxRecords,
		ReplayRatePerMinute: cfg.Sync.ReplayRatePerMinute,
	}, logger, metrics)

	a.Resolver = pipeline.NewResolver(a.Feed,
		pipeline.ObservationSourceFunc(a.Store.All), a.Buffer,
		cfg.Sync.RemoteTimeout, logger, metrics)

	a.Builder = pipeline.NewBuilder(a.Resolver, a.Geocoder, pipeline.BuilderConfig{
		EpsMeters:     cfg.Clustering.EpsMeters,
		MinPoints:     cfg.Clustering.MinSamples,
		ClusterSecure: cfg.Clustering.ClusterSecure,
		Policy:        cfg.UnknownPolicy,
		Zones: zone.Options{
			BaseRadius:       cfg.Zones.BaseRadiusMeters,
			PerPoint:         cfg.Zones.PerPointMeters,
			MaxRadius:        cfg.Zones.MaxRadiusMeters,
			HullMargin:       cfg.Zones.HullMarginMeters,
			PreviewSize:      cfg.Zones.PreviewSize,
			MergeUntilStable: cfg.Zones.MergeUntilStable,
		},
		StyleCacheSize: cfg.Zones.StyleCacheSize,
	}, logger, metrics)

	a.Sync = pipeline.NewSyncLoop(a.Coordinator, cfg.Sync.Interval, nil, logger, metrics)
	a.Coordinator.OnDelivered(a.Sync.Nudge)

	return a, nil
}

// CheckReadiness reports ready once both logs respond and the offline buffer
// has been replayed at least once.
func (a *App) CheckReadiness(ctx context.Context) error {
	if err := a.Store.Ping(ctx); err != nil {
		return fmt.Errorf("observation store: %w", err)
	}
	if err := a.Buffer.Ping(ctx); err != nil {
		return fmt.Errorf("offline buffer: %w", err)
	}
	return a.Sync.CheckReadiness(ctx)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func openLog(ctx context.Context, backend, path string, logger *slog.Logger) (storage.Log, error) {
	switch backend {
	case config.BackendSQLite:
		return sqlitelog.Open(ctx, path, logger)
	case config.BackendBadger:
		return badgerlog.Open(badgerlog.Config{Path: path, SyncWrites: true, Logger: logger})
	case config.BackendMemory:
		return storage.NewMemoryLog(), nil
	default:
		return nil, fmt.Errorf("unknown log backend %q", backend)
	}
}

// openFeed returns a nil feed when none is configured.
func openFeed(cfg *config.Config, logger *slog.Logger) (domain.Feed, io.Closer) {
	switch cfg.FeedBackend {
	case config.BackendAdafruit:
		return adafruit.NewClient(adafruit.Config{
			BaseURL:  cfg.AIOBaseURL,
			Username: cfg.AIOUsername,
			Key:      cfg.AIOKey,
			FeedKey:  cfg.AIOFeedKey,
			Limit:    cfg.Sync.AIOQueryLimit,
			Timeout:  cfg.Sync.RemoteTimeout,
		}, logger), nil
	case config.BackendKafka:
		f := kafka.NewFeed(kafka.Config{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaFeedTopic,
			Limit:   cfg.Sync.AIOQueryLimit,
		}, logger)
		return f, f
	default:
		return nil, nil
	}
}
