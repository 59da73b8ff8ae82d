package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	sharedcfg "github.com/couchcryptid/storm-data-shared/config"

	"github.com/couchcryptid/wardrive-risk-map/internal/domain"
)

// Backend names accepted by STORE_BACKEND, BUFFER_BACKEND and FEED_BACKEND.
const (
	BackendSQLite   = "sqlite"
	BackendBadger   = "badger"
	BackendMemory   = "memory"
	BackendNone     = "none"
	BackendAdafruit = "adafruit"
	BackendKafka    = "kafka"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	// RequestTimeout bounds one /api request. It defaults to the longer of a
	// replay pass and a remote call plus the buffered write, with slack.
	RequestTimeout time.Duration

	// Durable logs.
	StoreBackend  string
	StorePath     string
	BufferBackend string
	BufferPath    string

	// Remote feed.
	FeedBackend    string
	AIOUsername    string
	AIOKey         string
	AIOFeedKey     string
	AIOBaseURL     string
	KafkaBrokers   []string
	KafkaFeedTopic string

	// Mapbox geocoding configuration.
	MapboxToken     string
	MapboxEnabled   bool
	MapboxTimeout   time.Duration
	MapboxCacheSize int

	Sync       SyncConfig
	Clustering ClusteringConfig
	Zones      ZoneConfig

	UnknownPolicy domain.UnknownPolicy
}

// SyncConfig tunes remote calls and offline buffer replay.
type SyncConfig struct {
	RemoteTimeout       time.Duration `env:"REMOTE_TIMEOUT"         envDefault:"10s"`
	Interval            time.Duration `env:"SYNC_INTERVAL"          envDefault:"5m"`
	ReplayTimeout       time.Duration `env:"REPLAY_TIMEOUT"         envDefault:"30s"`
	ReplayMaxRecords    int           `env:"REPLAY_MAX_RECORDS"     envDefault:"100"`
	ReplayRatePerMinute int           `env:"REPLAY_RATE_PER_MINUTE" envDefault:"30"`
	// AIOQueryLimit also caps the per-partition read on the Kafka feed.
	AIOQueryLimit int `env:"AIO_QUERY_LIMIT" envDefault:"200"`
}

func (s SyncConfig) defaultRequestTimeout() time.Duration {
	return max(s.ReplayTimeout, 2*s.RemoteTimeout) + 5*time.Second
}

// ClusteringConfig tunes DBSCAN.
type ClusteringConfig struct {
	EpsMeters     float64 `env:"DBSCAN_EPS_METERS"       envDefault:"75"`
	MinSamples    int     `env:"DBSCAN_MIN_SAMPLES"      envDefault:"3"`
	ClusterSecure bool    `env:"CLUSTER_SECURE"          envDefault:"false"`
	UnknownPolicy string  `env:"UNKNOWN_SECURITY_POLICY" envDefault:"secure"`
}

// ZoneConfig tunes zone sizing, merging and styling.
type ZoneConfig struct {
	BaseRadiusMeters float64 `env:"ZONE_BASE_RADIUS_METERS" envDefault:"80"`
	PerPointMeters   float64 `env:"ZONE_PER_POINT_METERS"   envDefault:"20"`
	MaxRadiusMeters  float64 `env:"ZONE_MAX_RADIUS_METERS"  envDefault:"400"`
	HullMarginMeters float64 `env:"ZONE_HULL_MARGIN_METERS" envDefault:"25"`
	PreviewSize      int     `env:"ZONE_PREVIEW_SIZE"       envDefault:"8"`
	MergeUntilStable bool    `env:"ZONE_MERGE_UNTIL_STABLE" envDefault:"false"`
	StyleCacheSize   int     `env:"ZONE_STYLE_CACHE_SIZE"   envDefault:"256"`
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	mapboxTimeout, err := time.ParseDuration(sharedcfg.EnvOrDefault("MAPBOX_TIMEOUT", "5s"))
	if err != nil || mapboxTimeout <= 0 {
		return nil, errors.New("invalid MAPBOX_TIMEOUT")
	}

	mapboxToken := os.Getenv("MAPBOX_TOKEN")
	mapboxEnabled := mapboxToken != ""
	if v := os.Getenv("MAPBOX_ENABLED"); v != "" {
		mapboxEnabled = v == "true"
	}

	aioUser := os.Getenv("AIO_USERNAME")
	aioKey := os.Getenv("AIO_KEY")
	defaultFeed := BackendNone
	if aioUser != "" && aioKey != "" {
		defaultFeed = BackendAdafruit
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		StoreBackend:  sharedcfg.EnvOrDefault("STORE_BACKEND", BackendSQLite),
		StorePath:     sharedcfg.EnvOrDefault("STORE_PATH", "data/observations.db"),
		BufferBackend: sharedcfg.EnvOrDefault("BUFFER_BACKEND", BackendBadger),
		BufferPath:    sharedcfg.EnvOrDefault("BUFFER_PATH", "data/offline-buffer"),

		FeedBackend:    sharedcfg.EnvOrDefault("FEED_BACKEND", defaultFeed),
		AIOUsername:    aioUser,
		AIOKey:         aioKey,
		AIOFeedKey:     sharedcfg.EnvOrDefault("AIO_FEED_KEY", "wardrive"),
		AIOBaseURL:     sharedcfg.EnvOrDefault("AIO_BASE_URL", "https://io.adafruit.com/api/v2"),
		KafkaBrokers:   sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaFeedTopic: sharedcfg.EnvOrDefault("KAFKA_FEED_TOPIC", "wardrive-observations"),

		MapboxToken:     mapboxToken,
		MapboxEnabled:   mapboxEnabled,
		MapboxTimeout:   mapboxTimeout,
		MapboxCacheSize: parsePositiveInt("MAPBOX_CACHE_SIZE", 1000),
	}

	for _, target := range []any{&cfg.Sync, &cfg.Clustering, &cfg.Zones} {
		if err := parseEnv(target); err != nil {
			return nil, err
		}
	}

	requestTimeout, err := time.ParseDuration(
		sharedcfg.EnvOrDefault("REQUEST_TIMEOUT", cfg.Sync.defaultRequestTimeout().String()))
	if err != nil || requestTimeout <= 0 {
		return nil, errors.New("invalid REQUEST_TIMEOUT")
	}
	cfg.RequestTimeout = requestTimeout

	policy, ok := domain.ParseUnknownPolicy(cfg.Clustering.UnknownPolicy)
	if !ok {
		return nil, fmt.Errorf("invalid UNKNOWN_SECURITY_POLICY %q", cfg.Clustering.UnknownPolicy)
	}
	cfg.UnknownPolicy = policy

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreBackend {
	case BackendSQLite, BackendBadger, BackendMemory:
	default:
		return fmt.Errorf("invalid STORE_BACKEND %q", c.StoreBackend)
	}
	if c.StoreBackend != BackendMemory && c.StorePath == "" {
		return errors.New("STORE_PATH is required")
	}

	switch c.BufferBackend {
	case BackendSQLite, BackendBadger, BackendMemory:
	default:
		return fmt.Errorf("invalid BUFFER_BACKEND %q", c.BufferBackend)
	}
	if c.BufferBackend != BackendMemory && c.BufferPath == "" {
		return errors.New("BUFFER_PATH is required")
	}
	if c.StoreBackend == c.BufferBackend && c.StoreBackend != BackendMemory && c.StorePath == c.BufferPath {
		return errors.New("STORE_PATH and BUFFER_PATH must differ")
	}

	switch c.FeedBackend {
	case BackendNone:
	case BackendAdafruit:
		if c.AIOUsername == "" {
			return errors.New("AIO_USERNAME is required")
		}
		if c.AIOKey == "" {
			return errors.New("AIO_KEY is required")
		}
		if c.AIOFeedKey == "" {
			return errors.New("AIO_FEED_KEY is required")
		}
	case BackendKafka:
		if len(c.KafkaBrokers) == 0 {
			return errors.New("KAFKA_BROKERS is required")
		}
		if c.KafkaFeedTopic == "" {
			return errors.New("KAFKA_FEED_TOPIC is required")
		}
	default:
		return fmt.Errorf("invalid FEED_BACKEND %q", c.FeedBackend)
	}

	if c.Sync.RemoteTimeout <= 0 {
		return errors.New("REMOTE_TIMEOUT must be positive")
	}
	if c.Sync.Interval <= 0 {
		return errors.New("SYNC_INTERVAL must be positive")
	}
	if c.Sync.ReplayTimeout <= 0 {
		return errors.New("REPLAY_TIMEOUT must be positive")
	}
	if c.Sync.ReplayMaxRecords <= 0 {
		return errors.New("REPLAY_MAX_RECORDS must be positive")
	}
	if c.Sync.ReplayRatePerMinute <= 0 {
		return errors.New("REPLAY_RATE_PER_MINUTE must be positive")
	}
	if c.Clustering.EpsMeters <= 0 {
		return errors.New("DBSCAN_EPS_METERS must be positive")
	}
	if c.Clustering.MinSamples < 1 {
		return errors.New("DBSCAN_MIN_SAMPLES must be at least 1")
	}
	if c.Zones.MaxRadiusMeters < c.Zones.BaseRadiusMeters {
		return errors.New("ZONE_MAX_RADIUS_METERS must not be below ZONE_BASE_RADIUS_METERS")
	}
	if c.MapboxEnabled && c.MapboxToken == "" {
		return errors.New("MAPBOX_ENABLED is true but MAPBOX_TOKEN is not set")
	}
	return nil
}

func parseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func parsePositiveInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
