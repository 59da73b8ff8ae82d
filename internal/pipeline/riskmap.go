package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/couchcryptid/wardrive-risk-map/internal/cluster"
	"github.com/couchcryptid/wardrive-risk-map/internal/domain"
	"github.com/couchcryptid/wardrive-risk-map/internal/observability"
	"github.com/couchcryptid/wardrive-risk-map/internal/zone"
)

// BuilderConfig tunes clustering and zone consolidation.
type BuilderConfig struct {
	EpsMeters      float64
	MinPoints      int
	ClusterSecure  bool
	Policy         domain.UnknownPolicy
	Zones          zone.Options
	StyleCacheSize int
}

// Snapshot is one computed risk map.
type Snapshot struct {
	Source       Source
	Observations []domain.NetworkObservation
	Clusters     []cluster.Cluster
	Zones        []zone.Zone
	BuiltAt      time.Time
}

// NetworkResolver resolves the current observation set.
type NetworkResolver interface {
	Resolve(ctx context.Context) (Resolution, error)
}

// Builder turns resolved observations into styled, labelled zones. It owns
// the zone style cache, so zone colors persist across builds.
type Builder struct {
	resolver NetworkResolver
	geocoder domain.Geocoder
	styles   *zone.StyleCache
	cfg      BuilderConfig
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewBuilder creates a builder. geocoder may be nil to skip place labels.
func NewBuilder(resolver NetworkResolver, geocoder domain.Geocoder, cfg BuilderConfig, logger *slog.Logger, metrics *observability.Metrics) *Builder {
	if cfg.StyleCacheSize <= 0 {
		cfg.StyleCacheSize = 256
	}
	return &Builder{
		resolver: resolver,
		geocoder: geocoder,
		styles:   zone.NewStyleCache(cfg.StyleCacheSize),
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
	}
}

// Build resolves the current observations and computes their zones.
func (b *Builder) Build(ctx context.Context) (Snapshot, error) {
	start := time.Now()

	res, err := b.resolver.Resolve(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	clusters := b.Cluster(res.Observations)
	zones := zone.Consolidate(clusters, b.cfg.Zones)
	b.styles.Apply(zones)
	b.label(ctx, zones)

	b.metrics.ZoneBuildDuration.Observe(time.Since(start).Seconds())
	b.metrics.ZonesLastBuild.Set(float64(len(zones)))

	return Snapshot{
		Source:       res.Source,
		Observations: res.Observations,
		Clusters:     clusters,
		Zones:        zones,
		BuiltAt:      domain.Now().UTC(),
	}, nil
}

// Cluster runs DBSCAN over the insecure observations, and over the secure
// ones when secure clustering is enabled. Secure cluster IDs follow the
// insecure ones.
func (b *Builder) Cluster(observations []domain.NetworkObservation) []cluster.Cluster {
	params := cluster.Params{
		EpsMeters:   b.cfg.EpsMeters,
		MinPoints:   b.cfg.MinPoints,
		Filter:      cluster.FilterInsecure,
		Policy:      b.cfg.Policy,
		PreviewSize: b.cfg.Zones.PreviewSize,
	}
	clusters := cluster.Run(observations, params)
	if !b.cfg.ClusterSecure {
		return clusters
	}

	params.Filter = cluster.FilterSecure
	offset := len(clusters)
	for _, c := range cluster.Run(observations, params) {
		c.ID += offset
		clusters = append(clusters, c)
	}
	return clusters
}

// label attaches place names. Geocoding failures leave the name empty.
func (b *Builder) label(ctx context.Context, zones []zone.Zone) {
	if b.geocoder == nil {
		return
	}
	for i := range zones {
		if ctx.Err() != nil {
			return
		}
		c := zones[i].Centroid
		place, err := b.geocoder.ReverseGeocode(ctx, c.Lat(), c.Lon())
		if err != nil {
			b.logger.Debug("zone left unlabelled", "zone", zones[i].ID, "error", err)
			continue
		}
		zones[i].PlaceName = place.Name
	}
}
