package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "wardrive"

// Metrics holds the Prometheus counters, histograms, and gauges for the service.
type Metrics struct {
	// Ingestion metrics.
	IngestTotal *prometheus.CounterVec // labels: outcome={delivered,buffered,invalid,storage_error}

	// Remote feed metrics.
	RemoteRequests *prometheus.CounterVec   // labels: op={publish,query}, outcome={success,error}
	RemoteDuration *prometheus.HistogramVec // labels: op={publish,query}

	// Offline buffer and replay metrics.
	BufferDepth     prometheus.Gauge
	ReplayRuns      *prometheus.CounterVec // labels: outcome={ok,empty,no_feed,error,skipped}
	ReplayRecords   *prometheus.CounterVec // labels: result={confirmed,failed,deferred,confirm_error}
	SyncLoopRunning prometheus.Gauge

	// Read path metrics.
	ResolveSource     *prometheus.CounterVec // labels: source={remote,store,buffer,none,error}
	CorruptRecords    *prometheus.CounterVec // labels: log={store,buffer}
	ZoneBuildDuration prometheus.Histogram
	ZonesLastBuild    prometheus.Gauge

	// Geocoding metrics.
	GeocodeRequests    *prometheus.CounterVec // labels: outcome={success,error,empty}
	GeocodeCache       *prometheus.CounterVec // labels: result={hit,miss}
	GeocodeAPIDuration prometheus.Histogram
	GeocodeEnabled     prometheus.Gauge
}

// NewMetrics creates and registers all service metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		IngestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_total",
			Help:      "Ingested samples by outcome.",
		}, []string{"outcome"}),
		RemoteRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_requests_total",
			Help:      "Remote feed requests by operation and outcome.",
		}, []string{"op", "outcome"}),
		RemoteDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "remote_request_duration_seconds",
			Help:      "Remote feed request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"op"}),
		BufferDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "offline_buffer_depth",
			Help:      "Records waiting in the offline buffer.",
		}),
		ReplayRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replay_runs_total",
			Help:      "Offline buffer replay passes by outcome.",
		}, []string{"outcome"}),
		ReplayRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replay_records_total",
			Help:      "Buffered records handled by replay, by result.",
		}, []string{"result"}),
		SyncLoopRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_loop_running",
			Help:      "1 when the sync loop is active, 0 when shut down.",
		}),
		ResolveSource: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolve_source_total",
			Help:      "Network reads by the source that answered.",
		}, []string{"source"}),
		CorruptRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "corrupt_records_total",
			Help:      "Unreadable log records skipped during reads.",
		}, []string{"log"}),
		ZoneBuildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "zone_build_duration_seconds",
			Help:      "Duration of a resolve, cluster and consolidate cycle.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}),
		ZonesLastBuild: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "zones",
			Help:      "Zones produced by the most recent build.",
		}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_requests_total",
			Help:      "Reverse geocoding requests by outcome.",
		}, []string{"outcome"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_cache_total",
			Help:      "Geocoding cache lookups by result.",
		}, []string{"result"}),
		GeocodeAPIDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "geocode_api_duration_seconds",
			Help:      "Mapbox API request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		GeocodeEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "geocode_enabled",
			Help:      "1 when zone place labels are enabled, 0 otherwise.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.IngestTotal,
		m.RemoteRequests,
		m.RemoteDuration,
		m.BufferDepth,
		m.ReplayRuns,
		m.ReplayRecords,
		m.SyncLoopRunning,
		m.ResolveSource,
		m.CorruptRecords,
		m.ZoneBuildDuration,
		m.ZonesLastBuild,
		m.GeocodeRequests,
		m.GeocodeCache,
		m.GeocodeAPIDuration,
		m.GeocodeEnabled,
	}
}
