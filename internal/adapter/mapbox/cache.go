package mapbox

import (
	"context"
	"fmt"

	"github.com/couchcryptid/wardrive-risk-map/internal/domain"
	"github.com/couchcryptid/wardrive-risk-map/internal/lru"
	"github.com/couchcryptid/wardrive-risk-map/internal/observability"
)

// CachedGeocoder wraps a Geocoder with an in-memory LRU cache keyed by the
// coordinate rounded to four decimals (about 11 m), so a zone whose centroid
// shifts slightly between rebuilds reuses its label.
type CachedGeocoder struct {
	inner   domain.Geocoder
	cache   *lru.Cache[string, domain.Place]
	metrics *observability.Metrics
}

var _ domain.Geocoder = (*CachedGeocoder)(nil)

// NewCachedGeocoder creates a cache decorator around a geocoder.
func NewCachedGeocoder(inner domain.Geocoder, maxEntries int, metrics *observability.Metrics) *CachedGeocoder {
	return &CachedGeocoder{
		inner:   inner,
		cache:   lru.New[string, domain.Place](maxEntries),
		metrics: metrics,
	}
}

func (c *CachedGeocoder) ReverseGeocode(ctx context.Context, lat, lon float64) (domain.Place, error) {
	key := fmt.Sprintf("%.4f,%.4f", lat, lon)
	if place, ok := c.cache.Get(key); ok {
		c.metrics.GeocodeCache.WithLabelValues("hit").Inc()
		return place, nil
	}
	c.metrics.GeocodeCache.WithLabelValues("miss").Inc()

	place, err := c.inner.ReverseGeocode(ctx, lat, lon)
	if err != nil {
		return place, err
	}
	// Only cache matches so transient "not found" responses can be retried.
	if place.Name != "" {
		c.cache.Put(key, place)
	}
	return place, nil
}

// Len reports the number of cached labels.
func (c *CachedGeocoder) Len() int {
	return c.cache.Len()
}
