//go:build mapbox

package mapbox

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/wardrive-risk-map/internal/observability"
)

// These tests hit the real Mapbox API and require a valid MAPBOX_TOKEN env var.
// Run with: go test -tags=mapbox ./internal/adapter/mapbox/ -v -count=1

func smokeClient(t *testing.T) *Client {
	t.Helper()
	token := os.Getenv("MAPBOX_TOKEN")
	if token == "" {
		t.Fatal("MAPBOX_TOKEN must be set to run smoke tests")
	}
	return NewClient(token, 10*time.Second, observability.NewMetricsForTesting(),
		slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSmoke_ReverseGeocode(t *testing.T) {
	c := smokeClient(t)

	place, err := c.ReverseGeocode(context.Background(), 37.7599, -122.4194)
	require.NoError(t, err)

	assert.NotEmpty(t, place.Name)
	assert.Contains(t, place.Address, "San Francisco")
	assert.Greater(t, place.Relevance, 0.0)
}

func TestSmoke_CachedGeocoder(t *testing.T) {
	c := smokeClient(t)
	cached := NewCachedGeocoder(c, 10, observability.NewMetricsForTesting())

	p1, err := cached.ReverseGeocode(context.Background(), 40.7128, -74.0060)
	require.NoError(t, err)
	assert.NotEmpty(t, p1.Name)

	p2, err := cached.ReverseGeocode(context.Background(), 40.7128, -74.0060)
	require.NoError(t, err)
	assert.Equal(t, p1, p2)
}
