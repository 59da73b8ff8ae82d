package adafruit

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/wardrive-risk-map/internal/domain"
)

const (
	testUser = "driver"
	testKey  = "aio_test_key"
	testFeed = "wardrive"
)

func testClient(baseURL string) *Client {
	return NewClient(Config{
		BaseURL:  baseURL,
		Username: testUser,
		Key:      testKey,
		FeedKey:  testFeed,
		Limit:    50,
		Timeout:  5 * time.Second,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestClient_Publish(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/driver/feeds/wardrive/data", r.URL.Path)
		assert.Equal(t, testKey, r.Header.Get("X-AIO-Key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"0F1"}`))
	}))
	defer srv.Close()

	lat, lon := 19.43, -99.13
	obs := domain.NetworkObservation{SSID: "Cafe", Security: domain.SecurityOpen, Latitude: &lat, Longitude: &lon}
	require.NoError(t, testClient(srv.URL).Publish(context.Background(), obs))

	// The value is a JSON string that itself decodes to the observation.
	var inner domain.NetworkObservation
	require.NoError(t, json.Unmarshal([]byte(got["value"]), &inner))
	assert.Equal(t, "Cafe", inner.SSID)
	assert.Equal(t, 19.43, *inner.Latitude)
}

func TestClient_Publish_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"throttled"}`))
	}))
	defer srv.Close()

	err := testClient(srv.URL).Publish(context.Background(), domain.NetworkObservation{SSID: "x"})
	require.Error(t, err)
	assert.True(t, Throttled(err))
	assert.ErrorIs(t, err, domain.ErrFeedThrottled)
	assert.Contains(t, err.Error(), "429")
}

func TestClient_Query(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "50", r.URL.Query().Get("limit"))
		assert.Equal(t, testKey, r.Header.Get("X-AIO-Key"))
		// Newest first, as the API returns it.
		_, _ = w.Write([]byte(`[
			{"id":"3","value":"{\"ssid\":\"newest\",\"mac\":\"aa:aa:aa:aa:aa:03\",\"security\":\"OPEN\",\"latitude\":1,\"longitude\":2}","created_at":"2024-05-01T12:03:00Z"},
			{"id":"2","value":"not json","created_at":"2024-05-01T12:02:00Z"},
			{"id":"1","value":{"network":{"ssid":"oldest","security":"WEP","timestamp":"2024-05-01T11:00:00Z"},"gps":{"latitude":1,"longitude":2}},"created_at":"2024-05-01T12:01:00Z"},
			{"id":"0","value":"{\"mac\":\"bogus\"}","created_at":"2024-05-01T12:00:00Z"}
		]`))
	}))
	defer srv.Close()

	got, err := testClient(srv.URL).Query(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "oldest", got[0].SSID)
	assert.Equal(t, time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC), got[0].ObservedAt)
	assert.Equal(t, "newest", got[1].SSID)
	assert.Equal(t, "AA:AA:AA:AA:AA:03", got[1].MAC)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 3, 0, 0, time.UTC), got[1].ObservedAt, "created_at fills a missing timestamp")
}

func TestClient_Query_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Query(context.Background())
	require.Error(t, err)
	assert.False(t, Throttled(err))
}

func TestClient_Query_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := testClient(srv.URL).Query(ctx)
	assert.Error(t, err)
}
