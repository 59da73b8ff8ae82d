// Package adafruit implements domain.Feed on the Adafruit IO REST API.
package adafruit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"time"

	"github.com/couchcryptid/wardrive-risk-map/internal/domain"
)

// DefaultBaseURL is the public Adafruit IO v2 API.
const DefaultBaseURL = "https://io.adafruit.com/api/v2"

// Config identifies the feed and account.
type Config struct {
	BaseURL  string
	Username string
	Key      string
	FeedKey  string
	// Limit caps how many entries Query fetches.
	Limit   int
	Timeout time.Duration
}

// Client publishes observations to and reads them back from an Adafruit IO feed.
type Client struct {
	feedURL    string
	key        string
	limit      int
	httpClient *http.Client
	logger     *slog.Logger
}

var _ domain.Feed = (*Client)(nil)

// NewClient creates an Adafruit IO feed client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	limit := cfg.Limit
	if limit <= 0 {
		limit = 200
	}
	return &Client{
		feedURL:    fmt.Sprintf("%s/%s/feeds/%s/data", base, url.PathEscape(cfg.Username), url.PathEscape(cfg.FeedKey)),
		key:        cfg.Key,
		limit:      limit,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// Publish posts one observation as a feed value. The value is the JSON
// encoding of the observation carried as a string.
func (c *Client) Publish(ctx context.Context, obs domain.NetworkObservation) error {
	value, err := json.Marshal(obs)
	if err != nil {
		return fmt.Errorf("encode observation: %w", err)
	}
	body, err := json.Marshal(dataPoint{Value: string(value)})
	if err != nil {
		return fmt.Errorf("encode data point: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.feedURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Query fetches the most recent feed entries and returns the decodable ones
// oldest first. The API lists newest first.
func (c *Client) Query(ctx context.Context) ([]domain.NetworkObservation, error) {
	u := c.feedURL + "?" + url.Values{"limit": {strconv.Itoa(c.limit)}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("query feed: %w", err)
	}
	defer resp.Body.Close()

	var entries []feedEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode feed data: %w", err)
	}
	slices.Reverse(entries)

	out := make([]domain.NetworkObservation, 0, len(entries))
	for _, e := range entries {
		payload, err := e.payload()
		if err != nil {
			c.logger.Debug("skipping undecodable feed entry", "id", e.ID, "error", err)
			continue
		}
		obs, err := domain.ParseSampleAt(payload, e.CreatedAt)
		if err != nil {
			c.logger.Debug("skipping invalid feed entry", "id", e.ID, "error", err)
			continue
		}
		out = append(out, obs)
	}
	return out, nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	req.Header.Set("X-AIO-Key", c.key)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return resp, nil
}

// APIError is a non-2xx response from Adafruit IO.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("adafruit io API error: status %d: %s", e.StatusCode, e.Body)
}

// Is matches domain.ErrFeedThrottled for rate-limit responses.
func (e *APIError) Is(target error) bool {
	return target == domain.ErrFeedThrottled && e.StatusCode == http.StatusTooManyRequests
}

// Throttled reports whether err is an Adafruit IO rate-limit response.
func Throttled(err error) bool {
	return errors.Is(err, domain.ErrFeedThrottled)
}

// Adafruit IO API types.

type dataPoint struct {
	Value string `json:"value"`
}

type feedEntry struct {
	ID        string          `json:"id"`
	Value     json.RawMessage `json:"value"`
	CreatedAt time.Time       `json:"created_at"`
}

// payload returns the sample JSON carried in the entry value. Values are
// normally JSON strings; objects are accepted as-is.
func (e feedEntry) payload() ([]byte, error) {
	v := bytes.TrimSpace(e.Value)
	if len(v) == 0 || v[0] == 'n' {
		return nil, errors.New("empty value")
	}
	if v[0] == '{' {
		return v, nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return []byte(s), nil
}
