package main

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/wardrive-risk-map/internal/domain"
)

// Mock destinations.
const (
	mockModeStore  = "store"
	mockModeFeed   = "feed"
	mockModeIngest = "ingest"
)

// Firmware security labels, parsed the same way as real samples.
var (
	secureLabels   = []string{"WPA-PSK", "WPA2-PSK", "WPA3"}
	insecureLabels = []string{"OPEN", "WEP"}
)

// mockJitterDegrees bounds the random offset from the base position.
const mockJitterDegrees = 0.001

type mockOptions struct {
	count int
	lat   float64
	lon   float64
	mode  string
	nmea  string
	seed  uint64
}

func newMockCmd(c *cli) *cobra.Command {
	opts := mockOptions{}

	cmd := &cobra.Command{
		Use:   "mock",
		Short: "Generate random network sightings around a base position",
		Long: `Generates random access point sightings scattered around a base
position and writes them to the local store, publishes them directly to the
remote feed, or runs them through ingestion (store plus feed with buffering).

A GGA sentence passed with --nmea replaces --lat/--lon and attaches its
satellite count and HDOP to every sighting.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runMock(cmd, opts)
		},
	}

	cmd.Flags().IntVar(&opts.count, "count", 5, "number of sightings to generate")
	cmd.Flags().Float64Var(&opts.lat, "lat", 19.4326, "base latitude")
	cmd.Flags().Float64Var(&opts.lon, "lon", -99.1332, "base longitude")
	cmd.Flags().StringVar(&opts.mode, "mode", mockModeStore, "destination: store, feed or ingest")
	cmd.Flags().StringVar(&opts.nmea, "nmea", "", "GGA sentence to use as the base fix")
	cmd.Flags().Uint64Var(&opts.seed, "seed", 0, "random seed (0 picks one)")
	return cmd
}

func (c *cli) runMock(cmd *cobra.Command, opts mockOptions) error {
	if opts.count <= 0 {
		return fmt.Errorf("--count must be positive, got %d", opts.count)
	}

	base := domain.GPSFix{Latitude: opts.lat, Longitude: opts.lon}
	withFix := false
	if opts.nmea != "" {
		fix, err := domain.ParseGGA(opts.nmea)
		if err != nil {
			return fmt.Errorf("parse --nmea: %w", err)
		}
		base, withFix = fix, true
	}

	seed := opts.seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	rng := rand.New(rand.NewPCG(seed, seed>>1|1))
	now := time.Now().UTC()

	records := make([]domain.NetworkObservation, opts.count)
	for i := range records {
		records[i] = randomObservation(rng, base, withFix, now)
	}

	ctx := cmd.Context()
	switch opts.mode {
	case mockModeStore:
		for _, obs := range records {
			if err := c.app.Store.Append(ctx, obs); err != nil {
				return err
			}
		}
		fmt.Fprintf(c.out, "saved %d records to the observation store\n", len(records))

	case mockModeFeed:
		if c.app.Feed == nil {
			return domain.ErrFeedUnavailable
		}
		failed := 0
		for _, obs := range records {
			if err := c.app.Feed.Publish(ctx, obs); err != nil {
				c.logger.Warn("publish failed", "mac", obs.MAC, "error", err)
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("failed to publish %d of %d records", failed, len(records))
		}
		fmt.Fprintf(c.out, "published %d records to the remote feed\n", len(records))

	case mockModeIngest:
		acks := map[domain.AckStatus]int{}
		for _, obs := range records {
			ack, err := c.app.Coordinator.Ingest(ctx, obs)
			if err != nil {
				return err
			}
			acks[ack]++
		}
		fmt.Fprintf(c.out, "ingested %d records: %d delivered, %d buffered\n",
			len(records), acks[domain.AckDelivered], acks[domain.AckBuffered])

	default:
		return fmt.Errorf("unknown --mode %q (want %s)", opts.mode,
			strings.Join([]string{mockModeStore, mockModeFeed, mockModeIngest}, ", "))
	}
	return nil
}

// randomObservation fabricates one sighting near base.
func randomObservation(rng *rand.Rand, base domain.GPSFix, withFix bool, at time.Time) domain.NetworkObservation {
	labels := append(append([]string{}, secureLabels...), insecureLabels...)

	mac := make([]string, 6)
	for i := range mac {
		mac[i] = fmt.Sprintf("%02X", rng.IntN(256))
	}

	rssi := -90 + rng.IntN(61)
	lat := round6(base.Latitude + jitter(rng))
	lon := round6(base.Longitude + jitter(rng))

	obs := domain.NetworkObservation{
		SSID:       fmt.Sprintf("TestNet-%d", 100+rng.IntN(900)),
		MAC:        strings.Join(mac, ":"),
		Channel:    1 + rng.IntN(11),
		RSSI:       &rssi,
		Security:   domain.ParseSecurity(labels[rng.IntN(len(labels))]),
		Latitude:   &lat,
		Longitude:  &lon,
		DeviceID:   "wardrivectl",
		ObservedAt: at,
	}
	if withFix {
		sats, hdop := base.Satellites, base.HDOP
		obs.Satellites, obs.HDOP = &sats, &hdop
	}
	return obs
}

func jitter(rng *rand.Rand) float64 {
	return (rng.Float64()*2 - 1) * mockJitterDegrees
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
