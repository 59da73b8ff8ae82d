package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/wardrive-risk-map/internal/domain"
	"github.com/couchcryptid/wardrive-risk-map/internal/storage"
)

var errCheckFailed = errors.New("integrity check failed")

// phase tracks pass/fail for a check phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

// logStats are informational counts printed alongside the phases.
type logStats struct {
	storeRecords    int
	storeIdentities int
	bufferRecords   int
	retried         int
	maxAttempts     int
	withError       int
}

func newCheckCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify the observation store and offline buffer are readable and consistent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			storeEntries, err := c.app.Store.Entries(cmd.Context())
			if err != nil {
				return fmt.Errorf("read observation store: %w", err)
			}
			bufferEntries, err := c.app.Buffer.Entries(cmd.Context())
			if err != nil {
				return fmt.Errorf("read offline buffer: %w", err)
			}
			return runCheck(c.out, storeEntries, bufferEntries)
		},
	}
}

func runCheck(out io.Writer, storeEntries, bufferEntries []storage.Entry) error {
	fmt.Fprintln(out, "=== Wardrive Log Integrity Check ===")
	fmt.Fprintln(out)

	var stats logStats
	observations, decodeStore := checkStoreDecode(storeEntries)
	records, decodeBuffer := checkBufferDecode(bufferEntries)

	phases := []*phase{
		decodeStore,
		checkStoreCoordinates(observations, &stats),
		decodeBuffer,
		checkBufferIdentities(records),
		checkBufferAttempts(records, &stats),
	}

	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Fprintf(out, "  %-36s %s\n", p.name, status)
	}

	stats.bufferRecords = len(records)
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Store: %d records, %d distinct networks\n", stats.storeRecords, stats.storeIdentities)
	fmt.Fprintf(out, "Buffer: %d pending, %d retried (max %d attempts), %d with last error\n",
		stats.bufferRecords, stats.retried, stats.maxAttempts, stats.withError)

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Fprintf(out, "\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Fprintf(out, "  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Fprintln(out, "\nAll checks passed.")
		return nil
	}
	fmt.Fprintln(out, "\nCheck FAILED.")
	return errCheckFailed
}

// ── Observation store ──

func checkStoreDecode(entries []storage.Entry) ([]domain.NetworkObservation, *phase) {
	p := &phase{name: "Store: records decode"}
	out := make([]domain.NetworkObservation, 0, len(entries))
	for _, e := range entries {
		var obs domain.NetworkObservation
		if err := json.Unmarshal(e.Payload, &obs); err != nil {
			p.errorf("seq %d: corrupt record: %v", e.Seq, err)
			continue
		}
		out = append(out, obs)
	}
	return out, p
}

// checkStoreCoordinates flags records ingestion should have rejected.
// Repeated sightings of one network are expected and only counted.
func checkStoreCoordinates(observations []domain.NetworkObservation, stats *logStats) *phase {
	p := &phase{name: "Store: coordinates present and in range"}
	seen := make(map[string]struct{}, len(observations))
	for i, obs := range observations {
		seen[obs.IdentityKey()] = struct{}{}

		lat, lon, ok := obs.Coordinates()
		switch {
		case !ok:
			p.errorf("record %d (%s): missing coordinates", i+1, obs.IdentityKey())
		case lat < -90 || lat > 90 || lon < -180 || lon > 180:
			p.errorf("record %d (%s): coordinates out of range (%f, %f)", i+1, obs.IdentityKey(), lat, lon)
		}
		if obs.ObservedAt.IsZero() {
			p.errorf("record %d (%s): missing timestamp", i+1, obs.IdentityKey())
		}
	}
	stats.storeRecords = len(observations)
	stats.storeIdentities = len(seen)
	return p
}

// ── Offline buffer ──

func checkBufferDecode(entries []storage.Entry) ([]domain.BufferedRecord, *phase) {
	p := &phase{name: "Buffer: records decode"}
	out := make([]domain.BufferedRecord, 0, len(entries))
	for _, e := range entries {
		var rec domain.BufferedRecord
		if err := json.Unmarshal(e.Payload, &rec); err != nil {
			p.errorf("seq %d: corrupt record: %v", e.Seq, err)
			continue
		}
		out = append(out, rec)
	}
	return out, p
}

func checkBufferIdentities(records []domain.BufferedRecord) *phase {
	p := &phase{name: "Buffer: record IDs unique"}
	seen := make(map[string]int, len(records))
	for i, rec := range records {
		if rec.ID == "" {
			p.errorf("record %d: missing id", i+1)
			continue
		}
		if first, dup := seen[rec.ID]; dup {
			p.errorf("record %d: duplicate id %s (first at record %d)", i+1, rec.ID, first)
			continue
		}
		seen[rec.ID] = i + 1
	}
	return p
}

func checkBufferAttempts(records []domain.BufferedRecord, stats *logStats) *phase {
	p := &phase{name: "Buffer: attempt bookkeeping"}
	for i, rec := range records {
		if rec.EnqueuedAt.IsZero() {
			p.errorf("record %d (%s): missing enqueued_at", i+1, rec.ID)
		}
		if rec.AttemptCount < 0 {
			p.errorf("record %d (%s): negative attempt count %d", i+1, rec.ID, rec.AttemptCount)
		}
		if rec.AttemptCount > 0 {
			stats.retried++
			if rec.LastAttemptAt == nil {
				p.errorf("record %d (%s): %d attempts but no last_attempt_at", i+1, rec.ID, rec.AttemptCount)
			} else if rec.LastAttemptAt.Before(rec.EnqueuedAt) {
				p.errorf("record %d (%s): last attempt precedes enqueue", i+1, rec.ID)
			}
		}
		if !rec.Observation.HasCoordinates() {
			p.errorf("record %d (%s): observation has no coordinates", i+1, rec.ID)
		}
		stats.maxAttempts = max(stats.maxAttempts, rec.AttemptCount)
		if rec.LastError != "" {
			stats.withError++
		}
	}
	return p
}
