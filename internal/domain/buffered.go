package domain

import (
	"time"

	"github.com/google/uuid"
)

// AckStatus reports where an ingested observation ended up.
type AckStatus string

const (
	// AckDelivered means the remote feed accepted the observation.
	AckDelivered AckStatus = "delivered"
	// AckBuffered means the observation is queued for replay.
	AckBuffered AckStatus = "buffered"
)

// BufferedRecord is an observation waiting for confirmed remote delivery.
type BufferedRecord struct {
	ID            string             `json:"id"`
	Observation   NetworkObservation `json:"observation"`
	EnqueuedAt    time.Time          `json:"enqueued_at"`
	AttemptCount  int                `json:"attempt_count"`
	LastAttemptAt *time.Time         `json:"last_attempt_at,omitempty"`
	LastError     string             `json:"last_error,omitempty"`
}

// NewBufferedRecord wraps an observation that failed its first publish.
func NewBufferedRecord(obs NetworkObservation, cause error) BufferedRecord {
	rec := BufferedRecord{
		ID:          uuid.NewString(),
		Observation: obs,
		EnqueuedAt:  clock.Now().UTC(),
	}
	if cause != nil {
		rec.LastError = cause.Error()
	}
	return rec
}

// ReplayReport summarizes one replay pass over the offline buffer.
type ReplayReport struct {
	Confirmed    int `json:"confirmed"`
	StillPending int `json:"still_pending"`
	Failed       int `json:"failed"`
	// Deferred counts records left untouched because the pass hit its
	// deadline or record limit. They are included in StillPending.
	Deferred int `json:"deferred"`
}
