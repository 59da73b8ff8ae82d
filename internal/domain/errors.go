package domain

import "errors"

var (
	// ErrInvalidObservation marks a sample rejected at the ingestion boundary.
	ErrInvalidObservation = errors.New("invalid observation")

	// ErrStorageWrite marks a failed append to the observation store or
	// offline buffer. The sample is not durably recorded.
	ErrStorageWrite = errors.New("storage write failed")

	// ErrNoDataAvailable is returned by a read only when every source failed.
	ErrNoDataAvailable = errors.New("no data available")

	// ErrFeedUnavailable is returned by feed operations when no remote is configured.
	ErrFeedUnavailable = errors.New("remote feed unavailable")

	// ErrFeedThrottled is matched by feed errors that signal a rate limit.
	ErrFeedThrottled = errors.New("remote feed throttled")
)
