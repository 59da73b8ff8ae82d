package domain

import "context"

// Feed is the remote observation feed. Query returns records oldest first.
type Feed interface {
	Publish(ctx context.Context, obs NetworkObservation) error
	Query(ctx context.Context) ([]NetworkObservation, error)
}
