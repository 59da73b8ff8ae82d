// Command wardrivectl operates on the local observation store and offline
// buffer outside the running service.
//
// Usage:
//
//	wardrivectl replay
//	wardrivectl mock --count 20 --lat 19.4326 --lon -99.1332 --mode ingest
//	wardrivectl zones > zones.geojson
//	wardrivectl check
//
// Settings come from the same environment variables as the service.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/wardrive-risk-map/internal/observability"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := execute(ctx, os.Stdout, observability.NewMetrics(), os.Args[1:]); err != nil {
		stop()
		os.Exit(1)
	}
}
