package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/couchcryptid/wardrive-risk-map/internal/domain"
	"github.com/couchcryptid/wardrive-risk-map/internal/pipeline"
)

const maxSampleBytes = 64 << 10

// Ingester accepts samples and replays the offline buffer.
type Ingester interface {
	Ingest(ctx context.Context, obs domain.NetworkObservation) (domain.AckStatus, error)
	Replay(ctx context.Context) (domain.ReplayReport, error)
}

// RiskMapBuilder computes the current risk map.
type RiskMapBuilder interface {
	Build(ctx context.Context) (pipeline.Snapshot, error)
}

// API holds the handlers for the /api routes.
type API struct {
	ingester Ingester
	builder  RiskMapBuilder
	logger   *slog.Logger
}

// NewAPI creates the API handlers.
func NewAPI(ingester Ingester, builder RiskMapBuilder, logger *slog.Logger) *API {
	return &API{ingester: ingester, builder: builder, logger: logger}
}

func (a *API) handleIngest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSampleBytes))
	if err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeError(w, status, err)
		return
	}
	obs, err := domain.ParseSample(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ack, err := a.ingester.Ingest(r.Context(), obs)
	switch {
	case errors.Is(err, domain.ErrInvalidObservation):
		writeError(w, http.StatusBadRequest, err)
		return
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, err)
		return
	case err != nil:
		a.logger.Error("ingest failed", "key", obs.IdentityKey(), "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
		"ack":    string(ack),
	})
}

func (a *API) handleSync(w http.ResponseWriter, r *http.Request) {
	report, err := a.ingester.Replay(r.Context())
	switch {
	case errors.Is(err, pipeline.ErrReplayInProgress):
		writeError(w, http.StatusConflict, err)
		return
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, err)
		return
	case err != nil:
		a.logger.Error("replay failed", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleNetworks(w http.ResponseWriter, r *http.Request) {
	snap, ok := a.build(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newNetworksResponse(snap))
}

func (a *API) handleZones(w http.ResponseWriter, r *http.Request) {
	snap, ok := a.build(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(ZonesGeoJSON(snap.Zones)) //nolint:errcheck // client went away
}

func (a *API) build(w http.ResponseWriter, r *http.Request) (pipeline.Snapshot, bool) {
	snap, err := a.builder.Build(r.Context())
	switch {
	case errors.Is(err, domain.ErrNoDataAvailable):
		writeError(w, http.StatusServiceUnavailable, err)
		return snap, false
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, err)
		return snap, false
	case err != nil:
		a.logger.Error("build risk map failed", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return snap, false
	}
	return snap, true
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // client went away
}
