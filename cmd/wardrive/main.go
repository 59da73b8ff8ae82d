package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/wardrive-risk-map/internal/adapter/httpadapter"
	"github.com/couchcryptid/wardrive-risk-map/internal/app"
	"github.com/couchcryptid/wardrive-risk-map/internal/config"
	"github.com/couchcryptid/wardrive-risk-map/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg, logger, metrics)
	if err != nil {
		logger.Error("failed to open storage", "error", err)
		os.Exit(1)
	}

	api := httpadapter.NewAPI(a.Coordinator, a.Builder, logger)
	srv := httpadapter.NewServer(cfg.HTTPAddr, cfg.RequestTimeout, api, a, logger)

	g, gctx := errgroup.WithContext(ctx)

	// Start HTTP server.
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Start offline buffer sync loop.
	g.Go(func() error {
		return a.Sync.Run(gctx)
	})

	// Drain the server once a signal arrives or either goroutine fails.
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	exitCode := 0
	if err := g.Wait(); err != nil {
		logger.Error("service error", "error", err)
		exitCode = 1
	}
	if err := a.Close(); err != nil {
		logger.Error("storage close error", "error", err)
		exitCode = 1
	}

	logger.Info("shutdown complete")
	os.Exit(exitCode)
}
