// Signalmap - Crowd-sourced Signal Source Location Estimation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalmap

// Package main is the entry point for the signalmap server.
//
// Signalmap collects GPS-tagged sightings of Wi-Fi access points and cell
// towers from contributing devices, keeps a bounded history per source and
// estimates where each source is. Devices without GPS send the sources they
// can see and receive an estimated position.
//
// # Startup
//
//  1. Configuration: defaults, config.yaml, then environment (Koanf v2)
//  2. Logging: zerolog, with slog and watermill adapters
//  3. Store: memory, BadgerDB or SQLite behind a circuit breaker
//  4. Pipeline: batch bus (in-process or NATS), ingest workers, batcher
//  5. Supervisor tree: sweeper, batcher, workers and the HTTP server
//
// # Shutdown
//
// SIGINT or SIGTERM cancels the tree. The HTTP server stops accepting
// submissions, the batcher flushes what is pending, and batches still on
// the bus are ingested before the store is closed.
//
// # Example
//
//	STORE_BACKEND=badger STORE_PATH=/var/lib/signalmap \
//	WORKER_COUNT=4 PROXIMITY_RADIUS=2000 ./signalmap
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/signalmap/internal/api"
	"github.com/tomtom215/signalmap/internal/batcher"
	"github.com/tomtom215/signalmap/internal/config"
	"github.com/tomtom215/signalmap/internal/engine"
	"github.com/tomtom215/signalmap/internal/logging"
	"github.com/tomtom215/signalmap/internal/pipeline"
	"github.com/tomtom215/signalmap/internal/retention"
	"github.com/tomtom215/signalmap/internal/store"
	"github.com/tomtom215/signalmap/internal/supervisor"
	"github.com/tomtom215/signalmap/internal/supervisor/services"
)

// drainQuiet is how long a partition must stay idle before shutdown stops
// waiting for queued batches.
const drainQuiet = 500 * time.Millisecond

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("Signalmap exited with error")
	}
}

func run() error {
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logging.Init(cfg.LoggingSettings())
	logging.Info().Str("config", cfg.String()).Msg("Starting signalmap")

	// Long-lived components outlive the signal context so that shutdown can
	// finish moving data after the tree has stopped.
	bg := context.Background()

	st, err := store.Open(bg, cfg.StoreSettings(), cfg.BreakerSettings(), store.Options{})
	if err != nil {
		return err
	}
	defer func() {
		logging.Err(st.Close()).Msg("Store closed")
	}()

	eng, err := engine.New(st, cfg.EngineSettings())
	if err != nil {
		return err
	}

	bus, err := pipeline.NewBus(cfg.BusSettings(), logging.NewWatermillLogger())
	if err != nil {
		return err
	}
	defer func() {
		logging.Err(bus.Close()).Msg("Batch bus closed")
	}()

	pool := pipeline.NewPool(bus, eng, nil, cfg.RetrySettings())
	if err := pool.Start(bg); err != nil {
		return err
	}
	defer pool.Close()

	b, err := batcher.New(bus, cfg.BatcherSettings())
	if err != nil {
		return err
	}
	pool.SetResubmitter(b)

	sweeper := retention.NewSweeper(st, cfg.SweeperSettings())

	handler := api.NewHandler(eng, b)
	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           api.NewRouter(handler, cfg.RouterSettings()),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.Timeout,
		WriteTimeout:      cfg.Server.Timeout,
	}

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	if err != nil {
		return err
	}
	tree.AddDataService(services.NewSweeperService(sweeper))
	tree.AddPipelineService(services.NewBatcherService(b))
	for _, w := range pool.Workers() {
		tree.AddPipelineService(w)
	}
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))

	ctx, stop := signal.NotifyContext(bg, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info().
		Str("addr", server.Addr).
		Str("store", st.Backend()).
		Int("workers", len(pool.Workers())).
		Msg("Supervisor tree starting")

	serveErr := tree.Serve(ctx)
	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		logging.Error().Err(serveErr).Msg("Supervisor stopped unexpectedly")
	}
	logging.Info().Msg("Shutdown signal received, draining pipeline")

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service did not stop in time")
	}

	// The batcher may have been closed before the workers saw its final
	// flush. Close is idempotent.
	logging.Err(b.Close()).Msg("Batcher closed")

	drainCtx, cancel := context.WithTimeout(bg, cfg.Server.ShutdownTimeout)
	defer cancel()
	pool.Drain(drainCtx, drainQuiet)

	stats := b.Stats()
	poolStats := pool.Stats()
	logging.Info().
		Int64("received", stats.Received).
		Int64("flushed", stats.Flushed).
		Int64("ingested_items", poolStats.Items).
		Int64("dropped_batches", poolStats.Dropped).
		Msg("Signalmap stopped")

	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		return serveErr
	}
	return nil
}
