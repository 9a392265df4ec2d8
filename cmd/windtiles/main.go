package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/joho/godotenv"

	"github.com/couchcryptid/wind-tile-service/internal/adapter/grib2json"
	httpadapter "github.com/couchcryptid/wind-tile-service/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/wind-tile-service/internal/adapter/kafka"
	"github.com/couchcryptid/wind-tile-service/internal/adapter/nomads"
	"github.com/couchcryptid/wind-tile-service/internal/adapter/sqlite"
	"github.com/couchcryptid/wind-tile-service/internal/adapter/tilestore"
	"github.com/couchcryptid/wind-tile-service/internal/config"
	"github.com/couchcryptid/wind-tile-service/internal/domain"
	"github.com/couchcryptid/wind-tile-service/internal/observability"
	"github.com/couchcryptid/wind-tile-service/internal/pipeline"
	"github.com/couchcryptid/wind-tile-service/internal/scheduler"
)

const historyFile = "history.db"

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.OTELEndpoint)
	if err != nil {
		logger.Error("tracing disabled", "error", err)
	}

	layout := tilestore.Layout{Root: cfg.DataDir}
	removed, err := tilestore.Sweep(layout, cfg.ScratchDir)
	if err != nil {
		logger.Warn("startup sweep incomplete", "error", err)
	}
	if len(removed) > 0 {
		logger.Info("removed leftovers from a previous run", "paths", removed)
	}

	stages := pipeline.Stages{
		Fetcher:   nomads.NewClient(cfg.FetchTimeout, cfg.FetchBreakerThreshold, cfg.FetchBreakerCooldown, logger),
		Converter: grib2json.NewConverter(cfg.Grib2JSONPath, cfg.ConvertTimeout, logger),
		Builder:   tilestore.NewBuilder(layout, cfg.MaxZoom, cfg.TileMaxPoints, cfg.Workers(), clock, logger),
		Publisher: tilestore.NewPublisher(layout, clock, logger),
	}

	var history *sqlite.Store
	if cfg.HistoryEnabled {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			logger.Error("failed to create data dir", "error", err)
			os.Exit(1)
		}
		history, err = sqlite.Open(filepath.Join(cfg.DataDir, historyFile))
		if err != nil {
			logger.Error("failed to open cycle history", "error", err)
			os.Exit(1)
		}
		stages.History = history
	}

	var notifier *kafkaadapter.Notifier
	if cfg.KafkaEnabled() {
		notifier = kafkaadapter.NewNotifier(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		stages.Notifier = notifier
		logger.Info("release notifications enabled", "topic", cfg.KafkaTopic)
	}

	p := pipeline.New(pipeline.Options{
		Selection:        cfg.Selection,
		Schedule:         domain.DefaultCatalog().Publication,
		Locator:          domain.Locator{BaseURL: cfg.NOMADSBaseURL, Resolution: cfg.GFSResolution},
		ScratchDir:       cfg.ScratchDir,
		FetchDelay:       cfg.FetchDelay,
		FetchConcurrency: cfg.FetchConcurrency,
		ConvertWorkers:   cfg.Workers(),
	}, stages, clock, logger, metrics)

	sched, err := scheduler.New(cfg.UpdateSchedule, p, logger)
	if err != nil {
		logger.Error("invalid update schedule", "error", err)
		os.Exit(1)
	}

	reader := tilestore.NewCachedReader(tilestore.NewReader(layout), cfg.TileCacheEntries, metrics)
	deps := httpadapter.Deps{
		Tiles:    reader,
		Runner:   p,
		Schedule: sched,
		Clock:    clock,
		Metrics:  metrics,
	}
	if history != nil {
		deps.History = history
	}
	srv := httpadapter.NewServer(httpadapter.Options{
		Addr:        cfg.HTTPAddr,
		Selection:   cfg.Selection,
		MaxZoom:     cfg.MaxZoom,
		CacheMaxAge: cfg.TileCacheMaxAge,
	}, deps, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	// Start recurring updates.
	if err := sched.Start(ctx); err != nil {
		logger.Error("scheduler error", "error", err)
		os.Exit(1)
	}

	if cfg.UpdateOnStart {
		if _, err := reader.Current(); errors.Is(err, domain.ErrNoData) {
			logger.Info("no published data, running initial update")
			go p.RunCycle(ctx, domain.TriggerStartup)
		}
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	sched.Stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := p.Wait(shutdownCtx); err != nil {
		logger.Error("update cycle still running at shutdown", "error", err)
	}
	if notifier != nil {
		if err := notifier.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}
	if history != nil {
		if err := history.Close(); err != nil {
			logger.Error("history close error", "error", err)
		}
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
}
