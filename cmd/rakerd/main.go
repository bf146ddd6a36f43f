package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielbchen/raker/internal/api"
	"github.com/danielbchen/raker/internal/config"
	"github.com/danielbchen/raker/internal/events"
	"github.com/danielbchen/raker/internal/store"
	"github.com/danielbchen/raker/internal/worker"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	db, err := store.Open(ctx, store.Driver(cfg.Database.Driver), cfg.Database.URL)
	if err != nil {
		logger.Error("failed to open store", "driver", cfg.Database.Driver, "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("store ready", "driver", cfg.Database.Driver)

	// NATS (optional)
	var eventsClient events.Client
	if cfg.NATS.URL != "" {
		nc, err := events.NewNATSClient(ctx, cfg.NATS.URL, logger)
		if err != nil {
			logger.Warn("failed to connect to nats, running without events", "error", err)
		} else {
			eventsClient = nc
			defer nc.Close()
			logger.Info("connected to nats")
		}
	}

	// Worker
	w := worker.New(db, eventsClient, cfg, logger)
	w.Start(ctx)
	defer w.Stop()
	logger.Info("worker started",
		"tick_interval", cfg.TickInterval(),
		"max_concurrent_runs", cfg.Worker.MaxConcurrentRuns,
	)

	// Run requests over NATS become pending runs
	w.SetupSubscriptions()

	// API server
	router := api.NewRouter(db, eventsClient, cfg, logger)
	apiServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Metrics server
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler: api.NewMetricsRouter(),
	}

	go func() {
		logger.Info("API server starting", "port", cfg.Server.Port)
		if err := apiServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("API server error", "error", err)
		}
	}()

	go func() {
		logger.Info("metrics server starting", "port", cfg.Server.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = apiServer.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)
	// w.Stop() runs via defer: cancel() has already interrupted in-flight
	// runs, Stop waits while they persist their partial state

	logger.Info("shutdown complete")
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
