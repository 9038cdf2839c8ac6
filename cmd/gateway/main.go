// gateway is the HTTP API server that accepts generation jobs and runs their
// pipelines in a background worker pool.
package main

import (
	"context"
	"errors"
	"log/slog"
	"multimodal/internal/api"
	"multimodal/internal/config"
	"multimodal/internal/dispatcher"
	"multimodal/internal/health"
	"multimodal/internal/job"
	"multimodal/internal/jobstore"
	"multimodal/internal/notify"
	"multimodal/internal/observability"
	"multimodal/internal/pipeline"
	"multimodal/internal/storage"
	"multimodal/internal/worker"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	config.LoadDotEnv()
	svcCfg := config.LoadServiceConfig()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: svcCfg.LogLevel})))

	if err := run(svcCfg); err != nil {
		slog.Error("Service failed", "error", err)
		os.Exit(1)
	}
}

func run(svcCfg *config.ServiceConfig) error {
	ctx := context.Background()

	// Setup metrics
	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		return err
	}

	// Artifact storage
	artifacts, err := storage.NewLocal(storage.LoadConfigFromEnv())
	if err != nil {
		return err
	}

	// Job store
	store, err := jobstore.Open(ctx, jobstore.LoadConfigFromEnv())
	if err != nil {
		return err
	}
	defer store.Close()

	// Provider adapters
	registry := worker.NewRegistry(worker.LoadConfigFromEnv(), artifacts, metrics)
	slog.Info("Adapters configured", "adapters", registry.Names())

	// Execution: router, executor and the pool that drives it
	notifier := notify.New(notify.LoadConfigFromEnv(), metrics)
	executor := pipeline.NewExecutor(store, pipeline.NewRouter(registry), notifier, metrics)
	pool := dispatcher.NewPool(dispatcher.LoadConfigFromEnv(), executor.Execute, metrics)

	healthChecker := health.NewChecker(store, registry)
	jobService := job.NewService(store, pool, metrics, artifacts.Prefix())

	router := api.NewRouter(api.RouterConfig{
		JobService:    jobService,
		Metrics:       metrics,
		HealthChecker: healthChecker,
		Artifacts:     artifacts.Handler(),
		StoragePrefix: artifacts.Prefix(),
	})

	// Create API server
	apiServer := &http.Server{
		Addr:         ":" + svcCfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Create metrics server
	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", metricsHandler)
	metricsServer := &http.Server{
		Addr:         ":" + svcCfg.MetricsPort,
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// Channel to capture server errors
	serverErr := make(chan error, 2)

	go func() {
		slog.Info("Starting API server", "port", svcCfg.Port)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	go func() {
		slog.Info("Starting metrics server", "port", svcCfg.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// shutdown closes both servers gracefully
	shutdown := func(timeout time.Duration) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server shutdown error", "error", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server shutdown error", "error", err)
		}
	}

	// Wait for interrupt signal or server error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("Received shutdown signal", "signal", sig)
	case err := <-serverErr:
		slog.Error("Server failed to start", "error", err)
		shutdown(5 * time.Second)
		closePool(pool, 5*time.Second)
		return err
	}

	// Phase 1: Mark service as unhealthy for load balancer draining
	healthChecker.SetShuttingDown()

	if svcCfg.ShutdownDrainWait > 0 {
		slog.Info("Waiting for traffic to drain", "duration", svcCfg.ShutdownDrainWait)
		time.Sleep(svcCfg.ShutdownDrainWait)
	}

	// Phase 2: Stop accepting new connections, finish in-flight requests
	slog.Info("Starting graceful shutdown")
	shutdown(25 * time.Second)

	// Phase 3: Drain the job pool. Jobs still queued or running when the
	// deadline passes keep their last stored status.
	slog.Info("Draining job pool")
	closePool(pool, svcCfg.PoolDrainTimeout)

	slog.Info("Shutdown complete")
	return nil
}

func closePool(pool *dispatcher.Pool, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := pool.Close(ctx); err != nil {
		slog.Warn("Job pool shutdown error", "error", err)
	}

	stats := pool.Stats()
	slog.Info("Job pool stats",
		"completed", stats.Completed,
		"failed", stats.Failed,
		"dropped", stats.Dropped,
		"abandoned", stats.InFlight,
	)
}
