// Package main provides the worker entry point.
// The worker applies analysis results published to Redpanda and sweeps
// abandoned interviews to STALE.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fairyhunter13/ai-interview-orchestrator/internal/adapter/observability"
	"github.com/fairyhunter13/ai-interview-orchestrator/internal/adapter/queue/redpanda"
	"github.com/fairyhunter13/ai-interview-orchestrator/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/ai-interview-orchestrator/internal/app"
	"github.com/fairyhunter13/ai-interview-orchestrator/internal/config"
	"github.com/fairyhunter13/ai-interview-orchestrator/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	// The worker has no API router, so metrics get their own listener.
	observability.InitMetrics()
	metricsSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler:           metricsMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("worker metrics server error", slog.Any("error", err))
		}
	}()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	slog.Info("starting worker", slog.String("env", cfg.AppEnv))
	if !cfg.CallbackKeyConfigured() {
		slog.Warn("SYSTEM_API_KEY not set; every analysis record will be rejected")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("database connection failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	appRepo := postgres.NewApplicationRepo(pool)
	ingestSvc := usecase.NewIngestService(appRepo, cfg.SystemAPIKey)

	consumer, err := redpanda.NewConsumer(cfg.KafkaBrokers, cfg.AnalysisConsumerGroup, cfg.AnalysisTopic, ingestSvc, cfg.GetRetryConfig())
	if err != nil {
		slog.Error("consumer init failed", slog.Any("error", err))
		os.Exit(1)
	}

	if sweeper := app.NewStaleSweeper(appRepo, cfg.StaleTimeout, cfg.SweepInterval); sweeper != nil {
		go sweeper.Run(ctx)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
		cancel()
	}()

	runErr := consumer.Run(ctx)

	shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer stop()
	_ = metricsSrv.Shutdown(shutdownCtx)

	if runErr != nil {
		slog.Error("consumer stopped with error", slog.Any("error", runErr))
		os.Exit(1)
	}
	slog.Info("worker stopped")
}

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}
