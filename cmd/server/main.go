// Command server starts the interview orchestrator HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	httpserver "github.com/fairyhunter13/ai-interview-orchestrator/internal/adapter/httpserver"
	"github.com/fairyhunter13/ai-interview-orchestrator/internal/adapter/observability"
	"github.com/fairyhunter13/ai-interview-orchestrator/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/ai-interview-orchestrator/internal/adapter/roomprovider/livekit"
	"github.com/fairyhunter13/ai-interview-orchestrator/internal/app"
	"github.com/fairyhunter13/ai-interview-orchestrator/internal/config"
	"github.com/fairyhunter13/ai-interview-orchestrator/internal/jobseed"
	"github.com/fairyhunter13/ai-interview-orchestrator/internal/service/ratelimiter"
	"github.com/fairyhunter13/ai-interview-orchestrator/internal/usecase"
)

// redisPinger adapts *redis.Client to app.RedisClient.
type redisPinger struct{ c *redis.Client }

func (r redisPinger) Ping(ctx context.Context) app.RedisPingResult { return r.c.Ping(ctx) }

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	if !cfg.CallbackKeyConfigured() {
		slog.Warn("SYSTEM_API_KEY not set; analysis callbacks and reviewer endpoints will reject every request")
	}
	if !cfg.ProviderConfigured() {
		slog.Warn("LiveKit credentials incomplete; provisioning will fail with provider unavailable")
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()
	if err := postgres.Migrate(ctx, pool); err != nil {
		slog.Error("db migrate failed", slog.Any("error", err))
		os.Exit(1)
	}

	candRepo := postgres.NewCandidateRepo(pool)
	jobRepo := postgres.NewJobPostingRepo(pool)
	appRepo := postgres.NewApplicationRepo(pool)
	sessRepo := postgres.NewSessionRepo(pool)

	if cfg.IsDev() && cfg.JobCatalogPath != "" {
		if _, statErr := os.Stat(cfg.JobCatalogPath); statErr == nil {
			n, err := jobseed.SeedFile(ctx, jobRepo, cfg.JobCatalogPath)
			if err != nil {
				slog.Warn("job catalog seed failed", slog.String("path", cfg.JobCatalogPath), slog.Any("error", err))
			} else {
				slog.Info("job catalog seeded", slog.String("path", cfg.JobCatalogPath), slog.Int("jobs", n))
			}
		}
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", slog.Any("error", err))
			os.Exit(1)
		}
		rdb = redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()
	}
	var throttle usecase.Throttle
	if limiter := ratelimiter.NewRedisLuaLimiter(rdb, map[string]ratelimiter.BucketConfig{
		ratelimiter.BucketProvision: ratelimiter.NewBucketConfigFromPerMinute(cfg.ProvisionRatePerMin),
	}); limiter != nil {
		throttle = limiter
	}

	rooms := livekit.New(cfg)

	provisionSvc := usecase.NewProvisionService(jobRepo, candRepo, appRepo, sessRepo, rooms, throttle, usecase.ProvisionConfig{
		MaxParticipants: cfg.RoomMaxParticipants,
		EmptyTimeout:    cfg.RoomEmptyTimeout,
		MaxAttempts:     cfg.RoomNameMaxAttempts,
	})
	ingestSvc := usecase.NewIngestService(appRepo, cfg.SystemAPIKey)
	reviewSvc := usecase.NewReviewService(appRepo)
	querySvc := usecase.NewApplicationQuery(appRepo, sessRepo)

	if cfg.DataRetentionDays > 0 {
		cleanupSvc := postgres.NewCleanupService(pool, cfg.DataRetentionDays)
		go cleanupSvc.RunPeriodic(ctx, cfg.CleanupInterval)
		slog.Info("cleanup service started", slog.Int("retention_days", cfg.DataRetentionDays), slog.Duration("interval", cfg.CleanupInterval))
	}
	if sweeper := app.NewStaleSweeper(appRepo, cfg.StaleTimeout, cfg.SweepInterval); sweeper != nil {
		go sweeper.Run(ctx)
	}

	var redisClient app.RedisClient
	if rdb != nil {
		redisClient = redisPinger{rdb}
	}
	dbCheck, redisCheck := app.BuildReadinessChecks(pool, redisClient)

	srv := httpserver.NewServer(cfg, provisionSvc, ingestSvc, reviewSvc, querySvc, dbCheck, redisCheck)
	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
