// Command jobseed loads the job posting catalog into Postgres.
//
// Usage: jobseed [path]. Without an argument JOB_CATALOG_PATH is used.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/fairyhunter13/ai-interview-orchestrator/internal/adapter/observability"
	"github.com/fairyhunter13/ai-interview-orchestrator/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/ai-interview-orchestrator/internal/config"
	"github.com/fairyhunter13/ai-interview-orchestrator/internal/jobseed"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}
	slog.SetDefault(observability.SetupLogger(cfg))

	path := cfg.JobCatalogPath
	if len(os.Args) > 1 && os.Args[1] != "" {
		path = os.Args[1]
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("database connection failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	if err := postgres.Migrate(ctx, pool); err != nil {
		slog.Error("db migrate failed", slog.Any("error", err))
		os.Exit(1)
	}

	n, err := jobseed.SeedFile(ctx, postgres.NewJobPostingRepo(pool), path)
	if err != nil {
		slog.Error("job catalog seed failed", slog.String("path", path), slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("job catalog seeded", slog.String("path", path), slog.Int("jobs", n))
}
