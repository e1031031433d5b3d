package app

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/ai-interview-orchestrator/internal/adapter/observability"
)

// StaleMarker moves abandoned interviews to STALE.
type StaleMarker interface {
	MarkStale(ctx context.Context, cutoff time.Time) ([]string, error)
}

// StaleSweeper periodically marks IN_PROGRESS applications older than the
// stale timeout as STALE. STALE still accepts a late analysis.
type StaleSweeper struct {
	apps         StaleMarker
	staleTimeout time.Duration
	interval     time.Duration
	now          func() time.Time
}

func NewStaleSweeper(apps StaleMarker, staleTimeout, interval time.Duration) *StaleSweeper {
	if apps == nil {
		return nil
	}
	if staleTimeout <= 0 {
		staleTimeout = 2 * time.Hour
	}
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &StaleSweeper{
		apps:         apps,
		staleTimeout: staleTimeout,
		interval:     interval,
		now:          time.Now,
	}
}

func (s *StaleSweeper) Run(ctx context.Context) {
	if s == nil || s.apps == nil {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.SweepOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("stale sweeper stopping")
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single reconciliation pass and returns the ids it marked.
func (s *StaleSweeper) SweepOnce(ctx context.Context) []string {
	tracer := otel.Tracer("applications.sweeper")
	ctx, span := tracer.Start(ctx, "StaleSweeper.SweepOnce")
	defer span.End()

	cutoff := s.now().Add(-s.staleTimeout)
	span.SetAttributes(attribute.Float64("applications.stale_timeout_seconds", s.staleTimeout.Seconds()))

	ids, err := s.apps.MarkStale(ctx, cutoff)
	if err != nil {
		span.RecordError(err)
		slog.Error("stale sweep failed", slog.Time("cutoff", cutoff), slog.Any("error", err))
		return nil
	}
	for _, id := range ids {
		observability.RecordStale()
		slog.Info("application marked stale",
			slog.String("application_id", id),
			slog.Duration("stale_timeout", s.staleTimeout))
	}
	span.SetAttributes(attribute.Int("applications.marked_stale", len(ids)))
	return ids
}
