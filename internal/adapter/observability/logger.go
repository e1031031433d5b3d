package observability

import (
	"io"
	"log/slog"
	"os"

	"github.com/fairyhunter13/ai-interview-orchestrator/internal/config"
)

// SetupLogger configures a JSON slog logger on stdout with environment fields.
func SetupLogger(cfg config.Config) *slog.Logger {
	return NewLogger(cfg, os.Stdout)
}

// NewLogger builds the service logger writing JSON to w. Dev runs at debug
// level; everything else at info.
func NewLogger(cfg config.Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{}
	if cfg.IsDev() {
		opts.Level = slog.LevelDebug
	}
	h := slog.NewJSONHandler(w, opts)
	return slog.New(h).With(
		slog.String("service", cfg.OTELServiceName),
		slog.String("env", cfg.AppEnv),
	)
}
