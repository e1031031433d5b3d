package httpserver

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/fairyhunter13/ai-interview-orchestrator/internal/domain"
	"github.com/fairyhunter13/ai-interview-orchestrator/internal/observability"
)

// RequireSystemKey guards machine-only routes with the X-System-Key header.
// authenticate must compare in constant time and reject everything when no
// key is configured.
func RequireSystemKey(authenticate func(presented string) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := r.Header.Get(SystemKeyHeader)
			if authenticate == nil || !authenticate(presented) {
				observability.SecurityEvent(r.Context(), "security.system_key_rejected",
					slog.String("path", r.URL.Path),
					slog.Bool("key_present", presented != ""))
				writeError(w, r, fmt.Errorf("%w: missing or invalid %s", domain.ErrAuthFailed, SystemKeyHeader), nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
