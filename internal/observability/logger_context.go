// Package observability carries request-scoped logging through context.
package observability

import (
	"context"
	"log/slog"
)

type loggerContextKey struct{}

// requestIDContextKey holds the originating request_id so that background
// consumers and use cases can correlate their logs with the HTTP request.
type requestIDContextKey struct{}

// ContextWithLogger attaches a non-nil logger to the context.
func ContextWithLogger(ctx context.Context, lg *slog.Logger) context.Context {
	if ctx == nil || lg == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerContextKey{}, lg)
}

// LoggerFromContext returns the logger stored in the context or the default
// slog logger when none is present.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return slog.Default()
	}
	if v := ctx.Value(loggerContextKey{}); v != nil {
		if lg, ok := v.(*slog.Logger); ok && lg != nil {
			return lg
		}
	}
	return slog.Default()
}

// WithLogAttrs derives the context logger with extra attributes, e.g. the
// application_id once a use case has resolved it.
func WithLogAttrs(ctx context.Context, attrs ...any) (context.Context, *slog.Logger) {
	lg := LoggerFromContext(ctx).With(attrs...)
	return ContextWithLogger(ctx, lg), lg
}

// ContextWithRequestID stores a non-empty request_id in the context.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	if ctx == nil || requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDContextKey{}, requestID)
}

// RequestIDFromContext retrieves the request_id from the context, or an empty
// string when none is present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v := ctx.Value(requestIDContextKey{}); v != nil {
		if rid, ok := v.(string); ok {
			return rid
		}
	}
	return ""
}

// SecurityEvent logs a rejected machine credential at WARN. The presented
// secret is never logged.
func SecurityEvent(ctx context.Context, event string, attrs ...any) {
	args := append([]any{slog.String("event", event)}, attrs...)
	LoggerFromContext(ctx).Warn("security event", args...)
}
