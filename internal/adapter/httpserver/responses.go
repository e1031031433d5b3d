// Package httpserver contains HTTP handlers and middleware.
//
// It exposes the interview provisioning trigger, the analysis callback and
// the reviewer endpoints, and maps domain errors to HTTP responses in one
// place.
package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/fairyhunter13/ai-interview-orchestrator/internal/domain"
	"github.com/fairyhunter13/ai-interview-orchestrator/internal/usecase"
)

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, _ *http.Request, err error, details interface{}) {
	code := http.StatusInternalServerError
	codeStr := "INTERNAL"
	message := http.StatusText(http.StatusInternalServerError)
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		code = http.StatusNotFound
		codeStr = "JOB_NOT_FOUND"
	case errors.Is(err, domain.ErrNotFound):
		code = http.StatusNotFound
		codeStr = "NOT_FOUND"
	case errors.Is(err, domain.ErrAuthFailed):
		code = http.StatusUnauthorized
		codeStr = "UNAUTHORIZED"
	case errors.Is(err, domain.ErrInvalidPayload):
		code = http.StatusUnprocessableEntity
		codeStr = "INVALID_PAYLOAD"
	case errors.Is(err, domain.ErrInvalidArgument):
		code = http.StatusBadRequest
		codeStr = "INVALID_ARGUMENT"
	case errors.Is(err, domain.ErrRateLimited):
		code = http.StatusTooManyRequests
		codeStr = "RATE_LIMITED"
		var rl *usecase.RateLimitError
		if errors.As(err, &rl) && rl.RetryAfter > 0 {
			secs := int((rl.RetryAfter + 999_999_999) / 1_000_000_000)
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
	case errors.Is(err, domain.ErrProviderUnavailable):
		code = http.StatusServiceUnavailable
		codeStr = "PROVIDER_UNAVAILABLE"
	case errors.Is(err, domain.ErrStaleWrite):
		code = http.StatusConflict
		codeStr = "STALE_WRITE"
	case errors.Is(err, domain.ErrConflict):
		code = http.StatusConflict
		codeStr = "CONFLICT"
	}
	// Internal failures keep their detail in the logs only.
	if code != http.StatusInternalServerError {
		message = err.Error()
	}
	writeJSON(w, code, errorEnvelope{Error: apiError{Code: codeStr, Message: message, Details: details}})
}
