package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	obsadapter "github.com/fairyhunter13/ai-interview-orchestrator/internal/adapter/observability"
	"github.com/fairyhunter13/ai-interview-orchestrator/internal/config"
	"github.com/fairyhunter13/ai-interview-orchestrator/internal/domain"
	"github.com/fairyhunter13/ai-interview-orchestrator/internal/usecase"
)

// SystemKeyHeader carries the machine credential on callbacks and reviewer calls.
const SystemKeyHeader = "X-System-Key"

const maxBodyBytes = 1 << 20

// Provisioner stands up interview rooms.
type Provisioner interface {
	Provision(ctx context.Context, req usecase.ProvisionRequest) (usecase.ProvisionResult, error)
}

// Ingester applies analysis callbacks and owns the system key.
type Ingester interface {
	Ingest(ctx context.Context, presentedKey string, body []byte) (string, error)
	Authenticate(presented string) bool
}

// Reviewer records reviewer decisions.
type Reviewer interface {
	Decide(ctx context.Context, applicationID, decision string) (domain.ApplicationStatus, error)
}

// ApplicationReader reads an application with its latest session.
type ApplicationReader interface {
	Get(ctx context.Context, id string) (usecase.ApplicationView, error)
}

// Server aggregates handlers dependencies.
type Server struct {
	Cfg        config.Config
	Provision  Provisioner
	Ingest     Ingester
	Review     Reviewer
	Query      ApplicationReader
	DBCheck    func(ctx context.Context) error
	RedisCheck func(ctx context.Context) error
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// NewServer constructs an HTTP server with all handlers and checks wired.
func NewServer(cfg config.Config, prov Provisioner, ingest Ingester, review Reviewer, query ApplicationReader, dbCheck func(context.Context) error, redisCheck func(context.Context) error) *Server {
	return &Server{Cfg: cfg, Provision: prov, Ingest: ingest, Review: review, Query: query, DBCheck: dbCheck, RedisCheck: redisCheck}
}

// acceptsJSON rejects clients that cannot take a JSON response.
func acceptsJSON(w http.ResponseWriter, r *http.Request) bool {
	if a := r.Header.Get("Accept"); a != "" && a != "*/*" && !strings.Contains(a, "application/json") {
		writeJSON(w, http.StatusNotAcceptable, errorEnvelope{Error: apiError{Code: "INVALID_ARGUMENT", Message: "not acceptable", Details: map[string]any{"accept": a}}})
		return false
	}
	return true
}

// decodeAndValidate reads a capped JSON body into dst and runs struct
// validation, writing the 400 response itself on failure.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
		return false
	}
	if err := getValidator().Struct(dst); err != nil {
		verrs := map[string]string{}
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			for _, fe := range ve {
				verrs[strings.ToLower(fe.Field())] = fe.Tag()
			}
		}
		writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), verrs)
		return false
	}
	return true
}

type provisionRequest struct {
	JobID string `json:"jobId" validate:"required,max=128"`
	Phone string `json:"phone" validate:"required,min=8,max=64"`
	Name  string `json:"name" validate:"max=200"`
}

type provisionResponse struct {
	ApplicationID string    `json:"applicationId"`
	Token         string    `json:"token"`
	RoomName      string    `json:"roomName"`
	RoomCode      string    `json:"roomCode"`
	ExpiresAt     time.Time `json:"expiresAt"`
	Metadata      string    `json:"metadata"`
}

// ProvisionHandler creates an interview room and join token for a candidate.
func (s *Server) ProvisionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !acceptsJSON(w, r) {
			return
		}
		var req provisionRequest
		if !decodeAndValidate(w, r, &req) {
			return
		}
		res, err := s.Provision.Provision(r.Context(), usecase.ProvisionRequest{JobID: req.JobID, Phone: req.Phone, Name: req.Name})
		if err != nil {
			if !errors.Is(err, domain.ErrInvalidArgument) && !errors.Is(err, domain.ErrRateLimited) && !errors.Is(err, domain.ErrJobNotFound) {
				LoggerFrom(r).Error("provision failed", slog.String("job_id", req.JobID), slog.Any("error", err))
			}
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, provisionResponse{
			ApplicationID: res.ApplicationID,
			Token:         res.Token,
			RoomName:      res.RoomName,
			RoomCode:      res.RoomCode,
			ExpiresAt:     res.ExpiresAt,
			Metadata:      res.Metadata,
		})
	}
}

// AnalysisCallbackHandler applies an analysis result. Stale results are
// acknowledged with 202 and an "ignored" status so the sender stops retrying.
func (s *Server) AnalysisCallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			obsadapter.RecordAnalysis("http", "invalid")
			writeError(w, r, fmt.Errorf("%w: body: %v", domain.ErrInvalidPayload, err), nil)
			return
		}
		appID, err := s.Ingest.Ingest(r.Context(), r.Header.Get(SystemKeyHeader), body)
		switch {
		case err == nil:
			obsadapter.RecordAnalysis("http", "accepted")
			writeJSON(w, http.StatusAccepted, map[string]string{"applicationId": appID, "status": "accepted"})
		case errors.Is(err, domain.ErrStaleWrite):
			obsadapter.RecordAnalysis("http", "ignored")
			writeJSON(w, http.StatusAccepted, map[string]string{"applicationId": appID, "status": "ignored"})
		default:
			obsadapter.RecordAnalysis("http", analysisOutcome(err))
			if analysisOutcome(err) == "error" {
				LoggerFrom(r).Error("analysis callback failed", slog.String("application_id", appID), slog.Any("error", err))
			}
			writeError(w, r, err, nil)
		}
	}
}

func analysisOutcome(err error) string {
	switch {
	case errors.Is(err, domain.ErrAuthFailed):
		return "auth_failed"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrInvalidPayload):
		return "invalid"
	default:
		return "error"
	}
}

// DecisionHandler records the reviewer's decision on an analyzed application.
func (s *Server) DecisionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !acceptsJSON(w, r) {
			return
		}
		id := chi.URLParam(r, "id")
		if id == "" {
			writeError(w, r, fmt.Errorf("%w: id missing", domain.ErrInvalidArgument), nil)
			return
		}
		var req struct {
			Decision string `json:"decision" validate:"required,oneof=complete reject"`
		}
		if !decodeAndValidate(w, r, &req) {
			return
		}
		status, err := s.Review.Decide(r.Context(), id, req.Decision)
		if err != nil {
			writeError(w, r, err, map[string]string{"status": string(status)})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"applicationId": id, "status": string(status)})
	}
}

// SessionEnvelope is the latest session as shown to reviewers.
type SessionEnvelope struct {
	RoomName  string    `json:"roomName"`
	RoomCode  string    `json:"roomCode"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ApplicationEnvelope is the status endpoint body.
type ApplicationEnvelope struct {
	ID              string           `json:"id"`
	CandidateID     string           `json:"candidateId"`
	JobID           string           `json:"jobId"`
	Status          string           `json:"status"`
	Score           *float64         `json:"score,omitempty"`
	Result          json.RawMessage  `json:"resultPayload,omitempty"`
	Recommendations []string         `json:"recommendations"`
	AnalyzedAt      *time.Time       `json:"analyzedAt,omitempty"`
	UpdatedAt       time.Time        `json:"updatedAt"`
	Session         *SessionEnvelope `json:"session,omitempty"`
}

// BuildApplicationEnvelope shapes the status endpoint response.
func BuildApplicationEnvelope(v usecase.ApplicationView) ApplicationEnvelope {
	a := v.Application
	out := ApplicationEnvelope{
		ID:              a.ID,
		CandidateID:     a.CandidateID,
		JobID:           a.JobID,
		Status:          string(a.Status),
		Score:           a.Score,
		Recommendations: a.Recommendations,
		AnalyzedAt:      a.AnalyzedAt,
		UpdatedAt:       a.UpdatedAt,
	}
	if len(a.Result) > 0 {
		out.Result = a.Result
	}
	if out.Recommendations == nil {
		out.Recommendations = []string{}
	}
	if v.Session != nil {
		out.Session = &SessionEnvelope{
			RoomName:  v.Session.RoomName,
			RoomCode:  v.Session.RoomCode,
			CreatedAt: v.Session.CreatedAt,
			ExpiresAt: v.Session.ExpiresAt,
		}
	}
	return out
}

// ApplicationHandler returns an application's status, analysis and latest session.
func (s *Server) ApplicationHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !acceptsJSON(w, r) {
			return
		}
		id := chi.URLParam(r, "id")
		if id == "" {
			writeError(w, r, fmt.Errorf("%w: id missing", domain.ErrInvalidArgument), nil)
			return
		}
		view, err := s.Query.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, BuildApplicationEnvelope(view))
	}
}

// ReadyzHandler returns a readiness handler that probes DB and Redis.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		probes := []struct {
			name string
			fn   func(context.Context) error
		}{{"db", s.DBCheck}, {"redis", s.RedisCheck}}
		checks := make([]check, 0, len(probes))
		ok := true
		for _, p := range probes {
			if p.fn == nil {
				continue
			}
			if err := p.fn(ctx); err != nil {
				ok = false
				checks = append(checks, check{Name: p.name, OK: false, Details: err.Error()})
				continue
			}
			checks = append(checks, check{Name: p.name, OK: true})
		}
		st := http.StatusOK
		if !ok {
			st = http.StatusServiceUnavailable
		}
		writeJSON(w, st, map[string]any{"checks": checks})
	}
}

// OpenAPIServe serves api/openapi.yaml if present.
func (s *Server) OpenAPIServe() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := os.ReadFile("api/openapi.yaml")
		if err != nil {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(b)
	}
}
