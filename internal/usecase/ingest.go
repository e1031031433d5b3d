package usecase

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	obsadapter "github.com/fairyhunter13/ai-interview-orchestrator/internal/adapter/observability"
	"github.com/fairyhunter13/ai-interview-orchestrator/internal/domain"
	"github.com/fairyhunter13/ai-interview-orchestrator/internal/observability"
)

const resultSchemaURL = "analysis-result.json"

// resultSchema is the shape the analysis worker agrees to send as resultPayload.
const resultSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["summary", "strengths", "weaknesses"],
  "properties": {
    "summary":    {"type": "string", "minLength": 1, "pattern": "\\S"},
    "strengths":  {"type": "array", "items": {"type": "string"}},
    "weaknesses": {"type": "array", "items": {"type": "string"}}
  }
}`

var compiledResultSchema = jsonschema.MustCompileString(resultSchemaURL, resultSchema)

// AnalysisCallback is the body posted (or published) by the analysis worker.
type AnalysisCallback struct {
	ApplicationID   string          `json:"applicationId" validate:"required,max=64"`
	Score           *float64        `json:"score" validate:"required,gte=0,lte=100"`
	ResultPayload   json.RawMessage `json:"resultPayload" validate:"required"`
	Recommendations []string        `json:"recommendations" validate:"omitempty,max=50,dive,max=2000"`
	AnalyzedAt      *time.Time      `json:"analyzedAt,omitempty"`
}

// IngestService applies analysis results delivered over HTTP or Kafka.
type IngestService struct {
	Apps      domain.ApplicationRepository
	systemKey string
	validate  *validator.Validate
	now       func() time.Time
}

// NewIngestService constructs an IngestService. An empty systemKey rejects
// every callback.
func NewIngestService(apps domain.ApplicationRepository, systemKey string) *IngestService {
	return &IngestService{
		Apps:      apps,
		systemKey: strings.TrimSpace(systemKey),
		validate:  validator.New(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the receipt time source.
func (s *IngestService) WithClock(now func() time.Time) *IngestService {
	s.now = now
	return s
}

// Authenticate compares presented against the configured key in constant time.
func (s *IngestService) Authenticate(presented string) bool {
	if s.systemKey == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(s.systemKey)) == 1
}

// Ingest authenticates, validates and applies one callback body. It returns
// the application id it addressed (when decodable) and nil on acceptance.
// domain.ErrStaleWrite means the result was older than what is stored or the
// application already moved past ANALYZED; callers accept and ignore it.
func (s *IngestService) Ingest(ctx domain.Context, presentedKey string, body []byte) (string, error) {
	tracer := otel.Tracer("usecase.ingest")
	ctx, span := tracer.Start(ctx, "IngestService.Ingest")
	defer span.End()

	if !s.Authenticate(presentedKey) {
		observability.SecurityEvent(ctx, "security.callback_auth_failed",
			slog.Bool("key_present", presentedKey != ""))
		return "", fmt.Errorf("op=ingest.auth: %w", domain.ErrAuthFailed)
	}

	cb, err := s.decode(body)
	if err != nil {
		return cb.ApplicationID, err
	}
	span.SetAttributes(attribute.String("application.id", cb.ApplicationID))
	ctx, lg := observability.WithLogAttrs(ctx, slog.String("application_id", cb.ApplicationID))

	analyzedAt := s.now()
	if cb.AnalyzedAt != nil {
		analyzedAt = cb.AnalyzedAt.UTC()
	}

	app, err := s.Apps.Get(ctx, cb.ApplicationID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			lg.Warn("analysis callback for unknown application")
		}
		return cb.ApplicationID, fmt.Errorf("op=ingest.load: %w", err)
	}
	if !domain.CanTransition(app.Status, domain.StatusAnalyzed) {
		lg.Info("analysis ignored, status does not accept analysis", slog.String("status", string(app.Status)))
		return cb.ApplicationID, fmt.Errorf("op=ingest.guard: %w: status %s", domain.ErrStaleWrite, app.Status)
	}
	if app.AnalyzedAt != nil && !analyzedAt.After(*app.AnalyzedAt) {
		lg.Info("analysis ignored, not newer than stored",
			slog.Time("analyzed_at", analyzedAt),
			slog.Time("stored_analyzed_at", *app.AnalyzedAt))
		return cb.ApplicationID, fmt.Errorf("op=ingest.guard: %w: analyzedAt not newer", domain.ErrStaleWrite)
	}

	applied, err := s.Apps.ApplyAnalysis(ctx, domain.AnalysisResult{
		ApplicationID:   cb.ApplicationID,
		Score:           *cb.Score,
		Payload:         cb.ResultPayload,
		Recommendations: cb.Recommendations,
		AnalyzedAt:      analyzedAt,
	}, domain.SourcesOf(domain.StatusAnalyzed))
	if err != nil {
		span.RecordError(err)
		return cb.ApplicationID, fmt.Errorf("op=ingest.apply: %w", err)
	}
	if !applied {
		// A concurrent writer won between the read and the conditional update.
		lg.Info("analysis ignored, lost race to a newer write")
		return cb.ApplicationID, fmt.Errorf("op=ingest.apply: %w", domain.ErrStaleWrite)
	}

	obsadapter.ObserveAnalysisScore(*cb.Score)
	lg.Info("analysis applied",
		slog.String("from_status", string(app.Status)),
		slog.Float64("score", *cb.Score),
		slog.Time("analyzed_at", analyzedAt))
	return cb.ApplicationID, nil
}

// decode parses and validates the envelope and the result payload shape.
func (s *IngestService) decode(body []byte) (AnalysisCallback, error) {
	var cb AnalysisCallback
	if err := json.Unmarshal(body, &cb); err != nil {
		return AnalysisCallback{}, fmt.Errorf("%w: malformed body: %v", domain.ErrInvalidPayload, err)
	}
	if err := s.validate.Struct(cb); err != nil {
		return cb, fmt.Errorf("%w: %s", domain.ErrInvalidPayload, validationSummary(err))
	}
	dec := json.NewDecoder(bytes.NewReader(cb.ResultPayload))
	dec.UseNumber()
	var payload any
	if err := dec.Decode(&payload); err != nil {
		return cb, fmt.Errorf("%w: resultPayload: %v", domain.ErrInvalidPayload, err)
	}
	if err := compiledResultSchema.Validate(payload); err != nil {
		return cb, fmt.Errorf("%w: resultPayload: %v", domain.ErrInvalidPayload, err)
	}
	return cb, nil
}

func validationSummary(err error) string {
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return err.Error()
	}
	parts := make([]string, 0, len(ves))
	for _, fe := range ves {
		parts = append(parts, fe.Field()+" failed "+fe.Tag())
	}
	return strings.Join(parts, "; ")
}
