// Package usecase contains application business logic services.
package usecase

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	obsadapter "github.com/fairyhunter13/ai-interview-orchestrator/internal/adapter/observability"
	"github.com/fairyhunter13/ai-interview-orchestrator/internal/domain"
	"github.com/fairyhunter13/ai-interview-orchestrator/internal/identity"
	"github.com/fairyhunter13/ai-interview-orchestrator/internal/observability"
	"github.com/fairyhunter13/ai-interview-orchestrator/pkg/textx"
)

const (
	provisionBucket  = "provision"
	roomNamePrefix   = "interview-"
	candidatePrefix  = 8
	roomCodePhoneLen = 6
)

// CandidateResolver finds the job-scoped candidate for a raw phone.
type CandidateResolver interface {
	Resolve(ctx domain.Context, jobID, rawPhone string) (domain.Candidate, error)
}

// Throttle is the rate limiter consulted before provisioning.
type Throttle interface {
	Allow(ctx domain.Context, bucket, subject string, cost int64) (bool, time.Duration, error)
}

// RateLimitError reports an exhausted throttle with the suggested wait.
type RateLimitError struct{ RetryAfter time.Duration }

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%v: retry after %s", domain.ErrRateLimited, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return domain.ErrRateLimited }

// ProvisionRequest is the provisioning trigger.
type ProvisionRequest struct {
	JobID string
	Phone string
	Name  string
}

// ProvisionResult is what the caller hands to the candidate's client.
type ProvisionResult struct {
	ApplicationID string
	SessionID     string
	Token         string
	RoomName      string
	RoomCode      string
	ExpiresAt     time.Time
	Metadata      string
}

// ProvisionConfig holds room sizing and retry bounds.
type ProvisionConfig struct {
	MaxParticipants int
	EmptyTimeout    time.Duration
	MaxAttempts     int
}

// ProvisionService stands up an interview room for a (job, phone) pair.
type ProvisionService struct {
	Jobs       domain.JobPostingRepository
	Candidates domain.CandidateRepository
	Apps       domain.ApplicationRepository
	Sessions   domain.SessionRepository
	Rooms      domain.RoomProvider
	Resolver   CandidateResolver
	Throttle   Throttle
	Config     ProvisionConfig

	now     func() time.Time
	entropy io.Reader
}

// NewProvisionService constructs a ProvisionService. throttle may be nil.
func NewProvisionService(
	jobs domain.JobPostingRepository,
	candidates domain.CandidateRepository,
	apps domain.ApplicationRepository,
	sessions domain.SessionRepository,
	rooms domain.RoomProvider,
	throttle Throttle,
	cfg ProvisionConfig,
) *ProvisionService {
	if cfg.MaxParticipants <= 0 {
		cfg.MaxParticipants = 2
	}
	if cfg.EmptyTimeout <= 0 {
		cfg.EmptyTimeout = 30 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return &ProvisionService{
		Jobs:       jobs,
		Candidates: candidates,
		Apps:       apps,
		Sessions:   sessions,
		Rooms:      rooms,
		Resolver:   identity.NewResolver(candidates),
		Throttle:   throttle,
		Config:     cfg,
		now:        func() time.Time { return time.Now().UTC() },
		entropy:    rand.Reader,
	}
}

// WithClock overrides the time source.
func (s *ProvisionService) WithClock(now func() time.Time) *ProvisionService {
	s.now = now
	return s
}

// Provision resolves or creates the candidate and application, creates a
// provider room, mints the join token and records the session. Provider
// failures surface as domain.ErrProviderUnavailable after the candidate and
// application rows are stored, so a retry converges on the same rows.
func (s *ProvisionService) Provision(ctx domain.Context, req ProvisionRequest) (ProvisionResult, error) {
	tracer := otel.Tracer("usecase.provision")
	ctx, span := tracer.Start(ctx, "ProvisionService.Provision")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", req.JobID))

	ctx, lg := observability.WithLogAttrs(ctx, slog.String("job_id", req.JobID))

	in := identity.Normalize(req.Phone)
	if strings.TrimSpace(req.JobID) == "" || !in.Usable() {
		obsadapter.RecordProvision("invalid")
		return ProvisionResult{}, fmt.Errorf("%w: jobId and a phone with at least %d digits are required", domain.ErrInvalidArgument, identity.MinDigits)
	}

	if s.Throttle != nil {
		allowed, retryAfter, err := s.Throttle.Allow(ctx, provisionBucket, req.JobID+":"+in.Digits, 1)
		if err != nil {
			lg.Warn("provision throttle unavailable, allowing", slog.Any("error", err))
		}
		if !allowed {
			obsadapter.RecordProvision("rate_limited")
			return ProvisionResult{}, fmt.Errorf("op=provision.throttle: %w", &RateLimitError{RetryAfter: retryAfter})
		}
	}

	job, err := s.Jobs.Get(ctx, req.JobID)
	if err != nil {
		obsadapter.RecordProvision("job_not_found")
		return ProvisionResult{}, fmt.Errorf("op=provision.job: %w", err)
	}

	cand, err := s.candidate(ctx, req.JobID, in, textx.SanitizeLine(req.Name))
	if err != nil {
		obsadapter.RecordProvision("error")
		return ProvisionResult{}, err
	}
	ctx, lg = observability.WithLogAttrs(ctx, slog.String("candidate_id", cand.ID))

	app, err := s.application(ctx, cand.ID, job.ID)
	if err != nil {
		obsadapter.RecordProvision("error")
		return ProvisionResult{}, err
	}
	span.SetAttributes(attribute.String("application.id", app.ID))
	ctx, lg = observability.WithLogAttrs(ctx, slog.String("application_id", app.ID))

	metadata, err := domain.NewSessionMetadata(cand, job, app.ID).Encode()
	if err != nil {
		obsadapter.RecordProvision("error")
		return ProvisionResult{}, err
	}

	res, err := s.openSession(ctx, cand, app, metadata)
	if err != nil {
		if errors.Is(err, domain.ErrProviderUnavailable) {
			obsadapter.RecordProvision("provider_unavailable")
		} else {
			obsadapter.RecordProvision("error")
		}
		span.RecordError(err)
		return ProvisionResult{}, err
	}

	if _, err := s.Apps.Transition(ctx, app.ID, domain.SourcesOf(domain.StatusInProgress), domain.StatusInProgress); err != nil {
		obsadapter.RecordProvision("error")
		return ProvisionResult{}, fmt.Errorf("op=provision.transition: %w", err)
	}

	obsadapter.RecordProvision("ok")
	lg.Info("interview provisioned",
		slog.String("room_name", res.RoomName),
		slog.String("session_id", res.SessionID),
		slog.Time("expires_at", res.ExpiresAt))
	return res, nil
}

// candidate resolves the job-scoped candidate or creates one keyed by the
// normalized phone, then records the raw phone and a better name.
func (s *ProvisionService) candidate(ctx domain.Context, jobID string, in identity.Input, name string) (domain.Candidate, error) {
	c, err := s.Resolver.Resolve(ctx, jobID, in.Raw)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		c, err = s.Candidates.Upsert(ctx, domain.Candidate{Phone: in.Digits, Name: name, PhoneVariants: []string{in.Raw}})
		if err != nil {
			return domain.Candidate{}, fmt.Errorf("op=provision.candidate: %w", err)
		}
	case err != nil:
		return domain.Candidate{}, fmt.Errorf("op=provision.candidate: %w", err)
	}

	newName := ""
	if betterName(name, c.Name) {
		newName = name
	}
	variant := ""
	if in.Raw != "" && !contains(c.PhoneVariants, in.Raw) {
		variant = in.Raw
	}
	if newName == "" && variant == "" {
		return c, nil
	}
	if err := s.Candidates.Touch(ctx, c.ID, newName, variant); err != nil {
		return domain.Candidate{}, fmt.Errorf("op=provision.candidate_touch: %w", err)
	}
	if newName != "" {
		c.Name = newName
	}
	if variant != "" {
		c.PhoneVariants = append(c.PhoneVariants, variant)
	}
	return c, nil
}

// application reuses the active application or creates a SCHEDULED one.
func (s *ProvisionService) application(ctx domain.Context, candidateID, jobID string) (domain.Application, error) {
	app, err := s.Apps.FindActive(ctx, candidateID, jobID)
	if err == nil {
		return app, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Application{}, fmt.Errorf("op=provision.application: %w", err)
	}
	app, err = s.Apps.CreateScheduled(ctx, candidateID, jobID)
	if err != nil {
		return domain.Application{}, fmt.Errorf("op=provision.application: %w", err)
	}
	return app, nil
}

// openSession allocates a unique room, mints the token and stores the
// session. Name collisions at the provider or in the store move on to the
// next attempt; any other provider failure aborts.
func (s *ProvisionService) openSession(ctx domain.Context, c domain.Candidate, app domain.Application, metadata string) (ProvisionResult, error) {
	lg := observability.LoggerFromContext(ctx)
	now := s.now()
	base, err := RoomName(c.ID, now, s.entropy)
	if err != nil {
		return ProvisionResult{}, fmt.Errorf("op=provision.room_name: %w", err)
	}
	for attempt := 0; attempt < s.Config.MaxAttempts; attempt++ {
		name := base
		if attempt > 0 {
			name = base + "-" + strconv.Itoa(attempt)
		}
		code := RoomCode(c.Phone, now, attempt)

		// The name and code are reserved in the store first so a collision
		// there never leaves a room behind at the provider.
		sess := domain.InterviewSession{
			ApplicationID: app.ID,
			RoomName:      name,
			RoomCode:      code,
			CreatedAt:     now,
			ExpiresAt:     now.Add(s.Config.EmptyTimeout),
		}
		id, err := s.Sessions.Create(ctx, sess)
		if errors.Is(err, domain.ErrConflict) {
			obsadapter.RecordRoomCollision("store")
			lg.Warn("room name or code already recorded", slog.String("room_name", name), slog.String("room_code", code), slog.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return ProvisionResult{}, fmt.Errorf("op=provision.session: %w", err)
		}

		if _, err := s.Rooms.CreateRoom(ctx, domain.RoomSpec{
			Name:            name,
			MaxParticipants: s.Config.MaxParticipants,
			EmptyTimeout:    s.Config.EmptyTimeout,
			Metadata:        metadata,
		}); err != nil {
			s.release(ctx, id)
			if errors.Is(err, domain.ErrRoomNameTaken) {
				obsadapter.RecordRoomCollision("provider")
				lg.Warn("room name taken at provider", slog.String("room_name", name), slog.Int("attempt", attempt))
				continue
			}
			return ProvisionResult{}, fmt.Errorf("op=provision.create_room: %w", err)
		}

		token, err := s.Rooms.MintToken("candidate-"+c.ID, name, s.Config.EmptyTimeout)
		if err != nil {
			s.release(ctx, id)
			return ProvisionResult{}, fmt.Errorf("op=provision.mint_token: %w", err)
		}
		if err := s.Sessions.Activate(ctx, id, TokenFingerprint(token)); err != nil {
			return ProvisionResult{}, fmt.Errorf("op=provision.activate_session: %w", err)
		}
		return ProvisionResult{
			ApplicationID: app.ID,
			SessionID:     id,
			Token:         token,
			RoomName:      name,
			RoomCode:      code,
			ExpiresAt:     sess.ExpiresAt,
			Metadata:      metadata,
		}, nil
	}
	return ProvisionResult{}, fmt.Errorf("op=provision.allocate_room: %w: no free room after %d attempts", domain.ErrConflict, s.Config.MaxAttempts)
}

// release drops an unactivated reservation. Failures are logged; the row
// expires with the retention sweep.
func (s *ProvisionService) release(ctx domain.Context, sessionID string) {
	if err := s.Sessions.Release(ctx, sessionID); err != nil {
		observability.LoggerFromContext(ctx).Warn("session reservation release failed",
			slog.String("session_id", sessionID), slog.Any("error", err))
	}
}

// RoomName derives interview-<candidate prefix>-<ulid>. The ULID carries the
// millisecond timestamp and 80 bits from entropy.
func RoomName(candidateID string, now time.Time, entropy io.Reader) (string, error) {
	id, err := ulid.New(ulid.Timestamp(now), entropy)
	if err != nil {
		return "", err
	}
	prefix := strings.ReplaceAll(candidateID, "-", "")
	if len(prefix) > candidatePrefix {
		prefix = prefix[:candidatePrefix]
	}
	return roomNamePrefix + prefix + "-" + strings.ToLower(id.String()), nil
}

// RoomCode is the last six phone digits (zero padded) followed by the last
// four digits of the epoch millisecond clock shifted by attempt.
func RoomCode(phone string, now time.Time, attempt int) string {
	digits := textx.PadLeft(textx.LastN(textx.DigitsOnly(phone), roomCodePhoneLen), roomCodePhoneLen, '0')
	return digits + fmt.Sprintf("%04d", (now.UnixMilli()+int64(attempt))%10000)
}

// TokenFingerprint is the hex SHA-256 of a token; only the fingerprint is stored.
func TokenFingerprint(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

func betterName(candidate, stored string) bool {
	if candidate == "" {
		return false
	}
	return stored == "" || utf8.RuneCountInString(stored) < utf8.RuneCountInString(candidate)
}

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}
