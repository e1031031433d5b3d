package usecase

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fairyhunter13/ai-interview-orchestrator/internal/domain"
	"github.com/fairyhunter13/ai-interview-orchestrator/internal/observability"
)

// Decision values accepted from reviewers.
const (
	DecisionComplete = "complete"
	DecisionReject   = "reject"
)

// ReviewService records the reviewer's final decision on an analyzed
// application.
type ReviewService struct {
	Apps domain.ApplicationRepository
}

// NewReviewService constructs a ReviewService.
func NewReviewService(apps domain.ApplicationRepository) ReviewService {
	return ReviewService{Apps: apps}
}

// Decide moves an ANALYZED application to COMPLETED or REJECTED. Any other
// current status yields domain.ErrStaleWrite and no change.
func (s ReviewService) Decide(ctx domain.Context, applicationID, decision string) (domain.ApplicationStatus, error) {
	var to domain.ApplicationStatus
	switch strings.ToLower(strings.TrimSpace(decision)) {
	case DecisionComplete:
		to = domain.StatusCompleted
	case DecisionReject:
		to = domain.StatusRejected
	default:
		return "", fmt.Errorf("%w: decision must be %q or %q", domain.ErrInvalidArgument, DecisionComplete, DecisionReject)
	}
	if applicationID == "" {
		return "", fmt.Errorf("%w: application id required", domain.ErrInvalidArgument)
	}
	app, err := s.Apps.Get(ctx, applicationID)
	if err != nil {
		return "", fmt.Errorf("op=review.load: %w", err)
	}
	if !domain.CanTransition(app.Status, to) {
		return app.Status, fmt.Errorf("op=review.decide: %w: status %s", domain.ErrStaleWrite, app.Status)
	}
	ok, err := s.Apps.Transition(ctx, applicationID, domain.SourcesOf(to), to)
	if err != nil {
		return "", fmt.Errorf("op=review.decide: %w", err)
	}
	if !ok {
		return app.Status, fmt.Errorf("op=review.decide: %w", domain.ErrStaleWrite)
	}
	observability.LoggerFromContext(ctx).Info("review decision recorded",
		slog.String("application_id", applicationID),
		slog.String("status", string(to)))
	return to, nil
}

// ApplicationView is the read model returned by the status endpoint.
type ApplicationView struct {
	Application domain.Application
	Session     *domain.InterviewSession
}

// ApplicationQuery reads applications with their latest session.
type ApplicationQuery struct {
	Apps     domain.ApplicationRepository
	Sessions domain.SessionRepository
}

// NewApplicationQuery constructs an ApplicationQuery.
func NewApplicationQuery(apps domain.ApplicationRepository, sessions domain.SessionRepository) ApplicationQuery {
	return ApplicationQuery{Apps: apps, Sessions: sessions}
}

// Get returns the application and, when one exists, its latest session.
func (q ApplicationQuery) Get(ctx domain.Context, id string) (ApplicationView, error) {
	app, err := q.Apps.Get(ctx, id)
	if err != nil {
		return ApplicationView{}, fmt.Errorf("op=application.query: %w", err)
	}
	view := ApplicationView{Application: app}
	sess, err := q.Sessions.Latest(ctx, id)
	switch {
	case err == nil:
		view.Session = &sess
	case errors.Is(err, domain.ErrNotFound):
	default:
		return ApplicationView{}, fmt.Errorf("op=application.query: %w", err)
	}
	return view, nil
}
