package postgres

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/fairyhunter13/ai-interview-orchestrator/internal/domain"
)

// SessionRepo persists interview sessions. Room names and codes are unique
// across all sessions; a duplicate insert yields domain.ErrConflict. A row
// with an empty issued_token_id is a reservation that has not been activated.
type SessionRepo struct{ Pool PgxPool }

// NewSessionRepo constructs a SessionRepo with the given pool.
func NewSessionRepo(p PgxPool) *SessionRepo { return &SessionRepo{Pool: p} }

// Create stores s and returns its id (generates one if empty). Callers
// reserve with an empty IssuedTokenID and call Activate once the room exists.
func (r *SessionRepo) Create(ctx domain.Context, s domain.InterviewSession) (string, error) {
	ctx, span := startSpan(ctx, "interview_sessions", "INSERT", "interview_sessions.Create")
	defer span.End()
	id := s.ID
	if id == "" {
		id = uuid.New().String()
	}
	q := `INSERT INTO interview_sessions (id, application_id, room_name, room_code, issued_token_id, created_at, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`
	_, err := r.Pool.Exec(ctx, q, id, s.ApplicationID, s.RoomName, s.RoomCode, s.IssuedTokenID, s.CreatedAt.UTC(), s.ExpiresAt.UTC())
	if isUniqueViolation(err) {
		return "", fmt.Errorf("op=session.create: %w", domain.ErrConflict)
	}
	if err != nil {
		return "", fmt.Errorf("op=session.create: %w", err)
	}
	return id, nil
}

// Activate records the issued token fingerprint on a reserved session.
func (r *SessionRepo) Activate(ctx domain.Context, id, issuedTokenID string) error {
	ctx, span := startSpan(ctx, "interview_sessions", "UPDATE", "interview_sessions.Activate")
	defer span.End()
	tag, err := r.Pool.Exec(ctx, `UPDATE interview_sessions SET issued_token_id=$2 WHERE id=$1`, id, issuedTokenID)
	if err != nil {
		return fmt.Errorf("op=session.activate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=session.activate: %w", domain.ErrNotFound)
	}
	return nil
}

// Release deletes a reservation that was never activated.
func (r *SessionRepo) Release(ctx domain.Context, id string) error {
	ctx, span := startSpan(ctx, "interview_sessions", "DELETE", "interview_sessions.Release")
	defer span.End()
	if _, err := r.Pool.Exec(ctx, `DELETE FROM interview_sessions WHERE id=$1 AND issued_token_id=''`, id); err != nil {
		return fmt.Errorf("op=session.release: %w", err)
	}
	return nil
}

// Latest returns the most recently created active session of an application.
func (r *SessionRepo) Latest(ctx domain.Context, applicationID string) (domain.InterviewSession, error) {
	ctx, span := startSpan(ctx, "interview_sessions", "SELECT", "interview_sessions.Latest")
	defer span.End()
	q := `SELECT id, application_id, room_name, room_code, issued_token_id, created_at, expires_at
		FROM interview_sessions WHERE application_id=$1 AND issued_token_id <> ''
		ORDER BY created_at DESC LIMIT 1`
	var s domain.InterviewSession
	err := r.Pool.QueryRow(ctx, q, applicationID).Scan(&s.ID, &s.ApplicationID, &s.RoomName, &s.RoomCode, &s.IssuedTokenID, &s.CreatedAt, &s.ExpiresAt)
	if err != nil {
		return domain.InterviewSession{}, fmt.Errorf("op=session.latest: %w", mapNoRows(err))
	}
	return s, nil
}
