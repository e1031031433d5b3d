package postgres

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/fairyhunter13/ai-interview-orchestrator/internal/domain"
)

const applicationCols = `id, candidate_id, job_id, status, score, result_payload, recommendations, analyzed_at, created_at, updated_at`

// ApplicationRepo persists applications. Every status change is a
// conditional update guarded by the allowed source states, so concurrent
// writers cannot move an application along an illegal edge.
type ApplicationRepo struct {
	Pool PgxPool
	now  func() time.Time
}

// NewApplicationRepo constructs an ApplicationRepo with the given pool.
func NewApplicationRepo(p PgxPool) *ApplicationRepo {
	return &ApplicationRepo{Pool: p, now: func() time.Time { return time.Now().UTC() }}
}

// Get loads an application by id.
func (r *ApplicationRepo) Get(ctx domain.Context, id string) (domain.Application, error) {
	ctx, span := startSpan(ctx, "applications", "SELECT", "applications.Get")
	defer span.End()
	a, err := scanApplication(r.Pool.QueryRow(ctx, `SELECT `+applicationCols+` FROM applications WHERE id=$1`, id))
	if err != nil {
		return domain.Application{}, fmt.Errorf("op=application.get: %w", mapNoRows(err))
	}
	return a, nil
}

// FindActive returns the non-terminal application for (candidateID, jobID).
func (r *ApplicationRepo) FindActive(ctx domain.Context, candidateID, jobID string) (domain.Application, error) {
	ctx, span := startSpan(ctx, "applications", "SELECT", "applications.FindActive")
	defer span.End()
	q := `SELECT ` + applicationCols + ` FROM applications
		WHERE candidate_id=$1 AND job_id=$2 AND status NOT IN ('COMPLETED','REJECTED')
		LIMIT 1`
	a, err := scanApplication(r.Pool.QueryRow(ctx, q, candidateID, jobID))
	if err != nil {
		return domain.Application{}, fmt.Errorf("op=application.find_active: %w", mapNoRows(err))
	}
	return a, nil
}

// CreateScheduled inserts a SCHEDULED application. When another writer
// already holds the active slot the insert is skipped and that row returned.
func (r *ApplicationRepo) CreateScheduled(ctx domain.Context, candidateID, jobID string) (domain.Application, error) {
	ctx, span := startSpan(ctx, "applications", "INSERT", "applications.CreateScheduled")
	defer span.End()
	q := `INSERT INTO applications (id, candidate_id, job_id, status, recommendations, created_at, updated_at)
		VALUES ($1,$2,$3,$4,'[]',$5,$5)
		ON CONFLICT (candidate_id, job_id) WHERE status NOT IN ('COMPLETED','REJECTED') DO NOTHING`
	if _, err := r.Pool.Exec(ctx, q, uuid.New().String(), candidateID, jobID, string(domain.StatusScheduled), r.now()); err != nil {
		return domain.Application{}, fmt.Errorf("op=application.create_scheduled: %w", err)
	}
	return r.FindActive(ctx, candidateID, jobID)
}

// Transition sets status `to` when the current status is one of from.
func (r *ApplicationRepo) Transition(ctx domain.Context, id string, from []domain.ApplicationStatus, to domain.ApplicationStatus) (bool, error) {
	ctx, span := startSpan(ctx, "applications", "UPDATE", "applications.Transition")
	defer span.End()
	q := `UPDATE applications SET status=$2, updated_at=$3 WHERE id=$1 AND status = ANY($4)`
	tag, err := r.Pool.Exec(ctx, q, id, string(to), r.now(), statusStrings(from))
	if err != nil {
		return false, fmt.Errorf("op=application.transition: %w", mapNoRows(err))
	}
	return tag.RowsAffected() > 0, nil
}

// ApplyAnalysis writes the analysis and sets ANALYZED when the current status
// is one of from and res.AnalyzedAt is strictly newer than the stored one.
func (r *ApplicationRepo) ApplyAnalysis(ctx domain.Context, res domain.AnalysisResult, from []domain.ApplicationStatus) (bool, error) {
	ctx, span := startSpan(ctx, "applications", "UPDATE", "applications.ApplyAnalysis")
	defer span.End()
	recs := res.Recommendations
	if recs == nil {
		recs = []string{}
	}
	recJSON, err := json.Marshal(recs)
	if err != nil {
		return false, fmt.Errorf("op=application.apply_analysis: %w", err)
	}
	q := `UPDATE applications SET
			status='ANALYZED', score=$2, result_payload=$3, recommendations=$4, analyzed_at=$5, updated_at=$7
		WHERE id=$1 AND status = ANY($6) AND (analyzed_at IS NULL OR analyzed_at < $5)`
	tag, err := r.Pool.Exec(ctx, q, res.ApplicationID, res.Score, []byte(res.Payload), recJSON, res.AnalyzedAt.UTC(), statusStrings(from), r.now())
	if err != nil {
		return false, fmt.Errorf("op=application.apply_analysis: %w", mapNoRows(err))
	}
	return tag.RowsAffected() > 0, nil
}

// MarkStale moves IN_PROGRESS applications created before cutoff to STALE.
func (r *ApplicationRepo) MarkStale(ctx domain.Context, cutoff time.Time) ([]string, error) {
	ctx, span := startSpan(ctx, "applications", "UPDATE", "applications.MarkStale")
	defer span.End()
	q := `UPDATE applications SET status='STALE', updated_at=$2
		WHERE status='IN_PROGRESS' AND created_at < $1
		RETURNING id`
	rows, err := r.Pool.Query(ctx, q, cutoff.UTC(), r.now())
	if err != nil {
		return nil, fmt.Errorf("op=application.mark_stale: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("op=application.mark_stale: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=application.mark_stale: %w", err)
	}
	return ids, nil
}

func scanApplication(row pgx.Row) (domain.Application, error) {
	var (
		a       domain.Application
		status  string
		payload []byte
		recs    []byte
	)
	if err := row.Scan(&a.ID, &a.CandidateID, &a.JobID, &status, &a.Score, &payload, &recs, &a.AnalyzedAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return domain.Application{}, err
	}
	a.Status = domain.ApplicationStatus(status)
	if len(payload) > 0 {
		a.Result = json.RawMessage(payload)
	}
	if len(recs) > 0 {
		if err := json.Unmarshal(recs, &a.Recommendations); err != nil {
			return domain.Application{}, fmt.Errorf("decode recommendations: %w", err)
		}
	}
	return a, nil
}

func statusStrings(in []domain.ApplicationStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

// mapNoRows reports a missing row as domain.ErrNotFound. An id that does not
// parse as a uuid cannot name a row either, so 22P02 maps the same way.
func mapNoRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) || isInvalidTextRepresentation(err) {
		return domain.ErrNotFound
	}
	return err
}
