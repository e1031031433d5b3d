package postgres

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/fairyhunter13/ai-interview-orchestrator/internal/domain"
)

const candidateCols = `c.id, c.phone, c.name, c.phone_variants, c.created_at, c.updated_at`

// CandidateRepo persists candidates keyed by normalized phone.
type CandidateRepo struct{ Pool PgxPool }

// NewCandidateRepo constructs a CandidateRepo with the given pool.
func NewCandidateRepo(p PgxPool) *CandidateRepo { return &CandidateRepo{Pool: p} }

// ListByJob returns the candidates that applied to jobID, oldest first.
func (r *CandidateRepo) ListByJob(ctx domain.Context, jobID string) ([]domain.Candidate, error) {
	ctx, span := startSpan(ctx, "candidates", "SELECT", "candidates.ListByJob")
	defer span.End()
	q := `SELECT DISTINCT ` + candidateCols + `
		FROM candidates c JOIN applications a ON a.candidate_id = c.id
		WHERE a.job_id = $1
		ORDER BY c.created_at, c.id`
	rows, err := r.Pool.Query(ctx, q, jobID)
	if err != nil {
		return nil, fmt.Errorf("op=candidate.list_by_job: %w", err)
	}
	defer rows.Close()
	var out []domain.Candidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, fmt.Errorf("op=candidate.list_by_job: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=candidate.list_by_job: %w", err)
	}
	return out, nil
}

// Upsert inserts c or, when its phone is already registered, returns the
// stored row unchanged. Concurrent callers with the same phone converge on
// one candidate.
func (r *CandidateRepo) Upsert(ctx domain.Context, c domain.Candidate) (domain.Candidate, error) {
	ctx, span := startSpan(ctx, "candidates", "INSERT", "candidates.Upsert")
	defer span.End()
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	variants := c.PhoneVariants
	if variants == nil {
		variants = []string{}
	}
	now := time.Now().UTC()
	q := `INSERT INTO candidates AS c (id, phone, name, phone_variants, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$5)
		ON CONFLICT (phone) DO UPDATE SET updated_at = c.updated_at
		RETURNING ` + candidateCols
	out, err := scanCandidate(r.Pool.QueryRow(ctx, q, c.ID, c.Phone, c.Name, variants, now))
	if err != nil {
		return domain.Candidate{}, fmt.Errorf("op=candidate.upsert: %w", err)
	}
	return out, nil
}

// Touch overwrites the name when non-empty and appends variant when unseen.
func (r *CandidateRepo) Touch(ctx domain.Context, id, name, variant string) error {
	ctx, span := startSpan(ctx, "candidates", "UPDATE", "candidates.Touch")
	defer span.End()
	q := `UPDATE candidates SET
		name = CASE WHEN $2::text <> '' THEN $2::text ELSE name END,
		phone_variants = CASE WHEN $3::text = '' OR $3::text = ANY(phone_variants) THEN phone_variants ELSE array_append(phone_variants, $3::text) END,
		updated_at = $4
		WHERE id = $1`
	tag, err := r.Pool.Exec(ctx, q, id, name, variant, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=candidate.touch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=candidate.touch: %w", domain.ErrNotFound)
	}
	return nil
}

func scanCandidate(row pgx.Row) (domain.Candidate, error) {
	var c domain.Candidate
	if err := row.Scan(&c.ID, &c.Phone, &c.Name, &c.PhoneVariants, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return domain.Candidate{}, err
	}
	return c, nil
}
