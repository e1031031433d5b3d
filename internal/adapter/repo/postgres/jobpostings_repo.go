package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fairyhunter13/ai-interview-orchestrator/internal/domain"
)

// JobPostingRepo reads the job catalog and accepts seed upserts.
type JobPostingRepo struct{ Pool PgxPool }

// NewJobPostingRepo constructs a JobPostingRepo with the given pool.
func NewJobPostingRepo(p PgxPool) *JobPostingRepo { return &JobPostingRepo{Pool: p} }

// Get loads a job posting by id. Missing rows map to domain.ErrJobNotFound.
func (r *JobPostingRepo) Get(ctx domain.Context, id string) (domain.JobPosting, error) {
	ctx, span := startSpan(ctx, "job_postings", "SELECT", "job_postings.Get")
	defer span.End()
	q := `SELECT id, title, company, requirements, agent_instructions, created_at FROM job_postings WHERE id=$1`
	var j domain.JobPosting
	err := r.Pool.QueryRow(ctx, q, id).Scan(&j.ID, &j.Title, &j.Company, &j.Requirements, &j.AgentInstructions, &j.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.JobPosting{}, fmt.Errorf("op=job_posting.get: %w", domain.ErrJobNotFound)
	}
	if err != nil {
		return domain.JobPosting{}, fmt.Errorf("op=job_posting.get: %w", err)
	}
	return j, nil
}

// Upsert writes j, replacing the descriptive fields of an existing posting.
func (r *JobPostingRepo) Upsert(ctx domain.Context, j domain.JobPosting) error {
	ctx, span := startSpan(ctx, "job_postings", "INSERT", "job_postings.Upsert")
	defer span.End()
	if j.ID == "" {
		return fmt.Errorf("op=job_posting.upsert: %w", domain.ErrInvalidArgument)
	}
	created := j.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	q := `INSERT INTO job_postings (id, title, company, requirements, agent_instructions, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			company = EXCLUDED.company,
			requirements = EXCLUDED.requirements,
			agent_instructions = EXCLUDED.agent_instructions`
	if _, err := r.Pool.Exec(ctx, q, j.ID, j.Title, j.Company, j.Requirements, j.AgentInstructions, created); err != nil {
		return fmt.Errorf("op=job_posting.upsert: %w", err)
	}
	return nil
}
