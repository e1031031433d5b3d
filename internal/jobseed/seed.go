// Package jobseed loads job postings from a YAML catalog into the store.
//
// The catalog service owns postings in production; the seed keeps local and
// test environments provisionable.
package jobseed

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fairyhunter13/ai-interview-orchestrator/internal/domain"
)

// DefaultPath is the catalog read by SeedDefault.
const DefaultPath = "configs/jobs.yaml"

type catalogYAML struct {
	Jobs []jobYAML `yaml:"jobs"`
}

type jobYAML struct {
	ID                string `yaml:"id"`
	Title             string `yaml:"title"`
	Company           string `yaml:"company"`
	Requirements      string `yaml:"requirements"`
	AgentInstructions string `yaml:"agent_instructions"`
}

// Load parses a catalog file. Paths outside the working directory are
// refused unless JOBSEED_ALLOW_ABSPATHS=1.
func Load(path string) ([]domain.JobPosting, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	abs = filepath.Clean(abs)
	wd = filepath.Clean(wd)
	if os.Getenv("JOBSEED_ALLOW_ABSPATHS") != "1" {
		if !strings.HasPrefix(abs, wd+string(os.PathSeparator)) && abs != wd {
			return nil, fmt.Errorf("disallowed path: %s", abs)
		}
	}
	b, err := os.ReadFile(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("seed file not found: %s: %w", path, err)
		}
		return nil, err
	}
	var doc catalogYAML
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("yaml parse: %w", err)
	}

	seen := make(map[string]struct{}, len(doc.Jobs))
	jobs := make([]domain.JobPosting, 0, len(doc.Jobs))
	for i, j := range doc.Jobs {
		id := strings.TrimSpace(j.ID)
		if id == "" {
			return nil, fmt.Errorf("jobs[%d]: id is required", i)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("jobs[%d]: duplicate id %q", i, id)
		}
		seen[id] = struct{}{}
		jobs = append(jobs, domain.JobPosting{
			ID:                id,
			Title:             strings.TrimSpace(j.Title),
			Company:           strings.TrimSpace(j.Company),
			Requirements:      strings.TrimSpace(j.Requirements),
			AgentInstructions: strings.TrimSpace(j.AgentInstructions),
		})
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("no jobs to seed in %s", path)
	}
	return jobs, nil
}

// SeedFile upserts every posting in path and returns how many were written.
func SeedFile(ctx domain.Context, repo domain.JobPostingRepository, path string) (int, error) {
	jobs, err := Load(path)
	if err != nil {
		return 0, err
	}
	for _, j := range jobs {
		if err := repo.Upsert(ctx, j); err != nil {
			return 0, fmt.Errorf("upsert job %s: %w", j.ID, err)
		}
	}
	return len(jobs), nil
}

// SeedDefault seeds from DefaultPath.
func SeedDefault(ctx domain.Context, repo domain.JobPostingRepository) (int, error) {
	return SeedFile(ctx, repo, DefaultPath)
}
