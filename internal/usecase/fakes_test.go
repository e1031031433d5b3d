package usecase_test

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fairyhunter13/ai-interview-orchestrator/internal/domain"
)

// memStore mimics the relational store: phone uniqueness, one active
// application per (candidate, job) and unique room names and codes.
type memStore struct {
	mu       sync.Mutex
	seq      int
	jobs     map[string]domain.JobPosting
	cands    []domain.Candidate
	apps     []domain.Application
	sessions []domain.InterviewSession
	clock    func() time.Time
}

func newMemStore() *memStore {
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	return &memStore{
		jobs: map[string]domain.JobPosting{
			"J1": {ID: "J1", Title: "Backend Engineer", Company: "Acme", Requirements: "Go, PostgreSQL", AgentInstructions: "Ask about concurrency."},
		},
		clock: func() time.Time { return base },
	}
}

func (m *memStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%08d", prefix, m.seq)
}

func (m *memStore) appsFor(candidateID, jobID string) []domain.Application {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Application
	for _, a := range m.apps {
		if a.CandidateID == candidateID && a.JobID == jobID {
			out = append(out, a)
		}
	}
	return out
}

func (m *memStore) sessionsFor(applicationID string) []domain.InterviewSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.InterviewSession
	for _, s := range m.sessions {
		if s.ApplicationID == applicationID {
			out = append(out, s)
		}
	}
	return out
}

func (m *memStore) candidateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cands)
}

type jobRepo struct{ *memStore }

func (r jobRepo) Get(_ context.Context, id string) (domain.JobPosting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return domain.JobPosting{}, fmt.Errorf("op=job_posting.get: %w", domain.ErrJobNotFound)
	}
	return j, nil
}

func (r jobRepo) Upsert(_ context.Context, j domain.JobPosting) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[j.ID] = j
	return nil
}

type candRepo struct{ *memStore }

func (r candRepo) ListByJob(_ context.Context, jobID string) ([]domain.Candidate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := map[string]bool{}
	for _, a := range r.apps {
		if a.JobID == jobID {
			ids[a.CandidateID] = true
		}
	}
	var out []domain.Candidate
	for _, c := range r.cands {
		if ids[c.ID] {
			c.PhoneVariants = append([]string(nil), c.PhoneVariants...)
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r candRepo) Upsert(_ context.Context, c domain.Candidate) (domain.Candidate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.cands {
		if existing.Phone == c.Phone {
			return existing, nil
		}
	}
	c.ID = r.nextID("c")
	c.CreatedAt = r.clock()
	c.UpdatedAt = c.CreatedAt
	r.cands = append(r.cands, c)
	return c, nil
}

func (r candRepo) Touch(_ context.Context, id, name, variant string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.cands {
		if r.cands[i].ID != id {
			continue
		}
		if name != "" {
			r.cands[i].Name = name
		}
		if variant != "" {
			r.cands[i].PhoneVariants = append(r.cands[i].PhoneVariants, variant)
		}
		return nil
	}
	return domain.ErrNotFound
}

func (r candRepo) byID(id string) domain.Candidate {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.cands {
		if c.ID == id {
			return c
		}
	}
	return domain.Candidate{}
}

type appRepo struct{ *memStore }

func (r appRepo) Get(_ context.Context, id string) (domain.Application, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.apps {
		if a.ID == id {
			return a, nil
		}
	}
	return domain.Application{}, fmt.Errorf("op=application.get: %w", domain.ErrNotFound)
}

func (r appRepo) findActiveLocked(candidateID, jobID string) (domain.Application, bool) {
	for _, a := range r.apps {
		if a.CandidateID == candidateID && a.JobID == jobID && !a.Status.IsTerminal() {
			return a, true
		}
	}
	return domain.Application{}, false
}

func (r appRepo) FindActive(_ context.Context, candidateID, jobID string) (domain.Application, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.findActiveLocked(candidateID, jobID); ok {
		return a, nil
	}
	return domain.Application{}, domain.ErrNotFound
}

func (r appRepo) CreateScheduled(_ context.Context, candidateID, jobID string) (domain.Application, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.findActiveLocked(candidateID, jobID); ok {
		return a, nil
	}
	a := domain.Application{ID: r.nextID("a"), CandidateID: candidateID, JobID: jobID, Status: domain.StatusScheduled, CreatedAt: r.clock(), UpdatedAt: r.clock()}
	r.apps = append(r.apps, a)
	return a, nil
}

func statusIn(s domain.ApplicationStatus, set []domain.ApplicationStatus) bool {
	for _, x := range set {
		if x == s {
			return true
		}
	}
	return false
}

func (r appRepo) Transition(_ context.Context, id string, from []domain.ApplicationStatus, to domain.ApplicationStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.apps {
		if r.apps[i].ID == id && statusIn(r.apps[i].Status, from) {
			r.apps[i].Status = to
			return true, nil
		}
	}
	return false, nil
}

func (r appRepo) ApplyAnalysis(_ context.Context, res domain.AnalysisResult, from []domain.ApplicationStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.apps {
		a := &r.apps[i]
		if a.ID != res.ApplicationID || !statusIn(a.Status, from) {
			continue
		}
		if a.AnalyzedAt != nil && !a.AnalyzedAt.Before(res.AnalyzedAt) {
			return false, nil
		}
		score := res.Score
		at := res.AnalyzedAt
		a.Status = domain.StatusAnalyzed
		a.Score = &score
		a.Result = res.Payload
		a.Recommendations = res.Recommendations
		a.AnalyzedAt = &at
		return true, nil
	}
	return false, nil
}

func (r appRepo) MarkStale(_ context.Context, cutoff time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for i := range r.apps {
		if r.apps[i].Status == domain.StatusInProgress && r.apps[i].CreatedAt.Before(cutoff) {
			r.apps[i].Status = domain.StatusStale
			ids = append(ids, r.apps[i].ID)
		}
	}
	return ids, nil
}

func (r appRepo) put(a domain.Application) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.apps = append(r.apps, a)
}

type sessRepo struct{ *memStore }

func (r sessRepo) Create(_ context.Context, s domain.InterviewSession) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.sessions {
		if existing.RoomName == s.RoomName || existing.RoomCode == s.RoomCode {
			return "", fmt.Errorf("op=session.create: %w", domain.ErrConflict)
		}
	}
	s.ID = r.nextID("s")
	r.sessions = append(r.sessions, s)
	return s.ID, nil
}

func (r sessRepo) Activate(_ context.Context, id, issuedTokenID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.sessions {
		if r.sessions[i].ID == id {
			r.sessions[i].IssuedTokenID = issuedTokenID
			return nil
		}
	}
	return fmt.Errorf("op=session.activate: %w", domain.ErrNotFound)
}

func (r sessRepo) Release(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.sessions {
		if r.sessions[i].ID == id && r.sessions[i].IssuedTokenID == "" {
			r.sessions = append(r.sessions[:i], r.sessions[i+1:]...)
			return nil
		}
	}
	return nil
}

func (r sessRepo) Latest(_ context.Context, applicationID string) (domain.InterviewSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.sessions) - 1; i >= 0; i-- {
		if r.sessions[i].ApplicationID == applicationID && r.sessions[i].IssuedTokenID != "" {
			return r.sessions[i], nil
		}
	}
	return domain.InterviewSession{}, domain.ErrNotFound
}

// fakeRooms is an in-memory room provider.
type fakeRooms struct {
	mu      sync.Mutex
	created []domain.RoomSpec
	taken   map[string]bool
	err     error
}

func (f *fakeRooms) CreateRoom(_ context.Context, spec domain.RoomSpec) (domain.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return domain.Room{}, f.err
	}
	if f.taken[spec.Name] {
		return domain.Room{}, domain.ErrRoomNameTaken
	}
	f.created = append(f.created, spec)
	return domain.Room{Name: spec.Name, SID: "RM_" + spec.Name}, nil
}

func (f *fakeRooms) MintToken(identity, roomName string, ttl time.Duration) (string, error) {
	return strings.Join([]string{"jwt", identity, roomName, ttl.String()}, "."), nil
}

func (f *fakeRooms) roomCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

type fakeThrottle struct {
	allowed    bool
	retryAfter time.Duration
	err        error
	subjects   []string
}

func (f *fakeThrottle) Allow(_ context.Context, _, subject string, _ int64) (bool, time.Duration, error) {
	f.subjects = append(f.subjects, subject)
	return f.allowed, f.retryAfter, f.err
}
