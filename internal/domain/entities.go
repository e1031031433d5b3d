package domain

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrRateLimited     = errors.New("rate limited")
	ErrInternal        = errors.New("internal error")

	// Provisioning
	ErrJobNotFound         = errors.New("job not found")
	ErrProviderUnavailable = errors.New("room provider unavailable")
	ErrRoomNameTaken       = errors.New("room name taken")

	// Analysis callback
	ErrAuthFailed     = errors.New("auth failed")
	ErrStaleWrite     = errors.New("stale write")
	ErrInvalidPayload = errors.New("invalid payload")
)

// Candidate is the identity anchor keyed by normalized phone.
// Invariants: Phone holds digits only and is unique; PhoneVariants keeps
// every raw phone string seen for this candidate.
type Candidate struct {
	ID            string
	Phone         string
	Name          string
	PhoneVariants []string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// JobPosting is read-only here; the catalog service owns it.
type JobPosting struct {
	ID                string
	Title             string
	Company           string
	Requirements      string
	AgentInstructions string
	CreatedAt         time.Time
}

// Application correlates a Candidate to a JobPosting.
// Invariant: at most one non-terminal Application per (CandidateID, JobID).
type Application struct {
	ID              string
	CandidateID     string
	JobID           string
	Status          ApplicationStatus
	Score           *float64
	Result          json.RawMessage
	Recommendations []string
	AnalyzedAt      *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// InterviewSession binds one Application to a provider room.
type InterviewSession struct {
	ID            string
	ApplicationID string
	RoomName      string
	RoomCode      string
	IssuedTokenID string
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

// AnalysisResult is the validated analysis written onto an Application.
type AnalysisResult struct {
	ApplicationID   string
	Score           float64
	Payload         json.RawMessage
	Recommendations []string
	AnalyzedAt      time.Time
}

// Repositories (ports)

type CandidateRepository interface {
	// ListByJob returns candidates holding at least one application for jobID,
	// oldest first.
	ListByJob(ctx Context, jobID string) ([]Candidate, error)
	// Upsert inserts by phone or converges on the existing row for that phone.
	Upsert(ctx Context, c Candidate) (Candidate, error)
	// Touch stores name and records variant when it is not yet known.
	Touch(ctx Context, id, name, variant string) error
}

type JobPostingRepository interface {
	Get(ctx Context, id string) (JobPosting, error)
	Upsert(ctx Context, j JobPosting) error
}

type ApplicationRepository interface {
	Get(ctx Context, id string) (Application, error)
	FindActive(ctx Context, candidateID, jobID string) (Application, error)
	// CreateScheduled inserts a SCHEDULED application unless an active one
	// exists, then returns whichever active row won.
	CreateScheduled(ctx Context, candidateID, jobID string) (Application, error)
	// Transition moves id to `to` when its current status is one of from.
	Transition(ctx Context, id string, from []ApplicationStatus, to ApplicationStatus) (bool, error)
	// ApplyAnalysis writes r and sets ANALYZED when the current status is one
	// of from and r.AnalyzedAt is newer than the stored value.
	ApplyAnalysis(ctx Context, r AnalysisResult, from []ApplicationStatus) (bool, error)
	// MarkStale moves IN_PROGRESS applications created before cutoff to STALE
	// and returns their ids.
	MarkStale(ctx Context, cutoff time.Time) ([]string, error)
}

// SessionRepository stores interview sessions. A session is created as a
// reservation of its room name and code before the provider room exists,
// then activated with the issued token fingerprint. Latest only sees
// activated sessions.
type SessionRepository interface {
	Create(ctx Context, s InterviewSession) (string, error)
	Activate(ctx Context, id, issuedTokenID string) error
	Release(ctx Context, id string) error
	Latest(ctx Context, applicationID string) (InterviewSession, error)
}

// RoomSpec describes a room request to the real-time provider.
type RoomSpec struct {
	Name            string
	MaxParticipants int
	EmptyTimeout    time.Duration
	Metadata        string
}

// Room is the provider handle for a created room.
type Room struct {
	Name string
	SID  string
}

// RoomProvider (port)
type RoomProvider interface {
	// CreateRoom returns ErrRoomNameTaken when another room owns the name.
	CreateRoom(ctx Context, spec RoomSpec) (Room, error)
	// MintToken signs a credential allowing identity to join, publish and
	// subscribe in roomName only.
	MintToken(identity, roomName string, ttl time.Duration) (string, error)
}

// Context is an alias to allow decoupling from std context in domain
// Adapters and usecases should pass context.Context through
type Context = context.Context
