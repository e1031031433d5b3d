package domain

// ApplicationStatus is the lifecycle state of an Application.
type ApplicationStatus string

const (
	StatusScheduled  ApplicationStatus = "SCHEDULED"
	StatusInProgress ApplicationStatus = "IN_PROGRESS"
	StatusAnalyzed   ApplicationStatus = "ANALYZED"
	StatusCompleted  ApplicationStatus = "COMPLETED"
	StatusRejected   ApplicationStatus = "REJECTED"
	StatusStale      ApplicationStatus = "STALE"
)

// transitions lists, per target, the states it may be entered from.
// ANALYZED -> ANALYZED covers a newer analysis replacing an older one;
// STALE -> ANALYZED keeps late analysis useful.
var transitions = map[ApplicationStatus][]ApplicationStatus{
	StatusInProgress: {StatusScheduled},
	StatusAnalyzed:   {StatusScheduled, StatusInProgress, StatusStale, StatusAnalyzed},
	StatusStale:      {StatusInProgress},
	StatusCompleted:  {StatusAnalyzed},
	StatusRejected:   {StatusAnalyzed},
}

// Valid reports whether s is a known status.
func (s ApplicationStatus) Valid() bool {
	switch s {
	case StatusScheduled, StatusInProgress, StatusAnalyzed, StatusCompleted, StatusRejected, StatusStale:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition can leave s.
func (s ApplicationStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusRejected
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to ApplicationStatus) bool {
	for _, src := range transitions[to] {
		if src == from {
			return true
		}
	}
	return false
}

// SourcesOf returns a copy of the states `to` may be entered from. Stores use
// it as the guard of a conditional update.
func SourcesOf(to ApplicationStatus) []ApplicationStatus {
	src := transitions[to]
	out := make([]ApplicationStatus, len(src))
	copy(out, src)
	return out
}

// TerminalStatuses lists the states that end an application attempt.
func TerminalStatuses() []ApplicationStatus {
	return []ApplicationStatus{StatusCompleted, StatusRejected}
}
