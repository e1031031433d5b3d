package domain

import (
	"testing"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name     string
		from, to ApplicationStatus
		expected bool
	}{
		{"scheduled to in progress", StatusScheduled, StatusInProgress, true},
		{"in progress to analyzed", StatusInProgress, StatusAnalyzed, true},
		{"scheduled to analyzed when callback races provisioning", StatusScheduled, StatusAnalyzed, true},
		{"stale to analyzed for late analysis", StatusStale, StatusAnalyzed, true},
		{"analyzed refresh", StatusAnalyzed, StatusAnalyzed, true},
		{"in progress to stale", StatusInProgress, StatusStale, true},
		{"analyzed to completed", StatusAnalyzed, StatusCompleted, true},
		{"analyzed to rejected", StatusAnalyzed, StatusRejected, true},
		{"scheduled to stale", StatusScheduled, StatusStale, false},
		{"analyzed back to in progress", StatusAnalyzed, StatusInProgress, false},
		{"stale back to in progress", StatusStale, StatusInProgress, false},
		{"completed to analyzed", StatusCompleted, StatusAnalyzed, false},
		{"rejected to analyzed", StatusRejected, StatusAnalyzed, false},
		{"in progress to completed", StatusInProgress, StatusCompleted, false},
		{"unknown target", StatusScheduled, ApplicationStatus("ARCHIVED"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.expected {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.expected)
			}
		})
	}
}

func TestTerminalStatesHaveNoExit(t *testing.T) {
	all := []ApplicationStatus{StatusScheduled, StatusInProgress, StatusAnalyzed, StatusCompleted, StatusRejected, StatusStale}
	for _, from := range TerminalStatuses() {
		if !from.IsTerminal() {
			t.Fatalf("%s should be terminal", from)
		}
		for _, to := range all {
			if CanTransition(from, to) {
				t.Errorf("terminal %s must not move to %s", from, to)
			}
		}
	}
	for _, s := range []ApplicationStatus{StatusScheduled, StatusInProgress, StatusAnalyzed, StatusStale} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestSourcesOfReturnsCopy(t *testing.T) {
	src := SourcesOf(StatusStale)
	if len(src) != 1 || src[0] != StatusInProgress {
		t.Fatalf("unexpected sources for STALE: %v", src)
	}
	src[0] = StatusCompleted
	if !CanTransition(StatusInProgress, StatusStale) {
		t.Fatalf("mutating the returned slice must not change the table")
	}
}

func TestStatusValid(t *testing.T) {
	if !StatusStale.Valid() || !StatusAnalyzed.Valid() {
		t.Fatal("known statuses must be valid")
	}
	if ApplicationStatus("queued").Valid() {
		t.Fatal("unknown status must be invalid")
	}
}
