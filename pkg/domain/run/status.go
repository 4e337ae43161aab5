package run

import "strings"

// Status represents the run lifecycle status.
type Status string

const (
	StatusPending   Status = "pending"   // Created, not yet accepted by the executor
	StatusRunning   Status = "running"   // Job accepted by the executor
	StatusCompleted Status = "completed" // Result document evaluated
	StatusFailed    Status = "failed"    // Submission, execution or result retrieval failed
)

// AllStatuses returns all valid statuses.
func AllStatuses() []Status {
	return []Status{StatusPending, StatusRunning, StatusCompleted, StatusFailed}
}

// IsValid checks if the status is valid.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal returns true if the run can no longer change.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsActive returns true if the poller still has to look at the run.
func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusRunning
}

func (s Status) String() string {
	return string(s)
}

// OverallResult is the verdict declared by a run's result document.
type OverallResult string

const (
	ResultGreen   OverallResult = "GREEN"
	ResultYellow  OverallResult = "YELLOW"
	ResultRed     OverallResult = "RED"
	ResultPending OverallResult = "PENDING"
	ResultFailed  OverallResult = "FAILED"
)

// AllOverallResults returns every accepted verdict.
func AllOverallResults() []OverallResult {
	return []OverallResult{ResultGreen, ResultYellow, ResultRed, ResultPending, ResultFailed}
}

// IsValid checks if the verdict is known.
func (r OverallResult) IsValid() bool {
	switch r {
	case ResultGreen, ResultYellow, ResultRed, ResultPending, ResultFailed:
		return true
	default:
		return false
	}
}

// IsPassing reports whether the verdict lets the gate pass.
func (r OverallResult) IsPassing() bool {
	return r == ResultGreen || r == ResultYellow
}

func (r OverallResult) String() string {
	return string(r)
}

// ParseOverallResult parses a verdict, ignoring case and surrounding space.
func ParseOverallResult(s string) (OverallResult, bool) {
	r := OverallResult(strings.ToUpper(strings.TrimSpace(s)))
	if !r.IsValid() {
		return "", false
	}
	return r, true
}
