package audit

import "strings"

// Action is the operation recorded by an audit entry.
type Action string

const (
	// Run actions
	ActionRunSubmitted        Action = "run.submitted"
	ActionRunSubmissionFailed Action = "run.submission_failed"
	ActionRunCompleted        Action = "run.completed"
	ActionRunFailed           Action = "run.failed"
	ActionRunTimedOut         Action = "run.timed_out"

	// Finding actions
	ActionFindingResolved Action = "finding.resolved"
	ActionFindingReopened Action = "finding.reopened"
	ActionFindingDeleted  Action = "finding.deleted"
)

func (a Action) String() string {
	return string(a)
}

// IsValid checks if the action is known.
func (a Action) IsValid() bool {
	switch a {
	case ActionRunSubmitted, ActionRunSubmissionFailed, ActionRunCompleted,
		ActionRunFailed, ActionRunTimedOut,
		ActionFindingResolved, ActionFindingReopened, ActionFindingDeleted:
		return true
	default:
		return false
	}
}

// Category returns the resource part of the action ("run", "finding").
func (a Action) Category() string {
	category, _, _ := strings.Cut(string(a), ".")
	return category
}

// ResourceType is the kind of entity an entry refers to.
type ResourceType string

const (
	ResourceTypeRun     ResourceType = "run"
	ResourceTypeFinding ResourceType = "finding"
)

func (r ResourceType) String() string {
	return string(r)
}

// IsValid checks if the resource type is known.
func (r ResourceType) IsValid() bool {
	return r == ResourceTypeRun || r == ResourceTypeFinding
}

// SystemActor is recorded for changes made by the engine itself.
const SystemActor = "system"
