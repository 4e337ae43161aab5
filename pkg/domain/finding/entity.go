// Package finding defines the Finding entity: a non-passing check outcome
// tracked across the runs of one configuration.
package finding

import (
	"maps"
	"time"

	"github.com/openctemio/qualitygate/pkg/domain/run"
	"github.com/openctemio/qualitygate/pkg/domain/shared"
)

// Status represents the finding status.
type Status string

const (
	StatusUnresolved Status = "unresolved"
	StatusResolved   Status = "resolved"
)

// IsValid checks if the status is valid.
func (s Status) IsValid() bool {
	return s == StatusUnresolved || s == StatusResolved
}

func (s Status) String() string {
	return string(s)
}

// Finding is a non-passing check outcome, identified within its configuration
// by Hash.
type Finding struct {
	ID    shared.ID
	Scope run.Scope
	Hash  string

	// Hash inputs
	Chapter       string
	Requirement   string
	Check         string
	Criterion     string
	Justification string

	Status          Status
	OccurrenceCount int
	Metadata        map[string]any

	ResolvedManually bool
	ResolvedBy       *string
	ResolvedAt       *time.Time

	// RunID is the last run that touched the finding.
	RunID int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Outcome is a single non-passing result reported by a run.
type Outcome struct {
	Chapter       string
	Requirement   string
	Check         string
	Criterion     string
	Justification string
	Metadata      map[string]any
}

// Hash returns the identity hash of the outcome.
func (o Outcome) Hash() string {
	return Hash(o.Chapter, o.Requirement, o.Check, o.Criterion, o.Justification)
}

// NewFinding creates an unresolved finding from its first appearance.
func NewFinding(scope run.Scope, o Outcome, runID int64) (*Finding, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if o.Chapter == "" || o.Requirement == "" || o.Check == "" {
		return nil, shared.NewDomainError("VALIDATION", "chapter, requirement and check are required", shared.ErrValidation)
	}

	now := time.Now().UTC()
	return &Finding{
		ID:              shared.NewID(),
		Scope:           scope,
		Hash:            o.Hash(),
		Chapter:         o.Chapter,
		Requirement:     o.Requirement,
		Check:           o.Check,
		Criterion:       o.Criterion,
		Justification:   o.Justification,
		Status:          StatusUnresolved,
		OccurrenceCount: 1,
		Metadata:        cloneMetadata(o.Metadata),
		RunID:           runID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// IsUnresolved returns true if the finding is open.
func (f *Finding) IsUnresolved() bool {
	return f.Status == StatusUnresolved
}

// IsAutoResolved returns true if reconciliation closed the finding.
func (f *Finding) IsAutoResolved() bool {
	return f.Status == StatusResolved && !f.ResolvedManually
}

// Recur records another appearance of an unresolved finding. Metadata is
// replaced wholesale.
func (f *Finding) Recur(metadata map[string]any, runID int64) error {
	if !f.IsUnresolved() {
		return shared.NewInvalidStateError("can only recur an unresolved finding")
	}
	f.OccurrenceCount++
	f.Metadata = cloneMetadata(metadata)
	f.RunID = runID
	f.UpdatedAt = time.Now().UTC()
	return nil
}

// Reactivate reopens an auto-resolved finding that appeared again.
func (f *Finding) Reactivate(metadata map[string]any, runID int64) error {
	if !f.IsAutoResolved() {
		return shared.NewInvalidStateError("can only reactivate an automatically resolved finding")
	}
	f.Status = StatusUnresolved
	f.OccurrenceCount = 1
	f.Metadata = cloneMetadata(metadata)
	f.ResolvedBy = nil
	f.ResolvedAt = nil
	f.RunID = runID
	f.UpdatedAt = time.Now().UTC()
	return nil
}

// AutoResolve closes a finding that a later run no longer reports.
// Metadata and occurrence count stay as they are.
func (f *Finding) AutoResolve(runID int64, at time.Time) error {
	if !f.IsUnresolved() {
		return shared.NewInvalidStateError("can only resolve an unresolved finding")
	}
	resolved := at.UTC()
	f.Status = StatusResolved
	f.ResolvedManually = false
	f.ResolvedBy = nil
	f.ResolvedAt = &resolved
	f.RunID = runID
	f.UpdatedAt = time.Now().UTC()
	return nil
}

// ResolveManually closes the finding on behalf of a user. Reconciliation
// never reopens a manually resolved finding.
func (f *Finding) ResolveManually(user string) error {
	if user == "" {
		return shared.NewDomainError("VALIDATION", "resolver is required", shared.ErrValidation)
	}
	if f.ResolvedManually {
		return shared.NewInvalidStateError("finding is already resolved manually")
	}
	now := time.Now().UTC()
	f.Status = StatusResolved
	f.ResolvedManually = true
	f.ResolvedBy = &user
	f.ResolvedAt = &now
	f.UpdatedAt = now
	return nil
}

// Reopen reverts a resolution made by a user or by reconciliation.
func (f *Finding) Reopen() error {
	if f.IsUnresolved() {
		return shared.NewInvalidStateError("finding is not resolved")
	}
	f.Status = StatusUnresolved
	f.ResolvedManually = false
	f.ResolvedBy = nil
	f.ResolvedAt = nil
	f.UpdatedAt = time.Now().UTC()
	return nil
}

func cloneMetadata(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return maps.Clone(m)
}
