// Package run defines the Run entity: one execution of a quality gate
// configuration on the external executor.
package run

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/openctemio/qualitygate/pkg/domain/shared"
)

// Scope identifies the configuration a run belongs to.
type Scope struct {
	NamespaceID int64 `json:"namespace_id"`
	ConfigID    int64 `json:"config_id"`
}

// Validate checks that both parts of the scope are set.
func (s Scope) Validate() error {
	if s.NamespaceID <= 0 {
		return shared.NewDomainError("VALIDATION", "namespace_id is required", shared.ErrValidation)
	}
	if s.ConfigID <= 0 {
		return shared.NewDomainError("VALIDATION", "config_id is required", shared.ErrValidation)
	}
	return nil
}

func (s Scope) String() string {
	return fmt.Sprintf("%d/%d", s.NamespaceID, s.ConfigID)
}

// JobRef is the executor job a run was submitted as.
type JobRef struct {
	Name      string `json:"name"`
	Namespace string `json:"namespace"`
	ID        string `json:"id"`
}

// Complete reports whether every part of the reference is present.
func (j JobRef) Complete() bool {
	return j.Name != "" && j.Namespace != "" && j.ID != ""
}

// Run represents a single execution of a configuration.
type Run struct {
	ID    int64 // Sequence within the namespace, assigned on create
	Scope Scope

	Status        Status
	OverallResult *OverallResult

	// Job is nil until submission succeeds. Rows written by older versions
	// may carry a partial reference.
	Job *JobRef

	Log []string

	CreationTime   time.Time
	CompletionTime *time.Time

	// StoragePath prefixes every blob of this run.
	StoragePath string
}

// NewRun creates a pending run for the given configuration.
func NewRun(scope Scope) (*Run, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	return &Run{
		Scope:        scope,
		Status:       StatusPending,
		Log:          []string{},
		CreationTime: time.Now().UTC(),
		StoragePath:  fmt.Sprintf("%d/%d/%s", scope.NamespaceID, scope.ConfigID, uuid.NewString()),
	}, nil
}

// HasCompleteJob reports whether the run carries a full job reference.
func (r *Run) HasCompleteJob() bool {
	return r.Job != nil && r.Job.Complete()
}

// AttachJob records the executor job the run was submitted as.
func (r *Run) AttachJob(job JobRef) error {
	if !job.Complete() {
		return ErrIncompleteJob
	}
	r.Job = &job
	return nil
}

// Start marks the run as accepted by the executor.
func (r *Run) Start(job JobRef, createdAt time.Time) error {
	if r.Status != StatusPending {
		return shared.NewInvalidStateError("can only start a pending run")
	}
	if err := r.AttachJob(job); err != nil {
		return err
	}
	r.Status = StatusRunning
	if !createdAt.IsZero() {
		r.CreationTime = createdAt.UTC()
	}
	return nil
}

// Complete marks the run as completed with the verdict of its result document.
func (r *Run) Complete(result OverallResult, log []string, at time.Time) error {
	if r.Status.IsTerminal() {
		return shared.NewInvalidStateError("run already finished")
	}
	if !result.IsValid() {
		return shared.NewDomainError("VALIDATION", fmt.Sprintf("invalid overall result %q", result), shared.ErrValidation)
	}
	r.Status = StatusCompleted
	r.OverallResult = &result
	r.Log = copyLog(log)
	completed := at.UTC()
	r.CompletionTime = &completed
	return nil
}

// Fail marks the run as failed. The overall result is cleared.
func (r *Run) Fail(log []string, at time.Time) error {
	if r.Status.IsTerminal() {
		return shared.NewInvalidStateError("run already finished")
	}
	r.Status = StatusFailed
	r.OverallResult = nil
	r.Log = copyLog(log)
	completed := at.UTC()
	r.CompletionTime = &completed
	return nil
}

// TimedOut reports whether the run has been active longer than limit.
func (r *Run) TimedOut(now time.Time, limit time.Duration) bool {
	return r.Status.IsActive() && now.Sub(r.CreationTime) > limit
}

// Snapshot is the audited view of a run.
type Snapshot struct {
	ID             int64          `json:"id"`
	NamespaceID    int64          `json:"namespace_id"`
	ConfigID       int64          `json:"config_id"`
	Status         Status         `json:"status"`
	OverallResult  *OverallResult `json:"overall_result,omitempty"`
	Job            *JobRef        `json:"job,omitempty"`
	Log            []string       `json:"log"`
	CreationTime   time.Time      `json:"creation_time"`
	CompletionTime *time.Time     `json:"completion_time,omitempty"`
	StoragePath    string         `json:"storage_path"`
}

// Snapshot returns a deep copy of the run for audit trails.
func (r *Run) Snapshot() Snapshot {
	s := Snapshot{
		ID:           r.ID,
		NamespaceID:  r.Scope.NamespaceID,
		ConfigID:     r.Scope.ConfigID,
		Status:       r.Status,
		Log:          copyLog(r.Log),
		CreationTime: r.CreationTime,
		StoragePath:  r.StoragePath,
	}
	if r.OverallResult != nil {
		v := *r.OverallResult
		s.OverallResult = &v
	}
	if r.Job != nil {
		j := *r.Job
		s.Job = &j
	}
	if r.CompletionTime != nil {
		t := *r.CompletionTime
		s.CompletionTime = &t
	}
	return s
}

// Clone returns a deep copy of the run.
func (r *Run) Clone() *Run {
	s := r.Snapshot()
	return &Run{
		ID:             s.ID,
		Scope:          r.Scope,
		Status:         s.Status,
		OverallResult:  s.OverallResult,
		Job:            s.Job,
		Log:            s.Log,
		CreationTime:   s.CreationTime,
		CompletionTime: s.CompletionTime,
		StoragePath:    s.StoragePath,
	}
}

func copyLog(log []string) []string {
	out := make([]string, len(log))
	copy(out, log)
	return out
}
