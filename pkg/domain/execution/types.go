// Package execution defines the types exchanged with the external workflow
// executor: job specs, job identities, status payloads and container roles.
package execution

import (
	"encoding/json"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// Phase is the lifecycle phase reported by the executor.
type Phase string

const (
	PhasePending   Phase = "Pending"
	PhaseRunning   Phase = "Running"
	PhaseSucceeded Phase = "Succeeded"
	PhaseFailed    Phase = "Failed"
	PhaseError     Phase = "Error"
)

// IsFinished reports whether the phase denotes a finished job.
// A missing phase means the executor has not scheduled the job yet.
func (p Phase) IsFinished() bool {
	switch p {
	case "", PhasePending, PhaseRunning:
		return false
	default:
		return true
	}
}

// Container is the role of a container inside an executor job pod.
type Container string

const (
	ContainerMain Container = "main"
	ContainerInit Container = "init"
	ContainerWait Container = "wait"
)

// Containers returns every container role, main first.
func Containers() []Container {
	return []Container{ContainerMain, ContainerInit, ContainerWait}
}

// IsValid checks if the container role is known.
func (c Container) IsValid() bool {
	switch c {
	case ContainerMain, ContainerInit, ContainerWait:
		return true
	default:
		return false
	}
}

// IsInfrastructure reports whether the container belongs to the executor
// machinery rather than to the checks themselves.
func (c Container) IsInfrastructure() bool {
	return c == ContainerInit || c == ContainerWait
}

func (c Container) String() string {
	return string(c)
}

// JobSpec is a serialized job ready for submission.
type JobSpec struct {
	Namespace string
	Workflow  json.RawMessage
}

// WorkflowState is the status block of an executor job.
type WorkflowState struct {
	Phase      Phase        `json:"phase,omitempty"`
	StartedAt  *metav1.Time `json:"startedAt,omitempty"`
	FinishedAt *metav1.Time `json:"finishedAt,omitempty"`
	Message    string       `json:"message,omitempty"`
}

// WorkflowStatus is the status payload returned by the executor for a job.
type WorkflowStatus struct {
	Metadata metav1.ObjectMeta `json:"metadata"`
	Status   WorkflowState     `json:"status"`
}

// Identity returns the job identity carried by the payload metadata.
func (w *WorkflowStatus) Identity() Identity {
	return Identity{
		Name:      w.Metadata.Name,
		Namespace: w.Metadata.Namespace,
		ID:        string(w.Metadata.UID),
		CreatedAt: w.Metadata.CreationTimestamp.Time,
	}
}

// FinishedAt returns the reported finish time, if any.
func (w *WorkflowStatus) FinishedAt() (time.Time, bool) {
	if w == nil || w.Status.FinishedAt == nil || w.Status.FinishedAt.IsZero() {
		return time.Time{}, false
	}
	return w.Status.FinishedAt.Time, true
}

// Identity names a job on the executor.
type Identity struct {
	Name      string
	Namespace string
	ID        string
	CreatedAt time.Time
}
