package workflow

import (
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// Workflow is the job document submitted to the executor.
type Workflow struct {
	APIVersion string            `json:"apiVersion"`
	Kind       string            `json:"kind"`
	Metadata   metav1.ObjectMeta `json:"metadata"`
	Spec       WorkflowSpec      `json:"spec"`
}

// WorkflowSpec describes what the executor runs.
type WorkflowSpec struct {
	Entrypoint            string                        `json:"entrypoint"`
	ActiveDeadlineSeconds *int64                        `json:"activeDeadlineSeconds,omitempty"`
	ImagePullSecrets      []corev1.LocalObjectReference `json:"imagePullSecrets,omitempty"`
	Templates             []Template                    `json:"templates"`
}

// Template is a single step of the workflow.
type Template struct {
	Name      string            `json:"name"`
	Inputs    Artifacts         `json:"inputs,omitempty"`
	Outputs   Artifacts         `json:"outputs,omitempty"`
	Container *corev1.Container `json:"container,omitempty"`
}

// Artifacts groups the artifacts of a template.
type Artifacts struct {
	Artifacts []Artifact `json:"artifacts,omitempty"`
}

// Artifact is a file exchanged with blob storage.
type Artifact struct {
	Name    string           `json:"name"`
	Path    string           `json:"path"`
	S3      *S3Artifact      `json:"s3,omitempty"`
	Archive *ArchiveStrategy `json:"archive,omitempty"`
}

// S3Artifact addresses an artifact in the executor's artifact repository.
type S3Artifact struct {
	Key string `json:"key"`
}

// ArchiveStrategy controls how output artifacts are packed.
type ArchiveStrategy struct {
	None *NoneStrategy `json:"none,omitempty"`
}

// NoneStrategy uploads artifacts as-is.
type NoneStrategy struct{}
