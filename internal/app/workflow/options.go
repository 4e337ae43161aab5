// Package workflow turns a run's configuration bundle into an executor job.
package workflow

import (
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"
)

// Container layout of the engine image.
const (
	ConfigDir = "/home/qg/config"
	ResultDir = "/home/qg/artifacts"

	// CABundlePath is the system CA bundle proxies in private clouds are trusted through.
	CABundlePath = "/etc/ssl/certs/ca-certificates.crt"
)

// Generated side files.
const (
	VarsFile          = ".vars"
	SecretsFile       = ".secrets"
	DocumentedEnvFile = ".documented-env"
)

// Output artifacts.
const (
	EvidenceFile = "evidence.zip"
	ResultFile   = "qg-result.yaml"
)

// ResultKey returns the blob key of a run's result document.
func ResultKey(storagePath string) string {
	return storagePath + "/" + ResultFile
}

// EvidenceKey returns the blob key of a run's evidence bundle.
func EvidenceKey(storagePath string) string {
	return storagePath + "/" + EvidenceFile
}

// Options is everything needed to build a job for one run.
type Options struct {
	// Files is the configuration bundle, keyed by path relative to ConfigDir.
	Files    map[string][]byte `validate:"required,min=1"`
	RootFile string            `validate:"required"`

	StoragePath string `validate:"required"`
	// Namespace is the executor namespace the job runs in.
	Namespace string `validate:"required"`

	// Selector restricts the run to a single check.
	Selector *Selector

	Environment map[string]string `validate:"dive,keys,env_key,endkeys"`
	Secrets     map[string]string

	Cloud Cloud

	Images     []ImageRule       `validate:"min=1,dive"`
	PullPolicy corev1.PullPolicy `validate:"pull_policy"`
	Timeout    time.Duration     `validate:"min=1s"`

	Labels map[string]string
}

// Selector addresses one check of the configuration.
type Selector struct {
	Chapter     string `validate:"required,selector_part"`
	Requirement string `validate:"required,selector_part"`
	Check       string `validate:"required,selector_part"`
}

// String returns the selector in the engine's chapter_requirement_check form.
func (s Selector) String() string {
	return fmt.Sprintf("%s_%s_%s", s.Chapter, s.Requirement, s.Check)
}

// Cloud describes the network posture of the cluster running the job.
type Cloud struct {
	Private    bool
	HTTPProxy  string
	HTTPSProxy string
	NoProxy    string
	PullSecret string
}

// ImageRule selects the engine image for configurations whose version
// satisfies Constraint.
type ImageRule struct {
	Constraint string `validate:"required,semver_constraint"`
	Image      string `validate:"required"`
}
