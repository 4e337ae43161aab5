// Package runs submits runs to the workflow executor and records the outcome
// of finished jobs.
package runs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	corev1 "k8s.io/api/core/v1"

	"github.com/openctemio/qualitygate/internal/app/workflow"
	"github.com/openctemio/qualitygate/internal/metrics"
	"github.com/openctemio/qualitygate/pkg/domain/audit"
	"github.com/openctemio/qualitygate/pkg/domain/run"
	"github.com/openctemio/qualitygate/pkg/logger"
)

// Messages of the submission stages, shown to users when a stage fails.
const (
	msgLoadFailed    = "Failed to load the run configuration"
	msgPrepareFailed = "Failed to prepare the run environment"
	msgUploadFailed  = "Failed to upload the run configuration"
	msgSubmitFailed  = "Failed to submit the run to the executor"
	msgRetryAdvice   = "Please try again or contact support."
)

// Labels set on submitted jobs.
const (
	labelNamespace = "qualitygate.openctem.io/namespace-id"
	labelConfig    = "qualitygate.openctem.io/config-id"
	labelRun       = "qualitygate.openctem.io/run-id"
)

// ManagerConfig configures job submission.
type ManagerConfig struct {
	ExecutorNamespace string
	RootFile          string
	Images            []workflow.ImageRule
	PullPolicy        corev1.PullPolicy
	Cloud             workflow.Cloud
	RunTimeout        time.Duration
}

// SubmitOptions are the per-run inputs of a submission.
type SubmitOptions struct {
	// Selector restricts the run to a single check.
	Selector    *workflow.Selector
	Environment map[string]string
}

// ManagerDeps are the collaborators of a Manager.
type ManagerDeps struct {
	Runs     run.Repository
	Audit    audit.Repository
	Tx       Transactor
	Executor Executor
	Blobs    BlobStore
	Secrets  SecretStore
	Configs  ConfigProvider
}

// Manager submits runs to the executor.
type Manager struct {
	ManagerDeps
	cfg    ManagerConfig
	logger *logger.Logger
	tracer trace.Tracer
}

// NewManager creates a new Manager.
func NewManager(deps ManagerDeps, cfg ManagerConfig, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.NewNop()
	}
	return &Manager{
		ManagerDeps: deps,
		cfg:         cfg,
		logger:      log.With("component", "run-manager"),
		tracer:      otel.Tracer("qualitygate/runs"),
	}
}

// stageError is a failed submission stage.
type stageError struct {
	message string
	err     error
}

func (e *stageError) Error() string { return e.message + ": " + e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

func failStage(message string, err error) error {
	return &stageError{message: message, err: err}
}

// failureLog is the run log of a failed submission. Format errors are shown
// as they are; other failures get a generic message.
func failureLog(err error) []string {
	var fe *workflow.FormatError
	if errors.As(err, &fe) {
		return []string{fe.Error()}
	}
	msg := msgSubmitFailed
	var se *stageError
	if errors.As(err, &se) {
		msg = se.message
	}
	return []string{msg + ". " + msgRetryAdvice}
}

// Start creates a pending run for scope and submits it.
func (m *Manager) Start(ctx context.Context, scope run.Scope, opts SubmitOptions) (*run.Run, error) {
	rn, err := run.NewRun(scope)
	if err != nil {
		return nil, err
	}
	if err := m.Runs.Create(ctx, rn); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return m.Submit(ctx, rn, opts)
}

// Submit builds the job of a pending run, uploads its bundle and submits it
// to the executor. The outcome is persisted with an audit entry in one
// transaction: running on success, failed with a stage message otherwise.
// The returned error is non-nil only when the run is not pending or the
// outcome could not be persisted.
func (m *Manager) Submit(ctx context.Context, rn *run.Run, opts SubmitOptions) (*run.Run, error) {
	if rn.Status != run.StatusPending {
		return nil, fmt.Errorf("%w: run %d is %s", ErrNotPending, rn.ID, rn.Status)
	}

	ctx, span := m.tracer.Start(ctx, "runs.Submit", trace.WithAttributes(
		attribute.Int64("run.id", rn.ID),
		attribute.String("run.scope", rn.Scope.String()),
	))
	defer span.End()

	log := m.logger.With("run_id", rn.ID, "scope", rn.Scope.String())

	next := rn.Clone()
	action := audit.ActionRunSubmitted

	submitErr := m.submit(ctx, next, opts)
	if submitErr != nil {
		span.RecordError(submitErr)
		span.SetStatus(codes.Error, "submission failed")
		if workflow.IsFormatError(submitErr) {
			log.Warn("run configuration has an unknown format", "error", submitErr)
		} else {
			log.Error("run submission failed", "error", submitErr)
		}
		next = rn.Clone()
		if err := next.Fail(failureLog(submitErr), time.Now()); err != nil {
			return nil, err
		}
		action = audit.ActionRunSubmissionFailed
	}

	entry, err := audit.NewEntry(rn.Scope.NamespaceID, audit.ResourceTypeRun, processedKey(rn), action,
		rn.Snapshot(), next.Snapshot())
	if err != nil {
		return nil, err
	}
	err = m.Tx.Transaction(ctx, func(tx *sql.Tx) error {
		if err := m.Runs.UpdateInTx(ctx, tx, next, run.StatusPending); err != nil {
			return err
		}
		return m.Audit.AppendInTx(ctx, tx, entry)
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to persist submission of run %d: %w", rn.ID, err)
	}

	metrics.RunsSubmittedTotal.WithLabelValues(next.Status.String()).Inc()
	if next.Job != nil {
		log.Info("run submitted", "job_name", next.Job.Name, "job_namespace", next.Job.Namespace)
	}
	return next, nil
}

// submit runs the submission stages and starts rn on success.
func (m *Manager) submit(ctx context.Context, rn *run.Run, opts SubmitOptions) error {
	secrets, err := m.Secrets.GetSecrets(ctx, rn.Scope.NamespaceID)
	if err != nil {
		return failStage(msgLoadFailed, err)
	}
	files, err := m.Configs.GetContentOfMultipleFiles(ctx, rn.Scope)
	if err != nil {
		return failStage(msgLoadFailed, err)
	}

	def, err := workflow.Build(workflow.Options{
		Files:       files,
		RootFile:    m.cfg.RootFile,
		StoragePath: rn.StoragePath,
		Namespace:   m.cfg.ExecutorNamespace,
		Selector:    opts.Selector,
		Environment: opts.Environment,
		Secrets:     secrets,
		Cloud:       m.cfg.Cloud,
		Images:      m.cfg.Images,
		PullPolicy:  m.cfg.PullPolicy,
		Timeout:     m.cfg.RunTimeout,
		Labels: map[string]string{
			labelNamespace: strconv.FormatInt(rn.Scope.NamespaceID, 10),
			labelConfig:    strconv.FormatInt(rn.Scope.ConfigID, 10),
			labelRun:       strconv.FormatInt(rn.ID, 10),
		},
	})
	if err != nil {
		if workflow.IsFormatError(err) {
			return err
		}
		return failStage(msgPrepareFailed, err)
	}

	if err := m.Blobs.UploadConfig(ctx, rn.StoragePath, def.Files); err != nil {
		return failStage(msgUploadFailed, err)
	}

	status, err := m.Executor.SubmitJob(ctx, def.Spec)
	if err != nil {
		m.removeBundle(ctx, rn.StoragePath)
		return failStage(msgSubmitFailed, err)
	}
	if status == nil {
		m.removeBundle(ctx, rn.StoragePath)
		return failStage(msgSubmitFailed, errors.New("executor accepted the job without returning it"))
	}

	id := status.Identity()
	job := run.JobRef{Name: id.Name, Namespace: id.Namespace, ID: id.ID}
	if err := rn.Start(job, id.CreatedAt); err != nil {
		return failStage(msgSubmitFailed, err)
	}
	return nil
}

// removeBundle deletes the uploaded bundle of a run the executor rejected.
func (m *Manager) removeBundle(ctx context.Context, storagePath string) {
	if err := m.Blobs.RemovePath(ctx, storagePath); err != nil {
		m.logger.Warn("failed to remove bundle of rejected run", "storage_path", storagePath, "error", err)
	}
}
