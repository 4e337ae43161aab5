package runs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/openctemio/qualitygate/internal/app/findings"
	"github.com/openctemio/qualitygate/internal/app/workflow"
	"github.com/openctemio/qualitygate/internal/metrics"
	"github.com/openctemio/qualitygate/pkg/domain/audit"
	"github.com/openctemio/qualitygate/pkg/domain/execution"
	"github.com/openctemio/qualitygate/pkg/domain/run"
	"github.com/openctemio/qualitygate/pkg/logger"
)

// Fixed log lines written to runs.
const (
	MissingResultLogLine = "Failed to retrieve the result of the run. The checks may not have produced a result document."
	EmptyLogLine         = "The run completed without log output."
)

// resultRetrySchedule is the delay before each result download attempt, in
// units of ReconcilerConfig.ResultRetryUnit.
var resultRetrySchedule = []time.Duration{0, 1, 3}

// FinishStatus is the outcome of CheckHasFinished.
type FinishStatus struct {
	Finished bool
	// Status is the executor payload of a finished job.
	Status *execution.WorkflowStatus
}

// ReconcilerConfig configures the completion reconciler.
type ReconcilerConfig struct {
	// ArchiveChecksDisabled treats a job missing from the live API as not
	// finished instead of consulting the archive.
	ArchiveChecksDisabled bool
	// ResultRetryUnit scales the delays between result download attempts.
	ResultRetryUnit time.Duration
}

// ReconcilerDeps are the collaborators of a Reconciler.
type ReconcilerDeps struct {
	Runs     run.Repository
	Audit    audit.Repository
	Tx       Transactor
	Executor Executor
	Blobs    BlobStore
	Secrets  SecretStore
	Findings FindingsReconciler
}

// Reconciler detects finished jobs and records their outcome on runs.
type Reconciler struct {
	ReconcilerDeps
	cfg ReconcilerConfig

	// processed holds the runs updated by this process.
	processed sync.Map

	logger *logger.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// NewReconciler creates a new Reconciler.
func NewReconciler(deps ReconcilerDeps, cfg ReconcilerConfig, log *logger.Logger) *Reconciler {
	if log == nil {
		log = logger.NewNop()
	}
	return &Reconciler{
		ReconcilerDeps: deps,
		cfg:            cfg,
		logger:         log.With("component", "run-reconciler"),
		tracer:         otel.Tracer("qualitygate/runs"),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// CheckHasFinished asks the executor whether a job has finished. Lookup
// failures are reported as not finished; the only error is
// ErrIncompleteJobIdentity.
func (r *Reconciler) CheckHasFinished(ctx context.Context, jobID, name, namespace string) (FinishStatus, error) {
	if jobID == "" || name == "" || namespace == "" {
		return FinishStatus{}, ErrIncompleteJobIdentity
	}

	ctx, span := r.tracer.Start(ctx, "runs.CheckHasFinished", trace.WithAttributes(
		attribute.String("job.name", name),
		attribute.String("job.namespace", namespace),
	))
	defer span.End()

	log := r.logger.With("job_name", name, "job_namespace", namespace)

	live, err := r.Executor.GetLiveStatus(ctx, name, namespace)
	switch {
	case err != nil:
		metrics.ExecutorStatusLookups.WithLabelValues("live", "error").Inc()
		log.Warn("live status lookup failed", "error", err)
	case live != nil:
		metrics.ExecutorStatusLookups.WithLabelValues("live", "found").Inc()
		return finishStatusOf(live), nil
	default:
		metrics.ExecutorStatusLookups.WithLabelValues("live", "missing").Inc()
	}

	if r.cfg.ArchiveChecksDisabled {
		log.Warn("job not visible in the live API and archive checks are disabled; treating as not finished")
		return FinishStatus{}, nil
	}

	archived, err := r.Executor.GetArchivedStatus(ctx, jobID)
	if err != nil {
		metrics.ExecutorStatusLookups.WithLabelValues("archive", "error").Inc()
		log.Warn("archived status lookup failed", "job_id", jobID, "error", err)
		return FinishStatus{}, nil
	}
	if archived == nil {
		metrics.ExecutorStatusLookups.WithLabelValues("archive", "missing").Inc()
		log.Warn("job not found in the live API nor in the archive", "job_id", jobID)
		return FinishStatus{}, nil
	}
	metrics.ExecutorStatusLookups.WithLabelValues("archive", "found").Inc()
	return finishStatusOf(archived), nil
}

func finishStatusOf(status *execution.WorkflowStatus) FinishStatus {
	if !status.Status.Phase.IsFinished() {
		return FinishStatus{}
	}
	return FinishStatus{Finished: true, Status: status}
}

func processedKey(rn *run.Run) string {
	return fmt.Sprintf("%d/%d", rn.Scope.NamespaceID, rn.ID)
}

// UpdateWorkflowData records the outcome of a finished job on its run and
// reconciles the findings of a completed run. A run is updated at most once
// per process; later calls return it unmodified.
func (r *Reconciler) UpdateWorkflowData(ctx context.Context, fs FinishStatus, rn *run.Run) (*run.Run, error) {
	key := processedKey(rn)
	if _, loaded := r.processed.LoadOrStore(key, struct{}{}); loaded {
		r.logger.Debug("run already processed", "run", key)
		return rn, nil
	}

	ctx = logger.WithRun(ctx, rn.ID, jobName(rn))
	ctx, span := r.tracer.Start(ctx, "runs.UpdateWorkflowData", trace.WithAttributes(
		attribute.Int64("run.id", rn.ID),
		attribute.String("run.scope", rn.Scope.String()),
	))
	defer span.End()

	updated, resultDoc, err := r.updateRun(ctx, fs, rn)
	if errors.Is(err, run.ErrStale) {
		r.logger.WithContext(ctx).Info("run already finished by another process", "run", key)
		return rn, nil
	}
	if err != nil {
		r.processed.Delete(key)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if updated.Status == run.StatusCompleted {
		r.reconcileFindings(ctx, updated, resultDoc)
	}
	return updated, nil
}

func (r *Reconciler) updateRun(ctx context.Context, fs FinishStatus, rn *run.Run) (*run.Run, []byte, error) {
	log := r.logger.WithContext(ctx)
	if !rn.HasCompleteJob() {
		return nil, nil, fmt.Errorf("%w: run %s has no job reference", run.ErrDataInconsistency, processedKey(rn))
	}

	completedAt, ok := fs.Status.FinishedAt()
	if !ok {
		completedAt = r.now()
		log.Warn("executor reported no finish time; using the current time")
	}

	secrets, err := r.Secrets.GetSecrets(ctx, rn.Scope.NamespaceID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load secrets: %w", err)
	}
	redactor := NewRedactor(secrets)

	resultDoc, found := r.fetchResult(ctx, workflow.ResultKey(rn.StoragePath))
	logs := r.collectLogs(ctx, *rn.Job)

	var (
		result    run.OverallResult
		extracted bool
	)
	if found {
		result, err = ExtractOverallResult(resultDoc)
		if err != nil {
			log.Warn("result document is malformed", "error", err)
		} else {
			extracted = true
		}
	}

	next := rn.Clone()
	if extracted {
		lines := redactor.RedactAll(logs.MainInfo())
		if len(lines) == 0 {
			lines = []string{EmptyLogLine}
		}
		err = next.Complete(result, append(lines, r.infrastructureBanner(ctx, logs, redactor)...), completedAt)
	} else {
		lines := append([]string{MissingResultLogLine}, redactor.RedactAll(logs.Main())...)
		err = next.Fail(append(lines, r.infrastructureBanner(ctx, logs, redactor)...), completedAt)
	}
	if err != nil {
		return nil, nil, err
	}

	action := audit.ActionRunCompleted
	if next.Status == run.StatusFailed {
		action = audit.ActionRunFailed
	}
	if err := r.persist(ctx, rn, next, action); err != nil {
		return nil, nil, err
	}

	resultLabel := ""
	if next.OverallResult != nil {
		resultLabel = next.OverallResult.String()
	}
	metrics.RunsFinishedTotal.WithLabelValues(next.Status.String(), resultLabel).Inc()
	metrics.RunDuration.WithLabelValues(next.Status.String()).Observe(completedAt.Sub(next.CreationTime).Seconds())
	log.Info("run finished", "status", next.Status.String(), "overall_result", resultLabel)

	return next, resultDoc, nil
}

// fetchResult downloads the result document, retrying on the configured
// schedule. It returns false when no attempt succeeded.
func (r *Reconciler) fetchResult(ctx context.Context, key string) ([]byte, bool) {
	log := r.logger.WithContext(ctx)
	for attempt, units := range resultRetrySchedule {
		if err := sleep(ctx, units*r.cfg.ResultRetryUnit); err != nil {
			return nil, false
		}

		exists, err := r.Blobs.FileExists(ctx, key)
		if err != nil {
			metrics.ResultFetchAttempts.WithLabelValues("error").Inc()
			log.Warn("failed to check result document", "key", key, "attempt", attempt+1, "error", err)
			continue
		}
		if !exists {
			metrics.ResultFetchAttempts.WithLabelValues("missing").Inc()
			continue
		}

		data, err := r.Blobs.DownloadResult(ctx, key)
		if err != nil {
			metrics.ResultFetchAttempts.WithLabelValues("error").Inc()
			log.Warn("failed to download result document", "key", key, "attempt", attempt+1, "error", err)
			continue
		}
		metrics.ResultFetchAttempts.WithLabelValues("found").Inc()
		return data, true
	}
	log.Warn("no result document after all attempts", "key", key, "attempts", len(resultRetrySchedule))
	return nil, false
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// infrastructureBanner explains each init and wait container error that
// maps to a known error. Unmapped errors are only logged, redacted.
func (r *Reconciler) infrastructureBanner(ctx context.Context, logs RunLogs, redactor *Redactor) []string {
	var explanations []string
	for _, line := range logs.InfrastructureErrors() {
		msg, ok := explainError(line.Content)
		if !ok {
			r.logger.WithContext(ctx).Error("unmapped infrastructure error",
				"container", line.Container.String(), "pod", line.Pod, "content", redactor.Redact(line.Content))
			continue
		}
		explanations = append(explanations, msg)
	}
	if len(explanations) == 0 {
		return nil
	}
	return append([]string{bannerSeparator, bannerTitle}, explanations...)
}

func (r *Reconciler) persist(ctx context.Context, before, after *run.Run, action audit.Action) error {
	entry, err := audit.NewEntry(after.Scope.NamespaceID, audit.ResourceTypeRun, processedKey(after), action,
		before.Snapshot(), after.Snapshot())
	if err != nil {
		return err
	}
	err = r.Tx.Transaction(ctx, func(tx *sql.Tx) error {
		if err := r.Runs.UpdateInTx(ctx, tx, after, run.StatusPending, run.StatusRunning); err != nil {
			return err
		}
		return r.Audit.AppendInTx(ctx, tx, entry)
	})
	if err != nil {
		return fmt.Errorf("failed to persist run: %w", err)
	}
	return nil
}

// reconcileFindings hands a completed run to findings reconciliation.
// Failures are logged and never affect the run.
func (r *Reconciler) reconcileFindings(ctx context.Context, rn *run.Run, resultDoc []byte) {
	if r.Findings == nil {
		return
	}
	summary := findings.RunSummary{
		RunID:         rn.ID,
		Scope:         rn.Scope,
		OverallResult: *rn.OverallResult,
	}
	if rn.CompletionTime != nil {
		summary.CompletedAt = *rn.CompletionTime
	}
	if _, err := r.Findings.Reconcile(ctx, summary, resultDoc); err != nil {
		r.logger.WithContext(ctx).Error("findings reconciliation failed", "error", err)
	}
}

// FailTimedOut fails a run that stayed active past the run timeout.
func (r *Reconciler) FailTimedOut(ctx context.Context, rn *run.Run) (*run.Run, error) {
	next := rn.Clone()
	if err := next.Fail([]string{run.TimeoutLogLine}, r.now()); err != nil {
		return nil, err
	}
	err := r.persist(ctx, rn, next, audit.ActionRunTimedOut)
	if errors.Is(err, run.ErrStale) {
		r.logger.Info("run already finished by another process", "run", processedKey(rn))
		return rn, nil
	}
	if err != nil {
		return nil, err
	}
	metrics.RunsTimedOutTotal.Inc()
	metrics.RunsFinishedTotal.WithLabelValues(next.Status.String(), "").Inc()
	r.logger.Warn("run timed out", "run", processedKey(rn), "created_at", rn.CreationTime)
	return next, nil
}

func jobName(rn *run.Run) string {
	if rn.Job == nil {
		return ""
	}
	return rn.Job.Name
}
