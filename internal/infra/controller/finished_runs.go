package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/openctemio/qualitygate/internal/app/runs"
	"github.com/openctemio/qualitygate/internal/infra/redis"
	"github.com/openctemio/qualitygate/internal/metrics"
	"github.com/openctemio/qualitygate/pkg/domain/run"
	"github.com/openctemio/qualitygate/pkg/domain/shared"
	"github.com/openctemio/qualitygate/pkg/logger"
)

// RunReconciler records the outcome of finished runs.
type RunReconciler interface {
	CheckHasFinished(ctx context.Context, jobID, name, namespace string) (runs.FinishStatus, error)
	UpdateWorkflowData(ctx context.Context, fs runs.FinishStatus, rn *run.Run) (*run.Run, error)
	FailTimedOut(ctx context.Context, rn *run.Run) (*run.Run, error)
}

// SweepLocker guards sweeps across instances.
type SweepLocker interface {
	Acquire(ctx context.Context) (func(), error)
}

// FinishedRunControllerConfig configures the FinishedRunController.
type FinishedRunControllerConfig struct {
	// Interval is how often active runs are swept.
	// Default: 10 seconds.
	Interval time.Duration

	// RunTimeout fails runs that stay active longer than this.
	// Default: 30 minutes.
	RunTimeout time.Duration

	// Lock, when set, is taken for the duration of each sweep.
	Lock SweepLocker

	// Logger for logging.
	Logger *logger.Logger
}

// FinishedRunController sweeps active runs. Runs past the timeout are
// failed; runs whose job has finished get their outcome recorded.
//
// Sweeps never overlap: a tick that finds the previous sweep still
// dispatching returns immediately. A run still being processed from an
// earlier tick is skipped.
type FinishedRunController struct {
	runs       run.Repository
	reconciler RunReconciler
	dispatcher RunDispatcher
	config     *FinishedRunControllerConfig
	logger     *logger.Logger
	tracer     trace.Tracer

	sweeping atomic.Bool
	inFlight sync.Map

	now func() time.Time
}

// NewFinishedRunController creates a new FinishedRunController.
func NewFinishedRunController(
	runRepo run.Repository,
	reconciler RunReconciler,
	dispatcher RunDispatcher,
	config *FinishedRunControllerConfig,
) *FinishedRunController {
	if config == nil {
		config = &FinishedRunControllerConfig{}
	}
	if config.Interval == 0 {
		config.Interval = 10 * time.Second
	}
	if config.RunTimeout == 0 {
		config.RunTimeout = 30 * time.Minute
	}
	if config.Logger == nil {
		config.Logger = logger.NewNop()
	}

	return &FinishedRunController{
		runs:       runRepo,
		reconciler: reconciler,
		dispatcher: dispatcher,
		config:     config,
		logger:     config.Logger.With("controller", "finished-runs"),
		tracer:     otel.Tracer("qualitygate/controller"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Name returns the controller name.
func (c *FinishedRunController) Name() string {
	return "finished-runs"
}

// Interval returns the reconciliation interval.
func (c *FinishedRunController) Interval() time.Duration {
	return c.config.Interval
}

// Reconcile dispatches every active run and returns how many were
// dispatched.
func (c *FinishedRunController) Reconcile(ctx context.Context) (int, error) {
	if !c.sweeping.CompareAndSwap(false, true) {
		c.logger.Info("previous sweep still running, skipping tick")
		return 0, nil
	}
	defer c.sweeping.Store(false)

	if c.config.Lock != nil {
		release, err := c.config.Lock.Acquire(ctx)
		if errors.Is(err, redis.ErrLockHeld) {
			c.logger.Debug("another instance is sweeping")
			return 0, nil
		}
		if err != nil {
			return 0, fmt.Errorf("failed to acquire sweep lock: %w", err)
		}
		defer release()
	}

	ctx, span := c.tracer.Start(ctx, "controller.FinishedRuns.Reconcile")
	defer span.End()

	active, err := c.runs.ListActive(ctx)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to list active runs: %w", err)
	}
	metrics.RunsActive.Set(float64(len(active)))
	span.SetAttributes(attribute.Int("runs.active", len(active)))

	dispatched := 0
	for _, rn := range active {
		key := runKey(rn.Scope.NamespaceID, rn.ID)
		if _, busy := c.inFlight.Load(key); busy {
			c.logger.Debug("run still in flight, skipping", "run", key)
			continue
		}
		if err := c.dispatcher.Dispatch(ctx, rn.Scope.NamespaceID, rn.ID, c.ProcessRun); err != nil {
			c.logger.Error("failed to dispatch run", "run", key, "error", err)
			continue
		}
		dispatched++
	}
	return dispatched, nil
}

// ProcessRun handles one active run: a run past the timeout is failed, a run
// whose job has finished gets its outcome recorded. Runs already processed
// by a concurrent call, or no longer active, are left alone.
func (c *FinishedRunController) ProcessRun(ctx context.Context, namespaceID, runID int64) error {
	key := runKey(namespaceID, runID)
	if _, loaded := c.inFlight.LoadOrStore(key, struct{}{}); loaded {
		c.logger.Debug("run already being processed", "run", key)
		return nil
	}
	defer c.inFlight.Delete(key)

	rn, err := c.runs.GetByID(ctx, namespaceID, runID)
	if err != nil {
		if shared.IsNotFound(err) {
			c.logger.Warn("dispatched run no longer exists", "run", key)
			return nil
		}
		return fmt.Errorf("failed to load run %s: %w", key, err)
	}
	if !rn.Status.IsActive() {
		return nil
	}

	if rn.TimedOut(c.now(), c.config.RunTimeout) {
		_, err := c.reconciler.FailTimedOut(ctx, rn)
		return err
	}

	if rn.HasCompleteJob() {
		fs, err := c.reconciler.CheckHasFinished(ctx, rn.Job.ID, rn.Job.Name, rn.Job.Namespace)
		if err != nil {
			return err
		}
		if !fs.Finished {
			return nil
		}
		_, err = c.reconciler.UpdateWorkflowData(ctx, fs, rn)
		return err
	}

	if rn.Status == run.StatusRunning {
		metrics.RunsInconsistentTotal.Inc()
		c.logger.Warn("running run has no complete job reference",
			"run", key,
			"error", run.ErrDataInconsistency,
		)
	}
	return nil
}

func runKey(namespaceID, runID int64) string {
	return fmt.Sprintf("%d/%d", namespaceID, runID)
}

var _ Controller = (*FinishedRunController)(nil)
