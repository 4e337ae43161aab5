package controller

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/openctemio/qualitygate/pkg/logger"
)

// ProcessFunc handles one run.
type ProcessFunc func(ctx context.Context, namespaceID, runID int64) error

// RunDispatcher hands the runs of a sweep to whatever executes them.
// Dispatch returns once the run is handed off, not once it is processed.
type RunDispatcher interface {
	Dispatch(ctx context.Context, namespaceID, runID int64, process ProcessFunc) error
}

// InlineDispatcher processes runs in goroutines of this process, at most
// maxConcurrent at a time.
type InlineDispatcher struct {
	sem     *semaphore.Weighted
	timeout time.Duration
	wg      sync.WaitGroup
	logger  *logger.Logger
}

// NewInlineDispatcher creates a new InlineDispatcher. Each run gets at most
// perRunTimeout.
func NewInlineDispatcher(maxConcurrent int, perRunTimeout time.Duration, log *logger.Logger) *InlineDispatcher {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &InlineDispatcher{
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		timeout: perRunTimeout,
		logger:  log.With("component", "inline-dispatcher"),
	}
}

// Dispatch waits for a free slot and processes the run in the background.
// The run outlives ctx; only its values are kept.
func (d *InlineDispatcher) Dispatch(ctx context.Context, namespaceID, runID int64, process ProcessFunc) error {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("no dispatch slot for run %d/%d: %w", namespaceID, runID, err)
	}

	runCtx := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("run processing panicked",
					"namespace_id", namespaceID,
					"run_id", runID,
					"panic", r,
					"stack", string(debug.Stack()),
				)
			}
		}()

		if d.timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(runCtx, d.timeout)
			defer cancel()
		}
		if err := process(runCtx, namespaceID, runID); err != nil {
			d.logger.Error("run processing failed", "namespace_id", namespaceID, "run_id", runID, "error", err)
		}
	}()
	return nil
}

// Wait blocks until every dispatched run has been processed.
func (d *InlineDispatcher) Wait() {
	d.wg.Wait()
}

// Enqueuer puts a run on the job queue.
type Enqueuer interface {
	EnqueueRunReconcile(ctx context.Context, namespaceID, runID int64) error
}

// QueueDispatcher hands runs to the job queue. The queue worker calls
// FinishedRunController.ProcessRun.
type QueueDispatcher struct {
	queue Enqueuer
}

// NewQueueDispatcher creates a new QueueDispatcher.
func NewQueueDispatcher(queue Enqueuer) *QueueDispatcher {
	return &QueueDispatcher{queue: queue}
}

// Dispatch enqueues the run. process is not used.
func (d *QueueDispatcher) Dispatch(ctx context.Context, namespaceID, runID int64, _ ProcessFunc) error {
	return d.queue.EnqueueRunReconcile(ctx, namespaceID, runID)
}

var (
	_ RunDispatcher = (*InlineDispatcher)(nil)
	_ RunDispatcher = (*QueueDispatcher)(nil)
)
