package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// =============================================================================
// Task Types
// =============================================================================

// TypeRunReconcile is the task type for handling one active run.
const TypeRunReconcile = "run:reconcile"

// =============================================================================
// Task Payloads
// =============================================================================

// RunReconcilePayload identifies the run to handle.
type RunReconcilePayload struct {
	NamespaceID int64 `json:"namespace_id"`
	RunID       int64 `json:"run_id"`
}

// =============================================================================
// Task Creators
// =============================================================================

// RunTaskOptions configures run tasks.
type RunTaskOptions struct {
	Queue   string
	Timeout time.Duration
	// UniqueFor drops duplicates of a run task enqueued within this window.
	UniqueFor time.Duration
}

// NewRunReconcileTask creates a task for handling one run. The task is not
// retried: the next poller tick enqueues the run again if it is still active.
func NewRunReconcileTask(payload RunReconcilePayload, opts RunTaskOptions) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal run reconcile payload: %w", err)
	}

	taskOpts := []asynq.Option{asynq.MaxRetry(0)}
	if opts.Queue != "" {
		taskOpts = append(taskOpts, asynq.Queue(opts.Queue))
	}
	if opts.Timeout > 0 {
		taskOpts = append(taskOpts, asynq.Timeout(opts.Timeout))
	}
	if opts.UniqueFor > 0 {
		taskOpts = append(taskOpts, asynq.Unique(opts.UniqueFor))
	}
	return asynq.NewTask(TypeRunReconcile, data, taskOpts...), nil
}

// =============================================================================
// Task Handlers
// =============================================================================

// RunProcessor handles one run. It is implemented by the finished-run
// controller.
type RunProcessor interface {
	ProcessRun(ctx context.Context, namespaceID, runID int64) error
}

// RunTaskHandler handles run tasks.
type RunTaskHandler struct {
	processor RunProcessor
	log       *slog.Logger
}

// NewRunTaskHandler creates a new RunTaskHandler.
func NewRunTaskHandler(processor RunProcessor, log *slog.Logger) *RunTaskHandler {
	return &RunTaskHandler{
		processor: processor,
		log:       log.With("handler", "run_tasks"),
	}
}

// RegisterHandlers registers the run task handlers with the mux.
func (h *RunTaskHandler) RegisterHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeRunReconcile, h.HandleRunReconcile)
}

// HandleRunReconcile handles a run reconcile task.
func (h *RunTaskHandler) HandleRunReconcile(ctx context.Context, t *asynq.Task) error {
	var payload RunReconcilePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal run reconcile payload: %w: %w", err, asynq.SkipRetry)
	}
	if payload.NamespaceID <= 0 || payload.RunID <= 0 {
		return fmt.Errorf("invalid run reconcile payload %+v: %w", payload, asynq.SkipRetry)
	}

	if err := h.processor.ProcessRun(ctx, payload.NamespaceID, payload.RunID); err != nil {
		h.log.Error("run reconcile task failed",
			"namespace_id", payload.NamespaceID,
			"run_id", payload.RunID,
			"error", err,
		)
		return err
	}
	return nil
}
