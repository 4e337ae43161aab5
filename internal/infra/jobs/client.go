package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/openctemio/qualitygate/pkg/logger"
)

// Client manages enqueueing background jobs using Asynq.
type Client struct {
	client  *asynq.Client
	taskOpt RunTaskOptions
	logger  *logger.Logger
}

// ClientConfig contains configuration for the job client.
type ClientConfig struct {
	Redis asynq.RedisConnOpt
	Tasks RunTaskOptions
}

// NewClient creates a new job client for enqueueing tasks.
func NewClient(cfg ClientConfig, log *logger.Logger) *Client {
	client := asynq.NewClient(cfg.Redis)

	return &Client{
		client:  client,
		taskOpt: cfg.Tasks,
		logger:  log.With("component", "job_client"),
	}
}

// Close closes the client connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// EnqueueRunReconcile enqueues the handling of one run. A duplicate of a
// task still pending is not an error.
func (c *Client) EnqueueRunReconcile(ctx context.Context, namespaceID, runID int64) error {
	task, err := NewRunReconcileTask(RunReconcilePayload{NamespaceID: namespaceID, RunID: runID}, c.taskOpt)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	info, err := c.client.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrDuplicateTask) {
		c.logger.Debug("run reconcile already queued", "namespace_id", namespaceID, "run_id", runID)
		return nil
	}
	if err != nil {
		c.logger.Error("failed to enqueue run reconcile",
			"namespace_id", namespaceID,
			"run_id", runID,
			"error", err,
		)
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	c.logger.Debug("run reconcile queued",
		"task_id", info.ID,
		"namespace_id", namespaceID,
		"run_id", runID,
		"queue", info.Queue,
	)
	return nil
}
