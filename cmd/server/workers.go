package main

import (
	"context"
	"errors"

	"github.com/openctemio/qualitygate/internal/bootstrap"
	"github.com/openctemio/qualitygate/internal/config"
	"github.com/openctemio/qualitygate/internal/infra/controller"
	"github.com/openctemio/qualitygate/internal/infra/jobs"
	"github.com/openctemio/qualitygate/internal/infra/redis"
	"github.com/openctemio/qualitygate/pkg/logger"
)

// Workers holds the background workers.
type Workers struct {
	ControllerManager *controller.Manager
	FinishedRuns      *controller.FinishedRunController

	// Set in queue dispatch mode.
	JobClient *jobs.Client
	JobWorker *jobs.Worker

	inline *controller.InlineDispatcher
}

// WorkerDeps contains dependencies needed to create workers.
type WorkerDeps struct {
	Config   *config.Config
	Log      *logger.Logger
	Repos    *bootstrap.Repositories
	Services *bootstrap.Services
	// Redis is nil unless a configured feature needs it.
	Redis *redis.Client
}

// NewWorkers wires the poller and its dispatch mode into a controller manager.
func NewWorkers(deps *WorkerDeps) (*Workers, error) {
	cfg := deps.Config
	log := deps.Log
	w := &Workers{}

	var dispatcher controller.RunDispatcher
	switch cfg.Poller.Dispatch {
	case config.DispatchQueue:
		if deps.Redis == nil {
			return nil, errors.New("queue dispatch requires redis")
		}
		w.JobClient = jobs.NewClient(jobs.ClientConfig{
			Redis: deps.Redis.AsynqOpt(),
			Tasks: jobs.RunTaskOptions{
				Queue:     cfg.Queue.Name,
				Timeout:   cfg.Poller.PerRunTimeout,
				UniqueFor: cfg.Poller.Interval,
			},
		}, log)
		dispatcher = controller.NewQueueDispatcher(w.JobClient)
	default:
		w.inline = controller.NewInlineDispatcher(cfg.Poller.MaxConcurrent, cfg.Poller.PerRunTimeout, log)
		dispatcher = w.inline
	}

	pollerCfg := &controller.FinishedRunControllerConfig{
		Interval:   cfg.Poller.Interval,
		RunTimeout: cfg.Poller.RunTimeout,
		Logger:     log,
	}
	lock, err := bootstrap.NewSweepLock(&cfg.Poller, deps.Redis)
	if err != nil {
		return nil, err
	}
	pollerCfg.Lock = lock
	w.FinishedRuns = controller.NewFinishedRunController(deps.Repos.Run, deps.Services.Reconciler, dispatcher, pollerCfg)

	if w.JobClient != nil {
		w.JobWorker = jobs.NewWorker(jobs.WorkerConfig{
			Redis:       deps.Redis.AsynqOpt(),
			Concurrency: cfg.Queue.Concurrency,
			Queue:       cfg.Queue.Name,
		}, w.FinishedRuns, log)
	}

	w.ControllerManager = controller.NewManager(&controller.ManagerConfig{
		Metrics: controller.NewPrometheusMetrics("qualitygate"),
		Logger:  log,
	})
	if cfg.Poller.Enabled {
		w.ControllerManager.Register(w.FinishedRuns)
	}
	if cfg.Retention.Enabled {
		w.ControllerManager.Register(controller.NewAuditRetentionController(deps.Repos.Audit, &controller.AuditRetentionControllerConfig{
			Interval:      cfg.Retention.Interval,
			RetentionDays: cfg.Retention.Days,
			BatchSize:     cfg.Retention.BatchSize,
			DryRun:        cfg.Retention.DryRun,
			Logger:        log,
		}))
	}
	return w, nil
}

// Start starts the controllers. The job worker is run separately by Run.
func (w *Workers) Start(ctx context.Context) error {
	return w.ControllerManager.Start(ctx)
}

// RunJobWorker processes queued run tasks until ctx is done. It returns
// immediately in inline mode.
func (w *Workers) RunJobWorker(ctx context.Context) error {
	if w.JobWorker == nil {
		return nil
	}
	return w.JobWorker.Run(ctx)
}

// Stop stops the controllers and waits for inline run handling to drain.
func (w *Workers) Stop(log *logger.Logger) {
	if err := w.ControllerManager.Stop(); err != nil {
		log.Error("failed to stop controllers", "error", err)
	}
	if w.inline != nil {
		w.inline.Wait()
	}
	if w.JobClient != nil {
		closeWithLog(w.JobClient, "job client", log)
	}
}
