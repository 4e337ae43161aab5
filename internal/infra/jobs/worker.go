package jobs

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/openctemio/qualitygate/pkg/logger"
)

// WorkerConfig holds the configuration for the job worker.
type WorkerConfig struct {
	Redis       asynq.RedisConnOpt
	Concurrency int
	Queue       string
}

// Worker processes background jobs.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *logger.Logger
}

// NewWorker creates a worker that hands run tasks to processor.
func NewWorker(cfg WorkerConfig, processor RunProcessor, log *logger.Logger) *Worker {
	queue := cfg.Queue
	if queue == "" {
		queue = "default"
	}
	server := asynq.NewServer(
		cfg.Redis,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues:      map[string]int{queue: 1},
			Logger:      newAsynqLogger(log),
		},
	)

	mux := asynq.NewServeMux()
	NewRunTaskHandler(processor, log.Logger).RegisterHandlers(mux)

	return &Worker{
		server: server,
		mux:    mux,
		logger: log.With("component", "job_worker"),
	}
}

// Stop stops the worker gracefully.
func (w *Worker) Stop() {
	w.logger.Info("stopping job worker")
	w.server.Shutdown()
}

// Run runs the worker until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("starting job worker")
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("worker error: %w", err)
	}
	<-ctx.Done()
	w.Stop()
	return nil
}

// asynqLogger routes asynq's internal logging through the service logger.
type asynqLogger struct {
	log *logger.Logger
}

func newAsynqLogger(log *logger.Logger) *asynqLogger {
	return &asynqLogger{log: log.With("component", "asynq")}
}

func (l *asynqLogger) Debug(args ...any) { l.log.Debug(fmt.Sprint(args...)) }
func (l *asynqLogger) Info(args ...any)  { l.log.Info(fmt.Sprint(args...)) }
func (l *asynqLogger) Warn(args ...any)  { l.log.Warn(fmt.Sprint(args...)) }
func (l *asynqLogger) Error(args ...any) { l.log.Error(fmt.Sprint(args...)) }
func (l *asynqLogger) Fatal(args ...any) { l.log.Error(fmt.Sprint(args...)) }
