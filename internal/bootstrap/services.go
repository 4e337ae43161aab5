package bootstrap

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"

	"github.com/openctemio/qualitygate/internal/app/findings"
	"github.com/openctemio/qualitygate/internal/app/runs"
	"github.com/openctemio/qualitygate/internal/app/workflow"
	"github.com/openctemio/qualitygate/internal/config"
	"github.com/openctemio/qualitygate/internal/infra/executor"
	"github.com/openctemio/qualitygate/internal/infra/postgres"
	"github.com/openctemio/qualitygate/internal/infra/storage"
	"github.com/openctemio/qualitygate/pkg/logger"
)

// Services holds the application services.
type Services struct {
	Findings   *findings.Service
	Manager    *runs.Manager
	Reconciler *runs.Reconciler
	Executor   *executor.Client
	Blobs      *storage.S3Store
}

// ServiceDeps contains dependencies needed to create services.
type ServiceDeps struct {
	Config *config.Config
	Log    *logger.Logger
	DB     *postgres.DB
	Repos  *Repositories
}

// NewServices creates the executor and storage clients and the services
// built on them.
func NewServices(ctx context.Context, deps *ServiceDeps) (*Services, error) {
	cfg := deps.Config
	log := deps.Log
	repos := deps.Repos

	blobs, err := storage.NewS3Store(ctx, storage.S3Config{
		Bucket:     cfg.Storage.Bucket,
		Region:     cfg.Storage.Region,
		Endpoint:   cfg.Storage.Endpoint,
		AccessKey:  cfg.Storage.AccessKeyID,
		SecretKey:  cfg.Storage.SecretAccessKey,
		LogsPrefix: cfg.Storage.LogsPrefix,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob store: %w", err)
	}

	exec := executor.New(executor.Config{
		BaseURL:    cfg.Executor.URL,
		Token:      cfg.Executor.Token,
		Timeout:    cfg.Executor.Timeout,
		RetryCount: cfg.Executor.RetryCount,
		RateLimit:  cfg.Executor.RateLimit,
		RateBurst:  cfg.Executor.RateBurst,
	}, log)

	findingSvc := findings.NewService(deps.DB, repos.Finding, repos.Audit, log)

	manager := runs.NewManager(runs.ManagerDeps{
		Runs:     repos.Run,
		Audit:    repos.Audit,
		Tx:       deps.DB,
		Executor: exec,
		Blobs:    blobs,
		Secrets:  repos.Secret,
		Configs:  repos.Config,
	}, managerConfig(cfg), log)

	reconciler := runs.NewReconciler(runs.ReconcilerDeps{
		Runs:     repos.Run,
		Audit:    repos.Audit,
		Tx:       deps.DB,
		Executor: exec,
		Blobs:    blobs,
		Secrets:  repos.Secret,
		Findings: findingSvc,
	}, runs.ReconcilerConfig{
		ArchiveChecksDisabled: cfg.Executor.ArchiveChecksDisabled,
		ResultRetryUnit:       cfg.Poller.ResultRetryUnit,
	}, log)

	return &Services{
		Findings:   findingSvc,
		Manager:    manager,
		Reconciler: reconciler,
		Executor:   exec,
		Blobs:      blobs,
	}, nil
}

func managerConfig(cfg *config.Config) runs.ManagerConfig {
	images := make([]workflow.ImageRule, 0, len(cfg.Workflow.Images))
	for _, rule := range cfg.Workflow.Images {
		images = append(images, workflow.ImageRule{Constraint: rule.Constraint, Image: rule.Image})
	}
	return runs.ManagerConfig{
		ExecutorNamespace: cfg.Workflow.ExecutorNamespace,
		RootFile:          cfg.Workflow.RootFile,
		Images:            images,
		PullPolicy:        corev1.PullPolicy(cfg.Workflow.PullPolicy),
		Cloud: workflow.Cloud{
			Private:    cfg.Workflow.PrivateCloud,
			HTTPProxy:  cfg.Workflow.HTTPProxy,
			HTTPSProxy: cfg.Workflow.HTTPSProxy,
			NoProxy:    cfg.Workflow.NoProxy,
			PullSecret: cfg.Workflow.ImagePullSecret,
		},
		RunTimeout: cfg.Poller.RunTimeout,
	}
}
