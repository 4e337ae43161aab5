package runs

import (
	"context"
	"database/sql"

	"github.com/openctemio/qualitygate/internal/app/findings"
	"github.com/openctemio/qualitygate/pkg/domain/execution"
	"github.com/openctemio/qualitygate/pkg/domain/run"
)

// Executor is the REST surface of the workflow executor.
type Executor interface {
	SubmitJob(ctx context.Context, spec execution.JobSpec) (*execution.WorkflowStatus, error)
	// GetLiveStatus returns nil, nil when the executor does not know the job.
	GetLiveStatus(ctx context.Context, name, namespace string) (*execution.WorkflowStatus, error)
	// GetArchivedStatus returns nil, nil when the archive does not know the job.
	GetArchivedStatus(ctx context.Context, id string) (*execution.WorkflowStatus, error)
	// GetLogs returns false when the executor has no log for the container.
	GetLogs(ctx context.Context, name, namespace string, container execution.Container) (string, bool, error)
}

// BlobStore holds run bundles, result documents and archived logs.
// Downloads of missing objects return an error wrapping shared.ErrNotFound.
type BlobStore interface {
	UploadConfig(ctx context.Context, storagePath string, files map[string][]byte) error
	DownloadResult(ctx context.Context, key string) ([]byte, error)
	FileExists(ctx context.Context, key string) (bool, error)
	DownloadLogs(ctx context.Context, jobName string) ([]byte, error)
	RemovePath(ctx context.Context, storagePath string) error
}

// SecretStore returns the decrypted secrets of a namespace.
type SecretStore interface {
	GetSecrets(ctx context.Context, namespaceID int64) (map[string]string, error)
}

// ConfigProvider returns the files of a configuration keyed by filename.
type ConfigProvider interface {
	GetContentOfMultipleFiles(ctx context.Context, scope run.Scope) (map[string][]byte, error)
}

// Transactor runs a function inside one database transaction.
type Transactor interface {
	Transaction(ctx context.Context, fn func(tx *sql.Tx) error) error
}

// FindingsReconciler reconciles the outcomes of a completed run.
type FindingsReconciler interface {
	Reconcile(ctx context.Context, summary findings.RunSummary, resultDoc []byte) (*findings.Result, error)
}
