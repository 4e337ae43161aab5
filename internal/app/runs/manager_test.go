package runs

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"

	"github.com/openctemio/qualitygate/internal/app/workflow"
	"github.com/openctemio/qualitygate/pkg/domain/audit"
	"github.com/openctemio/qualitygate/pkg/domain/run"
)

const rootConfig = "metadata:\n  version: \"1.2\"\nchapters: {}\n"

type managerFixture struct {
	manager  *Manager
	runs     *mockRunRepository
	audit    *mockAuditRepository
	executor *mockExecutor
	blobs    *mockBlobStore
	secrets  *mockSecretStore
	configs  *mockConfigProvider
}

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()
	f := &managerFixture{
		runs:     newMockRunRepository(),
		audit:    &mockAuditRepository{},
		executor: newMockExecutor(),
		blobs:    newMockBlobStore(),
		secrets:  &mockSecretStore{secrets: map[string]string{"API_TOKEN": "tok-123"}},
		configs: &mockConfigProvider{files: map[string][]byte{
			"qg-config.yaml": []byte(rootConfig),
		}},
	}
	f.manager = NewManager(ManagerDeps{
		Runs:     f.runs,
		Audit:    f.audit,
		Tx:       mockTransactor{},
		Executor: f.executor,
		Blobs:    f.blobs,
		Secrets:  f.secrets,
		Configs:  f.configs,
	}, ManagerConfig{
		ExecutorNamespace: "qualitygate",
		RootFile:          "qg-config.yaml",
		Images:            []workflow.ImageRule{{Constraint: "^1", Image: "reg/qg-engine:1"}},
		PullPolicy:        corev1.PullIfNotPresent,
		RunTimeout:        30 * time.Minute,
	}, nil)
	return f
}

func (f *managerFixture) pendingRun(t *testing.T) *run.Run {
	t.Helper()
	rn, err := run.NewRun(run.Scope{NamespaceID: 7, ConfigID: 3})
	require.NoError(t, err)
	require.NoError(t, f.runs.Create(context.Background(), rn))
	return rn
}

func TestManager_Submit(t *testing.T) {
	f := newManagerFixture(t)
	rn := f.pendingRun(t)

	got, err := f.manager.Submit(context.Background(), rn, SubmitOptions{
		Environment: map[string]string{"STAGE": "prod"},
	})
	require.NoError(t, err)

	assert.Equal(t, run.StatusRunning, got.Status)
	require.NotNil(t, got.Job)
	assert.Equal(t, run.JobRef{Name: "qg-run-abc", Namespace: "qualitygate", ID: "uid-1"}, *got.Job)
	assert.Equal(t, jobCreatedAt, got.CreationTime)
	assert.Equal(t, run.StatusPending, rn.Status, "input run must not be modified")

	// Persisted with an audit entry.
	assert.Equal(t, run.StatusRunning, f.runs.stored(rn).Status)
	assert.Equal(t, []audit.Action{audit.ActionRunSubmitted}, f.audit.actions())

	// The bundle holds the configuration and the generated side files.
	bundle := f.blobs.uploads[rn.StoragePath]
	require.NotNil(t, bundle)
	assert.Contains(t, bundle, "qg-config.yaml")
	var vars map[string]string
	require.NoError(t, json.Unmarshal(bundle[workflow.VarsFile], &vars))
	assert.Equal(t, map[string]string{"STAGE": "prod"}, vars)
	assert.Contains(t, string(bundle[workflow.SecretsFile]), "tok-123")

	// The job carries the run labels.
	require.Equal(t, 1, f.executor.submitCount())
	var wf workflow.Workflow
	require.NoError(t, json.Unmarshal(f.executor.submitted[0].Workflow, &wf))
	assert.Equal(t, "7", wf.Metadata.Labels[labelNamespace])
	assert.Equal(t, "3", wf.Metadata.Labels[labelConfig])
	assert.Equal(t, "1", wf.Metadata.Labels[labelRun])
}

func TestManager_Submit_UnknownFormat(t *testing.T) {
	f := newManagerFixture(t)
	f.configs.files["qg-config.yaml"] = []byte("metadata:\n  version: \"7.0\"\n")
	rn := f.pendingRun(t)

	got, err := f.manager.Submit(context.Background(), rn, SubmitOptions{})
	require.NoError(t, err)

	assert.Equal(t, run.StatusFailed, got.Status)
	require.Len(t, got.Log, 1)
	assert.True(t, strings.HasPrefix(got.Log[0], "Unknown format"), got.Log[0])
	assert.NotNil(t, got.CompletionTime)
	assert.Nil(t, got.Job)

	assert.Zero(t, f.executor.submitCount())
	assert.Empty(t, f.blobs.uploads)
	assert.Equal(t, []audit.Action{audit.ActionRunSubmissionFailed}, f.audit.actions())
}

func TestManager_Submit_StageFailures(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(f *managerFixture)
		wantLog string
	}{
		{
			name:    "secrets unavailable",
			setup:   func(f *managerFixture) { f.secrets.err = errors.New("db down") },
			wantLog: msgLoadFailed + ". " + msgRetryAdvice,
		},
		{
			name:    "configuration unavailable",
			setup:   func(f *managerFixture) { f.configs.err = errors.New("db down") },
			wantLog: msgLoadFailed + ". " + msgRetryAdvice,
		},
		{
			name:    "missing root file",
			setup:   func(f *managerFixture) { f.configs.files = map[string][]byte{"other.yaml": []byte("a: 1")} },
			wantLog: msgPrepareFailed + ". " + msgRetryAdvice,
		},
		{
			name:    "upload fails",
			setup:   func(f *managerFixture) { f.blobs.uploadErr = errors.New("bucket unreachable") },
			wantLog: msgUploadFailed + ". " + msgRetryAdvice,
		},
		{
			name:    "executor rejects",
			setup:   func(f *managerFixture) { f.executor.submitErr = errTransport },
			wantLog: msgSubmitFailed + ". " + msgRetryAdvice,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newManagerFixture(t)
			tt.setup(f)
			rn := f.pendingRun(t)

			got, err := f.manager.Submit(context.Background(), rn, SubmitOptions{})
			require.NoError(t, err)

			assert.Equal(t, run.StatusFailed, got.Status)
			assert.Equal(t, []string{tt.wantLog}, got.Log)
			assert.Nil(t, got.OverallResult)
			assert.Equal(t, run.StatusFailed, f.runs.stored(rn).Status)
			assert.Equal(t, []audit.Action{audit.ActionRunSubmissionFailed}, f.audit.actions())
		})
	}
}

func TestManager_Submit_RejectedJobRemovesBundle(t *testing.T) {
	f := newManagerFixture(t)
	f.executor.submitErr = errTransport
	rn := f.pendingRun(t)

	_, err := f.manager.Submit(context.Background(), rn, SubmitOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{rn.StoragePath}, f.blobs.removed)
}

func TestManager_Submit_EmptyAnswerRemovesBundle(t *testing.T) {
	f := newManagerFixture(t)
	f.executor.submitStatus = nil
	rn := f.pendingRun(t)

	got, err := f.manager.Submit(context.Background(), rn, SubmitOptions{})
	require.NoError(t, err)
	assert.Equal(t, run.StatusFailed, got.Status)
	assert.Equal(t, []string{rn.StoragePath}, f.blobs.removed)
}

func TestManager_Submit_PersistenceFailure(t *testing.T) {
	f := newManagerFixture(t)
	rn := f.pendingRun(t)
	f.runs.updateErr = errors.New("serialization failure")

	_, err := f.manager.Submit(context.Background(), rn, SubmitOptions{})
	require.Error(t, err)
	assert.Equal(t, run.StatusPending, f.runs.stored(rn).Status)
}

func TestManager_Submit_NotPending(t *testing.T) {
	f := newManagerFixture(t)
	rn := f.pendingRun(t)
	require.NoError(t, rn.Fail([]string{"x"}, time.Now()))

	_, err := f.manager.Submit(context.Background(), rn, SubmitOptions{})
	assert.ErrorIs(t, err, ErrNotPending)
	assert.Zero(t, f.executor.submitCount())
}

func TestManager_Submit_StoredRunAlreadyMoved(t *testing.T) {
	f := newManagerFixture(t)
	rn := f.pendingRun(t)

	// The stored copy was submitted by someone else in the meantime.
	first, err := f.manager.Submit(context.Background(), rn, SubmitOptions{})
	require.NoError(t, err)
	require.Equal(t, run.StatusRunning, first.Status)

	_, err = f.manager.Submit(context.Background(), rn, SubmitOptions{})
	assert.ErrorIs(t, err, run.ErrStale)
	assert.Equal(t, 1, f.runs.updateCount())
	assert.Equal(t, run.StatusRunning, f.runs.stored(rn).Status)
}

func TestManager_Submit_Selector(t *testing.T) {
	f := newManagerFixture(t)
	rn := f.pendingRun(t)

	_, err := f.manager.Submit(context.Background(), rn, SubmitOptions{
		Selector: &workflow.Selector{Chapter: "1", Requirement: "2", Check: "3"},
	})
	require.NoError(t, err)

	var wf workflow.Workflow
	require.NoError(t, json.Unmarshal(f.executor.submitted[0].Workflow, &wf))
	assert.Equal(t, []string{"qg-engine run 1_2_3"}, wf.Spec.Templates[0].Container.Args)
}

func TestManager_Start(t *testing.T) {
	f := newManagerFixture(t)

	first, err := f.manager.Start(context.Background(), run.Scope{NamespaceID: 7, ConfigID: 3}, SubmitOptions{})
	require.NoError(t, err)
	second, err := f.manager.Start(context.Background(), run.Scope{NamespaceID: 7, ConfigID: 4}, SubmitOptions{})
	require.NoError(t, err)

	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, int64(2), second.ID)
	assert.Equal(t, run.StatusRunning, second.Status)
	assert.NotEqual(t, first.StoragePath, second.StoragePath)
}

func TestManager_Start_InvalidScope(t *testing.T) {
	f := newManagerFixture(t)

	_, err := f.manager.Start(context.Background(), run.Scope{NamespaceID: 7}, SubmitOptions{})
	assert.Error(t, err)
	assert.Zero(t, f.executor.submitCount())
}
