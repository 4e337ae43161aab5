package runs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/openctemio/qualitygate/internal/app/findings"
	"github.com/openctemio/qualitygate/pkg/domain/audit"
	"github.com/openctemio/qualitygate/pkg/domain/execution"
	"github.com/openctemio/qualitygate/pkg/domain/run"
	"github.com/openctemio/qualitygate/pkg/domain/shared"
)

var errTransport = errors.New("connection refused")

var jobCreatedAt = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

// jobStatus builds an executor payload for job qg-run-abc.
func jobStatus(phase execution.Phase, finishedAt *time.Time) *execution.WorkflowStatus {
	ws := &execution.WorkflowStatus{
		Metadata: metav1.ObjectMeta{
			Name:              "qg-run-abc",
			Namespace:         "qualitygate",
			UID:               "uid-1",
			CreationTimestamp: metav1.NewTime(jobCreatedAt),
		},
		Status: execution.WorkflowState{Phase: phase},
	}
	if finishedAt != nil {
		t := metav1.NewTime(*finishedAt)
		ws.Status.FinishedAt = &t
	}
	return ws
}

// =============================================================================
// Executor
// =============================================================================

type mockExecutor struct {
	mu sync.RWMutex

	submitted    []execution.JobSpec
	submitStatus *execution.WorkflowStatus
	submitErr    error

	live        *execution.WorkflowStatus
	liveErr     error
	archived    *execution.WorkflowStatus
	archivedErr error

	logs    map[execution.Container]string
	logsErr map[execution.Container]error

	liveCalls    int
	archiveCalls int
}

func newMockExecutor() *mockExecutor {
	return &mockExecutor{
		submitStatus: jobStatus(execution.PhasePending, nil),
		logs:         make(map[execution.Container]string),
		logsErr:      make(map[execution.Container]error),
	}
}

func (m *mockExecutor) SubmitJob(_ context.Context, spec execution.JobSpec) (*execution.WorkflowStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitted = append(m.submitted, spec)
	if m.submitErr != nil {
		return nil, m.submitErr
	}
	return m.submitStatus, nil
}

func (m *mockExecutor) GetLiveStatus(_ context.Context, _, _ string) (*execution.WorkflowStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.liveCalls++
	return m.live, m.liveErr
}

func (m *mockExecutor) GetArchivedStatus(_ context.Context, _ string) (*execution.WorkflowStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.archiveCalls++
	return m.archived, m.archivedErr
}

func (m *mockExecutor) GetLogs(_ context.Context, _, _ string, c execution.Container) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.logsErr[c]; err != nil {
		return "", false, err
	}
	text, ok := m.logs[c]
	return text, ok, nil
}

func (m *mockExecutor) submitCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.submitted)
}

// envelope renders log lines in the executor's NDJSON format.
func envelope(lines ...string) string {
	out := ""
	for _, l := range lines {
		out += fmt.Sprintf(`{"result":{"content":%q,"podName":"qg-run-abc-1"}}`, l) + "\n"
	}
	return out
}

// =============================================================================
// Blob store
// =============================================================================

type mockBlobStore struct {
	mu sync.RWMutex

	objects map[string][]byte
	uploads map[string]map[string][]byte
	logs    map[string][]byte
	removed []string

	uploadErr error
	existsErr error
	// hiddenChecks is the number of FileExists calls that report false
	// before objects become visible.
	hiddenChecks int
	existsCalls  int
}

func newMockBlobStore() *mockBlobStore {
	return &mockBlobStore{
		objects: make(map[string][]byte),
		uploads: make(map[string]map[string][]byte),
		logs:    make(map[string][]byte),
	}
}

func (m *mockBlobStore) UploadConfig(_ context.Context, storagePath string, files map[string][]byte) error {
	if m.uploadErr != nil {
		return m.uploadErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploads[storagePath] = maps.Clone(files)
	return nil
}

func (m *mockBlobStore) DownloadResult(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", shared.ErrNotFound, key)
	}
	return data, nil
}

func (m *mockBlobStore) FileExists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.existsCalls++
	if m.existsErr != nil {
		return false, m.existsErr
	}
	if m.existsCalls <= m.hiddenChecks {
		return false, nil
	}
	_, ok := m.objects[key]
	return ok, nil
}

func (m *mockBlobStore) DownloadLogs(_ context.Context, jobName string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.logs[jobName]
	if !ok {
		return nil, fmt.Errorf("%w: logs of %s", shared.ErrNotFound, jobName)
	}
	return data, nil
}

func (m *mockBlobStore) RemovePath(_ context.Context, storagePath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, storagePath)
	return nil
}

// =============================================================================
// Secrets and configuration files
// =============================================================================

type mockSecretStore struct {
	secrets map[string]string
	err     error
}

func (m *mockSecretStore) GetSecrets(context.Context, int64) (map[string]string, error) {
	if m.err != nil {
		return nil, m.err
	}
	return maps.Clone(m.secrets), nil
}

type mockConfigProvider struct {
	files map[string][]byte
	err   error
}

func (m *mockConfigProvider) GetContentOfMultipleFiles(context.Context, run.Scope) (map[string][]byte, error) {
	if m.err != nil {
		return nil, m.err
	}
	return maps.Clone(m.files), nil
}

// =============================================================================
// Persistence
// =============================================================================

type mockRunRepository struct {
	mu        sync.RWMutex
	runs      map[string]*run.Run
	nextID    map[int64]int64
	updates   int
	updateErr error
}

func newMockRunRepository() *mockRunRepository {
	return &mockRunRepository{
		runs:   make(map[string]*run.Run),
		nextID: make(map[int64]int64),
	}
}

func (m *mockRunRepository) Create(_ context.Context, r *run.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID[r.Scope.NamespaceID]++
	r.ID = m.nextID[r.Scope.NamespaceID]
	m.runs[processedKey(r)] = r.Clone()
	return nil
}

func (m *mockRunRepository) GetByID(_ context.Context, namespaceID, id int64) (*run.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[fmt.Sprintf("%d/%d", namespaceID, id)]
	if !ok {
		return nil, run.ErrNotFound
	}
	return r.Clone(), nil
}

func (m *mockRunRepository) ListActive(context.Context) ([]*run.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*run.Run
	for _, r := range m.runs {
		if r.Status.IsActive() {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

func (m *mockRunRepository) UpdateInTx(_ context.Context, _ *sql.Tx, r *run.Run, from ...run.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	if stored, ok := m.runs[processedKey(r)]; ok && len(from) > 0 && !slices.Contains(from, stored.Status) {
		return run.ErrStale
	}
	m.updates++
	m.runs[processedKey(r)] = r.Clone()
	return nil
}

func (m *mockRunRepository) stored(r *run.Run) *run.Run {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.runs[processedKey(r)]
}

func (m *mockRunRepository) updateCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.updates
}

type mockAuditRepository struct {
	mu      sync.RWMutex
	entries []*audit.Entry
}

func (m *mockAuditRepository) Append(_ context.Context, e *audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *mockAuditRepository) AppendInTx(ctx context.Context, _ *sql.Tx, e *audit.Entry) error {
	return m.Append(ctx, e)
}

func (m *mockAuditRepository) ListByResource(context.Context, int64, audit.ResourceType, string) ([]*audit.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*audit.Entry(nil), m.entries...), nil
}

func (m *mockAuditRepository) actions() []audit.Action {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]audit.Action, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.Action()
	}
	return out
}

type mockTransactor struct{}

func (mockTransactor) Transaction(_ context.Context, fn func(tx *sql.Tx) error) error {
	return fn(nil)
}

// =============================================================================
// Findings
// =============================================================================

type mockFindings struct {
	mu    sync.Mutex
	calls []findings.RunSummary
	docs  [][]byte
	err   error
}

func (m *mockFindings) Reconcile(_ context.Context, s findings.RunSummary, doc []byte) (*findings.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, s)
	m.docs = append(m.docs, doc)
	if m.err != nil {
		return nil, m.err
	}
	return &findings.Result{}, nil
}

func (m *mockFindings) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
