package controller

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/openctemio/qualitygate/internal/app/runs"
	"github.com/openctemio/qualitygate/pkg/domain/run"
)

type mockRunRepository struct {
	mu        sync.RWMutex
	runs      map[string]*run.Run
	listErr   error
	listCalls int
}

func newMockRunRepository(runs ...*run.Run) *mockRunRepository {
	m := &mockRunRepository{runs: make(map[string]*run.Run)}
	for _, r := range runs {
		m.runs[runKey(r.Scope.NamespaceID, r.ID)] = r.Clone()
	}
	return m
}

func (m *mockRunRepository) Create(context.Context, *run.Run) error { return nil }

func (m *mockRunRepository) GetByID(_ context.Context, namespaceID, id int64) (*run.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[runKey(namespaceID, id)]
	if !ok {
		return nil, run.ErrNotFound
	}
	return r.Clone(), nil
}

func (m *mockRunRepository) ListActive(context.Context) ([]*run.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*run.Run
	for _, r := range m.runs {
		if r.Status.IsActive() {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

func (m *mockRunRepository) UpdateInTx(_ context.Context, _ *sql.Tx, r *run.Run, _ ...run.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[runKey(r.Scope.NamespaceID, r.ID)] = r.Clone()
	return nil
}

// mockReconciler reports the jobs in finished as finished.
type mockReconciler struct {
	mu       sync.Mutex
	finished map[string]bool
	checkErr error

	checked  []string
	updated  []int64
	timedOut []int64

	// block, when set, holds UpdateWorkflowData until closed.
	block chan struct{}
}

func newMockReconciler(finishedJobs ...string) *mockReconciler {
	m := &mockReconciler{finished: make(map[string]bool)}
	for _, j := range finishedJobs {
		m.finished[j] = true
	}
	return m
}

func (m *mockReconciler) CheckHasFinished(_ context.Context, _, name, _ string) (runs.FinishStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checked = append(m.checked, name)
	if m.checkErr != nil {
		return runs.FinishStatus{}, m.checkErr
	}
	return runs.FinishStatus{Finished: m.finished[name]}, nil
}

func (m *mockReconciler) UpdateWorkflowData(_ context.Context, _ runs.FinishStatus, rn *run.Run) (*run.Run, error) {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updated = append(m.updated, rn.ID)
	return rn, nil
}

func (m *mockReconciler) FailTimedOut(_ context.Context, rn *run.Run) (*run.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timedOut = append(m.timedOut, rn.ID)
	next := rn.Clone()
	if err := next.Fail([]string{run.TimeoutLogLine}, time.Now()); err != nil {
		return nil, err
	}
	return next, nil
}

func (m *mockReconciler) snapshot() (checked []string, updated, timedOut []int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.checked...), append([]int64(nil), m.updated...), append([]int64(nil), m.timedOut...)
}

// syncDispatcher processes runs on the calling goroutine.
type syncDispatcher struct {
	mu     sync.Mutex
	errs   []error
	called int
}

func (d *syncDispatcher) Dispatch(ctx context.Context, namespaceID, runID int64, process ProcessFunc) error {
	err := process(ctx, namespaceID, runID)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.called++
	if err != nil {
		d.errs = append(d.errs, err)
	}
	return nil
}

type mockLock struct {
	err      error
	acquired int
	released int
}

func (l *mockLock) Acquire(context.Context) (func(), error) {
	if l.err != nil {
		return nil, l.err
	}
	l.acquired++
	return func() { l.released++ }, nil
}

type mockEnqueuer struct {
	mu     sync.Mutex
	queued []string
	err    error
}

func (m *mockEnqueuer) EnqueueRunReconcile(_ context.Context, namespaceID, runID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.queued = append(m.queued, fmt.Sprintf("%d/%d", namespaceID, runID))
	return nil
}

// newRun builds a run of namespace 7 in the given state.
func newRun(t interface{ Helper() }, id int64, status run.Status, job *run.JobRef, created time.Time) *run.Run {
	t.Helper()
	return &run.Run{
		ID:           id,
		Scope:        run.Scope{NamespaceID: 7, ConfigID: 3},
		Status:       status,
		Job:          job,
		Log:          []string{},
		CreationTime: created,
		StoragePath:  fmt.Sprintf("7/3/run-%d", id),
	}
}

func jobRef(name string) *run.JobRef {
	return &run.JobRef{Name: name, Namespace: "qualitygate", ID: "uid-" + name}
}
