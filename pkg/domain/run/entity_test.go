package run_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/qualitygate/pkg/domain/run"
	"github.com/openctemio/qualitygate/pkg/domain/shared"
)

var testScope = run.Scope{NamespaceID: 7, ConfigID: 42}

func newPendingRun(t *testing.T) *run.Run {
	t.Helper()
	r, err := run.NewRun(testScope)
	require.NoError(t, err)
	return r
}

func TestNewRun(t *testing.T) {
	r := newPendingRun(t)

	assert.Equal(t, run.StatusPending, r.Status)
	assert.Nil(t, r.OverallResult)
	assert.Nil(t, r.Job)
	assert.False(t, r.HasCompleteJob())
	assert.True(t, strings.HasPrefix(r.StoragePath, "7/42/"), r.StoragePath)
	assert.Len(t, strings.Split(r.StoragePath, "/"), 3)

	other := newPendingRun(t)
	assert.NotEqual(t, r.StoragePath, other.StoragePath)
}

func TestNewRun_InvalidScope(t *testing.T) {
	_, err := run.NewRun(run.Scope{NamespaceID: 1})
	require.Error(t, err)
	assert.True(t, shared.IsValidation(err))

	_, err = run.NewRun(run.Scope{ConfigID: 1})
	assert.True(t, shared.IsValidation(err))
}

func TestRun_Start(t *testing.T) {
	r := newPendingRun(t)
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	err := r.Start(run.JobRef{Name: "qg-run-abc", Namespace: "qg", ID: "uid-1"}, created)
	require.NoError(t, err)

	assert.Equal(t, run.StatusRunning, r.Status)
	assert.True(t, r.HasCompleteJob())
	assert.Equal(t, created, r.CreationTime)
	assert.Nil(t, r.OverallResult)

	err = r.Start(run.JobRef{Name: "x", Namespace: "y", ID: "z"}, created)
	assert.True(t, shared.IsValidation(err))
}

func TestRun_Start_RejectsIncompleteJob(t *testing.T) {
	tests := []struct {
		name string
		job  run.JobRef
	}{
		{"missing name", run.JobRef{Namespace: "qg", ID: "uid"}},
		{"missing namespace", run.JobRef{Name: "job", ID: "uid"}},
		{"missing id", run.JobRef{Name: "job", Namespace: "qg"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newPendingRun(t)
			err := r.Start(tt.job, time.Now())
			require.Error(t, err)
			assert.True(t, errors.Is(err, run.ErrIncompleteJob))
			assert.Equal(t, run.StatusPending, r.Status)
			assert.Nil(t, r.Job)
		})
	}
}

func TestRun_Complete(t *testing.T) {
	r := newPendingRun(t)
	require.NoError(t, r.Start(run.JobRef{Name: "j", Namespace: "n", ID: "i"}, time.Now()))

	at := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	log := []string{"line 1"}
	require.NoError(t, r.Complete(run.ResultRed, log, at))

	assert.Equal(t, run.StatusCompleted, r.Status)
	require.NotNil(t, r.OverallResult)
	assert.Equal(t, run.ResultRed, *r.OverallResult)
	require.NotNil(t, r.CompletionTime)
	assert.Equal(t, at, *r.CompletionTime)

	log[0] = "mutated"
	assert.Equal(t, []string{"line 1"}, r.Log)

	assert.Error(t, r.Complete(run.ResultGreen, nil, at))
	assert.Error(t, r.Fail(nil, at))
}

func TestRun_Complete_InvalidResult(t *testing.T) {
	r := newPendingRun(t)
	err := r.Complete(run.OverallResult("BLUE"), nil, time.Now())
	assert.True(t, shared.IsValidation(err))
	assert.Equal(t, run.StatusPending, r.Status)
}

func TestRun_Fail(t *testing.T) {
	r := newPendingRun(t)
	require.NoError(t, r.Fail([]string{run.TimeoutLogLine}, time.Now()))

	assert.Equal(t, run.StatusFailed, r.Status)
	assert.Nil(t, r.OverallResult)
	assert.Equal(t, []string{"Failed due to timeout"}, r.Log)
	assert.NotNil(t, r.CompletionTime)
}

func TestRun_TimedOut(t *testing.T) {
	r := newPendingRun(t)
	r.CreationTime = time.Now().Add(-31 * time.Minute)

	assert.True(t, r.TimedOut(time.Now(), 30*time.Minute))
	assert.False(t, r.TimedOut(time.Now(), time.Hour))

	require.NoError(t, r.Fail(nil, time.Now()))
	assert.False(t, r.TimedOut(time.Now(), 30*time.Minute))
}

func TestRun_SnapshotIsDeepCopy(t *testing.T) {
	r := newPendingRun(t)
	require.NoError(t, r.Start(run.JobRef{Name: "j", Namespace: "n", ID: "i"}, time.Now()))
	require.NoError(t, r.Complete(run.ResultGreen, []string{"a"}, time.Now()))

	snap := r.Snapshot()
	r.Log[0] = "b"
	r.Job.Name = "changed"

	assert.Equal(t, []string{"a"}, snap.Log)
	assert.Equal(t, "j", snap.Job.Name)
	assert.Equal(t, run.ResultGreen, *snap.OverallResult)
}

func TestParseOverallResult(t *testing.T) {
	tests := []struct {
		in   string
		want run.OverallResult
		ok   bool
	}{
		{"GREEN", run.ResultGreen, true},
		{"yellow", run.ResultYellow, true},
		{" Red ", run.ResultRed, true},
		{"pending", run.ResultPending, true},
		{"FAILED", run.ResultFailed, true},
		{"", "", false},
		{"ORANGE", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := run.ParseOverallResult(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStatus(t *testing.T) {
	for _, s := range run.AllStatuses() {
		assert.True(t, s.IsValid(), s)
		assert.NotEqual(t, s.IsActive(), s.IsTerminal(), s)
	}
	assert.False(t, run.Status("queued").IsValid())
}
