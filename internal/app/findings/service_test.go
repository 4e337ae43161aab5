package findings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/qualitygate/pkg/domain/audit"
	"github.com/openctemio/qualitygate/pkg/domain/finding"
	"github.com/openctemio/qualitygate/pkg/domain/run"
	"github.com/openctemio/qualitygate/pkg/domain/shared"
)

var testScope = run.Scope{NamespaceID: 7, ConfigID: 42}

type testResult struct {
	criterion string
	fulfilled bool
	n         int
}

// resultDoc renders a result document with one check holding results.
func resultDoc(overall string, results ...testResult) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "overallStatus: %s\n", overall)
	b.WriteString("chapters:\n  \"1\":\n    requirements:\n      \"1\":\n        checks:\n          \"1\":\n            evaluation:\n")
	status := "GREEN"
	for _, r := range results {
		if !r.fulfilled {
			status = "RED"
		}
	}
	fmt.Fprintf(&b, "              status: %s\n              results:\n", status)
	if len(results) == 0 {
		b.WriteString("                []\n")
	}
	for _, r := range results {
		fmt.Fprintf(&b, "                - criterion: %s\n", r.criterion)
		fmt.Fprintf(&b, "                  fulfilled: %t\n", r.fulfilled)
		fmt.Fprintf(&b, "                  justification: because %s\n", r.criterion)
		fmt.Fprintf(&b, "                  metadata:\n                    n: %d\n", r.n)
	}
	return []byte(b.String())
}

type fixture struct {
	repo  *mockFindingRepository
	audit *mockAuditRepository
	svc   *Service
}

func newFixture() *fixture {
	repo := newMockFindingRepository()
	auditRepo := &mockAuditRepository{}
	return &fixture{
		repo:  repo,
		audit: auditRepo,
		svc:   NewService(&mockTransactor{repo: repo}, repo, auditRepo, nil),
	}
}

func summary(runID int64) RunSummary {
	return RunSummary{RunID: runID, Scope: testScope, OverallResult: run.ResultRed, CompletedAt: time.Now()}
}

func failing(names []string, n int) []testResult {
	out := make([]testResult, len(names))
	for i, name := range names {
		out[i] = testResult{criterion: name, n: n}
	}
	return out
}

func criteria(count int) []string {
	out := make([]string, count)
	for i := range out {
		out[i] = fmt.Sprintf("c%d", i)
	}
	return out
}

func TestReconcile_CreatesFindings(t *testing.T) {
	fx := newFixture()

	res, err := fx.svc.Reconcile(context.Background(), summary(1), resultDoc("RED",
		testResult{criterion: "a", n: 1},
		testResult{criterion: "b", fulfilled: true},
	))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)

	got := fx.repo.byScope(testScope)
	require.Len(t, got, 1)
	f := got["a"]
	assert.Equal(t, finding.StatusUnresolved, f.Status)
	assert.Equal(t, 1, f.OccurrenceCount)
	assert.False(t, f.ResolvedManually)
	assert.Equal(t, map[string]any{"n": float64(1)}, f.Metadata)
	assert.Equal(t, int64(1), f.RunID)
}

func TestReconcile_TenThenFour(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()
	all := criteria(10)

	_, err := fx.svc.Reconcile(ctx, summary(1), resultDoc("RED", failing(all, 1)...))
	require.NoError(t, err)
	require.Len(t, fx.repo.byScope(testScope), 10)

	res, err := fx.svc.Reconcile(ctx, summary(2), resultDoc("RED", failing(all[:4], 2)...))
	require.NoError(t, err)
	assert.Equal(t, &Result{Updated: 4, Resolved: 6}, res)

	got := fx.repo.byScope(testScope)
	for i, name := range all {
		f := got[name]
		if i < 4 {
			assert.Equal(t, finding.StatusUnresolved, f.Status, name)
			assert.Equal(t, 2, f.OccurrenceCount, name)
			assert.Equal(t, map[string]any{"n": float64(2)}, f.Metadata, name)
			continue
		}
		assert.Equal(t, finding.StatusResolved, f.Status, name)
		assert.False(t, f.ResolvedManually, name)
		assert.Equal(t, 1, f.OccurrenceCount, name)
		assert.Equal(t, map[string]any{"n": float64(1)}, f.Metadata, name)
		assert.NotNil(t, f.ResolvedAt, name)
	}
	assert.Equal(t, 6, fx.audit.count(audit.ActionFindingResolved))
}

func TestReconcile_ManualResolutionIsSticky(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	_, err := fx.svc.Reconcile(ctx, summary(1), resultDoc("RED", testResult{criterion: "a", n: 1}))
	require.NoError(t, err)
	f := fx.repo.byScope(testScope)["a"]

	_, err = fx.svc.ResolveManually(ctx, f.ID, "alice")
	require.NoError(t, err)
	before := fx.repo.byScope(testScope)["a"]

	res, err := fx.svc.Reconcile(ctx, summary(2), resultDoc("RED", testResult{criterion: "a", n: 9}))
	require.NoError(t, err)
	assert.Equal(t, &Result{Untouched: 1}, res)

	after := fx.repo.byScope(testScope)["a"]
	assert.Equal(t, before, after)
	assert.True(t, after.ResolvedManually)
	assert.Equal(t, finding.StatusResolved, after.Status)

	// A passing run does not touch it either.
	_, err = fx.svc.Reconcile(ctx, summary(3), resultDoc("GREEN"))
	require.NoError(t, err)
	assert.Equal(t, before, fx.repo.byScope(testScope)["a"])
}

func TestReconcile_PassingRunResolvesEverything(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	_, err := fx.svc.Reconcile(ctx, summary(1), resultDoc("RED", failing(criteria(3), 1)...))
	require.NoError(t, err)

	res, err := fx.svc.Reconcile(ctx, summary(2), resultDoc("GREEN", testResult{criterion: "c0", fulfilled: true}))
	require.NoError(t, err)
	assert.Equal(t, &Result{Resolved: 3}, res)

	for _, f := range fx.repo.byScope(testScope) {
		assert.True(t, f.IsAutoResolved())
		assert.Equal(t, int64(2), f.RunID)
	}
}

func TestReconcile_ReactivatesAutoResolved(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	_, err := fx.svc.Reconcile(ctx, summary(1), resultDoc("RED", failing([]string{"a"}, 1)...))
	require.NoError(t, err)
	_, err = fx.svc.Reconcile(ctx, summary(2), resultDoc("RED", failing([]string{"a"}, 1)...))
	require.NoError(t, err)
	_, err = fx.svc.Reconcile(ctx, summary(3), resultDoc("GREEN"))
	require.NoError(t, err)

	res, err := fx.svc.Reconcile(ctx, summary(4), resultDoc("RED", failing([]string{"a"}, 4)...))
	require.NoError(t, err)
	assert.Equal(t, &Result{Reactivated: 1}, res)

	f := fx.repo.byScope(testScope)["a"]
	assert.Equal(t, finding.StatusUnresolved, f.Status)
	assert.Equal(t, 1, f.OccurrenceCount)
	assert.Nil(t, f.ResolvedAt)
	assert.Equal(t, map[string]any{"n": float64(4)}, f.Metadata)
	assert.Equal(t, 1, fx.audit.count(audit.ActionFindingReopened))
}

func TestReconcile_ScopesAreIndependent(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()
	other := run.Scope{NamespaceID: 7, ConfigID: 43}

	_, err := fx.svc.Reconcile(ctx, summary(1), resultDoc("RED", failing([]string{"a"}, 1)...))
	require.NoError(t, err)

	res, err := fx.svc.Reconcile(ctx, RunSummary{RunID: 1, Scope: other}, resultDoc("GREEN"))
	require.NoError(t, err)
	assert.Equal(t, &Result{}, res)

	res, err = fx.svc.Reconcile(ctx, RunSummary{RunID: 2, Scope: other}, resultDoc("RED", failing([]string{"a"}, 1)...))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)

	assert.Len(t, fx.repo.byScope(testScope), 1)
	assert.Len(t, fx.repo.byScope(other), 1)
}

func TestReconcile_FailureRollsBack(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	_, err := fx.svc.Reconcile(ctx, summary(1), resultDoc("RED", failing(criteria(2), 1)...))
	require.NoError(t, err)
	before := fx.repo.snapshot()

	fx.repo.updateErr = errors.New("connection reset")
	_, err = fx.svc.Reconcile(ctx, summary(2), resultDoc("RED", failing(criteria(3), 2)...))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProcessing)
	assert.Equal(t, before, fx.repo.snapshot())
}

func TestReconcile_MalformedDocument(t *testing.T) {
	fx := newFixture()

	_, err := fx.svc.Reconcile(context.Background(), summary(1), []byte("chapters: [unclosed"))
	assert.ErrorIs(t, err, ErrProcessing)
}

func TestResolveManually_AuditsActor(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	_, err := fx.svc.Reconcile(ctx, summary(1), resultDoc("RED", failing([]string{"a"}, 1)...))
	require.NoError(t, err)
	id := fx.repo.byScope(testScope)["a"].ID

	f, err := fx.svc.ResolveManually(ctx, id, "alice")
	require.NoError(t, err)
	require.NotNil(t, f.ResolvedBy)
	assert.Equal(t, "alice", *f.ResolvedBy)

	entries, err := fx.audit.ListByResource(ctx, 7, audit.ResourceTypeFinding, id.String())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "alice", entries[0].Actor())

	_, err = fx.svc.ResolveManually(ctx, id, "bob")
	assert.True(t, shared.IsValidation(err))

	reopened, err := fx.svc.Reopen(ctx, id, "bob")
	require.NoError(t, err)
	assert.True(t, reopened.IsUnresolved())
}

func TestDelete(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	_, err := fx.svc.Reconcile(ctx, summary(1), resultDoc("RED", failing([]string{"a"}, 1)...))
	require.NoError(t, err)
	id := fx.repo.byScope(testScope)["a"].ID

	require.NoError(t, fx.svc.Delete(ctx, id, "alice"))
	assert.Empty(t, fx.repo.byScope(testScope))
	assert.Equal(t, 1, fx.audit.count(audit.ActionFindingDeleted))

	assert.True(t, shared.IsNotFound(fx.svc.Delete(ctx, id, "alice")))
}
