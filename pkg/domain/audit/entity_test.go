package audit_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/qualitygate/pkg/domain/audit"
	"github.com/openctemio/qualitygate/pkg/domain/shared"
)

func TestNewEntry(t *testing.T) {
	before := map[string]any{"status": "pending"}
	after := map[string]any{"status": "running"}

	e, err := audit.NewEntry(3, audit.ResourceTypeRun, "12", audit.ActionRunSubmitted, before, after)
	require.NoError(t, err)

	assert.False(t, e.ID().IsZero())
	assert.Equal(t, int64(3), e.NamespaceID())
	assert.Equal(t, audit.SystemActor, e.Actor())
	assert.JSONEq(t, `{"status":"pending"}`, string(e.Before()))
	assert.JSONEq(t, `{"status":"running"}`, string(e.After()))
	assert.Equal(t, "run", e.Action().Category())
	assert.Equal(t, "system performed run.submitted on run 12", e.GenerateMessage())
}

func TestNewEntry_NilSnapshot(t *testing.T) {
	e, err := audit.NewEntry(1, audit.ResourceTypeFinding, "f", audit.ActionFindingDeleted, map[string]string{"a": "b"}, nil)
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage("null"), e.After())
}

func TestNewEntry_Validation(t *testing.T) {
	_, err := audit.NewEntry(1, audit.ResourceTypeRun, "1", audit.Action("run.deleted"), nil, nil)
	assert.True(t, shared.IsValidation(err))

	_, err = audit.NewEntry(1, audit.ResourceType("config"), "1", audit.ActionRunFailed, nil, nil)
	assert.True(t, shared.IsValidation(err))

	_, err = audit.NewEntry(1, audit.ResourceTypeRun, "", audit.ActionRunFailed, nil, nil)
	assert.True(t, shared.IsValidation(err))

	_, err = audit.NewEntry(1, audit.ResourceTypeRun, "1", audit.ActionRunFailed, make(chan int), nil)
	assert.True(t, shared.IsValidation(err))
}

func TestEntry_WithActor(t *testing.T) {
	e, err := audit.NewEntry(1, audit.ResourceTypeFinding, "f", audit.ActionFindingResolved, nil, nil)
	require.NoError(t, err)

	e.WithActor("").WithMessage("resolved by hand")
	assert.Equal(t, audit.SystemActor, e.Actor())

	e.WithActor("alice")
	assert.Equal(t, "alice", e.Actor())
	assert.Equal(t, "resolved by hand", e.GenerateMessage())
}
