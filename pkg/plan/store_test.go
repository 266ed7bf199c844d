package plan

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "plans.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreCreateAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p, err := store.Create(ctx, "migrate the database")
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, StatusPlanning, p.Status)

	got, err := store.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "migrate the database", got.Title)
	assert.Equal(t, StatusPlanning, got.Status)
	assert.Empty(t, got.Steps)
}

func TestStoreCreateRequiresTitle(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Create(context.Background(), "")
	assert.Error(t, err)
}

func TestStoreGetNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrPlanNotFound)
}

func TestStoreTransitionRecordsHistory(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p, err := store.Create(ctx, "refactor auth")
	require.NoError(t, err)

	require.NoError(t, store.Transition(ctx, p.ID, StatusReady))
	require.NoError(t, store.Transition(ctx, p.ID, StatusInProgress))
	require.NoError(t, store.Transition(ctx, p.ID, StatusCompleted))

	status, err := store.Status(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, status)

	transitions, err := store.Transitions(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, transitions, 3)
	assert.Equal(t, StatusPlanning, transitions[0].From)
	assert.Equal(t, StatusReady, transitions[0].To)
	assert.Equal(t, StatusInProgress, transitions[1].To)
	assert.Equal(t, StatusCompleted, transitions[2].To)
}

func TestStoreTransitionRejectsInvalidStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p, err := store.Create(ctx, "ship it")
	require.NoError(t, err)

	assert.Error(t, store.Transition(ctx, p.ID, Status("done-ish")))
	assert.ErrorIs(t, store.Transition(ctx, "missing", StatusReady), ErrPlanNotFound)
}

func TestStoreSetSteps(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p, err := store.Create(ctx, "release v2")
	require.NoError(t, err)

	steps := []Step{
		{Index: 0, Description: "tag the release"},
		{Index: 1, Description: "build artifacts", Status: "in_progress"},
	}
	require.NoError(t, store.SetSteps(ctx, p.ID, steps))

	got, err := store.Get(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, got.Steps, 2)
	assert.Equal(t, "tag the release", got.Steps[0].Description)
	assert.Equal(t, "pending", got.Steps[0].Status)
	assert.Equal(t, "in_progress", got.Steps[1].Status)

	// Replacing the list drops the old steps.
	require.NoError(t, store.SetSteps(ctx, p.ID, []Step{{Index: 0, Description: "only one"}}))
	got, err = store.Get(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, got.Steps, 1)
}

func TestStoreList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Create(ctx, "first")
	require.NoError(t, err)
	_, err = store.Create(ctx, "second")
	require.NoError(t, err)

	plans, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, plans, 2)
}

func TestPlannerToolLifecycle(t *testing.T) {
	store := newTestStore(t)
	tool := NewPlannerTool(store)
	ctx := context.Background()

	res, err := tool.Invoke(ctx, map[string]interface{}{
		"action": "create",
		"title":  "index the corpus",
	})
	require.NoError(t, err)
	out := res.Output.(map[string]interface{})
	planID := out["plan_id"].(string)
	assert.Equal(t, "planning", out["status"])

	_, err = tool.Invoke(ctx, map[string]interface{}{
		"action":  "set_steps",
		"plan_id": planID,
		"steps":   []interface{}{"crawl", "parse", "index"},
	})
	require.NoError(t, err)

	_, err = tool.Invoke(ctx, map[string]interface{}{
		"action":  "transition",
		"plan_id": planID,
		"status":  "in_progress",
	})
	require.NoError(t, err)

	res, err = tool.Invoke(ctx, map[string]interface{}{
		"action":  "get",
		"plan_id": planID,
	})
	require.NoError(t, err)
	p := res.Output.(*Plan)
	assert.Equal(t, StatusInProgress, p.Status)
	assert.Len(t, p.Steps, 3)
}

func TestPlannerToolUnknownAction(t *testing.T) {
	store := newTestStore(t)
	tool := NewPlannerTool(store)

	_, err := tool.Invoke(context.Background(), map[string]interface{}{"action": "explode"})
	assert.Error(t, err)
}
