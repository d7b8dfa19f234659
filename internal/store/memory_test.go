package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weavehq/weave/pkg/schema"
)

func seedRun(t *testing.T, s Store) *Run {
	t.Helper()
	run := &Run{
		ID:      "run-1",
		GraphID: "g-1",
		CanvasID: "canvas-1",
		Trigger: schema.Trigger{Type: schema.TriggerTypeManual},
		Status:  schema.RunStatusActive,
		NodeStates: map[string]*NodeState{
			"a": {Status: schema.NodeStatusPending},
			"b": {Status: schema.NodeStatusPending},
		},
	}
	require.NoError(t, s.CreateRun(context.Background(), run))
	return run
}

func TestUpdateNodeStateConditional(t *testing.T) {
	s := NewMemoryStore()
	seedRun(t, s)
	ctx := context.Background()

	pending := schema.NodeStatusPending
	run, applied, err := s.UpdateNodeState(ctx, "run-1", "a", NodeStatePatch{
		Status:       schema.NodeStatusRunning,
		ExpectStatus: &pending,
		Input:        json.RawMessage(`{"x":1}`),
	})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, schema.NodeStatusRunning, run.NodeStates["a"].Status)
	assert.NotNil(t, run.NodeStates["a"].StartedAt)

	// Guard mismatch: node is running, not pending.
	run, applied, err = s.UpdateNodeState(ctx, "run-1", "a", NodeStatePatch{
		Status:       schema.NodeStatusRunning,
		ExpectStatus: &pending,
	})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, schema.NodeStatusRunning, run.NodeStates["a"].Status)

	running := schema.NodeStatusRunning
	run, applied, err = s.UpdateNodeState(ctx, "run-1", "a", NodeStatePatch{
		Status:       schema.NodeStatusCompleted,
		ExpectStatus: &running,
		Output:       json.RawMessage(`{"y":2}`),
	})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.JSONEq(t, `{"y":2}`, string(run.NodeStates["a"].Output))
	assert.NotNil(t, run.NodeStates["a"].CompletedAt)
}

func TestUpdateNodeStateRejectsIllegalTransition(t *testing.T) {
	s := NewMemoryStore()
	seedRun(t, s)
	ctx := context.Background()

	// Pending cannot jump straight to a terminal status.
	_, _, err := s.UpdateNodeState(ctx, "run-1", "a", NodeStatePatch{
		Status: schema.NodeStatusCompleted,
	})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeInvalidTransition, schema.CodeOf(err))

	// Same when the guard matches: the patch itself is illegal.
	pending := schema.NodeStatusPending
	_, _, err = s.UpdateNodeState(ctx, "run-1", "a", NodeStatePatch{
		Status:       schema.NodeStatusFailed,
		ExpectStatus: &pending,
	})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeInvalidTransition, schema.CodeOf(err))

	// The node is untouched after the rejected writes.
	run, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, schema.NodeStatusPending, run.NodeStates["a"].Status)
}

func TestUpdateNodeStateUnknownNode(t *testing.T) {
	s := NewMemoryStore()
	seedRun(t, s)

	_, _, err := s.UpdateNodeState(context.Background(), "run-1", "nope", NodeStatePatch{
		Status: schema.NodeStatusRunning,
	})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))
}

func TestInitNodeStateIsIdempotent(t *testing.T) {
	s := NewMemoryStore()
	seedRun(t, s)
	ctx := context.Background()

	require.NoError(t, s.InitNodeState(ctx, "run-1", "a_0", &NodeState{Status: schema.NodeStatusPending}))

	running := schema.NodeStatusRunning
	pending := schema.NodeStatusPending
	_, applied, err := s.UpdateNodeState(ctx, "run-1", "a_0", NodeStatePatch{
		Status: running, ExpectStatus: &pending,
	})
	require.NoError(t, err)
	require.True(t, applied)

	// Re-init must not reset the existing state.
	require.NoError(t, s.InitNodeState(ctx, "run-1", "a_0", &NodeState{Status: schema.NodeStatusPending}))
	run, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, schema.NodeStatusRunning, run.NodeStates["a_0"].Status)
}

func TestGetRunReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	seedRun(t, s)
	ctx := context.Background()

	run, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	run.NodeStates["a"].Status = schema.NodeStatusFailed

	fresh, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, schema.NodeStatusPending, fresh.NodeStates["a"].Status)
}

func TestAppendEventSequencesPerRun(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.AppendEvent(ctx, &Event{RunID: "run-1", Type: "node_fired"}))
	}
	require.NoError(t, s.AppendEvent(ctx, &Event{RunID: "run-2", Type: "run_created"}))

	events, err := s.GetEvents(ctx, "run-1", 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, ev := range events {
		assert.Equal(t, int64(i+1), ev.Sequence)
	}

	after, err := s.GetEvents(ctx, "run-1", 2)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, int64(3), after[0].Sequence)
}

func TestWebhookConfigLookupBySlug(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.UpsertWebhookConfig(ctx, &WebhookConfig{
		ID:           "cfg-1",
		CanvasID:     "canvas-1",
		Source:       "stripe",
		EndpointSlug: "stripe-prod",
		Active:       true,
		GraphID:      "g-1",
		EntryEdgeID:  "e-1",
	}))

	cfg, err := s.GetWebhookConfigBySlug(ctx, "stripe-prod")
	require.NoError(t, err)
	assert.Equal(t, "cfg-1", cfg.ID)

	_, err = s.GetWebhookConfigBySlug(ctx, "missing")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))
}

func TestEntityDedupByEmail(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.UpsertEntity(ctx, &Entity{
		ID: "ent-1", CanvasID: "canvas-1", Name: "Ada", Email: "ada@example.com", EntityType: "customer",
	}))

	found, err := s.FindEntityByEmail(ctx, "canvas-1", "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, "ent-1", found.ID)

	// Different canvas does not match.
	_, err = s.FindEntityByEmail(ctx, "canvas-2", "ada@example.com")
	require.Error(t, err)

	// Empty email never matches.
	require.NoError(t, s.UpsertEntity(ctx, &Entity{
		ID: "ent-2", CanvasID: "canvas-1", Name: "NoMail", EntityType: "customer",
	}))
	_, err = s.FindEntityByEmail(ctx, "canvas-1", "")
	require.Error(t, err)
}

func TestPlaceEntity(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.UpsertEntity(ctx, &Entity{
		ID: "ent-1", CanvasID: "canvas-1", Name: "Ada", EntityType: "customer",
	}))
	require.NoError(t, s.PlaceEntity(ctx, "ent-1", "edge:e-1"))

	ent, err := s.GetEntity(ctx, "ent-1")
	require.NoError(t, err)
	assert.Equal(t, "edge:e-1", ent.Position)

	err = s.PlaceEntity(ctx, "missing", "edge:e-1")
	require.Error(t, err)
}

func TestDeleteWebhookEventsBefore(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	old := time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, s.CreateWebhookEvent(ctx, &WebhookEvent{
		ID: "old", WebhookConfigID: "cfg-1", Status: WebhookEventCompleted, CreatedAt: old,
	}))
	require.NoError(t, s.CreateWebhookEvent(ctx, &WebhookEvent{
		ID: "new", WebhookConfigID: "cfg-1", Status: WebhookEventCompleted,
	}))

	cutoff := time.Now().UTC().Add(-24 * time.Hour)
	n, err := s.DeleteWebhookEventsBefore(ctx, WebhookEventFilter{Before: &cutoff})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.GetWebhookEvent(ctx, "old")
	require.Error(t, err)
	_, err = s.GetWebhookEvent(ctx, "new")
	require.NoError(t, err)

	// Missing cutoff is rejected.
	_, err = s.DeleteWebhookEventsBefore(ctx, WebhookEventFilter{})
	require.Error(t, err)
}

func TestListRunsFilters(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for _, r := range []*Run{
		{ID: "r1", GraphID: "g", CanvasID: "c1", Status: schema.RunStatusActive, NodeStates: map[string]*NodeState{}},
		{ID: "r2", GraphID: "g", CanvasID: "c1", Status: schema.RunStatusCompleted, NodeStates: map[string]*NodeState{}},
		{ID: "r3", GraphID: "g", CanvasID: "c2", Status: schema.RunStatusActive, NodeStates: map[string]*NodeState{}},
	} {
		require.NoError(t, s.CreateRun(ctx, r))
	}

	active := schema.RunStatusActive
	runs, err := s.ListRuns(ctx, RunFilter{Status: &active})
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	runs, err = s.ListRuns(ctx, RunFilter{CanvasID: "c1"})
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	runs, err = s.ListRuns(ctx, RunFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}
