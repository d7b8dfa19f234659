package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weavehq/weave/internal/store"
	"github.com/weavehq/weave/pkg/schema"
)

func TestSweepWebhookEvents(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, st.CreateWebhookEvent(ctx, &store.WebhookEvent{
		ID:              "old",
		WebhookConfigID: "cfg-1",
		Status:          store.WebhookEventCompleted,
		CreatedAt:       time.Now().UTC().Add(-40 * 24 * time.Hour),
	}))
	require.NoError(t, st.CreateWebhookEvent(ctx, &store.WebhookEvent{
		ID:              "recent",
		WebhookConfigID: "cfg-1",
		Status:          store.WebhookEventCompleted,
	}))

	s, err := New(Options{Store: st, Retention: 30 * 24 * time.Hour})
	require.NoError(t, err)
	s.sweepWebhookEvents()

	_, err = st.GetWebhookEvent(ctx, "old")
	assert.Error(t, err)
	_, err = st.GetWebhookEvent(ctx, "recent")
	assert.NoError(t, err)
}

func TestFlagStaleRunsDoesNotMutate(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	run := &store.Run{
		ID:         "r1",
		GraphID:    "g1",
		Status:     schema.RunStatusActive,
		NodeStates: map[string]*store.NodeState{},
	}
	require.NoError(t, st.CreateRun(ctx, run))

	s, err := New(Options{Store: st, StaleAge: time.Nanosecond})
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)
	s.flagStaleRuns()

	// Flagging is observational: run state is untouched.
	fresh, err := st.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, run.Status, fresh.Status)
}

func TestStartStop(t *testing.T) {
	s, err := New(Options{Store: store.NewMemoryStore()})
	require.NoError(t, err)
	s.Start()
	s.Stop()
}
