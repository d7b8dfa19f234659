package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from NodeStatus
		to   NodeStatus
		want bool
	}{
		{"pending to running", NodeStatusPending, NodeStatusRunning, true},
		{"pending to waiting", NodeStatusPending, NodeStatusWaitingForUser, true},
		{"running to completed", NodeStatusRunning, NodeStatusCompleted, true},
		{"running to failed", NodeStatusRunning, NodeStatusFailed, true},
		{"waiting to completed", NodeStatusWaitingForUser, NodeStatusCompleted, true},

		{"pending to completed", NodeStatusPending, NodeStatusCompleted, false},
		{"pending to failed", NodeStatusPending, NodeStatusFailed, false},
		{"waiting to failed", NodeStatusWaitingForUser, NodeStatusFailed, false},
		{"waiting to running", NodeStatusWaitingForUser, NodeStatusRunning, false},
		{"completed is terminal", NodeStatusCompleted, NodeStatusRunning, false},
		{"failed is terminal", NodeStatusFailed, NodeStatusRunning, false},
		{"completed to completed", NodeStatusCompleted, NodeStatusCompleted, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestGuardTransition(t *testing.T) {
	err := GuardTransition("n1", NodeStatusPending, NodeStatusRunning)
	require.NoError(t, err)

	err = GuardTransition("n1", NodeStatusPending, NodeStatusCompleted)
	require.Error(t, err)
	assert.Equal(t, ErrCodeInvalidTransition, CodeOf(err))

	var we *WeaveError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, "n1", we.NodeID)
}
