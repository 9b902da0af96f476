package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateCanTransitionTo(t *testing.T) {
	tests := []struct {
		name string
		from State
		to   State
		want bool
	}{
		{"pending to running", StatePending, StateRunning, true},
		{"pending to cancelled", StatePending, StateCancelled, true},
		{"pending to paused", StatePending, StatePaused, false},
		{"pending to completed", StatePending, StateCompleted, false},
		{"running to paused", StateRunning, StatePaused, true},
		{"running to completed", StateRunning, StateCompleted, true},
		{"running to failed", StateRunning, StateFailed, true},
		{"running to cancelled", StateRunning, StateCancelled, true},
		{"running to pending", StateRunning, StatePending, false},
		{"paused to running", StatePaused, StateRunning, true},
		{"paused to cancelled", StatePaused, StateCancelled, true},
		{"paused to completed", StatePaused, StateCompleted, false},
		{"paused to failed", StatePaused, StateFailed, false},
		{"completed is terminal", StateCompleted, StateRunning, false},
		{"failed is terminal", StateFailed, StateRunning, false},
		{"cancelled is terminal", StateCancelled, StateRunning, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestStateTerminal(t *testing.T) {
	assert.False(t, StatePending.Terminal())
	assert.False(t, StateRunning.Terminal())
	assert.False(t, StatePaused.Terminal())
	assert.True(t, StateCompleted.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.True(t, StateCancelled.Terminal())
}
