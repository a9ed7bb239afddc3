package domain_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodeflow/core/internal/domain"
)

func TestStep_TransitionLifecycle(t *testing.T) {
	s := domain.NewStep(uuid.New(), uuid.New(), domain.BranchNone, domain.Event{})
	assert.Equal(t, domain.StepPending, s.Status)

	require.NoError(t, s.Transition(domain.StepRunning))
	assert.NotNil(t, s.StartedAt)

	require.NoError(t, s.Transition(domain.StepSucceeded))
	assert.NotNil(t, s.CompletedAt)
	assert.True(t, s.Status.Terminal())
}

func TestStep_TransitionRejectsIllegalEdge(t *testing.T) {
	s := domain.NewStep(uuid.New(), uuid.New(), domain.BranchNone, domain.Event{})
	err := s.Transition(domain.StepSucceeded)
	require.Error(t, err)
	var invalid *domain.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
}

func TestStep_TransitionRejectsFromTerminal(t *testing.T) {
	s := domain.NewStep(uuid.New(), uuid.New(), domain.BranchNone, domain.Event{})
	require.NoError(t, s.Transition(domain.StepRunning))
	require.NoError(t, s.Transition(domain.StepFailed))
	err := s.Transition(domain.StepRunning)
	require.Error(t, err)
}

func TestEvent_MergeLaterWins(t *testing.T) {
	a := domain.Event{Data: map[string]any{"x": 1, "y": 2}, Metadata: map[string]any{"m": "a"}}
	b := domain.Event{Data: map[string]any{"x": 3}, Metadata: map[string]any{"m": "b", "n": "c"}}
	merged := a.Merge(b)
	assert.Equal(t, 3, merged.Data["x"])
	assert.Equal(t, 2, merged.Data["y"])
	assert.Equal(t, "b", merged.Metadata["m"])
	assert.Equal(t, "c", merged.Metadata["n"])
}

func TestEvent_CloneIsIndependent(t *testing.T) {
	orig := domain.Event{Data: map[string]any{"x": 1}, Metadata: map[string]any{}}
	cp := orig.Clone()
	cp.Data["x"] = 2
	assert.Equal(t, 1, orig.Data["x"])
}
