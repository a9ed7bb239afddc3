package router_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodeflow/core/internal/domain"
	"github.com/nodeflow/core/internal/router"
	"github.com/nodeflow/core/internal/storage/memory"
)

// buildDiamond returns trigger -> A, B -> join, mirroring testutil.JoinWorkflow
// but built directly so the test controls Step.CompletedAt ordering.
func buildDiamond(t *testing.T) (*domain.Workflow, uuid.UUID, uuid.UUID, uuid.UUID) {
	t.Helper()
	trigger := domain.Node{ID: uuid.New(), Name: "trigger", Kind: domain.NodeKindTrigger}
	a := domain.Node{ID: uuid.New(), Name: "A", Kind: domain.NodeKindTransformer}
	b := domain.Node{ID: uuid.New(), Name: "B", Kind: domain.NodeKindTransformer}
	join := domain.Node{ID: uuid.New(), Name: "join", Kind: domain.NodeKindTransformer}
	wf := &domain.Workflow{
		ID:    uuid.New(),
		Name:  "diamond",
		Nodes: []domain.Node{trigger, a, b, join},
		Edges: []domain.Edge{
			{ID: uuid.New(), FromNodeID: trigger.ID, ToNodeID: a.ID, Branch: domain.BranchNone},
			{ID: uuid.New(), FromNodeID: trigger.ID, ToNodeID: b.ID, Branch: domain.BranchNone},
			{ID: uuid.New(), FromNodeID: a.ID, ToNodeID: join.ID, Branch: domain.BranchNone},
			{ID: uuid.New(), FromNodeID: b.ID, ToNodeID: join.ID, Branch: domain.BranchNone},
		},
		StartNodeID: trigger.ID,
	}
	require.NoError(t, wf.Validate())
	return wf, a.ID, b.ID, join.ID
}

func stepWithCompletion(executionID, nodeID uuid.UUID, status domain.StepStatus, completedAt time.Time, out domain.Event) *domain.Step {
	s := domain.NewStep(executionID, nodeID, domain.BranchNone, domain.Event{})
	s.Status = status
	s.Output = out
	s.CompletedAt = &completedAt
	return s
}

func TestJoinTracker_LaterArrivalWinsOnConflict(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	wf, aID, bID, joinID := buildDiamond(t)
	executionID := uuid.New()

	earlier := time.Now().Add(-time.Minute)
	later := time.Now()

	require.NoError(t, store.CreateStep(ctx, stepWithCompletion(executionID, aID, domain.StepSucceeded, earlier, domain.Event{Data: map[string]any{"x": "from-a"}, Metadata: map[string]any{}})))
	require.NoError(t, store.CreateStep(ctx, stepWithCompletion(executionID, bID, domain.StepSucceeded, later, domain.Event{Data: map[string]any{"x": "from-b"}, Metadata: map[string]any{}})))

	tracker := router.NewJoinTracker(router.NewGraph(wf))
	readiness, err := tracker.Evaluate(ctx, store, executionID, joinID)
	require.NoError(t, err)
	require.True(t, readiness.Ready)
	assert.Equal(t, "from-b", readiness.Event.Data["x"], "later-completing predecessor must win the conflicting key")
}

func TestJoinTracker_SkippedPredecessorExcludedButNotBlocking(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	wf, aID, bID, joinID := buildDiamond(t)
	executionID := uuid.New()

	skipped := domain.NewStep(executionID, aID, domain.BranchNone, domain.Event{})
	require.NoError(t, skipped.Transition(domain.StepSkipped))
	require.NoError(t, store.CreateStep(ctx, skipped))

	require.NoError(t, store.CreateStep(ctx, stepWithCompletion(executionID, bID, domain.StepSucceeded, time.Now(), domain.Event{Data: map[string]any{"from_b": true}, Metadata: map[string]any{}})))

	tracker := router.NewJoinTracker(router.NewGraph(wf))
	readiness, err := tracker.Evaluate(ctx, store, executionID, joinID)
	require.NoError(t, err)
	require.True(t, readiness.Ready, "a skipped predecessor must not block the join")
	assert.Equal(t, true, readiness.Event.Data["from_b"])
	assert.NotContains(t, readiness.Event.Data, "input_A", "a skipped predecessor contributes no data")
}

func TestJoinTracker_NotReadyUntilAllPredecessorsResolve(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	wf, aID, _, joinID := buildDiamond(t)
	executionID := uuid.New()

	require.NoError(t, store.CreateStep(ctx, stepWithCompletion(executionID, aID, domain.StepSucceeded, time.Now(), domain.Event{Data: map[string]any{}, Metadata: map[string]any{}})))

	tracker := router.NewJoinTracker(router.NewGraph(wf))
	readiness, err := tracker.Evaluate(ctx, store, executionID, joinID)
	require.NoError(t, err)
	assert.False(t, readiness.Ready)
}
