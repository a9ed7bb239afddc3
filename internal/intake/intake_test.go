package intake_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodeflow/core/internal/domain"
	"github.com/nodeflow/core/internal/intake"
	"github.com/nodeflow/core/internal/queue"
	"github.com/nodeflow/core/internal/storage/memory"
	"github.com/nodeflow/core/testutil"
)

func TestIntake_TriggerCreatesExecutionStepAndJob(t *testing.T) {
	store := memory.New()
	q := queue.New(store, queue.DefaultRetryPolicy(), zerolog.Nop())
	in := intake.New(store, q)
	ctx := context.Background()

	wf := testutil.SimpleChainWorkflow()
	require.NoError(t, store.SaveWorkflow(ctx, wf))

	exec, err := in.Trigger(ctx, wf.ID.String(), map[string]any{"x": 1})
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionQueued, exec.Status)

	step, err := store.NonTerminalStepByNode(ctx, exec.ID, wf.StartNodeID)
	require.NoError(t, err)
	require.NotNil(t, step)
	assert.Equal(t, 1, step.Input.Data["x"])

	leased, err := q.Lease(ctx, "w1", 10, 0)
	require.NoError(t, err)
	require.Len(t, leased, 1)
	assert.Equal(t, step.ID, leased[0].StepID)
}

func TestIntake_TriggerUnknownWorkflowErrors(t *testing.T) {
	store := memory.New()
	q := queue.New(store, queue.DefaultRetryPolicy(), zerolog.Nop())
	in := intake.New(store, q)

	_, err := in.Trigger(context.Background(), "00000000-0000-0000-0000-000000000000", nil)
	require.Error(t, err)
	assert.True(t, domain.IsNotFound(err))
}

func TestIntake_CancelTransitionsExecutionAndDrainsQueue(t *testing.T) {
	store := memory.New()
	q := queue.New(store, queue.DefaultRetryPolicy(), zerolog.Nop())
	in := intake.New(store, q)
	ctx := context.Background()

	wf := testutil.SimpleChainWorkflow()
	require.NoError(t, store.SaveWorkflow(ctx, wf))
	exec, err := in.Trigger(ctx, wf.ID.String(), nil)
	require.NoError(t, err)

	require.NoError(t, in.Cancel(ctx, exec.ID.String()))

	got, err := store.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionCancelled, got.Status)

	leased, err := q.Lease(ctx, "w1", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, leased, "cancellation must drain the queued job so it is never leased")
}

func TestIntake_CancelUnknownExecutionErrors(t *testing.T) {
	store := memory.New()
	q := queue.New(store, queue.DefaultRetryPolicy(), zerolog.Nop())
	in := intake.New(store, q)

	err := in.Cancel(context.Background(), "00000000-0000-0000-0000-000000000000")
	require.Error(t, err)
	assert.True(t, domain.IsNotFound(err))
}
