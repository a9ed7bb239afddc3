package nodeexec_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodeflow/core/internal/domain"
	"github.com/nodeflow/core/internal/nodeexec"
	"github.com/nodeflow/core/internal/sandbox"
)

func TestConditionExecutor_RoutesTrueBranch(t *testing.T) {
	exec := nodeexec.ConditionExecutor{Pool: sandbox.NewPool(1), Limits: sandbox.DefaultLimits()}
	cfg := map[string]any{"condition": "function condition(event) { return event.data.value > 10; }"}
	out, err := exec.Execute(context.Background(), httpExecCtx(), cfg, domain.Event{Data: map[string]any{"value": 20.0}, Metadata: map[string]any{}})
	require.NoError(t, err)
	assert.Equal(t, domain.BranchTrue, out.Branch)
}

func TestConditionExecutor_RoutesFalseBranch(t *testing.T) {
	exec := nodeexec.ConditionExecutor{Pool: sandbox.NewPool(1), Limits: sandbox.DefaultLimits()}
	cfg := map[string]any{"condition": "function condition(event) { return event.data.value > 10; }"}
	out, err := exec.Execute(context.Background(), httpExecCtx(), cfg, domain.Event{Data: map[string]any{"value": 1.0}, Metadata: map[string]any{}})
	require.NoError(t, err)
	assert.Equal(t, domain.BranchFalse, out.Branch)
}

func TestConditionExecutor_MissingScriptErrors(t *testing.T) {
	exec := nodeexec.ConditionExecutor{Pool: sandbox.NewPool(1), Limits: sandbox.DefaultLimits()}
	_, err := exec.Execute(context.Background(), httpExecCtx(), map[string]any{}, domain.Event{Data: map[string]any{}, Metadata: map[string]any{}})
	require.Error(t, err)
}

func TestTransformerExecutor_TransformsEvent(t *testing.T) {
	exec := nodeexec.TransformerExecutor{Pool: sandbox.NewPool(1), Limits: sandbox.DefaultLimits()}
	cfg := map[string]any{"transformer": "function transformer(event) { return { data: { y: event.data.x + 1 }, metadata: event.metadata }; }"}
	out, err := exec.Execute(context.Background(), httpExecCtx(), cfg, domain.Event{Data: map[string]any{"x": 1.0}, Metadata: map[string]any{}})
	require.NoError(t, err)
	assert.False(t, out.Dropped)
	assert.Equal(t, 2.0, out.Event.Data["y"])
}

func TestTransformerExecutor_DropReturnsDroppedOutcome(t *testing.T) {
	exec := nodeexec.TransformerExecutor{Pool: sandbox.NewPool(1), Limits: sandbox.DefaultLimits()}
	cfg := map[string]any{"transformer": "function transformer(event) { return null; }"}
	out, err := exec.Execute(context.Background(), httpExecCtx(), cfg, domain.Event{Data: map[string]any{}, Metadata: map[string]any{}})
	require.NoError(t, err)
	assert.True(t, out.Dropped)
}
