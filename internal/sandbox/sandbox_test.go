package sandbox_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodeflow/core/internal/domain"
	"github.com/nodeflow/core/internal/domain/errs"
	"github.com/nodeflow/core/internal/sandbox"
)

func sampleInput() domain.Event {
	return domain.Event{
		Data:     map[string]any{"amount": 42.0},
		Metadata: map[string]any{"source": "test"},
	}
}

func TestPool_TransformerReturnsTransformedEvent(t *testing.T) {
	p := sandbox.NewPool(1)
	src := `function transformer(event) {
		return { data: { doubled: event.data.amount * 2 }, metadata: event.metadata };
	}`
	res, err := p.Run(context.Background(), "exec-1", "node-1", sandbox.KindTransformer, src, sampleInput(), sandbox.DefaultLimits())
	require.NoError(t, err)
	require.False(t, res.Dropped)
	assert.Equal(t, 84.0, res.Event.Data["doubled"])
	assert.Equal(t, "test", res.Event.Metadata["source"])
}

func TestPool_TransformerNullReturnMeansDrop(t *testing.T) {
	p := sandbox.NewPool(1)
	src := `function transformer(event) { return null; }`
	res, err := p.Run(context.Background(), "exec-1", "node-1", sandbox.KindTransformer, src, sampleInput(), sandbox.DefaultLimits())
	require.NoError(t, err)
	assert.True(t, res.Dropped)
}

func TestPool_TransformerUndefinedReturnMeansDrop(t *testing.T) {
	p := sandbox.NewPool(1)
	src := `function transformer(event) {}`
	res, err := p.Run(context.Background(), "exec-1", "node-1", sandbox.KindTransformer, src, sampleInput(), sandbox.DefaultLimits())
	require.NoError(t, err)
	assert.True(t, res.Dropped)
}

func TestPool_TransformerNonObjectReturnIsReturnShapeError(t *testing.T) {
	p := sandbox.NewPool(1)
	src := `function transformer(event) { return "not an event"; }`
	_, err := p.Run(context.Background(), "exec-1", "node-1", sandbox.KindTransformer, src, sampleInput(), sandbox.DefaultLimits())
	require.Error(t, err)
	var ne *errs.NodeError
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, domain.ErrScriptReturnShape, ne.Kind)
}

func TestPool_TransformerMissingDataFieldIsReturnShapeError(t *testing.T) {
	p := sandbox.NewPool(1)
	src := `function transformer(event) { return { foo: "bar" }; }`
	_, err := p.Run(context.Background(), "exec-1", "node-1", sandbox.KindTransformer, src, sampleInput(), sandbox.DefaultLimits())
	require.Error(t, err)
	var ne *errs.NodeError
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, domain.ErrScriptReturnShape, ne.Kind)
}

func TestPool_TransformerMissingMetadataFallsBackToInput(t *testing.T) {
	p := sandbox.NewPool(1)
	src := `function transformer(event) { return { data: { ok: true } }; }`
	res, err := p.Run(context.Background(), "exec-1", "node-1", sandbox.KindTransformer, src, sampleInput(), sandbox.DefaultLimits())
	require.NoError(t, err)
	assert.Equal(t, "test", res.Event.Metadata["source"])
}

func TestPool_ConditionReturnsBoolean(t *testing.T) {
	p := sandbox.NewPool(1)
	src := `function condition(event) { return event.data.amount > 10; }`
	res, err := p.Run(context.Background(), "exec-1", "node-1", sandbox.KindCondition, src, sampleInput(), sandbox.DefaultLimits())
	require.NoError(t, err)
	require.True(t, res.BoolOK)
	assert.True(t, res.BoolVal)
}

func TestPool_ConditionNonBooleanReturnIsReturnShapeError(t *testing.T) {
	p := sandbox.NewPool(1)
	src := `function condition(event) { return "yes"; }`
	_, err := p.Run(context.Background(), "exec-1", "node-1", sandbox.KindCondition, src, sampleInput(), sandbox.DefaultLimits())
	require.Error(t, err)
	var ne *errs.NodeError
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, domain.ErrScriptReturnShape, ne.Kind)
}

func TestPool_MissingEntryPointFunctionIsSyntaxError(t *testing.T) {
	p := sandbox.NewPool(1)
	src := `function notTheRightName(event) { return event; }`
	_, err := p.Run(context.Background(), "exec-1", "node-1", sandbox.KindTransformer, src, sampleInput(), sandbox.DefaultLimits())
	require.Error(t, err)
	var ne *errs.NodeError
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, domain.ErrScriptSyntax, ne.Kind)
}

func TestPool_CompileErrorIsSyntaxError(t *testing.T) {
	p := sandbox.NewPool(1)
	src := `function transformer(event) { return }}}`
	_, err := p.Run(context.Background(), "exec-1", "node-1", sandbox.KindTransformer, src, sampleInput(), sandbox.DefaultLimits())
	require.Error(t, err)
	var ne *errs.NodeError
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, domain.ErrScriptSyntax, ne.Kind)
}

func TestPool_CPUTimeoutIsScriptTimeoutError(t *testing.T) {
	p := sandbox.NewPool(1)
	src := `function transformer(event) { while (true) {} }`
	limits := sandbox.Limits{CPUTimeout: 20 * time.Millisecond, MemoryLimitB: sandbox.DefaultLimits().MemoryLimitB}
	_, err := p.Run(context.Background(), "exec-1", "node-1", sandbox.KindTransformer, src, sampleInput(), limits)
	require.Error(t, err)
	var ne *errs.NodeError
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, domain.ErrScriptTimeout, ne.Kind)
}

func TestPool_DateNowIsPinnedForInvocation(t *testing.T) {
	p := sandbox.NewPool(1)
	src := `function transformer(event) {
		var a = Date.now();
		var b = Date.now();
		return { data: { same: a === b }, metadata: {} };
	}`
	res, err := p.Run(context.Background(), "exec-1", "node-1", sandbox.KindTransformer, src, sampleInput(), sandbox.DefaultLimits())
	require.NoError(t, err)
	assert.Equal(t, true, res.Event.Data["same"])
}

func TestPool_RunRespectsContextCancellationWhilePoolIsBusy(t *testing.T) {
	p := sandbox.NewPool(1)
	busy := `function transformer(event) { while (true) {} }`
	go func() {
		_, _ = p.Run(context.Background(), "exec-busy", "node-busy", sandbox.KindTransformer, busy, sampleInput(), sandbox.Limits{CPUTimeout: 200 * time.Millisecond, MemoryLimitB: sandbox.DefaultLimits().MemoryLimitB})
	}()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := `function transformer(event) { return event; }`
	_, err := p.Run(ctx, "exec-1", "node-1", sandbox.KindTransformer, src, sampleInput(), sandbox.DefaultLimits())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
