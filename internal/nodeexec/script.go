package nodeexec

import (
	"context"

	"github.com/nodeflow/core/internal/domain"
	"github.com/nodeflow/core/internal/domain/errs"
	"github.com/nodeflow/core/internal/sandbox"
)

// ConditionExecutor runs a boolean-returning script and routes the event
// down the true or false branch — the only node kind whose outgoing edges
// carry a branch label other than BranchNone (spec.md §3).
type ConditionExecutor struct {
	Pool   *sandbox.Pool
	Limits sandbox.Limits
}

func (ConditionExecutor) Kind() domain.NodeKind { return domain.NodeKindCondition }

func (e ConditionExecutor) Execute(ctx context.Context, ec ExecContext, config map[string]any, input domain.Event) (Outcome, error) {
	src, _ := config["condition"].(string)
	if src == "" {
		return Outcome{}, errs.New(domain.ErrScriptSyntax, ec.ExecutionID, ec.NodeID, "condition node missing \"condition\" script", nil)
	}
	res, err := e.Pool.Run(ctx, ec.ExecutionID, ec.NodeID, sandbox.KindCondition, src, input, e.Limits)
	if err != nil {
		return Outcome{}, err
	}
	branch := domain.BranchFalse
	if res.BoolVal {
		branch = domain.BranchTrue
	}
	return Outcome{Event: input, Branch: branch}, nil
}

// TransformerExecutor runs a script that maps the input event to a new
// event, or signals Drop by returning null/undefined (spec.md §4.2).
type TransformerExecutor struct {
	Pool   *sandbox.Pool
	Limits sandbox.Limits
}

func (TransformerExecutor) Kind() domain.NodeKind { return domain.NodeKindTransformer }

func (e TransformerExecutor) Execute(ctx context.Context, ec ExecContext, config map[string]any, input domain.Event) (Outcome, error) {
	src, _ := config["transformer"].(string)
	if src == "" {
		return Outcome{}, errs.New(domain.ErrScriptSyntax, ec.ExecutionID, ec.NodeID, "transformer node missing \"transformer\" script", nil)
	}
	res, err := e.Pool.Run(ctx, ec.ExecutionID, ec.NodeID, sandbox.KindTransformer, src, input, e.Limits)
	if err != nil {
		return Outcome{}, err
	}
	if res.Dropped {
		return Outcome{Dropped: true}, nil
	}
	return Outcome{Event: res.Event, Branch: domain.BranchNone}, nil
}
