package nodeexec

import (
	"context"

	"github.com/nodeflow/core/internal/domain"
)

// TriggerExecutor is a pass-through: the Trigger node's job is only to
// exist as the workflow's single entry point (spec.md §3 invariant),
// its "execution" simply forwards the intake event unchanged.
type TriggerExecutor struct{}

func (TriggerExecutor) Kind() domain.NodeKind { return domain.NodeKindTrigger }

func (TriggerExecutor) Execute(_ context.Context, _ ExecContext, _ map[string]any, input domain.Event) (Outcome, error) {
	return Outcome{Event: input, Branch: domain.BranchNone}, nil
}
