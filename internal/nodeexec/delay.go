package nodeexec

import (
	"context"
	"time"

	"github.com/nodeflow/core/internal/domain"
	"github.com/nodeflow/core/internal/domain/errs"
)

// DelayExecutor parks the step until a configured duration has elapsed.
// The actual sleeping is done by the job queue (component E) via
// Job.Sleep — this executor only computes when to wake, grounded on the
// teacher's AutoTriggerScheduler cooldown math (internal/application/
// executor/trigger_manager.go), generalized from "cooldown since last
// trigger" to "sleep since this step started".
type DelayExecutor struct{}

func (DelayExecutor) Kind() domain.NodeKind { return domain.NodeKindDelay }

func (DelayExecutor) Execute(_ context.Context, ec ExecContext, config map[string]any, input domain.Event) (Outcome, error) {
	if resumed, _ := input.Metadata["_delay_resumed"].(bool); resumed {
		out := input.Clone()
		delete(out.Metadata, "_delay_resumed")
		return Outcome{Event: out}, nil
	}
	seconds, ok := config["duration_seconds"].(float64)
	if !ok || seconds < 0 {
		return Outcome{}, errs.New(domain.ErrTemplateUnresolved, ec.ExecutionID, ec.NodeID, "delay node missing non-negative \"duration_seconds\"", nil)
	}
	resumeAt := time.Now().Add(time.Duration(seconds) * time.Second)
	out := input.Clone()
	out.Metadata["_delay_resumed"] = true
	return Outcome{Event: out, Waiting: true, ResumeAt: &resumeAt}, nil
}
