// Package intake is the trigger entry point (component H, SPEC_FULL.md
// §4.8): it turns an external trigger request into a new Execution, its
// initial Step on the workflow's Trigger node, and the first queued Job.
// Grounded on the teacher's ManualTriggerExecutor
// (internal/application/executor/trigger_manager.go).
package intake

import (
	"context"

	"github.com/nodeflow/core/internal/domain"
	"github.com/nodeflow/core/internal/queue"
)

// Intake wires external trigger requests onto the persistence port and
// job queue.
type Intake struct {
	store domain.Store
	q     *queue.Queue
}

// New constructs an Intake.
func New(store domain.Store, q *queue.Queue) *Intake {
	return &Intake{store: store, q: q}
}

// Trigger starts a new Execution of workflowID with the given payload,
// returning the created Execution.
func (in *Intake) Trigger(ctx context.Context, workflowID string, payload map[string]any) (*domain.Execution, error) {
	wfID, err := domain.ParseID(workflowID)
	if err != nil {
		return nil, err
	}
	wf, err := in.store.GetWorkflow(ctx, wfID)
	if err != nil {
		return nil, err
	}
	if err := wf.Validate(); err != nil {
		return nil, err
	}

	trigger := domain.Event{Data: payload, Metadata: map[string]any{"source": "trigger"}}
	exec := domain.NewExecution(wf.ID, trigger)
	if err := in.store.CreateExecution(ctx, exec); err != nil {
		return nil, err
	}

	step := domain.NewStep(exec.ID, wf.StartNodeID, domain.BranchNone, trigger)
	if err := in.store.CreateStep(ctx, step); err != nil {
		return nil, err
	}

	job := domain.NewJob(exec.ID, step.ID, wf.StartNodeID, 0)
	if err := in.q.Enqueue(ctx, job); err != nil {
		return nil, err
	}
	return exec, nil
}

// Cancel transitions an execution to Cancelled and drains its queued work.
func (in *Intake) Cancel(ctx context.Context, executionID string) error {
	id, err := domain.ParseID(executionID)
	if err != nil {
		return err
	}
	exec, err := in.store.GetExecution(ctx, id)
	if err != nil {
		return err
	}
	if err := exec.Transition(domain.ExecutionCancelled); err != nil {
		return err
	}
	if err := in.store.UpdateExecution(ctx, exec); err != nil {
		return err
	}
	return in.q.CancelExecution(ctx, executionID)
}
