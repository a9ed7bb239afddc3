package router

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nodeflow/core/internal/domain"
	"github.com/nodeflow/core/internal/queue"
)

// Dispatcher creates Steps/Jobs for a node's successors, shared by the
// worker pool (after a step succeeds) and the approval-resume path (after
// an external approval unblocks a parked step) — both need the same
// join-aware fan-out logic, so it lives here rather than being duplicated.
type Dispatcher struct {
	store domain.Store
	q     *queue.Queue
	log   zerolog.Logger
}

// NewDispatcher builds a Dispatcher.
func NewDispatcher(store domain.Store, q *queue.Queue, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{store: store, q: q, log: log.With().Str("component", "router").Logger()}
}

// Advance routes fromNode's output to its successors per branch, per
// SPEC_FULL.md §4.4: direct dispatch for ordinary successors, join-aware
// merge for nodes with multiple predecessors, and finishes the execution
// once no successor exists and nothing else is in flight.
func (d *Dispatcher) Advance(ctx context.Context, wf *domain.Workflow, executionID, fromNode uuid.UUID, branch domain.Branch, event domain.Event) {
	graph := NewGraph(wf)
	successors := graph.ActiveSuccessors(fromNode, branch)

	if len(successors) == 0 {
		d.maybeFinishExecution(ctx, executionID)
		return
	}

	if n, ok := wf.NodeByID(fromNode); ok && n.Kind == domain.NodeKindCondition {
		untaken := domain.BranchTrue
		if branch == domain.BranchTrue {
			untaken = domain.BranchFalse
		}
		seen := d.existingStepNodes(ctx, executionID)
		for _, skippedID := range graph.ActiveSuccessors(fromNode, untaken) {
			d.propagateSkip(ctx, wf, graph, executionID, skippedID, event, seen)
		}
	}

	tracker := NewJoinTracker(graph)
	for _, nodeID := range successors {
		if graph.IsJoin(nodeID) {
			readiness, err := tracker.Evaluate(ctx, d.store, executionID, nodeID)
			if err != nil {
				d.log.Error().Err(err).Msg("join evaluation failed")
				continue
			}
			if !readiness.Ready {
				continue
			}
			d.dispatch(ctx, wf, executionID, nodeID, readiness.Event)
			continue
		}
		d.dispatch(ctx, wf, executionID, nodeID, event)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, wf *domain.Workflow, executionID, nodeID uuid.UUID, input domain.Event) {
	existing, err := d.store.NonTerminalStepByNode(ctx, executionID, nodeID)
	if err != nil {
		d.log.Error().Err(err).Msg("check in-flight step")
		return
	}
	if existing != nil {
		return
	}
	step := domain.NewStep(executionID, nodeID, domain.BranchNone, input)
	if err := d.store.CreateStep(ctx, step); err != nil {
		d.log.Error().Err(err).Msg("create step")
		return
	}
	maxAttempts := 0
	if n, ok := wf.NodeByID(nodeID); ok {
		if v, ok := n.Config["max_attempts"].(float64); ok && v > 0 {
			maxAttempts = int(v)
		}
	}
	job := domain.NewJob(executionID, step.ID, nodeID, maxAttempts)
	if err := d.q.Enqueue(ctx, job); err != nil {
		d.log.Error().Err(err).Msg("enqueue job")
	}
}

func (d *Dispatcher) recordSkip(ctx context.Context, executionID, nodeID uuid.UUID, event domain.Event) {
	step := domain.NewStep(executionID, nodeID, domain.BranchNone, event)
	_ = step.Transition(domain.StepSkipped)
	_ = d.store.CreateStep(ctx, step)
}

// propagateSkip marks nodeID as Skipped because it sits behind a Condition
// branch that was never taken, then recurses into its own successors so a
// join two or more hops downstream still resolves as resolved-but-excluded
// instead of waiting forever on a step that will never be created (spec.md
// §9 open question 3). Recursion stops at a join node: if the join isn't
// ready yet it is left for its other, still-live predecessor to complete
// later; if this skip is what makes it ready, it is dispatched immediately.
func (d *Dispatcher) propagateSkip(ctx context.Context, wf *domain.Workflow, graph *Graph, executionID, nodeID uuid.UUID, event domain.Event, seen map[uuid.UUID]bool) {
	if seen[nodeID] {
		return
	}
	seen[nodeID] = true

	if graph.IsJoin(nodeID) {
		tracker := NewJoinTracker(graph)
		readiness, err := tracker.Evaluate(ctx, d.store, executionID, nodeID)
		if err != nil {
			d.log.Error().Err(err).Msg("join evaluation failed during skip propagation")
			return
		}
		if !readiness.Ready {
			return
		}
		d.dispatch(ctx, wf, executionID, nodeID, readiness.Event)
		return
	}

	d.recordSkip(ctx, executionID, nodeID, event)
	for _, next := range graph.AllSuccessors(nodeID) {
		d.propagateSkip(ctx, wf, graph, executionID, next, event, seen)
	}
}

// existingStepNodes returns the set of node ids that already have a Step
// recorded for executionID, so skip propagation doesn't re-record a node
// reached via more than one path through the untaken subgraph, or one
// another Advance call already resolved.
func (d *Dispatcher) existingStepNodes(ctx context.Context, executionID uuid.UUID) map[uuid.UUID]bool {
	steps, err := d.store.StepsByExecution(ctx, executionID)
	seen := make(map[uuid.UUID]bool, len(steps))
	if err != nil {
		return seen
	}
	for _, s := range steps {
		seen[s.NodeID] = true
	}
	return seen
}

func (d *Dispatcher) maybeFinishExecution(ctx context.Context, executionID uuid.UUID) {
	steps, err := d.store.StepsByExecution(ctx, executionID)
	if err != nil {
		return
	}
	for _, s := range steps {
		if !s.Status.Terminal() {
			return
		}
	}
	exec, err := d.store.GetExecution(ctx, executionID)
	if err != nil || exec.Status.Terminal() {
		return
	}
	if err := exec.Transition(domain.ExecutionSucceeded); err == nil {
		_ = d.store.UpdateExecution(ctx, exec)
	}
}

// MarkExecutionRunning advances a Queued/Waiting execution to Running.
func (d *Dispatcher) MarkExecutionRunning(ctx context.Context, executionID uuid.UUID) {
	exec, err := d.store.GetExecution(ctx, executionID)
	if err != nil {
		return
	}
	if exec.Status == domain.ExecutionQueued || exec.Status == domain.ExecutionWaiting {
		if err := exec.Transition(domain.ExecutionRunning); err == nil {
			_ = d.store.UpdateExecution(ctx, exec)
		}
	}
}

// MarkExecutionWaiting parks a Running execution.
func (d *Dispatcher) MarkExecutionWaiting(ctx context.Context, executionID uuid.UUID) {
	exec, err := d.store.GetExecution(ctx, executionID)
	if err != nil {
		return
	}
	if exec.Status == domain.ExecutionRunning {
		if err := exec.Transition(domain.ExecutionWaiting); err == nil {
			_ = d.store.UpdateExecution(ctx, exec)
		}
	}
}
