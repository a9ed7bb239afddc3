package router

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/nodeflow/core/internal/domain"
)

// JoinTracker evaluates whether a join node is ready to fire, by deriving
// completion state from already-persisted Steps rather than holding it in
// memory — grounded on the teacher's JoinEvaluator
// (internal/application/executor/join.go: RegisterJoinNode /
// MarkBranchCompleted / ShouldTriggerJoin), but generalized from the
// teacher's four join strategies (WaitAll/WaitAny/WaitFirst/WaitN) down to
// spec.md's single WaitAll-over-reachable-set policy, and re-derived from
// the Step table on every check instead of held in a live map, so a worker
// crash mid-merge loses nothing: any other worker recomputes the same
// answer from the same persisted Steps.
type JoinTracker struct {
	graph *Graph
}

// NewJoinTracker builds a tracker bound to a workflow's graph.
func NewJoinTracker(graph *Graph) *JoinTracker {
	return &JoinTracker{graph: graph}
}

// Readiness is the outcome of evaluating a join node against the steps
// recorded so far for an execution.
type Readiness struct {
	Ready   bool
	// Event is the merged event to feed the join node, valid only if Ready.
	Event domain.Event
}

// Evaluate reports whether nodeID (a join node, len(Predecessors) > 1) is
// ready to fire given the Steps recorded for executionID so far. A
// predecessor counts as resolved once its latest Step is terminal:
// Succeeded (contributes its Output), or Skipped or Failed (excluded from
// the merge). A predecessor with no Step yet, or a non-terminal one, keeps
// the join not ready; a branch never taken by an upstream Condition
// resolves because the dispatcher records Skipped steps along it
// ("resolved-but-excluded", per SPEC_FULL.md open question 3: a Drop on one
// branch only skips the join itself, it does not block or cancel sibling
// branches).
func (t *JoinTracker) Evaluate(ctx context.Context, steps domain.StepStore, executionID, nodeID uuid.UUID) (Readiness, error) {
	preds := t.graph.Predecessors(nodeID)
	if len(preds) == 0 {
		return Readiness{Ready: true}, nil
	}

	all, err := steps.StepsByExecution(ctx, executionID)
	if err != nil {
		return Readiness{}, err
	}

	type arrival struct {
		nodeID       uuid.UUID
		completedAt  int64
		event        domain.Event
		contributes  bool
	}
	latestByNode := make(map[uuid.UUID]*domain.Step, len(preds))
	for _, s := range all {
		if s2 := latestByNode[s.NodeID]; s2 == nil || s.Attempt >= s2.Attempt {
			latestByNode[s.NodeID] = s
		}
	}

	var arrivals []arrival
	for _, e := range preds {
		s, ok := latestByNode[e.FromNodeID]
		if !ok || !s.Status.Terminal() {
			// Predecessor hasn't resolved yet (and wasn't skipped): join
			// not ready unless it will never run — that case is detected
			// by Dispatcher.propagateSkip recording Skipped steps along
			// the untaken branch, handled by the ok&&Skipped arm below.
			return Readiness{Ready: false}, nil
		}
		switch s.Status {
		case domain.StepSucceeded:
			var ts int64
			if s.CompletedAt != nil {
				ts = s.CompletedAt.UnixNano()
			}
			arrivals = append(arrivals, arrival{nodeID: e.FromNodeID, completedAt: ts, event: s.Output, contributes: true})
		case domain.StepSkipped, domain.StepFailed:
			// excluded from the merge but does not block the join
		}
	}

	sort.Slice(arrivals, func(i, j int) bool {
		if arrivals[i].completedAt != arrivals[j].completedAt {
			return arrivals[i].completedAt < arrivals[j].completedAt
		}
		return arrivals[i].nodeID.String() < arrivals[j].nodeID.String()
	})

	merged := domain.Event{Data: map[string]any{}, Metadata: map[string]any{}}
	for _, a := range arrivals {
		if !a.contributes {
			continue
		}
		merged = merged.Merge(a.event)
		name := a.nodeID.String()
		if n, ok := t.graph.wf.NodeByID(a.nodeID); ok {
			name = n.Name
		}
		merged.Data["input_"+name] = map[string]any{
			"data":     a.event.Data,
			"metadata": a.event.Metadata,
		}
	}
	return Readiness{Ready: true, Event: merged}, nil
}
