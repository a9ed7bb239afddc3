package router

import (
	"github.com/google/uuid"

	"github.com/nodeflow/core/internal/domain"
)

// Graph is a read-optimized view over a Workflow's edges, grounded on the
// teacher's WorkflowGraph (internal/application/executor/graph.go) but
// narrowed to what the router needs: predecessor/successor lookups and
// join-node detection, not wave planning (this engine has no waves).
type Graph struct {
	wf       *domain.Workflow
	incoming map[uuid.UUID][]domain.Edge
	outgoing map[uuid.UUID][]domain.Edge
}

// NewGraph builds a Graph from a validated Workflow.
func NewGraph(wf *domain.Workflow) *Graph {
	g := &Graph{
		wf:       wf,
		incoming: make(map[uuid.UUID][]domain.Edge, len(wf.Nodes)),
		outgoing: make(map[uuid.UUID][]domain.Edge, len(wf.Nodes)),
	}
	for _, e := range wf.Edges {
		g.outgoing[e.FromNodeID] = append(g.outgoing[e.FromNodeID], e)
		g.incoming[e.ToNodeID] = append(g.incoming[e.ToNodeID], e)
	}
	return g
}

// Successors returns the edges leaving nodeID.
func (g *Graph) Successors(nodeID uuid.UUID) []domain.Edge {
	return g.outgoing[nodeID]
}

// Predecessors returns the edges arriving at nodeID.
func (g *Graph) Predecessors(nodeID uuid.UUID) []domain.Edge {
	return g.incoming[nodeID]
}

// IsJoin reports whether nodeID has more than one incoming edge — a join
// point requiring the multi-parent merge policy (spec.md §4.4.3).
func (g *Graph) IsJoin(nodeID uuid.UUID) bool {
	return len(g.incoming[nodeID]) > 1
}

// ActiveSuccessors returns the successor node ids that branch activates
// for fromNodeID — for a Condition node this is the single edge matching
// branch, for any other node kind it is every outgoing edge (they are all
// BranchNone and fire together on fan-out).
func (g *Graph) ActiveSuccessors(fromNodeID uuid.UUID, branch domain.Branch) []uuid.UUID {
	var out []uuid.UUID
	for _, e := range g.outgoing[fromNodeID] {
		if n, ok := g.wf.NodeByID(fromNodeID); ok && n.Kind == domain.NodeKindCondition {
			if e.Branch != branch {
				continue
			}
		}
		out = append(out, e.ToNodeID)
	}
	return out
}

// AllSuccessors returns every successor node id reachable directly from
// fromNodeID regardless of branch — used when fromNodeID itself will never
// run (it sits behind an untaken Condition branch), so none of its outgoing
// edges, Condition or not, are ever activated.
func (g *Graph) AllSuccessors(fromNodeID uuid.UUID) []uuid.UUID {
	edges := g.outgoing[fromNodeID]
	out := make([]uuid.UUID, len(edges))
	for i, e := range edges {
		out[i] = e.ToNodeID
	}
	return out
}
