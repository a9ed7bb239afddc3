package domain

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/nodeflow/core/internal/domain/errs"
)

// Node is a step in a workflow DAG. Grounded on the teacher's
// internal/domain/node.go constructor/accessor shape, generalized with a
// Kind discriminator (spec.md §3) instead of a free-form type string.
type Node struct {
	ID     uuid.UUID
	Name   string
	Kind   NodeKind
	Config map[string]any
}

// Edge connects two nodes, labeled with the branch it activates on.
type Edge struct {
	ID         uuid.UUID
	FromNodeID uuid.UUID
	ToNodeID   uuid.UUID
	Branch     Branch
}

// Workflow is the immutable-once-published DAG definition (spec.md §3).
type Workflow struct {
	ID          uuid.UUID
	Name        string
	Description string
	Nodes       []Node
	Edges       []Edge
	StartNodeID uuid.UUID
}

// NodeByID returns the node with the given id, or false.
func (w *Workflow) NodeByID(id uuid.UUID) (Node, bool) {
	for _, n := range w.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// OutgoingEdges returns the edges leaving nodeID, in declaration order.
func (w *Workflow) OutgoingEdges(nodeID uuid.UUID) []Edge {
	var out []Edge
	for _, e := range w.Edges {
		if e.FromNodeID == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// IncomingEdges returns the edges arriving at nodeID, in declaration order.
func (w *Workflow) IncomingEdges(nodeID uuid.UUID) []Edge {
	var in []Edge
	for _, e := range w.Edges {
		if e.ToNodeID == nodeID {
			in = append(in, e)
		}
	}
	return in
}

// Validate enforces the structural invariants of spec.md §3 (i)-(v):
// edges reference known nodes, the graph is acyclic, there is exactly one
// start node of kind Trigger, node names are unique, and condition nodes
// branch correctly.
func (w *Workflow) Validate() error {
	if len(w.Nodes) == 0 {
		return &errs.ValidationError{Field: "nodes", Message: "workflow has no nodes"}
	}

	seenNames := make(map[string]bool, len(w.Nodes))
	nodeIDs := make(map[uuid.UUID]Node, len(w.Nodes))
	for _, n := range w.Nodes {
		if seenNames[n.Name] {
			return &errs.ValidationError{Field: "nodes", Message: fmt.Sprintf("duplicate node name %q", n.Name)}
		}
		seenNames[n.Name] = true
		nodeIDs[n.ID] = n
	}

	start, ok := nodeIDs[w.StartNodeID]
	if !ok {
		return &errs.ValidationError{Field: "start_node_id", Message: "start node not found among workflow nodes"}
	}
	if start.Kind != NodeKindTrigger {
		return &errs.ValidationError{Field: "start_node_id", Message: "start node must be of kind trigger"}
	}

	outgoingByNode := make(map[uuid.UUID][]Edge, len(w.Nodes))
	for _, e := range w.Edges {
		from, ok := nodeIDs[e.FromNodeID]
		if !ok {
			return &errs.ValidationError{Field: "edges", Message: fmt.Sprintf("edge references unknown from_node_id %s", e.FromNodeID)}
		}
		if _, ok := nodeIDs[e.ToNodeID]; !ok {
			return &errs.ValidationError{Field: "edges", Message: fmt.Sprintf("edge references unknown to_node_id %s", e.ToNodeID)}
		}
		if from.Kind == NodeKindCondition {
			if e.Branch != BranchTrue && e.Branch != BranchFalse {
				return &errs.ValidationError{Field: "edges", Message: "condition node edges must be branch true or false"}
			}
		} else if e.Branch != BranchNone {
			return &errs.ValidationError{Field: "edges", Message: "non-condition node edges must have branch none"}
		}
		outgoingByNode[e.FromNodeID] = append(outgoingByNode[e.FromNodeID], e)
	}

	for nodeID, edges := range outgoingByNode {
		n := nodeIDs[nodeID]
		if n.Kind != NodeKindCondition {
			continue
		}
		if len(edges) > 2 {
			return &errs.ValidationError{Field: "edges", Message: fmt.Sprintf("condition node %s has more than two outgoing edges", n.Name)}
		}
		seen := map[Branch]bool{}
		for _, e := range edges {
			if seen[e.Branch] {
				return &errs.ValidationError{Field: "edges", Message: fmt.Sprintf("condition node %s has duplicate %s branch", n.Name, e.Branch)}
			}
			seen[e.Branch] = true
		}
	}

	if err := w.checkAcyclic(nodeIDs); err != nil {
		return err
	}

	return nil
}

// checkAcyclic runs iterative DFS with a recursion-stack marker, the same
// cycle-detection shape the teacher's graph code uses for topological
// sorting (internal/application/executor/planner.go), generalized to just
// report the violation instead of also producing a sort order (that order
// is computed separately by router.Graph when needed for validation
// diagnostics).
func (w *Workflow) checkAcyclic(nodeIDs map[uuid.UUID]Node) error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[uuid.UUID]int, len(nodeIDs))
	var visit func(id uuid.UUID) error
	visit = func(id uuid.UUID) error {
		color[id] = gray
		for _, e := range w.OutgoingEdges(id) {
			switch color[e.ToNodeID] {
			case gray:
				return &errs.ValidationError{Field: "edges", Message: "workflow graph contains a cycle"}
			case white:
				if err := visit(e.ToNodeID); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}
	for id := range nodeIDs {
		if color[id] == white {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}
