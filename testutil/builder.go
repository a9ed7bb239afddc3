// Package testutil provides fixture workflows and a small fluent builder
// for assembling them, grounded on the teacher's go/testutil/workflows.go
// (builder.NewWorkflow/AddNode/Connect/MustBuild) and generalized from the
// teacher's free-form node "type" strings to this engine's closed
// domain.NodeKind enum.
package testutil

import (
	"github.com/google/uuid"

	"github.com/nodeflow/core/internal/domain"
)

// WorkflowBuilder assembles a domain.Workflow node by node.
type WorkflowBuilder struct {
	wf       domain.Workflow
	idByName map[string]uuid.UUID
}

// NewWorkflow starts a builder for a workflow named name.
func NewWorkflow(name string) *WorkflowBuilder {
	return &WorkflowBuilder{
		wf:       domain.Workflow{ID: uuid.New(), Name: name},
		idByName: make(map[string]uuid.UUID),
	}
}

// AddNode appends a node of kind with the given config, keyed by name for
// later Connect calls. The first Trigger node added becomes StartNodeID.
func (b *WorkflowBuilder) AddNode(name string, kind domain.NodeKind, config map[string]any) *WorkflowBuilder {
	id := uuid.New()
	b.idByName[name] = id
	b.wf.Nodes = append(b.wf.Nodes, domain.Node{ID: id, Name: name, Kind: kind, Config: config})
	if kind == domain.NodeKindTrigger && b.wf.StartNodeID == uuid.Nil {
		b.wf.StartNodeID = id
	}
	return b
}

// Connect adds a branch-none edge from fromName to toName.
func (b *WorkflowBuilder) Connect(fromName, toName string) *WorkflowBuilder {
	return b.ConnectBranch(fromName, toName, domain.BranchNone)
}

// ConnectBranch adds an edge labeled with branch, for Condition fan-out.
func (b *WorkflowBuilder) ConnectBranch(fromName, toName string, branch domain.Branch) *WorkflowBuilder {
	b.wf.Edges = append(b.wf.Edges, domain.Edge{
		ID:         uuid.New(),
		FromNodeID: b.idByName[fromName],
		ToNodeID:   b.idByName[toName],
		Branch:     branch,
	})
	return b
}

// NodeID exposes a previously-added node's id, for assertions in tests.
func (b *WorkflowBuilder) NodeID(name string) uuid.UUID { return b.idByName[name] }

// Build returns the assembled workflow and validates it.
func (b *WorkflowBuilder) Build() (*domain.Workflow, error) {
	wf := b.wf
	if err := wf.Validate(); err != nil {
		return nil, err
	}
	return &wf, nil
}

// MustBuild is Build but panics on an invalid fixture — fixtures are
// expected to always be valid, so a panic here means the fixture itself
// is broken, not the code under test.
func (b *WorkflowBuilder) MustBuild() *domain.Workflow {
	wf, err := b.Build()
	if err != nil {
		panic(err)
	}
	return wf
}
