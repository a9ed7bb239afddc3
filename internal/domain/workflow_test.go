package domain_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodeflow/core/internal/domain"
)

func linearWorkflow() *domain.Workflow {
	trigger := domain.Node{ID: uuid.New(), Name: "trigger", Kind: domain.NodeKindTrigger}
	next := domain.Node{ID: uuid.New(), Name: "next", Kind: domain.NodeKindTransformer}
	return &domain.Workflow{
		ID:          uuid.New(),
		Name:        "linear",
		Nodes:       []domain.Node{trigger, next},
		Edges:       []domain.Edge{{ID: uuid.New(), FromNodeID: trigger.ID, ToNodeID: next.ID, Branch: domain.BranchNone}},
		StartNodeID: trigger.ID,
	}
}

func TestWorkflowValidate_Valid(t *testing.T) {
	wf := linearWorkflow()
	require.NoError(t, wf.Validate())
}

func TestWorkflowValidate_StartNodeMustBeTrigger(t *testing.T) {
	wf := linearWorkflow()
	wf.StartNodeID = wf.Nodes[1].ID
	err := wf.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start node must be of kind trigger")
}

func TestWorkflowValidate_DuplicateNodeNames(t *testing.T) {
	wf := linearWorkflow()
	wf.Nodes[1].Name = wf.Nodes[0].Name
	err := wf.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate node name")
}

func TestWorkflowValidate_EdgeToUnknownNode(t *testing.T) {
	wf := linearWorkflow()
	wf.Edges[0].ToNodeID = uuid.New()
	err := wf.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown to_node_id")
}

func TestWorkflowValidate_ConditionRequiresBranch(t *testing.T) {
	trigger := domain.Node{ID: uuid.New(), Name: "trigger", Kind: domain.NodeKindTrigger}
	cond := domain.Node{ID: uuid.New(), Name: "cond", Kind: domain.NodeKindCondition}
	wf := &domain.Workflow{
		ID:          uuid.New(),
		Nodes:       []domain.Node{trigger, cond},
		Edges:       []domain.Edge{{ID: uuid.New(), FromNodeID: trigger.ID, ToNodeID: cond.ID, Branch: domain.BranchNone}, {ID: uuid.New(), FromNodeID: cond.ID, ToNodeID: trigger.ID, Branch: domain.BranchNone}},
		StartNodeID: trigger.ID,
	}
	err := wf.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "branch true or false")
}

func TestWorkflowValidate_ConditionDuplicateBranch(t *testing.T) {
	trigger := domain.Node{ID: uuid.New(), Name: "trigger", Kind: domain.NodeKindTrigger}
	cond := domain.Node{ID: uuid.New(), Name: "cond", Kind: domain.NodeKindCondition}
	a := domain.Node{ID: uuid.New(), Name: "a", Kind: domain.NodeKindTransformer}
	b := domain.Node{ID: uuid.New(), Name: "b", Kind: domain.NodeKindTransformer}
	wf := &domain.Workflow{
		ID:    uuid.New(),
		Nodes: []domain.Node{trigger, cond, a, b},
		Edges: []domain.Edge{
			{ID: uuid.New(), FromNodeID: trigger.ID, ToNodeID: cond.ID, Branch: domain.BranchNone},
			{ID: uuid.New(), FromNodeID: cond.ID, ToNodeID: a.ID, Branch: domain.BranchTrue},
			{ID: uuid.New(), FromNodeID: cond.ID, ToNodeID: b.ID, Branch: domain.BranchTrue},
		},
		StartNodeID: trigger.ID,
	}
	err := wf.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestWorkflowValidate_Cycle(t *testing.T) {
	trigger := domain.Node{ID: uuid.New(), Name: "trigger", Kind: domain.NodeKindTrigger}
	a := domain.Node{ID: uuid.New(), Name: "a", Kind: domain.NodeKindTransformer}
	b := domain.Node{ID: uuid.New(), Name: "b", Kind: domain.NodeKindTransformer}
	wf := &domain.Workflow{
		ID:    uuid.New(),
		Nodes: []domain.Node{trigger, a, b},
		Edges: []domain.Edge{
			{ID: uuid.New(), FromNodeID: trigger.ID, ToNodeID: a.ID, Branch: domain.BranchNone},
			{ID: uuid.New(), FromNodeID: a.ID, ToNodeID: b.ID, Branch: domain.BranchNone},
			{ID: uuid.New(), FromNodeID: b.ID, ToNodeID: a.ID, Branch: domain.BranchNone},
		},
		StartNodeID: trigger.ID,
	}
	err := wf.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestWorkflowByID_Helpers(t *testing.T) {
	wf := linearWorkflow()
	n, ok := wf.NodeByID(wf.Nodes[0].ID)
	require.True(t, ok)
	assert.Equal(t, "trigger", n.Name)

	_, ok = wf.NodeByID(uuid.New())
	assert.False(t, ok)

	assert.Len(t, wf.OutgoingEdges(wf.Nodes[0].ID), 1)
	assert.Len(t, wf.IncomingEdges(wf.Nodes[1].ID), 1)
}
