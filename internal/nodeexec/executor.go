// Package nodeexec dispatches a Step to the concrete logic for its node
// kind (component C, SPEC_FULL.md §4.3). Grounded on the teacher's
// NodeExecutor interface and registry (internal/application/executor/
// node_executors.go: NodeExecutor, RegisterDefaultExecutors), generalized
// from the teacher's free-form node "type" strings to the closed
// domain.NodeKind enum.
package nodeexec

import (
	"context"
	"time"

	"github.com/nodeflow/core/internal/domain"
)

// Outcome is what a node execution produces: either a successful Event, a
// Drop (skip downstream without error), or an error.
type Outcome struct {
	Event   domain.Event
	Dropped bool
	Branch  domain.Branch
	Waiting bool       // true for Approval/Delay: the step parks rather than completing
	ResumeAt *time.Time // set by Delay: when the queue should wake the job; nil means "wait for an external event" (Approval)
}

// Executor runs one node kind against an input Event and its resolved
// config.
type Executor interface {
	Execute(ctx context.Context, execCtx ExecContext, config map[string]any, input domain.Event) (Outcome, error)
	Kind() domain.NodeKind
}

// ExecContext carries identifiers an executor needs for error attribution
// and for nodes that must persist side state (Approval, Email, Delay).
type ExecContext struct {
	ExecutionID string
	NodeID      string
	StepID      string
	JobID       string
	Attempt     int // 1-based step attempt, for node-level retry/failure_action decisions
}

// Registry maps NodeKind to its Executor, mirroring the teacher's
// RegisterDefaultExecutors map-building pattern.
type Registry struct {
	byKind map[domain.NodeKind]Executor
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{byKind: make(map[domain.NodeKind]Executor)}
}

// Register adds or replaces the executor for its Kind().
func (r *Registry) Register(e Executor) {
	r.byKind[e.Kind()] = e
}

// Get returns the executor for kind, or false if none is registered.
func (r *Registry) Get(kind domain.NodeKind) (Executor, bool) {
	e, ok := r.byKind[kind]
	return e, ok
}
