package domain

import (
	"time"

	"github.com/google/uuid"
)

// Step is a single activation of a node within an Execution (spec.md §3).
// At most one non-terminal Step may exist for a given (ExecutionID, NodeID)
// pair at any time — the ordering invariant enforced by the worker pool
// (§5), not by this struct itself.
type Step struct {
	ID          uuid.UUID
	ExecutionID uuid.UUID
	NodeID      uuid.UUID
	Status      StepStatus
	Attempt     int
	Input       Event
	Output      Event
	Error       string
	Branch      Branch
	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

var validStepTransitions = map[StepStatus]map[StepStatus]bool{
	StepPending: {StepRunning: true, StepSkipped: true},
	StepRunning: {StepSucceeded: true, StepFailed: true, StepRunning: true, StepSkipped: true},
}

// Transition validates and applies a status change.
func (s *Step) Transition(next StepStatus) error {
	if s.Status.Terminal() {
		return &InvalidTransitionError{Entity: "step", From: string(s.Status), To: string(next)}
	}
	if !validStepTransitions[s.Status][next] {
		return &InvalidTransitionError{Entity: "step", From: string(s.Status), To: string(next)}
	}
	now := time.Now()
	if next == StepRunning && s.StartedAt == nil {
		s.StartedAt = &now
	}
	s.Status = next
	s.UpdatedAt = now
	if next.Terminal() {
		s.CompletedAt = &now
	}
	return nil
}

// NewStep constructs a fresh pending Step.
func NewStep(executionID, nodeID uuid.UUID, branch Branch, input Event) *Step {
	now := time.Now()
	return &Step{
		ID:          uuid.New(),
		ExecutionID: executionID,
		NodeID:      nodeID,
		Status:      StepPending,
		Branch:      branch,
		Input:       input,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
