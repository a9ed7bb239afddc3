package domain

import (
	"time"

	"github.com/google/uuid"
)

// Execution is one run of a Workflow (spec.md §3). Unlike the teacher's
// event-sourced Execution aggregate (internal/domain/execution.go, which
// accumulates uncommitted domain events and replays them), this Execution
// is a plain mutable record guarded by the persistence port — a durable,
// crash-recoverable scheduler has no single in-memory owner of an
// Execution's lifecycle, so there is nothing to event-source against.
type Execution struct {
	ID             uuid.UUID
	WorkflowID     uuid.UUID
	Status         ExecutionStatus
	TriggerEvent   Event
	Error          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    *time.Time
}

// Transition validates and applies a status change, returning an
// InvalidTransitionError if the move is illegal.
func (e *Execution) Transition(next ExecutionStatus) error {
	if !e.Status.CanTransition(next) {
		return &InvalidTransitionError{Entity: "execution", From: string(e.Status), To: string(next)}
	}
	e.Status = next
	if next.Terminal() {
		now := time.Now()
		e.CompletedAt = &now
	}
	return nil
}

// NewExecution constructs a fresh Execution in the Queued state.
func NewExecution(workflowID uuid.UUID, trigger Event) *Execution {
	now := time.Now()
	return &Execution{
		ID:           uuid.New(),
		WorkflowID:   workflowID,
		Status:       ExecutionQueued,
		TriggerEvent: trigger,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
