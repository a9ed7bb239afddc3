package domain

import (
	"time"

	"github.com/google/uuid"
)

// Job is one unit of queued work: "run this Step" (spec.md §3, §4.5). The
// queue leases Jobs to workers with a visibility timeout, the same
// lease-and-extend pattern used by SQS/Postgres-backed queues; at-least-once
// delivery is the contract, not exactly-once — node executors are expected
// to be idempotent or the engine tolerates duplicate attempts per spec.md
// §4.6's ordering invariant (at most one in-flight attempt per (execution,
// node) at a time limits, but does not eliminate, duplicate side effects
// across crash-and-redeliver).
type Job struct {
	ID             uuid.UUID
	ExecutionID    uuid.UUID
	StepID         uuid.UUID
	NodeID         uuid.UUID
	Status         JobStatus
	Priority       int
	Attempt        int
	MaxAttempts    int
	LeaseHolder    string
	LeaseExpiresAt *time.Time
	RunAfter       time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewJob constructs a fresh pending Job, immediately runnable.
func NewJob(executionID, stepID, nodeID uuid.UUID, maxAttempts int) *Job {
	now := time.Now()
	return &Job{
		ID:          uuid.New(),
		ExecutionID: executionID,
		StepID:      stepID,
		NodeID:      nodeID,
		Status:      JobPending,
		MaxAttempts: maxAttempts,
		RunAfter:    now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Leased reports whether the job's lease is currently held and unexpired
// as of now.
func (j *Job) Leased(now time.Time) bool {
	return j.Status == JobLeased && j.LeaseExpiresAt != nil && now.Before(*j.LeaseExpiresAt)
}

// ExhaustedRetries reports whether another attempt would exceed MaxAttempts.
func (j *Job) ExhaustedRetries() bool {
	return j.Attempt >= j.MaxAttempts
}
