package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is the persistence port the rest of the engine consumes (spec.md
// §4.1, component A). It is implemented by the postgres adapter
// (internal/storage/postgres) for production and the memory adapter
// (internal/storage/memory) for tests — the same dual-adapter shape as the
// teacher's BunStore / in-memory store pair.
type Store interface {
	WorkflowStore
	ExecutionStore
	StepStore
	JobQueue
	ApprovalStore
	EmailOutbox
}

// WorkflowStore persists workflow definitions.
type WorkflowStore interface {
	SaveWorkflow(ctx context.Context, w *Workflow) error
	GetWorkflow(ctx context.Context, id uuid.UUID) (*Workflow, error)
}

// ExecutionStore persists Execution records and their status transitions.
type ExecutionStore interface {
	CreateExecution(ctx context.Context, e *Execution) error
	GetExecution(ctx context.Context, id uuid.UUID) (*Execution, error)
	UpdateExecution(ctx context.Context, e *Execution) error
	// ListActiveByWorkflow returns non-terminal executions for a workflow,
	// used by the cancellation sweep and trigger-concurrency limits.
	ListActiveByWorkflow(ctx context.Context, workflowID uuid.UUID) ([]*Execution, error)
}

// StepStore persists Step records.
type StepStore interface {
	CreateStep(ctx context.Context, s *Step) error
	GetStep(ctx context.Context, id uuid.UUID) (*Step, error)
	UpdateStep(ctx context.Context, s *Step) error
	// StepsByExecution returns every step recorded for an execution, in
	// creation order — used by the router to reconstruct join state and by
	// the status API to render a full execution trace.
	StepsByExecution(ctx context.Context, executionID uuid.UUID) ([]*Step, error)
	// NonTerminalStepByNode enforces the at-most-one-in-flight-per-node
	// invariant (spec.md §5): returns the current non-terminal step for
	// (executionID, nodeID), or nil if none exists.
	NonTerminalStepByNode(ctx context.Context, executionID, nodeID uuid.UUID) (*Step, error)
}

// JobQueue is the durable job queue (spec.md §4.5, component E).
type JobQueue interface {
	Enqueue(ctx context.Context, j *Job) error
	// Lease atomically claims up to n pending-or-expired jobs for holder,
	// ordered by priority DESC, created_at ASC (FIFO-within-priority), and
	// sets their visibility to now+visibility. Returns the claimed jobs.
	Lease(ctx context.Context, holder string, n int, visibility time.Duration, now time.Time) ([]*Job, error)
	// ExtendLease refreshes holder's lease on jobID, failing if holder no
	// longer owns the lease (another worker reaped it as expired).
	ExtendLease(ctx context.Context, jobID uuid.UUID, holder string, visibility time.Duration, now time.Time) error
	Complete(ctx context.Context, jobID uuid.UUID) error
	// Fail records a failed attempt. If forceDeadLetter is set (a
	// non-retryable error kind) the job moves straight to DeadLetter
	// regardless of attempts remaining; otherwise it is returned to Pending
	// with RunAfter advanced by backoff once retries remain, or DeadLetter
	// once Attempt reaches MaxAttempts.
	Fail(ctx context.Context, jobID uuid.UUID, backoff time.Duration, now time.Time, forceDeadLetter bool) error
	// Sleep parks a job (e.g. a Delay node) until runAfter.
	Sleep(ctx context.Context, jobID uuid.UUID, runAfter time.Time) error
	// ReapExpiredLeases returns leased jobs whose lease has expired as of
	// now back to Pending, for redelivery. Returns the count reclaimed.
	ReapExpiredLeases(ctx context.Context, now time.Time) (int, error)
	// DueSleepers returns Sleeping jobs whose RunAfter has passed, for the
	// delay/resume scheduler (component G) to wake.
	DueSleepers(ctx context.Context, now time.Time, limit int) ([]*Job, error)
	// Wake transitions a Sleeping job back to Pending so the next Lease
	// pass picks it up.
	Wake(ctx context.Context, jobID uuid.UUID) error
	// CountSleeping returns the number of jobs currently parked in the
	// Sleeping state, for the sleeping-jobs gauge (component L).
	CountSleeping(ctx context.Context) (int, error)
	// CancelByExecution transitions every non-terminal job of an execution
	// out of the queue, for the cancellation sweep.
	CancelByExecution(ctx context.Context, executionID uuid.UUID) error
}

// Approval is a pending human-in-the-loop gate created by an Approval node.
type Approval struct {
	Token       string
	ExecutionID uuid.UUID
	StepID      uuid.UUID
	JobID       uuid.UUID
	CreatedAt   time.Time
	ResolvedAt  *time.Time
	Approved    bool
}

// ApprovalStore persists pending approval tokens.
type ApprovalStore interface {
	CreateApproval(ctx context.Context, a *Approval) error
	GetApproval(ctx context.Context, token string) (*Approval, error)
	ResolveApproval(ctx context.Context, token string, approved bool) error
}

// OutboundEmail is one queued send from an Email node.
type OutboundEmail struct {
	ID          uuid.UUID
	ExecutionID uuid.UUID
	StepID      uuid.UUID
	To          []string
	Subject     string
	Body        string
	SentAt      *time.Time
}

// EmailOutbox is the rate-limited send path for Email nodes. Non-goal: real
// SMTP wire details (spec.md Non-goals) — only the queue/audit contract is
// part of this engine.
type EmailOutbox interface {
	// QueueEmail may return a *RateLimitedError when the outbox is
	// throttled; the Email node executor defers and retries per spec.md
	// §4.3 rather than treating it as a generic failure.
	QueueEmail(ctx context.Context, e *OutboundEmail) error
	MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time) error
}

// RateLimitedError signals the email outbox rejected a send due to
// throttling. RetryAfter suggests how long the Email node should wait
// before trying again (spec.md §4.3: "Rate-limit rejection → Defer(now +
// backoff) up to a configured wait ceiling; then Fail(RateLimited, …,
// retryable=false)").
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string { return "email outbox rate limited" }
