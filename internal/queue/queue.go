package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nodeflow/core/internal/domain"
	"github.com/nodeflow/core/internal/metrics"
)

// Queue wraps a domain.JobQueue with the retry/backoff policy and
// dead-letter decision spec.md §4.5 and §7 require: how long to sleep a
// failed job before redelivery, and when to stop retrying and dead-letter
// it instead.
type Queue struct {
	store   domain.JobQueue
	policy  RetryPolicy
	log     zerolog.Logger
	metrics *metrics.Collector
}

// Option configures optional Queue dependencies, in the teacher's
// NewXxxWithMetrics functional-option idiom.
type Option func(*Queue)

// WithMetrics wires a metrics.Collector so lease/complete/fail/dead-letter
// counts (component L, SPEC_FULL.md §9) are observable via the status API.
func WithMetrics(m *metrics.Collector) Option {
	return func(q *Queue) { q.metrics = m }
}

// New constructs a Queue over store.
func New(store domain.JobQueue, policy RetryPolicy, log zerolog.Logger, opts ...Option) *Queue {
	q := &Queue{store: store, policy: policy, log: log.With().Str("component", "queue").Logger()}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue adds a new job, ready to run immediately.
func (q *Queue) Enqueue(ctx context.Context, j *domain.Job) error {
	if j.MaxAttempts == 0 {
		j.MaxAttempts = q.policy.MaxAttempts
	}
	q.log.Debug().Str("job_id", j.ID.String()).Str("execution_id", j.ExecutionID.String()).Msg("enqueued job")
	return q.store.Enqueue(ctx, j)
}

// Lease claims up to n jobs for holder with the given visibility window.
func (q *Queue) Lease(ctx context.Context, holder string, n int, visibility time.Duration) ([]*domain.Job, error) {
	jobs, err := q.store.Lease(ctx, holder, n, visibility, time.Now())
	if err != nil {
		return nil, err
	}
	if len(jobs) > 0 {
		q.log.Debug().Str("holder", holder).Int("count", len(jobs)).Msg("leased jobs")
		if q.metrics != nil {
			for range jobs {
				q.metrics.IncJobsLeased()
			}
		}
	}
	return jobs, nil
}

// ExtendLease refreshes a worker's lease on an in-progress job — called at
// half the visibility window (spec.md §5) so long-running node executions
// are not redelivered out from under their own worker.
func (q *Queue) ExtendLease(ctx context.Context, jobID, holder string, visibility time.Duration) error {
	id, err := parseUUID(jobID)
	if err != nil {
		return err
	}
	return q.store.ExtendLease(ctx, id, holder, visibility, time.Now())
}

// Complete marks a job done.
func (q *Queue) Complete(ctx context.Context, jobID string) error {
	id, err := parseUUID(jobID)
	if err != nil {
		return err
	}
	if err := q.store.Complete(ctx, id); err != nil {
		return err
	}
	if q.metrics != nil {
		q.metrics.IncJobsCompleted()
	}
	return nil
}

// Fail records a failed attempt, using the configured RetryPolicy to
// compute the backoff before the next attempt; the job dead-letters once
// attempts are exhausted, per the store's own attempt bookkeeping.
func (q *Queue) Fail(ctx context.Context, jobID string, attempt int, retryable bool) error {
	id, err := parseUUID(jobID)
	if err != nil {
		return err
	}
	if q.metrics != nil {
		q.metrics.IncJobsFailed()
	}
	if !retryable {
		// Non-retryable errors dead-letter the job immediately regardless
		// of attempts remaining — there's nothing a redelivery would fix.
		if err := q.store.Fail(ctx, id, 0, time.Now(), true); err != nil {
			return err
		}
		if q.metrics != nil {
			q.metrics.IncJobsDeadLettered()
		}
		return nil
	}
	backoff := q.policy.Delay(attempt)
	q.log.Warn().Str("job_id", jobID).Int("attempt", attempt).Dur("backoff", backoff).Msg("job failed, retrying")
	if attempt+1 >= q.policy.MaxAttempts {
		if err := q.store.Fail(ctx, id, backoff, time.Now(), false); err != nil {
			return err
		}
		if q.metrics != nil {
			q.metrics.IncJobsDeadLettered()
		}
		return nil
	}
	return q.store.Fail(ctx, id, backoff, time.Now(), false)
}

// Sleep parks a job until runAfter (Delay nodes).
func (q *Queue) Sleep(ctx context.Context, jobID string, runAfter time.Time) error {
	id, err := parseUUID(jobID)
	if err != nil {
		return err
	}
	return q.store.Sleep(ctx, id, runAfter)
}

// ReapExpiredLeases returns abandoned leases to Pending.
func (q *Queue) ReapExpiredLeases(ctx context.Context) (int, error) {
	n, err := q.store.ReapExpiredLeases(ctx, time.Now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		q.log.Info().Int("count", n).Msg("reaped expired leases")
		if q.metrics != nil {
			for i := 0; i < n; i++ {
				q.metrics.IncLeasesExpired()
			}
		}
	}
	return n, nil
}

// DueSleepers returns sleeping jobs ready to wake.
func (q *Queue) DueSleepers(ctx context.Context, limit int) ([]*domain.Job, error) {
	return q.store.DueSleepers(ctx, time.Now(), limit)
}

// Wake returns a sleeping job to Pending.
func (q *Queue) Wake(ctx context.Context, jobID uuid.UUID) error {
	return q.store.Wake(ctx, jobID)
}

// CountSleeping returns the number of jobs currently parked Sleeping.
func (q *Queue) CountSleeping(ctx context.Context) (int, error) {
	return q.store.CountSleeping(ctx)
}

// CancelExecution stops all non-terminal jobs belonging to an execution.
func (q *Queue) CancelExecution(ctx context.Context, executionID string) error {
	id, err := parseUUID(executionID)
	if err != nil {
		return err
	}
	return q.store.CancelByExecution(ctx, id)
}
