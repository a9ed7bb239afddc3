package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodeflow/core/internal/domain"
	"github.com/nodeflow/core/internal/queue"
	"github.com/nodeflow/core/internal/storage/memory"
)

func TestRetryPolicy_DelayGrowsWithAttemptAndCaps(t *testing.T) {
	p := queue.RetryPolicy{
		MaxAttempts:  10,
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		JitterFrac:   0.1,
	}

	d1 := p.Delay(1)
	assert.GreaterOrEqual(t, d1, time.Second)
	assert.LessOrEqual(t, d1, time.Second+time.Second/10)

	d3 := p.Delay(3)
	assert.GreaterOrEqual(t, d3, 4*time.Second)

	dBig := p.Delay(20)
	assert.LessOrEqual(t, dBig, p.MaxDelay+p.MaxDelay/10)
}

func TestRetryPolicy_DelayTreatsSubOneAttemptAsFirst(t *testing.T) {
	p := queue.RetryPolicy{MaxAttempts: 5, InitialDelay: time.Second, MaxDelay: time.Minute, Multiplier: 2, JitterFrac: 0}
	assert.Equal(t, p.Delay(1), p.Delay(0), "attempt 0 and attempt 1 must compute the same base delay")
}

func newTestQueue(t *testing.T, policy queue.RetryPolicy) (*queue.Queue, *memory.Store) {
	t.Helper()
	store := memory.New()
	return queue.New(store, policy, zerolog.Nop()), store
}

func enqueueJob(t *testing.T, ctx context.Context, q *queue.Queue, maxAttempts int) *domain.Job {
	t.Helper()
	j := domain.NewJob(uuid.New(), uuid.New(), uuid.New(), maxAttempts)
	require.NoError(t, q.Enqueue(ctx, j))
	return j
}

func TestQueue_LeaseClaimsPendingJobAndIncrementsAttempt(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, queue.DefaultRetryPolicy())
	enqueueJob(t, ctx, q, 5)

	leased, err := q.Lease(ctx, "worker-1", 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, leased, 1)
	assert.Equal(t, domain.JobLeased, leased[0].Status)
	assert.Equal(t, 1, leased[0].Attempt)
	assert.Equal(t, "worker-1", leased[0].LeaseHolder)

	again, err := q.Lease(ctx, "worker-2", 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, again, "a leased job must not be handed to a second worker until its lease expires")
}

func TestQueue_CompleteRemovesJobFromPendingPool(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, queue.DefaultRetryPolicy())
	enqueueJob(t, ctx, q, 5)

	leased, err := q.Lease(ctx, "worker-1", 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, leased, 1)

	require.NoError(t, q.Complete(ctx, leased[0].ID.String()))

	none, err := q.Lease(ctx, "worker-1", 10, time.Second)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestQueue_FailRetryableReturnsJobForRedelivery(t *testing.T) {
	ctx := context.Background()
	policy := queue.RetryPolicy{MaxAttempts: 5, InitialDelay: time.Nanosecond, MaxDelay: time.Second, Multiplier: 2, JitterFrac: 0}
	q, _ := newTestQueue(t, policy)
	enqueueJob(t, ctx, q, 5)

	leased, err := q.Lease(ctx, "worker-1", 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, leased, 1)

	require.NoError(t, q.Fail(ctx, leased[0].ID.String(), leased[0].Attempt, true))

	redelivered, err := q.Lease(ctx, "worker-2", 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, redelivered, 1, "a retryable failure with attempts remaining must become redeliverable")
	assert.Equal(t, 2, redelivered[0].Attempt)
}

func TestQueue_FailNonRetryableDeadLettersImmediately(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, queue.DefaultRetryPolicy())
	enqueueJob(t, ctx, q, 5)

	leased, err := q.Lease(ctx, "worker-1", 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, leased, 1)

	require.NoError(t, q.Fail(ctx, leased[0].ID.String(), leased[0].Attempt, false))

	none, err := q.Lease(ctx, "worker-2", 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, none, "a non-retryable failure must dead-letter, never come back for redelivery")
}

func TestQueue_FailDeadLettersOnceAttemptsExhausted(t *testing.T) {
	ctx := context.Background()
	policy := queue.RetryPolicy{MaxAttempts: 1, InitialDelay: time.Nanosecond, MaxDelay: time.Second, Multiplier: 2, JitterFrac: 0}
	q, _ := newTestQueue(t, policy)
	enqueueJob(t, ctx, q, 1)

	leased, err := q.Lease(ctx, "worker-1", 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, leased, 1)

	require.NoError(t, q.Fail(ctx, leased[0].ID.String(), leased[0].Attempt-1, true))

	none, err := q.Lease(ctx, "worker-2", 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, none, "once attempts are exhausted a retryable failure must still dead-letter")
}

func TestQueue_ReapExpiredLeasesReturnsJobToPending(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, queue.DefaultRetryPolicy())
	enqueueJob(t, ctx, q, 5)

	_, err := q.Lease(ctx, "worker-1", 10, time.Millisecond)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	n, err := q.ReapExpiredLeases(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	leased, err := q.Lease(ctx, "worker-2", 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, leased, 1, "a reaped lease must be redeliverable again")
}

func TestQueue_CountSleepingReflectsSleptJobs(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, queue.DefaultRetryPolicy())
	j := enqueueJob(t, ctx, q, 5)

	n, err := q.CountSleeping(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, q.Sleep(ctx, j.ID.String(), time.Now().Add(time.Hour)))

	n, err = q.CountSleeping(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestQueue_DueSleepersOnlyReturnsPastDueJobs(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, queue.DefaultRetryPolicy())
	past := enqueueJob(t, ctx, q, 5)
	future := enqueueJob(t, ctx, q, 5)

	require.NoError(t, q.Sleep(ctx, past.ID.String(), time.Now().Add(-time.Minute)))
	require.NoError(t, q.Sleep(ctx, future.ID.String(), time.Now().Add(time.Hour)))

	due, err := q.DueSleepers(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, past.ID, due[0].ID)
}

func TestQueue_WakeReturnsSleepingJobToPending(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, queue.DefaultRetryPolicy())
	j := enqueueJob(t, ctx, q, 5)
	require.NoError(t, q.Sleep(ctx, j.ID.String(), time.Now().Add(time.Hour)))

	require.NoError(t, q.Wake(ctx, j.ID))

	leased, err := q.Lease(ctx, "worker-1", 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, leased, 1)
}

func TestQueue_CancelExecutionRemovesItsJobsFromLeasingPool(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	q := queue.New(store, queue.DefaultRetryPolicy(), zerolog.Nop())

	executionID := uuid.New()
	j := domain.NewJob(executionID, uuid.New(), uuid.New(), 5)
	require.NoError(t, q.Enqueue(ctx, j))

	require.NoError(t, q.CancelExecution(ctx, executionID.String()))

	leased, err := q.Lease(ctx, "worker-1", 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, leased)
}
