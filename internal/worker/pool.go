// Package worker runs the bounded goroutine pool that drains the job queue
// (component F, SPEC_FULL.md §4.6), grounded on the teacher's semaphore-
// bounded goroutine/WaitGroup wave executor (internal/application/
// executor/engine.go: executeWave) but restructured around a polling loop
// instead of static waves, since jobs here arrive durably over time rather
// than being known up front at plan time.
package worker

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nodeflow/core/internal/domain"
	"github.com/nodeflow/core/internal/domain/errs"
	"github.com/nodeflow/core/internal/metrics"
	"github.com/nodeflow/core/internal/nodeexec"
	"github.com/nodeflow/core/internal/queue"
	"github.com/nodeflow/core/internal/router"
)

// StatusPublisher is the subset of api.Notifier the pool needs to push
// execution status changes to the websocket feed (component K). Declared
// here, structurally, so this package does not import internal/api.
type StatusPublisher interface {
	PublishStatus(executionID, stepID, status string)
}

// Config bounds the pool's size and timing, surfaced via internal/config.
type Config struct {
	Workers       int
	Visibility    time.Duration
	PollInterval  time.Duration
	PollBackoffMax time.Duration
	WatchdogSlack time.Duration
}

// indefiniteWake parks an Approval job in the Sleeping set without a
// natural wake time — the scheduler's periodic sweep will not reach it in
// practice; the approval resume endpoint completes the job directly instead
// of waking it.
func indefiniteWake() time.Time { return time.Now().AddDate(100, 0, 0) }

// DefaultConfig returns the pool defaults: min(NumCPU, 16) workers, a 30s
// visibility window, 100ms polling backing off to 1s, and 5s watchdog slack.
func DefaultConfig() Config {
	n := runtime.NumCPU()
	if n > 16 {
		n = 16
	}
	return Config{
		Workers:        n,
		Visibility:      30 * time.Second,
		PollInterval:    100 * time.Millisecond,
		PollBackoffMax:  1 * time.Second,
		WatchdogSlack:   5 * time.Second,
	}
}

// Pool drains jobs from the queue and dispatches them to node executors.
type Pool struct {
	cfg      Config
	store    domain.Store
	q        *queue.Queue
	registry *nodeexec.Registry
	log      zerolog.Logger
	dispatcher *router.Dispatcher
	wfMu     sync.RWMutex
	workflows map[uuid.UUID]*domain.Workflow
	metrics  *metrics.Collector
	notify   StatusPublisher
	active   atomic.Int64
}

// Option configures optional Pool dependencies, in the teacher's
// NewXxxWithMetrics functional-option idiom.
type Option func(*Pool)

// WithMetrics wires a metrics.Collector so the pool reports its active
// worker count (component L, SPEC_FULL.md §9).
func WithMetrics(m *metrics.Collector) Option {
	return func(p *Pool) { p.metrics = m }
}

// WithNotifier wires a status publisher so step transitions push onto the
// websocket status feed (component K) as they happen.
func WithNotifier(n StatusPublisher) Option {
	return func(p *Pool) { p.notify = n }
}

// New constructs a worker Pool. workflows is a read-through cache keyed by
// workflow id — the pool looks up the workflow once per job to resolve the
// node being executed and its graph.
func New(cfg Config, store domain.Store, q *queue.Queue, registry *nodeexec.Registry, log zerolog.Logger, opts ...Option) *Pool {
	l := log.With().Str("component", "worker").Logger()
	p := &Pool{
		cfg:        cfg,
		store:      store,
		q:          q,
		registry:   registry,
		log:        l,
		dispatcher: router.NewDispatcher(store, q, l),
		workflows:  make(map[uuid.UUID]*domain.Workflow),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pool) publish(executionID, stepID uuid.UUID, status string) {
	if p.notify == nil {
		return
	}
	p.notify.PublishStatus(executionID.String(), stepID.String(), status)
}

// Run starts cfg.Workers goroutines, each polling the queue until ctx is
// cancelled.
func (p *Pool) Run(ctx context.Context) {
	for i := 0; i < p.cfg.Workers; i++ {
		holder := uuid.NewString()
		go p.runWorker(ctx, holder)
	}
}

func (p *Pool) runWorker(ctx context.Context, holder string) {
	backoff := p.cfg.PollInterval
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		jobs, err := p.q.Lease(ctx, holder, 1, p.cfg.Visibility)
		if err != nil {
			p.log.Error().Err(err).Msg("lease failed")
			backoff = nextBackoff(backoff, p.cfg.PollBackoffMax)
			sleep(ctx, backoff)
			continue
		}
		if len(jobs) == 0 {
			backoff = nextBackoff(backoff, p.cfg.PollBackoffMax)
			sleep(ctx, backoff)
			continue
		}
		backoff = p.cfg.PollInterval

		for _, j := range jobs {
			p.runJob(ctx, holder, j)
		}
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// runJob dispatches a single leased job to its node executor, refreshing
// the lease at the halfway point of the visibility window (spec.md §5) so
// a slow node doesn't get redelivered out from under this worker.
func (p *Pool) runJob(ctx context.Context, holder string, job *domain.Job) {
	n := p.active.Add(1)
	if p.metrics != nil {
		p.metrics.SetActiveWorkers(n)
	}
	defer func() {
		n := p.active.Add(-1)
		if p.metrics != nil {
			p.metrics.SetActiveWorkers(n)
		}
	}()

	stepID := job.StepID.String()
	step, err := p.store.GetStep(ctx, job.StepID)
	if err != nil {
		p.log.Error().Err(err).Str("step_id", stepID).Msg("load step for job")
		return
	}

	wf, err := p.workflowFor(ctx, job.ExecutionID)
	if err != nil {
		p.log.Error().Err(err).Msg("load workflow for job")
		return
	}
	node, ok := wf.NodeByID(job.NodeID)
	if !ok {
		p.log.Error().Str("node_id", job.NodeID.String()).Msg("node not found in workflow")
		return
	}
	executor, ok := p.registry.Get(node.Kind)
	if !ok {
		p.log.Error().Str("kind", string(node.Kind)).Msg("no executor registered for node kind")
		return
	}

	resuming := step.Status == domain.StepRunning

	if err := step.Transition(domain.StepRunning); err != nil {
		p.log.Warn().Err(err).Msg("step transition to running rejected, skipping duplicate delivery")
		return
	}
	// Refreshed from the job's live attempt count on every activation
	// (including redelivery after a retryable failure) so failure_action
	// decisions downstream see the true attempt number rather than a
	// snapshot frozen at the first Pending->Running transition.
	step.Attempt = job.Attempt
	if err := p.store.UpdateStep(ctx, step); err != nil {
		p.log.Error().Err(err).Msg("persist step running state")
		return
	}
	p.dispatcher.MarkExecutionRunning(ctx, job.ExecutionID)

	stepCtx, cancel := context.WithTimeout(ctx, p.cfg.Visibility+p.cfg.WatchdogSlack)
	defer cancel()
	refreshDone := p.startLeaseRefresh(stepCtx, holder, job)
	defer close(refreshDone)

	input := step.Input
	if resuming && step.Output.Data != nil {
		input = step.Output
	}

	ec := nodeexec.ExecContext{ExecutionID: job.ExecutionID.String(), NodeID: job.NodeID.String(), StepID: stepID, JobID: job.ID.String(), Attempt: step.Attempt}
	resolvedConfig, err := router.ResolveValue(node.Config, input, ec.ExecutionID, ec.NodeID)
	if err != nil {
		p.failStep(ctx, job, step, err)
		return
	}
	cfgMap, _ := resolvedConfig.(map[string]any)

	outcome, err := executor.Execute(stepCtx, ec, cfgMap, input)
	if err != nil {
		p.failStep(ctx, job, step, err)
		return
	}

	switch {
	case outcome.Dropped:
		_ = step.Transition(domain.StepSkipped)
		_ = p.store.UpdateStep(ctx, step)
		_ = p.q.Complete(ctx, job.ID.String())
		p.publish(job.ExecutionID, job.StepID, string(domain.StepSkipped))
	case outcome.Waiting:
		step.Output = outcome.Event
		_ = p.store.UpdateStep(ctx, step)
		p.dispatcher.MarkExecutionWaiting(ctx, job.ExecutionID)
		wakeAt := indefiniteWake()
		if outcome.ResumeAt != nil {
			wakeAt = *outcome.ResumeAt
		}
		// Approval (ResumeAt == nil) sleeps the job far in the future so it
		// sits in the Sleeping set (observable, cancellable) rather than
		// held Leased; once the approval resolves, the resume endpoint
		// completes the job and advances its successors directly — the job
		// is never woken and the scheduler's sweep is not involved.
		_ = p.q.Sleep(ctx, job.ID.String(), wakeAt)
		p.publish(job.ExecutionID, job.StepID, "waiting")
	default:
		step.Output = outcome.Event
		if err := step.Transition(domain.StepSucceeded); err != nil {
			p.log.Error().Err(err).Msg("illegal step transition to succeeded")
			return
		}
		if err := p.store.UpdateStep(ctx, step); err != nil {
			p.log.Error().Err(err).Msg("persist succeeded step")
			return
		}
		if err := p.q.Complete(ctx, job.ID.String()); err != nil {
			p.log.Error().Err(err).Msg("complete job")
			return
		}
		p.publish(job.ExecutionID, job.StepID, string(domain.StepSucceeded))
		p.dispatcher.Advance(ctx, wf, job.ExecutionID, node.ID, outcome.Branch, step.Output)
	}
}

func (p *Pool) failStep(ctx context.Context, job *domain.Job, step *domain.Step, err error) {
	step.Error = err.Error()
	retryable := errs.IsRetryable(err)
	// job.Attempt already counts the attempt that just failed, so
	// ExhaustedRetries is the correct "no attempts remain" check here — a
	// job.Attempt+1 lookahead would terminally fail the step one attempt
	// early, before the node's own executor ever sees the final attempt
	// that decides between Stop and Continue.
	if !retryable || job.ExhaustedRetries() {
		_ = step.Transition(domain.StepFailed)
		_ = p.store.UpdateStep(ctx, step)
		p.failExecution(ctx, job.ExecutionID, err)
		p.publish(job.ExecutionID, job.StepID, string(domain.StepFailed))
	}
	_ = p.q.Fail(ctx, job.ID.String(), job.Attempt, retryable)
}

func (p *Pool) failExecution(ctx context.Context, executionID uuid.UUID, cause error) {
	exec, err := p.store.GetExecution(ctx, executionID)
	if err != nil {
		return
	}
	exec.Error = cause.Error()
	if err := exec.Transition(domain.ExecutionFailed); err == nil {
		_ = p.store.UpdateExecution(ctx, exec)
	}
}

func (p *Pool) startLeaseRefresh(ctx context.Context, holder string, job *domain.Job) chan struct{} {
	done := make(chan struct{})
	interval := p.cfg.Visibility / 2
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				if err := p.q.ExtendLease(ctx, job.ID.String(), holder, p.cfg.Visibility); err != nil {
					p.log.Warn().Err(err).Msg("lease refresh failed, another worker may have reclaimed this job")
					return
				}
			}
		}
	}()
	return done
}

func (p *Pool) workflowFor(ctx context.Context, executionID uuid.UUID) (*domain.Workflow, error) {
	exec, err := p.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	p.wfMu.RLock()
	wf, ok := p.workflows[exec.WorkflowID]
	p.wfMu.RUnlock()
	if ok {
		return wf, nil
	}
	wf, err = p.store.GetWorkflow(ctx, exec.WorkflowID)
	if err != nil {
		return nil, err
	}
	p.wfMu.Lock()
	p.workflows[exec.WorkflowID] = wf
	p.wfMu.Unlock()
	return wf, nil
}
