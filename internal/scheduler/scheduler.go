// Package scheduler periodically wakes sleeping jobs (component G,
// SPEC_FULL.md §4.7), grounded directly on the teacher's AutoTriggerScheduler
// (internal/application/executor/trigger_manager.go): the same
// Start(ctx)/Stop()/run() ticker-loop shape, generalized from "rescan
// triggers for a cooldown that has elapsed" to "rescan jobs whose
// next-visible-at has passed".
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/nodeflow/core/internal/metrics"
	"github.com/nodeflow/core/internal/queue"
)

// Scheduler wakes Delay-node jobs whose sleep has elapsed.
type Scheduler struct {
	q        *queue.Queue
	tick     time.Duration
	batch    int
	log      zerolog.Logger
	stopCh   chan struct{}
	stopped  chan struct{}
	metrics  *metrics.Collector
}

// Option configures optional Scheduler dependencies.
type Option func(*Scheduler)

// WithMetrics wires a metrics.Collector so the scheduler reports the
// current sleeping-jobs gauge (component L) after every sweep.
func WithMetrics(m *metrics.Collector) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// New constructs a Scheduler polling every tick for up to batch due
// sleepers per sweep.
func New(q *queue.Queue, tick time.Duration, batch int, log zerolog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		q:       q,
		tick:    tick,
		batch:   batch,
		log:     log.With().Str("component", "scheduler").Logger(),
		stopCh:  make(chan struct{}),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs the sweep loop until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	go s.run(ctx)
}

// Stop blocks until the sweep loop has exited.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.stopped
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.stopped)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Scheduler) sweep(ctx context.Context) {
	jobs, err := s.q.DueSleepers(ctx, s.batch)
	if err != nil {
		s.log.Error().Err(err).Msg("due sleepers query failed")
		return
	}
	for _, j := range jobs {
		if err := s.q.Wake(ctx, j.ID); err != nil {
			s.log.Warn().Err(err).Str("job_id", j.ID.String()).Msg("wake failed")
			continue
		}
		s.log.Debug().Str("job_id", j.ID.String()).Msg("woke sleeping job")
	}
	if s.metrics != nil {
		if n, err := s.q.CountSleeping(ctx); err == nil {
			s.metrics.SetSleepingJobs(int64(n))
		}
	}
}
