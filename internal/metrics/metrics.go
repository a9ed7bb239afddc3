// Package metrics tracks lightweight in-process counters for the queue and
// worker pool (component L, SPEC_FULL.md §9), grounded on the teacher's
// MetricsCollector shape (internal/infrastructure/monitoring/metrics.go),
// generalized from AI-request metrics to queue/worker metrics.
package metrics

import "sync/atomic"

// Collector holds atomically-updated counters, read via Snapshot.
type Collector struct {
	jobsLeased      atomic.Int64
	jobsCompleted   atomic.Int64
	jobsFailed      atomic.Int64
	jobsDeadLettered atomic.Int64
	leasesExpired   atomic.Int64
	activeWorkers   atomic.Int64
	sleepingJobs    atomic.Int64
}

// New constructs an empty Collector.
func New() *Collector { return &Collector{} }

func (c *Collector) IncJobsLeased()       { c.jobsLeased.Add(1) }
func (c *Collector) IncJobsCompleted()    { c.jobsCompleted.Add(1) }
func (c *Collector) IncJobsFailed()       { c.jobsFailed.Add(1) }
func (c *Collector) IncJobsDeadLettered() { c.jobsDeadLettered.Add(1) }
func (c *Collector) IncLeasesExpired()    { c.leasesExpired.Add(1) }
func (c *Collector) SetActiveWorkers(n int64) { c.activeWorkers.Store(n) }
func (c *Collector) SetSleepingJobs(n int64)  { c.sleepingJobs.Store(n) }

// Snapshot is a point-in-time read of every counter, for the status API
// and for operator inspection.
type Snapshot struct {
	JobsLeased       int64 `json:"jobs_leased"`
	JobsCompleted    int64 `json:"jobs_completed"`
	JobsFailed       int64 `json:"jobs_failed"`
	JobsDeadLettered int64 `json:"jobs_dead_lettered"`
	LeasesExpired    int64 `json:"leases_expired"`
	ActiveWorkers    int64 `json:"active_workers"`
	SleepingJobs     int64 `json:"sleeping_jobs"`
}

// Snapshot returns the current value of every counter.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		JobsLeased:       c.jobsLeased.Load(),
		JobsCompleted:    c.jobsCompleted.Load(),
		JobsFailed:       c.jobsFailed.Load(),
		JobsDeadLettered: c.jobsDeadLettered.Load(),
		LeasesExpired:    c.leasesExpired.Load(),
		ActiveWorkers:    c.activeWorkers.Load(),
		SleepingJobs:     c.sleepingJobs.Load(),
	}
}
