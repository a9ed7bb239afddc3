// Package memory implements domain.Store entirely in process memory,
// grounded on the teacher's NewMemoryStorage path (factory.go, since
// superseded here but the same "fast, DB-less store for tests" role) — used
// by this module's package tests and the testutil fixtures rather than any
// production deployment.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nodeflow/core/internal/domain"
)

// Store is a mutex-guarded map-backed implementation of domain.Store.
type Store struct {
	mu sync.Mutex

	workflows  map[uuid.UUID]*domain.Workflow
	executions map[uuid.UUID]*domain.Execution
	steps      map[uuid.UUID]*domain.Step
	jobs       map[uuid.UUID]*domain.Job
	approvals  map[string]*domain.Approval
	emails     map[uuid.UUID]*domain.OutboundEmail
}

var _ domain.Store = (*Store)(nil)

// New constructs an empty in-memory Store.
func New() *Store {
	return &Store{
		workflows:  make(map[uuid.UUID]*domain.Workflow),
		executions: make(map[uuid.UUID]*domain.Execution),
		steps:      make(map[uuid.UUID]*domain.Step),
		jobs:       make(map[uuid.UUID]*domain.Job),
		approvals:  make(map[string]*domain.Approval),
		emails:     make(map[uuid.UUID]*domain.OutboundEmail),
	}
}

// --- WorkflowStore ---

func (s *Store) SaveWorkflow(_ context.Context, w *domain.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *w
	s.workflows[w.ID] = &cp
	return nil
}

func (s *Store) GetWorkflow(_ context.Context, id uuid.UUID) (*domain.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workflows[id]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "workflow", ID: id.String()}
	}
	cp := *w
	return &cp, nil
}

// --- ExecutionStore ---

func (s *Store) CreateExecution(_ context.Context, e *domain.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.executions[e.ID] = &cp
	return nil
}

func (s *Store) GetExecution(_ context.Context, id uuid.UUID) (*domain.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.executions[id]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "execution", ID: id.String()}
	}
	cp := *e
	return &cp, nil
}

func (s *Store) UpdateExecution(_ context.Context, e *domain.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.executions[e.ID]; !ok {
		return &domain.NotFoundError{Kind: "execution", ID: e.ID.String()}
	}
	e.UpdatedAt = time.Now()
	cp := *e
	s.executions[e.ID] = &cp
	return nil
}

func (s *Store) ListActiveByWorkflow(_ context.Context, workflowID uuid.UUID) ([]*domain.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Execution
	for _, e := range s.executions {
		if e.WorkflowID == workflowID && !e.Status.Terminal() {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

// --- StepStore ---

func (s *Store) CreateStep(_ context.Context, st *domain.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *st
	s.steps[st.ID] = &cp
	return nil
}

func (s *Store) GetStep(_ context.Context, id uuid.UUID) (*domain.Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.steps[id]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "step", ID: id.String()}
	}
	cp := *st
	return &cp, nil
}

func (s *Store) UpdateStep(_ context.Context, st *domain.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.steps[st.ID]; !ok {
		return &domain.NotFoundError{Kind: "step", ID: st.ID.String()}
	}
	st.UpdatedAt = time.Now()
	cp := *st
	s.steps[st.ID] = &cp
	return nil
}

func (s *Store) StepsByExecution(_ context.Context, executionID uuid.UUID) ([]*domain.Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Step
	for _, st := range s.steps {
		if st.ExecutionID == executionID {
			cp := *st
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) NonTerminalStepByNode(_ context.Context, executionID, nodeID uuid.UUID) (*domain.Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.steps {
		if st.ExecutionID == executionID && st.NodeID == nodeID && !st.Status.Terminal() {
			cp := *st
			return &cp, nil
		}
	}
	return nil, nil
}

// --- JobQueue ---

func (s *Store) Enqueue(_ context.Context, j *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *j
	s.jobs[j.ID] = &cp
	return nil
}

func (s *Store) Lease(_ context.Context, holder string, n int, visibility time.Duration, now time.Time) ([]*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []*domain.Job
	for _, j := range s.jobs {
		if j.Status == domain.JobPending && !j.RunAfter.After(now) {
			candidates = append(candidates, j)
		}
	}
	sort.Slice(candidates, func(i, k int) bool {
		if candidates[i].Priority != candidates[k].Priority {
			return candidates[i].Priority > candidates[k].Priority
		}
		return candidates[i].CreatedAt.Before(candidates[k].CreatedAt)
	})

	var leased []*domain.Job
	for _, j := range candidates {
		if len(leased) >= n {
			break
		}
		expires := now.Add(visibility)
		j.Status = domain.JobLeased
		j.LeaseHolder = holder
		j.LeaseExpiresAt = &expires
		j.Attempt++
		j.UpdatedAt = now
		cp := *j
		leased = append(leased, &cp)
	}
	return leased, nil
}

func (s *Store) ExtendLease(_ context.Context, jobID uuid.UUID, holder string, visibility time.Duration, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return &domain.NotFoundError{Kind: "job", ID: jobID.String()}
	}
	if j.Status != domain.JobLeased || j.LeaseHolder != holder {
		return &domain.InvalidTransitionError{Entity: "job_lease", From: string(j.Status), To: "extend"}
	}
	expires := now.Add(visibility)
	j.LeaseExpiresAt = &expires
	return nil
}

func (s *Store) Complete(_ context.Context, jobID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return &domain.NotFoundError{Kind: "job", ID: jobID.String()}
	}
	j.Status = domain.JobCompleted
	j.UpdatedAt = time.Now()
	return nil
}

func (s *Store) Fail(_ context.Context, jobID uuid.UUID, backoff time.Duration, now time.Time, forceDeadLetter bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return &domain.NotFoundError{Kind: "job", ID: jobID.String()}
	}
	if forceDeadLetter || j.ExhaustedRetries() {
		j.Status = domain.JobDeadLetter
		j.UpdatedAt = now
		return nil
	}
	j.Status = domain.JobPending
	j.RunAfter = now.Add(backoff)
	j.LeaseHolder = ""
	j.LeaseExpiresAt = nil
	j.UpdatedAt = now
	return nil
}

func (s *Store) Sleep(_ context.Context, jobID uuid.UUID, runAfter time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return &domain.NotFoundError{Kind: "job", ID: jobID.String()}
	}
	j.Status = domain.JobSleeping
	j.RunAfter = runAfter
	j.LeaseHolder = ""
	j.LeaseExpiresAt = nil
	j.UpdatedAt = time.Now()
	return nil
}

func (s *Store) ReapExpiredLeases(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, j := range s.jobs {
		if j.Status == domain.JobLeased && j.LeaseExpiresAt != nil && now.After(*j.LeaseExpiresAt) {
			j.Status = domain.JobPending
			j.LeaseHolder = ""
			j.LeaseExpiresAt = nil
			j.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (s *Store) DueSleepers(_ context.Context, now time.Time, limit int) ([]*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Job
	for _, j := range s.jobs {
		if j.Status == domain.JobSleeping && !j.RunAfter.After(now) {
			cp := *j
			out = append(out, &cp)
			if len(out) >= limit && limit > 0 {
				break
			}
		}
	}
	return out, nil
}

func (s *Store) CountSleeping(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, j := range s.jobs {
		if j.Status == domain.JobSleeping {
			n++
		}
	}
	return n, nil
}

func (s *Store) Wake(_ context.Context, jobID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return &domain.NotFoundError{Kind: "job", ID: jobID.String()}
	}
	j.Status = domain.JobPending
	j.RunAfter = time.Now()
	j.UpdatedAt = time.Now()
	return nil
}

func (s *Store) CancelByExecution(_ context.Context, executionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.ExecutionID == executionID && j.Status != domain.JobCompleted && j.Status != domain.JobDeadLetter {
			j.Status = domain.JobDeadLetter
			j.UpdatedAt = time.Now()
		}
	}
	return nil
}

// --- ApprovalStore ---

func (s *Store) CreateApproval(_ context.Context, a *domain.Approval) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.approvals[a.Token] = &cp
	return nil
}

func (s *Store) GetApproval(_ context.Context, token string) (*domain.Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.approvals[token]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "approval", ID: token}
	}
	cp := *a
	return &cp, nil
}

func (s *Store) ResolveApproval(_ context.Context, token string, approved bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.approvals[token]
	if !ok {
		return &domain.NotFoundError{Kind: "approval", ID: token}
	}
	now := time.Now()
	a.ResolvedAt = &now
	a.Approved = approved
	return nil
}

// --- EmailOutbox ---

func (s *Store) QueueEmail(_ context.Context, e *domain.OutboundEmail) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.emails[e.ID] = &cp
	return nil
}

func (s *Store) MarkSent(_ context.Context, id uuid.UUID, sentAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.emails[id]
	if !ok {
		return &domain.NotFoundError{Kind: "email", ID: id.String()}
	}
	e.SentAt = &sentAt
	return nil
}
