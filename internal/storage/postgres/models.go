package postgres

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/nodeflow/core/internal/domain"
)

// WorkflowModel mirrors the teacher's WorkflowModel
// (internal/infrastructure/storage/bun_store.go): the workflow's nodes and
// edges are stored as a single jsonb blob rather than normalized tables,
// since they are only ever read or replaced as a whole (workflows are
// immutable once published, spec.md §3).
type WorkflowModel struct {
	bun.BaseModel `bun:"table:workflows,alias:w"`

	ID          uuid.UUID `bun:"id,pk,type:uuid"`
	Name        string    `bun:"name,notnull"`
	Description string    `bun:"description"`
	StartNodeID uuid.UUID `bun:"start_node_id,type:uuid"`
	Spec        []byte    `bun:"spec,type:jsonb"`
	CreatedAt   time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

type workflowSpec struct {
	Nodes []domain.Node `json:"nodes"`
	Edges []domain.Edge `json:"edges"`
}

func newWorkflowModel(w *domain.Workflow) (*WorkflowModel, error) {
	spec, err := json.Marshal(workflowSpec{Nodes: w.Nodes, Edges: w.Edges})
	if err != nil {
		return nil, err
	}
	return &WorkflowModel{
		ID:          w.ID,
		Name:        w.Name,
		Description: w.Description,
		StartNodeID: w.StartNodeID,
		Spec:        spec,
	}, nil
}

func (m *WorkflowModel) toDomain() (*domain.Workflow, error) {
	var spec workflowSpec
	if err := json.Unmarshal(m.Spec, &spec); err != nil {
		return nil, err
	}
	return &domain.Workflow{
		ID:          m.ID,
		Name:        m.Name,
		Description: m.Description,
		StartNodeID: m.StartNodeID,
		Nodes:       spec.Nodes,
		Edges:       spec.Edges,
	}, nil
}

// ExecutionModel mirrors domain.Execution.
type ExecutionModel struct {
	bun.BaseModel `bun:"table:executions,alias:ex"`

	ID           uuid.UUID  `bun:"id,pk,type:uuid"`
	WorkflowID   uuid.UUID  `bun:"workflow_id,type:uuid,notnull"`
	Status       string     `bun:"status,notnull"`
	TriggerEvent []byte     `bun:"trigger_event,type:jsonb"`
	Error        string     `bun:"error"`
	CreatedAt    time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt    time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
	CompletedAt  *time.Time `bun:"completed_at"`
}

func newExecutionModel(e *domain.Execution) (*ExecutionModel, error) {
	ev, err := json.Marshal(e.TriggerEvent)
	if err != nil {
		return nil, err
	}
	return &ExecutionModel{
		ID: e.ID, WorkflowID: e.WorkflowID, Status: string(e.Status),
		TriggerEvent: ev, Error: e.Error, CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt, CompletedAt: e.CompletedAt,
	}, nil
}

func (m *ExecutionModel) toDomain() (*domain.Execution, error) {
	var ev domain.Event
	if err := json.Unmarshal(m.TriggerEvent, &ev); err != nil {
		return nil, err
	}
	return &domain.Execution{
		ID: m.ID, WorkflowID: m.WorkflowID, Status: domain.ExecutionStatus(m.Status),
		TriggerEvent: ev, Error: m.Error, CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt, CompletedAt: m.CompletedAt,
	}, nil
}

// StepModel mirrors domain.Step.
type StepModel struct {
	bun.BaseModel `bun:"table:steps,alias:st"`

	ID          uuid.UUID  `bun:"id,pk,type:uuid"`
	ExecutionID uuid.UUID  `bun:"execution_id,type:uuid,notnull"`
	NodeID      uuid.UUID  `bun:"node_id,type:uuid,notnull"`
	Status      string     `bun:"status,notnull"`
	Attempt     int        `bun:"attempt,notnull"`
	Branch      string     `bun:"branch,notnull"`
	Input       []byte     `bun:"input,type:jsonb"`
	Output      []byte     `bun:"output,type:jsonb"`
	Error       string     `bun:"error"`
	CreatedAt   time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt   time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
	StartedAt   *time.Time `bun:"started_at"`
	CompletedAt *time.Time `bun:"completed_at"`
}

func newStepModel(s *domain.Step) (*StepModel, error) {
	in, err := json.Marshal(s.Input)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(s.Output)
	if err != nil {
		return nil, err
	}
	return &StepModel{
		ID: s.ID, ExecutionID: s.ExecutionID, NodeID: s.NodeID, Status: string(s.Status),
		Attempt: s.Attempt, Branch: string(s.Branch), Input: in, Output: out, Error: s.Error,
		CreatedAt: s.CreatedAt, UpdatedAt: s.UpdatedAt, StartedAt: s.StartedAt, CompletedAt: s.CompletedAt,
	}, nil
}

func (m *StepModel) toDomain() (*domain.Step, error) {
	var in, out domain.Event
	if len(m.Input) > 0 {
		if err := json.Unmarshal(m.Input, &in); err != nil {
			return nil, err
		}
	}
	if len(m.Output) > 0 {
		if err := json.Unmarshal(m.Output, &out); err != nil {
			return nil, err
		}
	}
	return &domain.Step{
		ID: m.ID, ExecutionID: m.ExecutionID, NodeID: m.NodeID, Status: domain.StepStatus(m.Status),
		Attempt: m.Attempt, Branch: domain.Branch(m.Branch), Input: in, Output: out, Error: m.Error,
		CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt, StartedAt: m.StartedAt, CompletedAt: m.CompletedAt,
	}, nil
}

// JobModel mirrors domain.Job.
type JobModel struct {
	bun.BaseModel `bun:"table:jobs,alias:j"`

	ID             uuid.UUID  `bun:"id,pk,type:uuid"`
	ExecutionID    uuid.UUID  `bun:"execution_id,type:uuid,notnull"`
	StepID         uuid.UUID  `bun:"step_id,type:uuid,notnull"`
	NodeID         uuid.UUID  `bun:"node_id,type:uuid,notnull"`
	Status         string     `bun:"status,notnull"`
	Priority       int        `bun:"priority,notnull,default:0"`
	Attempt        int        `bun:"attempt,notnull,default:0"`
	MaxAttempts    int        `bun:"max_attempts,notnull"`
	LeaseHolder    string     `bun:"lease_holder"`
	LeaseExpiresAt *time.Time `bun:"lease_expires_at"`
	RunAfter       time.Time  `bun:"run_after,notnull"`
	CreatedAt      time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt      time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
}

func newJobModel(j *domain.Job) *JobModel {
	return &JobModel{
		ID: j.ID, ExecutionID: j.ExecutionID, StepID: j.StepID, NodeID: j.NodeID,
		Status: string(j.Status), Priority: j.Priority, Attempt: j.Attempt, MaxAttempts: j.MaxAttempts,
		LeaseHolder: j.LeaseHolder, LeaseExpiresAt: j.LeaseExpiresAt, RunAfter: j.RunAfter,
		CreatedAt: j.CreatedAt, UpdatedAt: j.UpdatedAt,
	}
}

func (m *JobModel) toDomain() *domain.Job {
	return &domain.Job{
		ID: m.ID, ExecutionID: m.ExecutionID, StepID: m.StepID, NodeID: m.NodeID,
		Status: domain.JobStatus(m.Status), Priority: m.Priority, Attempt: m.Attempt, MaxAttempts: m.MaxAttempts,
		LeaseHolder: m.LeaseHolder, LeaseExpiresAt: m.LeaseExpiresAt, RunAfter: m.RunAfter,
		CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt,
	}
}

// ApprovalModel mirrors domain.Approval.
type ApprovalModel struct {
	bun.BaseModel `bun:"table:approvals,alias:ap"`

	Token       string     `bun:"token,pk"`
	ExecutionID uuid.UUID  `bun:"execution_id,type:uuid,notnull"`
	StepID      uuid.UUID  `bun:"step_id,type:uuid,notnull"`
	JobID       uuid.UUID  `bun:"job_id,type:uuid"`
	CreatedAt   time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	ResolvedAt  *time.Time `bun:"resolved_at"`
	Approved    bool       `bun:"approved,notnull,default:false"`
}

func newApprovalModel(a *domain.Approval) *ApprovalModel {
	return &ApprovalModel{
		Token: a.Token, ExecutionID: a.ExecutionID, StepID: a.StepID, JobID: a.JobID,
		CreatedAt: a.CreatedAt, ResolvedAt: a.ResolvedAt, Approved: a.Approved,
	}
}

func (m *ApprovalModel) toDomain() *domain.Approval {
	return &domain.Approval{
		Token: m.Token, ExecutionID: m.ExecutionID, StepID: m.StepID, JobID: m.JobID,
		CreatedAt: m.CreatedAt, ResolvedAt: m.ResolvedAt, Approved: m.Approved,
	}
}

// EmailModel mirrors domain.OutboundEmail. Named email_queue/email_audit in
// SPEC_FULL.md §4.1's logical layout — a single table here doubles as both,
// SentAt NULL meaning "still queued".
type EmailModel struct {
	bun.BaseModel `bun:"table:email_queue,alias:em"`

	ID          uuid.UUID  `bun:"id,pk,type:uuid"`
	ExecutionID uuid.UUID  `bun:"execution_id,type:uuid,notnull"`
	StepID      uuid.UUID  `bun:"step_id,type:uuid,notnull"`
	ToAddrs     []string   `bun:"to_addrs,array"`
	Subject     string     `bun:"subject,notnull"`
	Body        string     `bun:"body,notnull"`
	SentAt      *time.Time `bun:"sent_at"`
}

func newEmailModel(e *domain.OutboundEmail) *EmailModel {
	return &EmailModel{
		ID: e.ID, ExecutionID: e.ExecutionID, StepID: e.StepID,
		ToAddrs: e.To, Subject: e.Subject, Body: e.Body, SentAt: e.SentAt,
	}
}
