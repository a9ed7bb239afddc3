package nodeexec

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nodeflow/core/internal/domain"
)

// ApprovalExecutor creates a pending Approval record and parks the step
// indefinitely — it resumes only via the external `/v1/approvals/{token}/
// resume` endpoint (component K), not on a timer: that handler resolves the
// approval, completes the parked job and advances the step's successors
// itself; the delay/resume scheduler (component G) is not involved and the
// sleeping job is never woken. Grounded on the teacher's
// ManualTriggerExecutor shape (external event creates/advances state)
// generalized from "start a new execution" to "unblock an existing one".
type ApprovalExecutor struct {
	Approvals domain.ApprovalStore
}

func (ApprovalExecutor) Kind() domain.NodeKind { return domain.NodeKindApproval }

func (e ApprovalExecutor) Execute(ctx context.Context, ec ExecContext, _ map[string]any, input domain.Event) (Outcome, error) {
	executionID, _ := uuid.Parse(ec.ExecutionID)
	stepID, _ := uuid.Parse(ec.StepID)
	jobID, _ := uuid.Parse(ec.JobID)
	token := uuid.NewString()
	approval := &domain.Approval{
		Token:       token,
		ExecutionID: executionID,
		StepID:      stepID,
		JobID:       jobID,
		CreatedAt:   time.Now(),
	}
	if err := e.Approvals.CreateApproval(ctx, approval); err != nil {
		return Outcome{}, err
	}
	out := input.Clone()
	out.Metadata["approval_token"] = token
	return Outcome{Event: out, Waiting: true}, nil
}
