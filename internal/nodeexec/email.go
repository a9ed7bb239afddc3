package nodeexec

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/nodeflow/core/internal/domain"
	"github.com/nodeflow/core/internal/domain/errs"
	"github.com/nodeflow/core/internal/router"
)

// emailRateLimitCeiling bounds the total time an Email node will keep
// deferring for a throttled outbox before giving up, per spec.md §4.3's
// "up to a configured wait ceiling".
const emailRateLimitCeiling = 60 * time.Second

// EmailExecutor queues an outbound email rather than sending it inline —
// real SMTP wire details are a non-goal (spec.md §1), so this executor's
// contract ends at the EmailOutbox port.
type EmailExecutor struct {
	Outbox domain.EmailOutbox
}

func (EmailExecutor) Kind() domain.NodeKind { return domain.NodeKindEmail }

func (e EmailExecutor) Execute(ctx context.Context, ec ExecContext, config map[string]any, input domain.Event) (Outcome, error) {
	rawTo, _ := config["to"].([]any)
	to := make([]string, 0, len(rawTo))
	for _, v := range rawTo {
		s, _ := v.(string)
		resolved, err := router.ResolveString(s, input, ec.ExecutionID, ec.NodeID)
		if err != nil {
			return Outcome{}, err
		}
		to = append(to, resolved)
	}
	if len(to) == 0 {
		return Outcome{}, errs.New(domain.ErrTemplateUnresolved, ec.ExecutionID, ec.NodeID, "email node missing \"to\" recipients", nil)
	}
	subject, _ := config["subject"].(string)
	subject, err := router.ResolveString(subject, input, ec.ExecutionID, ec.NodeID)
	if err != nil {
		return Outcome{}, err
	}
	body, _ := config["body"].(string)
	body, err = router.ResolveString(body, input, ec.ExecutionID, ec.NodeID)
	if err != nil {
		return Outcome{}, err
	}

	executionID, _ := uuid.Parse(ec.ExecutionID)
	stepID, _ := uuid.Parse(ec.StepID)
	out := &domain.OutboundEmail{
		ID:          uuid.New(),
		ExecutionID: executionID,
		StepID:      stepID,
		To:          to,
		Subject:     subject,
		Body:        body,
	}
	if err := e.Outbox.QueueEmail(ctx, out); err != nil {
		var rl *domain.RateLimitedError
		if errors.As(err, &rl) {
			return e.handleRateLimit(ec, input, rl)
		}
		return Outcome{}, err
	}
	if resumed, _ := input.Metadata["_email_backoff_seconds"].(float64); resumed > 0 {
		cleared := input.Clone()
		delete(cleared.Metadata, "_email_backoff_seconds")
		return Outcome{Event: cleared, Branch: domain.BranchNone}, nil
	}
	return Outcome{Event: input, Branch: domain.BranchNone}, nil
}

// handleRateLimit implements spec.md §4.3's "Rate-limit rejection ->
// Defer(now + backoff) up to a configured wait ceiling; then
// Fail(RateLimited, …, retryable=false)". The accumulated wait is carried
// in event metadata across deferrals since the queue reuses the same job.
func (e EmailExecutor) handleRateLimit(ec ExecContext, input domain.Event, rl *domain.RateLimitedError) (Outcome, error) {
	backoff := rl.RetryAfter
	if backoff <= 0 {
		backoff = time.Second
	}
	waited, _ := input.Metadata["_email_backoff_seconds"].(float64)
	total := time.Duration(waited*float64(time.Second)) + backoff
	if total > emailRateLimitCeiling {
		return Outcome{}, errs.New(domain.ErrRateLimited, ec.ExecutionID, ec.NodeID, "email outbox rate limit ceiling exceeded", rl)
	}
	deferred := input.Clone()
	deferred.Metadata["_email_backoff_seconds"] = total.Seconds()
	resumeAt := time.Now().Add(backoff)
	return Outcome{Event: deferred, Waiting: true, ResumeAt: &resumeAt}, nil
}
