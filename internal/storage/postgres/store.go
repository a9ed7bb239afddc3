// Package postgres is the production domain.Store adapter, grounded on the
// teacher's BunStore (internal/infrastructure/storage/bun_store.go): same
// uptrace/bun + pgdialect + pgdriver stack, same NewBunStore(dsn)/InitSchema
// shape, same RunInTx pattern for the handful of operations spanning more
// than one table.
package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/nodeflow/core/internal/domain"
)

// Store is the bun-backed domain.Store implementation.
type Store struct {
	db *bun.DB
}

var _ domain.Store = (*Store)(nil)

// New opens a Postgres connection via pgdriver and wraps it in bun, exactly
// the teacher's NewBunStore construction.
func New(dsn string) (*Store, error) {
	connector := pgdriver.NewConnector(pgdriver.WithDSN(dsn))
	sqldb := sql.OpenDB(connector)
	db := bun.NewDB(sqldb, pgdialect.New())
	return &Store{db: db}, nil
}

// DB exposes the underlying *bun.DB for InitSchema and health checks.
func (s *Store) DB() *bun.DB { return s.db }

// InitSchema creates every table this engine needs if absent, the same
// NewCreateTable().Model(...).IfNotExists() idiom the teacher uses.
func (s *Store) InitSchema(ctx context.Context) error {
	models := []any{
		(*WorkflowModel)(nil),
		(*ExecutionModel)(nil),
		(*StepModel)(nil),
		(*JobModel)(nil),
		(*ApprovalModel)(nil),
		(*EmailModel)(nil),
	}
	for _, m := range models {
		if _, err := s.db.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return err
		}
	}
	indices := []string{
		`CREATE INDEX IF NOT EXISTS idx_jobs_status_run_after ON jobs (status, run_after)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_execution_id ON jobs (execution_id)`,
		`CREATE INDEX IF NOT EXISTS idx_steps_execution_id ON steps (execution_id)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_workflow_id ON executions (workflow_id)`,
	}
	for _, idx := range indices {
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			return err
		}
	}
	return nil
}

// --- WorkflowStore ---

func (s *Store) SaveWorkflow(ctx context.Context, w *domain.Workflow) error {
	m, err := newWorkflowModel(w)
	if err != nil {
		return err
	}
	_, err = s.db.NewInsert().Model(m).
		On("CONFLICT (id) DO UPDATE").
		Set("name = EXCLUDED.name, description = EXCLUDED.description, spec = EXCLUDED.spec, start_node_id = EXCLUDED.start_node_id").
		Exec(ctx)
	return err
}

func (s *Store) GetWorkflow(ctx context.Context, id uuid.UUID) (*domain.Workflow, error) {
	m := new(WorkflowModel)
	if err := s.db.NewSelect().Model(m).Where("id = ?", id).Scan(ctx); err != nil {
		if err == sql.ErrNoRows {
			return nil, &domain.NotFoundError{Kind: "workflow", ID: id.String()}
		}
		return nil, err
	}
	return m.toDomain()
}

// --- ExecutionStore ---

func (s *Store) CreateExecution(ctx context.Context, e *domain.Execution) error {
	m, err := newExecutionModel(e)
	if err != nil {
		return err
	}
	_, err = s.db.NewInsert().Model(m).Exec(ctx)
	return err
}

func (s *Store) GetExecution(ctx context.Context, id uuid.UUID) (*domain.Execution, error) {
	m := new(ExecutionModel)
	if err := s.db.NewSelect().Model(m).Where("id = ?", id).Scan(ctx); err != nil {
		if err == sql.ErrNoRows {
			return nil, &domain.NotFoundError{Kind: "execution", ID: id.String()}
		}
		return nil, err
	}
	return m.toDomain()
}

func (s *Store) UpdateExecution(ctx context.Context, e *domain.Execution) error {
	e.UpdatedAt = time.Now()
	m, err := newExecutionModel(e)
	if err != nil {
		return err
	}
	_, err = s.db.NewUpdate().Model(m).WherePK().Exec(ctx)
	return err
}

func (s *Store) ListActiveByWorkflow(ctx context.Context, workflowID uuid.UUID) ([]*domain.Execution, error) {
	var models []ExecutionModel
	err := s.db.NewSelect().Model(&models).
		Where("workflow_id = ?", workflowID).
		Where("status NOT IN (?)", bun.In([]string{string(domain.ExecutionSucceeded), string(domain.ExecutionFailed), string(domain.ExecutionCancelled)})).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Execution, 0, len(models))
	for i := range models {
		d, err := models[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// --- StepStore ---

func (s *Store) CreateStep(ctx context.Context, st *domain.Step) error {
	m, err := newStepModel(st)
	if err != nil {
		return err
	}
	_, err = s.db.NewInsert().Model(m).Exec(ctx)
	return err
}

func (s *Store) GetStep(ctx context.Context, id uuid.UUID) (*domain.Step, error) {
	m := new(StepModel)
	if err := s.db.NewSelect().Model(m).Where("id = ?", id).Scan(ctx); err != nil {
		if err == sql.ErrNoRows {
			return nil, &domain.NotFoundError{Kind: "step", ID: id.String()}
		}
		return nil, err
	}
	return m.toDomain()
}

func (s *Store) UpdateStep(ctx context.Context, st *domain.Step) error {
	st.UpdatedAt = time.Now()
	m, err := newStepModel(st)
	if err != nil {
		return err
	}
	_, err = s.db.NewUpdate().Model(m).WherePK().Exec(ctx)
	return err
}

func (s *Store) StepsByExecution(ctx context.Context, executionID uuid.UUID) ([]*domain.Step, error) {
	var models []StepModel
	if err := s.db.NewSelect().Model(&models).Where("execution_id = ?", executionID).Order("created_at ASC").Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]*domain.Step, 0, len(models))
	for i := range models {
		d, err := models[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *Store) NonTerminalStepByNode(ctx context.Context, executionID, nodeID uuid.UUID) (*domain.Step, error) {
	m := new(StepModel)
	err := s.db.NewSelect().Model(m).
		Where("execution_id = ?", executionID).
		Where("node_id = ?", nodeID).
		Where("status NOT IN (?)", bun.In([]string{string(domain.StepSucceeded), string(domain.StepFailed), string(domain.StepSkipped)})).
		Limit(1).Scan(ctx)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m.toDomain()
}

// --- JobQueue ---

func (s *Store) Enqueue(ctx context.Context, j *domain.Job) error {
	_, err := s.db.NewInsert().Model(newJobModel(j)).Exec(ctx)
	return err
}

// Lease claims up to n pending jobs via a single UPDATE ... RETURNING
// ordered by priority DESC, created_at ASC — the set-based equivalent of
// the teacher's per-row conditional UPDATE optimistic-concurrency pattern.
func (s *Store) Lease(ctx context.Context, holder string, n int, visibility time.Duration, now time.Time) ([]*domain.Job, error) {
	due := s.db.NewSelect().Model((*JobModel)(nil)).Column("id").
		Where("status = ?", string(domain.JobPending)).
		Where("run_after <= ?", now).
		OrderExpr("priority DESC, created_at ASC").
		Limit(n).
		For("UPDATE SKIP LOCKED")
	expires := now.Add(visibility)
	var models []JobModel
	err := s.db.NewUpdate().Model((*JobModel)(nil)).
		Set("status = ?", string(domain.JobLeased)).
		Set("lease_holder = ?", holder).
		Set("lease_expires_at = ?", expires).
		Set("attempt = attempt + 1").
		Set("updated_at = ?", now).
		Where("id IN (?)", due).
		Returning("*").
		Scan(ctx, &models)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Job, 0, len(models))
	for i := range models {
		out = append(out, models[i].toDomain())
	}
	return out, nil
}

func (s *Store) ExtendLease(ctx context.Context, jobID uuid.UUID, holder string, visibility time.Duration, now time.Time) error {
	expires := now.Add(visibility)
	res, err := s.db.NewUpdate().Model((*JobModel)(nil)).
		Set("lease_expires_at = ?", expires).
		Where("id = ?", jobID).
		Where("status = ?", string(domain.JobLeased)).
		Where("lease_holder = ?", holder).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffected(res, "job", jobID.String())
}

func (s *Store) Complete(ctx context.Context, jobID uuid.UUID) error {
	_, err := s.db.NewUpdate().Model((*JobModel)(nil)).
		Set("status = ?", string(domain.JobCompleted)).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", jobID).
		Exec(ctx)
	return err
}

// Fail applies the retry-or-dead-letter decision inside a transaction,
// following the teacher's RunInTx pattern for multi-statement operations.
func (s *Store) Fail(ctx context.Context, jobID uuid.UUID, backoff time.Duration, now time.Time, forceDeadLetter bool) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		m := new(JobModel)
		if err := tx.NewSelect().Model(m).Where("id = ?", jobID).For("UPDATE").Scan(ctx); err != nil {
			return err
		}
		if forceDeadLetter || m.Attempt >= m.MaxAttempts {
			_, err := tx.NewUpdate().Model(m).
				Set("status = ?", string(domain.JobDeadLetter)).
				Set("updated_at = ?", now).
				Where("id = ?", jobID).Exec(ctx)
			return err
		}
		_, err := tx.NewUpdate().Model(m).
			Set("status = ?", string(domain.JobPending)).
			Set("run_after = ?", now.Add(backoff)).
			Set("lease_holder = ''").
			Set("lease_expires_at = NULL").
			Set("updated_at = ?", now).
			Where("id = ?", jobID).Exec(ctx)
		return err
	})
}

func (s *Store) Sleep(ctx context.Context, jobID uuid.UUID, runAfter time.Time) error {
	_, err := s.db.NewUpdate().Model((*JobModel)(nil)).
		Set("status = ?", string(domain.JobSleeping)).
		Set("run_after = ?", runAfter).
		Set("lease_holder = ''").
		Set("lease_expires_at = NULL").
		Set("updated_at = ?", time.Now()).
		Where("id = ?", jobID).
		Exec(ctx)
	return err
}

func (s *Store) ReapExpiredLeases(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.NewUpdate().Model((*JobModel)(nil)).
		Set("status = ?", string(domain.JobPending)).
		Set("lease_holder = ''").
		Set("lease_expires_at = NULL").
		Set("updated_at = ?", now).
		Where("status = ?", string(domain.JobLeased)).
		Where("lease_expires_at < ?", now).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *Store) DueSleepers(ctx context.Context, now time.Time, limit int) ([]*domain.Job, error) {
	var models []JobModel
	q := s.db.NewSelect().Model(&models).
		Where("status = ?", string(domain.JobSleeping)).
		Where("run_after <= ?", now).
		OrderExpr("run_after ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]*domain.Job, 0, len(models))
	for i := range models {
		out = append(out, models[i].toDomain())
	}
	return out, nil
}

func (s *Store) CountSleeping(ctx context.Context) (int, error) {
	n, err := s.db.NewSelect().Model((*JobModel)(nil)).
		Where("status = ?", string(domain.JobSleeping)).
		Count(ctx)
	return n, err
}

func (s *Store) Wake(ctx context.Context, jobID uuid.UUID) error {
	_, err := s.db.NewUpdate().Model((*JobModel)(nil)).
		Set("status = ?", string(domain.JobPending)).
		Set("run_after = ?", time.Now()).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", jobID).
		Where("status = ?", string(domain.JobSleeping)).
		Exec(ctx)
	return err
}

func (s *Store) CancelByExecution(ctx context.Context, executionID uuid.UUID) error {
	_, err := s.db.NewUpdate().Model((*JobModel)(nil)).
		Set("status = ?", string(domain.JobDeadLetter)).
		Set("updated_at = ?", time.Now()).
		Where("execution_id = ?", executionID).
		Where("status NOT IN (?)", bun.In([]string{string(domain.JobCompleted), string(domain.JobDeadLetter)})).
		Exec(ctx)
	return err
}

// --- ApprovalStore ---

func (s *Store) CreateApproval(ctx context.Context, a *domain.Approval) error {
	_, err := s.db.NewInsert().Model(newApprovalModel(a)).Exec(ctx)
	return err
}

func (s *Store) GetApproval(ctx context.Context, token string) (*domain.Approval, error) {
	m := new(ApprovalModel)
	if err := s.db.NewSelect().Model(m).Where("token = ?", token).Scan(ctx); err != nil {
		if err == sql.ErrNoRows {
			return nil, &domain.NotFoundError{Kind: "approval", ID: token}
		}
		return nil, err
	}
	return m.toDomain(), nil
}

func (s *Store) ResolveApproval(ctx context.Context, token string, approved bool) error {
	res, err := s.db.NewUpdate().Model((*ApprovalModel)(nil)).
		Set("resolved_at = ?", time.Now()).
		Set("approved = ?", approved).
		Where("token = ?", token).
		Where("resolved_at IS NULL").
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffected(res, "approval", token)
}

// --- EmailOutbox ---

func (s *Store) QueueEmail(ctx context.Context, e *domain.OutboundEmail) error {
	_, err := s.db.NewInsert().Model(newEmailModel(e)).Exec(ctx)
	return err
}

func (s *Store) MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time) error {
	_, err := s.db.NewUpdate().Model((*EmailModel)(nil)).
		Set("sent_at = ?", sentAt).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

func requireAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &domain.NotFoundError{Kind: kind, ID: id}
	}
	return nil
}
