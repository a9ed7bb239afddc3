package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodeflow/core/internal/api"
	"github.com/nodeflow/core/internal/domain"
	"github.com/nodeflow/core/internal/intake"
	"github.com/nodeflow/core/internal/metrics"
	"github.com/nodeflow/core/internal/queue"
	"github.com/nodeflow/core/internal/storage/memory"
	"github.com/nodeflow/core/testutil"
)

func newTestServer(t *testing.T) (*api.Server, *memory.Store, *queue.Queue) {
	t.Helper()
	store := memory.New()
	q := queue.New(store, queue.DefaultRetryPolicy(), zerolog.Nop())
	in := intake.New(store, q)
	mc := metrics.New()
	notify := api.NewNotifier("", zerolog.Nop())
	srv := api.New(in, store, q, mc, notify, zerolog.Nop())
	return srv, store, q
}

func TestHandleTrigger_StartsExecution(t *testing.T) {
	srv, store, _ := newTestServer(t)
	wf := testutil.SimpleChainWorkflow()
	require.NoError(t, store.SaveWorkflow(context.Background(), wf))

	body := strings.NewReader(`{"payload":{"x":1}}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/workflows/"+wf.ID.String()+"/trigger", body)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["execution_id"])
}

func TestHandleTrigger_UnknownWorkflowIsNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/workflows/"+domainNewID()+"/trigger", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleTrigger_MalformedPayloadIsBadRequest(t *testing.T) {
	srv, store, _ := newTestServer(t)
	wf := testutil.SimpleChainWorkflow()
	require.NoError(t, store.SaveWorkflow(context.Background(), wf))

	req := httptest.NewRequest(http.MethodPost, "/v1/workflows/"+wf.ID.String()+"/trigger", strings.NewReader(`{not json`))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleStatus_ReturnsExecutionAndSteps(t *testing.T) {
	srv, store, _ := newTestServer(t)
	wf := testutil.SimpleChainWorkflow()
	require.NoError(t, store.SaveWorkflow(context.Background(), wf))
	exec := domain.NewExecution(wf.ID, domain.Event{})
	require.NoError(t, store.CreateExecution(context.Background(), exec))

	req := httptest.NewRequest(http.MethodGet, "/v1/executions/"+exec.ID.String(), nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Execution domain.Execution `json:"execution"`
		Steps     []domain.Step    `json:"steps"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, exec.ID, resp.Execution.ID)
}

func TestHandleStatus_UnknownExecutionIsNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/executions/"+domainNewID(), nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleCancel_TransitionsExecutionToCancelled(t *testing.T) {
	srv, store, _ := newTestServer(t)
	wf := testutil.SimpleChainWorkflow()
	require.NoError(t, store.SaveWorkflow(context.Background(), wf))
	exec := domain.NewExecution(wf.ID, domain.Event{})
	exec.Status = domain.ExecutionRunning
	require.NoError(t, store.CreateExecution(context.Background(), exec))

	req := httptest.NewRequest(http.MethodPost, "/v1/executions/"+exec.ID.String()+"/cancel", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := store.GetExecution(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionCancelled, got.Status)
}

func TestHandleResume_ApprovedTransitionsStepAndIsIdempotent(t *testing.T) {
	srv, store, q := newTestServer(t)
	wf := testutil.SimpleChainWorkflow()
	require.NoError(t, store.SaveWorkflow(context.Background(), wf))
	exec := domain.NewExecution(wf.ID, domain.Event{})
	exec.Status = domain.ExecutionRunning
	require.NoError(t, store.CreateExecution(context.Background(), exec))

	approvalNodeID := wf.Nodes[1].ID
	step := domain.NewStep(exec.ID, approvalNodeID, domain.BranchNone, domain.Event{Data: map[string]any{}, Metadata: map[string]any{}})
	require.NoError(t, step.Transition(domain.StepRunning))
	require.NoError(t, store.CreateStep(context.Background(), step))

	job := domain.NewJob(exec.ID, step.ID, approvalNodeID, 1)
	require.NoError(t, q.Enqueue(context.Background(), job))
	leased, err := q.Lease(context.Background(), "worker-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, leased, 1)

	token := "tok-1"
	require.NoError(t, store.CreateApproval(context.Background(), &domain.Approval{
		Token: token, ExecutionID: exec.ID, StepID: step.ID, JobID: leased[0].ID,
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/approvals/"+token+"/resume", strings.NewReader(`{"approved":true}`))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	gotStep, err := store.GetStep(context.Background(), step.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StepSucceeded, gotStep.Status)

	req2 := httptest.NewRequest(http.MethodPost, "/v1/approvals/"+token+"/resume", strings.NewReader(`{"approved":true}`))
	rec2 := httptest.NewRecorder()
	srv.ServeHTTP(rec2, req2)
	assert.Equal(t, http.StatusConflict, rec2.Code, "resuming an already-resolved approval must not silently succeed again")
}

func TestHandleMetrics_ReturnsSnapshot(t *testing.T) {
	srv, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/metrics", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var snap map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
}

func domainNewID() string {
	return uuid.New().String()
}
