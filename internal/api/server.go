// Package api exposes the thin Admin/Ingestion/Approval HTTP surface
// (component K, SPEC_FULL.md §6) — trigger/resume/cancel/status endpoints,
// plus a metrics read-out and, when a Notifier is set, a per-execution
// status feed; the visual designer and full admin UI remain explicit
// non-goals. Grounded on the teacher's cmd/server/main.go wiring and its
// rest server package, generalized from the teacher's richer designer API
// down to this engine's four operations plus those two read-only routes.
package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/nodeflow/core/internal/domain"
	"github.com/nodeflow/core/internal/intake"
	"github.com/nodeflow/core/internal/metrics"
	"github.com/nodeflow/core/internal/queue"
	"github.com/nodeflow/core/internal/router"
)

// Server is the thin HTTP surface in front of Intake and the Store.
type Server struct {
	mux        *http.ServeMux
	intake     *intake.Intake
	store      domain.Store
	queue      *queue.Queue
	dispatcher *router.Dispatcher
	metrics    *metrics.Collector
	notify     *Notifier
	log        zerolog.Logger
}

// New builds a Server and registers its routes.
func New(in *intake.Intake, store domain.Store, q *queue.Queue, mc *metrics.Collector, notify *Notifier, log zerolog.Logger) *Server {
	l := log.With().Str("component", "api").Logger()
	s := &Server{
		mux: http.NewServeMux(), intake: in, store: store, queue: q,
		dispatcher: router.NewDispatcher(store, q, l), metrics: mc, notify: notify, log: l,
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) routes() {
	s.mux.HandleFunc("POST /v1/workflows/{id}/trigger", s.handleTrigger)
	s.mux.HandleFunc("POST /v1/approvals/{token}/resume", s.handleResume)
	s.mux.HandleFunc("POST /v1/executions/{id}/cancel", s.handleCancel)
	s.mux.HandleFunc("GET /v1/executions/{id}", s.handleStatus)
	s.mux.HandleFunc("GET /v1/metrics", s.handleMetrics)
	if s.notify != nil {
		s.mux.HandleFunc("GET /v1/executions/{id}/feed", s.notify.HandleFeed)
	}
}

type triggerRequest struct {
	Payload map[string]any `json:"payload"`
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	workflowID := r.PathValue("id")
	var req triggerRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed payload: " + err.Error()})
			return
		}
	}
	exec, err := s.intake.Trigger(r.Context(), workflowID, req.Payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"execution_id": exec.ID, "status": exec.Status})
}

type resumeRequest struct {
	Approved bool           `json:"approved"`
	Payload  map[string]any `json:"payload"`
}

// handleResume implements spec.md §6's resume(token, payload): it is
// idempotent (§8 property 7, "resume(token) called twice has the effect of
// exactly one resumption") because a second call finds ResolvedAt already
// set and rejects before touching the step or job again.
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	var req resumeRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed payload: " + err.Error()})
			return
		}
	}
	approval, err := s.store.GetApproval(r.Context(), token)
	if err != nil {
		writeError(w, err)
		return
	}
	if approval.ResolvedAt != nil {
		writeError(w, &domain.InvalidTransitionError{Entity: "approval", From: "resolved", To: "resolved"})
		return
	}
	if err := s.store.ResolveApproval(r.Context(), token, req.Approved); err != nil {
		writeError(w, err)
		return
	}
	step, err := s.store.GetStep(r.Context(), approval.StepID)
	if err != nil {
		writeError(w, err)
		return
	}
	exec, err := s.store.GetExecution(r.Context(), approval.ExecutionID)
	if err != nil {
		writeError(w, err)
		return
	}
	wf, err := s.store.GetWorkflow(r.Context(), exec.WorkflowID)
	if err != nil {
		writeError(w, err)
		return
	}

	resumed := step.Output
	if len(req.Payload) > 0 {
		resumed = resumed.Merge(domain.Event{Data: req.Payload})
	}

	if req.Approved {
		step.Output = resumed
		if err := step.Transition(domain.StepSucceeded); err == nil {
			_ = s.store.UpdateStep(r.Context(), step)
			_ = s.queue.Complete(r.Context(), approval.JobID.String())
			s.dispatcher.MarkExecutionRunning(r.Context(), approval.ExecutionID)
			s.dispatcher.Advance(r.Context(), wf, approval.ExecutionID, step.NodeID, domain.BranchNone, step.Output)
		}
	} else {
		if tErr := step.Transition(domain.StepFailed); tErr == nil {
			step.Error = "approval rejected"
			_ = s.store.UpdateStep(r.Context(), step)
			_ = s.queue.Fail(r.Context(), approval.JobID.String(), 0, false)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "approved": req.Approved})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	executionID := r.PathValue("id")
	if err := s.intake.Cancel(r.Context(), executionID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"execution_id": executionID, "status": domain.ExecutionCancelled})
}

type statusResponse struct {
	Execution *domain.Execution `json:"execution"`
	Steps     []*domain.Step    `json:"steps"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseID(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	exec, err := s.store.GetExecution(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	steps, err := s.store.StepsByExecution(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Execution: exec, Steps: steps})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if domain.IsNotFound(err) {
		status = http.StatusNotFound
	}
	if _, ok := err.(*domain.InvalidTransitionError); ok {
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
