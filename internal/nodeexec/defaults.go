package nodeexec

import (
	"net/http"

	"github.com/nodeflow/core/internal/domain"
	"github.com/nodeflow/core/internal/sandbox"
)

// Deps bundles the shared dependencies the default executors need.
type Deps struct {
	Pool      *sandbox.Pool
	Limits    sandbox.Limits
	Approvals domain.ApprovalStore
	Outbox    domain.EmailOutbox
	LogSink   string // fixed URL an internal "logging" HTTP sink listens on
}

// NewDefaultRegistry wires one Executor per domain.NodeKind, mirroring the
// teacher's RegisterDefaultExecutors.
func NewDefaultRegistry(d Deps) *Registry {
	r := NewRegistry()
	r.Register(TriggerExecutor{})
	r.Register(ConditionExecutor{Pool: d.Pool, Limits: d.Limits})
	r.Register(TransformerExecutor{Pool: d.Pool, Limits: d.Limits})
	r.Register(NewHttpRequestExecutor(EndpointShape{Kind: domain.NodeKindHTTPRequest}))
	r.Register(NewHttpRequestExecutor(EndpointShape{
		Kind:          domain.NodeKindExternalLLM,
		WrapOpenAIReq: true,
	}))
	r.Register(NewHttpRequestExecutor(EndpointShape{
		Kind:        domain.NodeKindLogging,
		FixedURL:    d.LogSink,
		FixedMethod: http.MethodPost,
	}))
	r.Register(DelayExecutor{})
	r.Register(ApprovalExecutor{Approvals: d.Approvals})
	r.Register(EmailExecutor{Outbox: d.Outbox})
	return r
}
