package nodeexec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/nodeflow/core/internal/domain"
	"github.com/nodeflow/core/internal/domain/errs"
	"github.com/nodeflow/core/internal/router"
)

// httpClientTimeout matches the teacher's HTTPRequestExecutor
// (internal/application/executor/node_executors.go), which hardcodes a
// 30s http.Client timeout.
const httpClientTimeout = 30 * time.Second

// EndpointShape parameterizes HttpRequestExecutor so HttpRequest,
// ExternalLLM and Logging all run the same generic retry/error-mapping
// path (spec.md §4.3: "ExternalLLM and Logging nodes are treated as
// HttpRequest variants with fixed endpoint shapes").
type EndpointShape struct {
	Kind          domain.NodeKind
	FixedURL      string // non-empty for ExternalLLM/Logging: overrides config["url"]
	FixedMethod   string
	WrapOpenAIReq bool // ExternalLLM: marshal config["messages"] via go-openai's request struct
}

// HttpRequestExecutor is the single generic HTTP-calling executor behind
// HttpRequest, ExternalLLM and Logging node kinds.
type HttpRequestExecutor struct {
	Shape  EndpointShape
	Client *http.Client
}

// NewHttpRequestExecutor builds an executor with the teacher's 30s client
// timeout unless shape.Kind's caller supplies its own client.
func NewHttpRequestExecutor(shape EndpointShape) *HttpRequestExecutor {
	return &HttpRequestExecutor{
		Shape:  shape,
		Client: &http.Client{Timeout: httpClientTimeout},
	}
}

func (e *HttpRequestExecutor) Kind() domain.NodeKind { return e.Shape.Kind }

func (e *HttpRequestExecutor) Execute(ctx context.Context, ec ExecContext, config map[string]any, input domain.Event) (Outcome, error) {
	rawURL := e.Shape.FixedURL
	if rawURL == "" {
		rawURL, _ = config["url"].(string)
	}
	if rawURL == "" {
		return Outcome{}, errs.New(domain.ErrHTTPTransport, ec.ExecutionID, ec.NodeID, "http_request node missing \"url\"", nil)
	}
	resolvedURL, err := router.ResolveString(rawURL, input, ec.ExecutionID, ec.NodeID)
	if err != nil {
		return Outcome{}, err
	}

	method := e.Shape.FixedMethod
	if method == "" {
		method, _ = config["method"].(string)
	}
	if method == "" {
		method = http.MethodGet
	}

	body, contentType, err := e.buildBody(config, input, ec)
	if err != nil {
		return Outcome{}, err
	}

	req, err := http.NewRequestWithContext(ctx, method, resolvedURL, body)
	if err != nil {
		return Outcome{}, errs.New(domain.ErrHTTPTransport, ec.ExecutionID, ec.NodeID, "build request", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if headers, ok := config["headers"].(map[string]any); ok {
		for k, v := range headers {
			s, _ := v.(string)
			resolved, rerr := router.ResolveString(s, input, ec.ExecutionID, ec.NodeID)
			if rerr != nil {
				return Outcome{}, rerr
			}
			req.Header.Set(k, resolved)
		}
	}

	resp, doErr := e.Client.Do(req)
	if doErr != nil {
		var callErr error
		if ctx.Err() != nil {
			callErr = errs.New(domain.ErrHTTPTimeout, ec.ExecutionID, ec.NodeID, "request timed out", doErr)
		} else {
			callErr = errs.New(domain.ErrHTTPTransport, ec.ExecutionID, ec.NodeID, "request failed", doErr)
		}
		return e.handleFailure(config, ec, input, callErr)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Outcome{}, errs.New(domain.ErrHTTPTransport, ec.ExecutionID, ec.NodeID, "read response body", err)
	}

	if resp.StatusCode >= 500 {
		callErr := errs.New(domain.ErrHTTPStatus5xx, ec.ExecutionID, ec.NodeID, fmt.Sprintf("upstream returned %d", resp.StatusCode), nil)
		return e.handleFailure(config, ec, input, callErr)
	}
	if resp.StatusCode >= 400 {
		callErr := errs.New(domain.ErrHTTPStatus4xx, ec.ExecutionID, ec.NodeID, fmt.Sprintf("upstream returned %d", resp.StatusCode), nil)
		return Outcome{}, callErr
	}

	data := map[string]any{"status_code": float64(resp.StatusCode)}
	var parsed any
	if json.Unmarshal(respBody, &parsed) == nil {
		data["body"] = parsed
	} else {
		data["body"] = string(respBody)
	}
	return e.finish(config, input, data)
}

// handleFailure applies the node's own retry budget and failure_action to a
// retryable failure. With max_attempts set in config, a failure on an
// attempt still short of that budget is returned as an error so the worker
// reschedules it; once those attempts are used, failure_action decides:
// Continue emits the input event with the error in metadata, anything else
// returns the error. Without max_attempts in config the error is always
// returned: failure_action is not consulted, and retries follow the queue's
// policy alone.
func (e *HttpRequestExecutor) handleFailure(config map[string]any, ec ExecContext, input domain.Event, callErr error) (Outcome, error) {
	maxAttempts := 0
	if v, ok := config["max_attempts"].(float64); ok {
		maxAttempts = int(v)
	}
	if maxAttempts > 0 && ec.Attempt < maxAttempts {
		return Outcome{}, callErr
	}
	if maxAttempts == 0 {
		return Outcome{}, callErr
	}
	action, _ := config["failure_action"].(string)
	if action != "Continue" {
		return Outcome{}, callErr
	}
	out := input.Clone()
	out.Metadata["error"] = callErr.Error()
	return Outcome{Event: out, Branch: domain.BranchNone}, nil
}

// finish wraps a successful response, handling spec.md §4.3's loop_config:
// the node defers to itself (Waiting + ResumeAt) after each iteration short
// of max_iterations, and completes normally on the last one.
func (e *HttpRequestExecutor) finish(config map[string]any, input domain.Event, data map[string]any) (Outcome, error) {
	out := domain.Event{Data: data, Metadata: cloneMeta(input.Metadata)}

	loopCfg, hasLoop := config["loop_config"].(map[string]any)
	if !hasLoop {
		return Outcome{Event: out, Branch: domain.BranchNone}, nil
	}
	maxIterations := 1
	if v, ok := loopCfg["max_iterations"].(float64); ok && v > 0 {
		maxIterations = int(v)
	}
	intervalSeconds := 0.0
	if v, ok := loopCfg["interval"].(float64); ok {
		intervalSeconds = v
	}
	iteration := 1
	if prev, ok := input.Metadata["_loop_iteration"].(float64); ok {
		iteration = int(prev) + 1
	}
	if iteration >= maxIterations {
		delete(out.Metadata, "_loop_iteration")
		return Outcome{Event: out, Branch: domain.BranchNone}, nil
	}
	out.Metadata["_loop_iteration"] = float64(iteration)
	resumeAt := time.Now().Add(time.Duration(intervalSeconds * float64(time.Second)))
	return Outcome{Event: out, Waiting: true, ResumeAt: &resumeAt}, nil
}

func cloneMeta(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (e *HttpRequestExecutor) buildBody(config map[string]any, input domain.Event, ec ExecContext) (io.Reader, string, error) {
	if e.Shape.WrapOpenAIReq {
		return e.buildOpenAIBody(config, input, ec)
	}
	raw, ok := config["body"]
	if !ok {
		return nil, "", nil
	}
	resolved, err := router.ResolveValue(raw, input, ec.ExecutionID, ec.NodeID)
	if err != nil {
		return nil, "", err
	}
	b, err := json.Marshal(resolved)
	if err != nil {
		return nil, "", errs.New(domain.ErrHTTPTransport, ec.ExecutionID, ec.NodeID, "marshal request body", err)
	}
	return bytes.NewReader(b), "application/json", nil
}

// buildOpenAIBody shapes the ExternalLLM node's request payload using
// go-openai's ChatCompletionRequest, even though delivery goes through the
// generic HTTP path above — this exercises the pack's OpenAI dependency for
// payload shaping without bypassing the shared retry/backoff machinery
// spec.md §4.3 requires for every HttpRequest-variant node (grounded on the
// teacher's OpenAICompletionExecutor, internal/application/executor/
// node_executors.go, generalized from a direct SDK call to a shaped-body
// generic HTTP call).
func (e *HttpRequestExecutor) buildOpenAIBody(config map[string]any, input domain.Event, ec ExecContext) (io.Reader, string, error) {
	model, _ := config["model"].(string)
	if model == "" {
		model = openai.GPT3Dot5Turbo
	}
	rawMessages, _ := config["messages"].([]any)
	msgs := make([]openai.ChatCompletionMessage, 0, len(rawMessages))
	for _, rm := range rawMessages {
		m, ok := rm.(map[string]any)
		if !ok {
			continue
		}
		role, _ := m["role"].(string)
		content, _ := m["content"].(string)
		resolvedContent, err := router.ResolveString(content, input, ec.ExecutionID, ec.NodeID)
		if err != nil {
			return nil, "", err
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: resolvedContent})
	}
	req := openai.ChatCompletionRequest{Model: model, Messages: msgs}
	b, err := json.Marshal(req)
	if err != nil {
		return nil, "", errs.New(domain.ErrHTTPTransport, ec.ExecutionID, ec.NodeID, "marshal openai request", err)
	}
	return bytes.NewReader(b), "application/json", nil
}
