// Package sandbox runs Transformer and Condition node scripts inside an
// isolated goja VM (component B, SPEC_FULL.md §4.2). The teacher's
// ScriptExecutorExecutor (internal/application/executor/node_executors.go)
// is an explicit placeholder — "Script execution requires a JavaScript
// engine" — so this package is new code, grounded instead on the ecosystem
// choice of dop251/goja confirmed across several workflow-engine manifests
// in the retrieval pack (see DESIGN.md).
package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/nodeflow/core/internal/domain"
	"github.com/nodeflow/core/internal/domain/errs"
)

// Limits bounds a single script invocation.
type Limits struct {
	CPUTimeout   time.Duration
	MemoryLimitB uint64
}

// DefaultLimits mirrors SPEC_FULL.md §9's SCRIPT_CPU_TIMEOUT_MS/
// SCRIPT_MEMORY_LIMIT_MB defaults.
func DefaultLimits() Limits {
	return Limits{CPUTimeout: 5 * time.Second, MemoryLimitB: 16 << 20}
}

// Kind distinguishes the two script-bearing node kinds.
type Kind int

const (
	KindTransformer Kind = iota
	KindCondition
)

// Pool runs scripts on a small dedicated set of goroutines, separate from
// the async worker pool (component F) — this is what lets a CPU-timeout
// interrupt fire without blocking node dispatch elsewhere (spec.md §5).
type Pool struct {
	sem chan struct{}
}

// NewPool constructs a sandbox pool with size workers (size <= 0 defaults
// to min(NumCPU, 4), deliberately smaller than the main worker pool since
// script execution is expected to be a minority of node kinds).
func NewPool(size int) *Pool {
	if size <= 0 {
		size = runtime.NumCPU()
		if size > 4 {
			size = 4
		}
	}
	return &Pool{sem: make(chan struct{}, size)}
}

// Run compiles and executes source against input, returning the script's
// result event for a Transformer (Result.Dropped set on a JS null/undefined
// return, signalling Drop) or a boolean for a Condition.
func (p *Pool) Run(ctx context.Context, executionID, nodeID string, kind Kind, source string, input domain.Event, limits Limits) (*Result, error) {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-p.sem }()

	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		res, err := runOnce(executionID, nodeID, kind, source, input, limits)
		done <- outcome{res, err}
	}()

	select {
	case o := <-done:
		return o.res, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result is a script invocation's outcome.
type Result struct {
	Event    domain.Event
	Dropped  bool
	BoolOK   bool
	BoolVal  bool
}

// entryPoint is the function name the user script must define, per
// spec.md §4.2: "user supplies a function named `transformer` ..." /
// "function named `condition` ...".
func entryPoint(kind Kind) string {
	if kind == KindCondition {
		return "condition"
	}
	return "transformer"
}

func runOnce(executionID, nodeID string, kind Kind, source string, input domain.Event, limits Limits) (res *Result, retErr error) {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	if limits.MemoryLimitB > 0 {
		vm.SetMemoryLimit(limits.MemoryLimitB)
	}

	// Snapshot clock: Date.now() is pinned for the life of this invocation,
	// the nearest pure-Go analogue of a deterministic sandbox clock.
	snapshot := time.Now().UnixMilli()
	dateObj := vm.NewObject()
	_ = dateObj.Set("now", func(goja.FunctionCall) goja.Value { return vm.ToValue(snapshot) })
	_ = vm.Set("Date", dateObj)

	timedOut := make(chan struct{})
	if limits.CPUTimeout > 0 {
		timer := time.AfterFunc(limits.CPUTimeout, func() {
			close(timedOut)
			vm.Interrupt(errTimeout)
		})
		defer timer.Stop()
	}

	classify := func(err error, fallback domain.ErrorKind, msg string) error {
		select {
		case <-timedOut:
			return errs.New(domain.ErrScriptTimeout, executionID, nodeID, "script exceeded cpu timeout", err)
		default:
		}
		if ie, ok := err.(*goja.InterruptedError); ok && ie.Value() == errTimeout {
			return errs.New(domain.ErrScriptTimeout, executionID, nodeID, "script exceeded cpu timeout", err)
		}
		if isMemoryErr(err) {
			return errs.New(domain.ErrScriptMemory, executionID, nodeID, "script exceeded memory limit", err)
		}
		return errs.New(fallback, executionID, nodeID, msg, err)
	}

	eventVal, err := toEventValue(vm, input)
	if err != nil {
		return nil, errs.New(domain.ErrScriptRuntime, executionID, nodeID, "marshal input event", err)
	}

	prog, err := goja.Compile("<script>", source, false)
	if err != nil {
		return nil, errs.New(domain.ErrScriptSyntax, executionID, nodeID, "script compile error", err)
	}
	if _, err := vm.RunProgram(prog); err != nil {
		return nil, classify(err, domain.ErrScriptSyntax, "script top-level evaluation failed")
	}

	name := entryPoint(kind)
	fn, ok := goja.AssertFunction(vm.Get(name))
	if !ok {
		return nil, errs.New(domain.ErrScriptSyntax, executionID, nodeID, fmt.Sprintf("script must define a function named %q", name), nil)
	}

	v, err := fn(goja.Undefined(), eventVal)
	if err != nil {
		return nil, classify(err, domain.ErrScriptRuntime, "script runtime error")
	}

	switch kind {
	case KindCondition:
		if b, ok := v.Export().(bool); ok {
			return &Result{BoolOK: true, BoolVal: b}, nil
		}
		return nil, errs.New(domain.ErrScriptReturnShape, executionID, nodeID, "condition script must return a boolean", nil)
	default:
		if goja.IsNull(v) || goja.IsUndefined(v) {
			return &Result{Dropped: true}, nil
		}
		exported := v.Export()
		roundTrip, err := json.Marshal(exported)
		if err != nil {
			return nil, errs.New(domain.ErrScriptReturnShape, executionID, nodeID, "transformer return value is not JSON-representable", err)
		}
		var shape struct {
			Data     map[string]any `json:"data"`
			Metadata map[string]any `json:"metadata"`
		}
		if err := json.Unmarshal(roundTrip, &shape); err != nil || shape.Data == nil {
			return nil, errs.New(domain.ErrScriptReturnShape, executionID, nodeID, "transformer must return an event with a data object", err)
		}
		meta := shape.Metadata
		if meta == nil {
			meta = input.Metadata
		}
		return &Result{Event: domain.Event{Data: shape.Data, Metadata: meta}}, nil
	}
}

// toEventValue builds the `event` object ({data, metadata}) passed as the
// sole argument to the user's transformer/condition function.
func toEventValue(vm *goja.Runtime, input domain.Event) (goja.Value, error) {
	dataJSON, err := json.Marshal(input.Data)
	if err != nil {
		return nil, err
	}
	metaJSON, err := json.Marshal(input.Metadata)
	if err != nil {
		return nil, err
	}
	dataVal, err := vm.RunString("(" + string(dataJSON) + ")")
	if err != nil {
		return nil, err
	}
	metaVal, err := vm.RunString("(" + string(metaJSON) + ")")
	if err != nil {
		return nil, err
	}
	obj := vm.NewObject()
	if err := obj.Set("data", dataVal); err != nil {
		return nil, err
	}
	if err := obj.Set("metadata", metaVal); err != nil {
		return nil, err
	}
	return obj, nil
}

func isMemoryErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "memory limit") || strings.Contains(msg, "out of memory")
}

type sentinel string

func (s sentinel) String() string { return string(s) }

var errTimeout = sentinel("sandbox: cpu timeout")
