// Package errs defines the engine's error types. It generalizes the
// teacher's domain/errors package (ExecutionError, NodeExecutionError,
// IsRetryable) to the closed ErrorKind set spec.md §7 requires, while
// keeping the same Unwrap-friendly shape for %w error chains.
package errs

import (
	"fmt"

	"github.com/nodeflow/core/internal/domain"
)

// NodeError is the error a node outcome carries on Fail.
type NodeError struct {
	Kind        domain.ErrorKind
	NodeID      string
	ExecutionID string
	Message     string
	Retryable   bool
	Cause       error
}

func (e *NodeError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("%s: execution %s node %s: %s", e.Kind, e.ExecutionID, e.NodeID, e.Message)
	}
	return fmt.Sprintf("%s: execution %s: %s", e.Kind, e.ExecutionID, e.Message)
}

func (e *NodeError) Unwrap() error { return e.Cause }

// New constructs a NodeError, defaulting Retryable to the error kind's
// default retryability unless overridden by the caller.
func New(kind domain.ErrorKind, executionID, nodeID, message string, cause error) *NodeError {
	return &NodeError{
		Kind:        kind,
		NodeID:      nodeID,
		ExecutionID: executionID,
		Message:     message,
		Retryable:   kind.Retryable(),
		Cause:       cause,
	}
}

// NewRetryable is like New but takes Retryable from the retryable argument
// instead of from kind.Retryable().
func NewRetryable(kind domain.ErrorKind, executionID, nodeID, message string, cause error, retryable bool) *NodeError {
	e := New(kind, executionID, nodeID, message, cause)
	e.Retryable = retryable
	return e
}

// IsRetryable reports whether err (possibly wrapping a *NodeError) is
// retryable.
func IsRetryable(err error) bool {
	var ne *NodeError
	for err != nil {
		if n, ok := err.(*NodeError); ok {
			ne = n
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if ne == nil {
		return false
	}
	return ne.Retryable
}

// ValidationError signals a structural problem with a Workflow.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s: %s", e.Field, e.Message)
}
