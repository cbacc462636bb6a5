// Package graph provides the core StateGraph execution engine: a
// reducer-based directed-graph executor driving workflows and planning
// loops.
package graph

import (
	"errors"
	"fmt"
)

// Code is the closed error taxonomy shared across the runtime. The dsl,
// cron, wasmhost and plan packages wrap their failures in an *Error
// carrying one of these codes so callers can branch on
// errors.Is/errors.As without depending on package-private sentinels.
type Code string

const (
	CodeValidationFailed  Code = "ValidationFailed"
	CodeNotFound          Code = "NotFound"
	CodeAlreadyExists     Code = "AlreadyExists"
	CodeTimeout           Code = "Timeout"
	CodeResourceExhausted Code = "ResourceExhausted"
	CodeCancelled         Code = "Cancelled"
	CodeExecutionError    Code = "ExecutionError"
	CodeInvalidInput      Code = "InvalidInput"
	CodeInternal          Code = "Internal"
)

// Error is the one error type the runtime produces. NodeID and Cause are
// optional; Cause participates in errors.Unwrap so %w wrapping composes.
type Error struct {
	Code    Code
	Message string
	NodeID  string
	Cause   error
}

func (e *Error) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("%s: node %s: %s", e.Code, e.NodeID, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is supports errors.Is(err, &Error{Code: CodeNotFound}) style matching on
// code alone, ignoring Message/NodeID/Cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewError constructs an *Error, optionally wrapping cause.
func NewError(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// NewNodeError is NewError with a NodeID attached, used by the engine when
// a node's own error needs the failing node identified without discarding
// the node's original error code.
func NewNodeError(code Code, nodeID, message string, cause error) *Error {
	return &Error{Code: code, Message: message, NodeID: nodeID, Cause: cause}
}

// CodeOf extracts the Code from err if it (or something it wraps) is an
// *Error; otherwise returns CodeInternal, matching the spec's rule that
// leaf errors from outside the closed taxonomy are treated as internal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// Sentinel instances for errors.Is comparisons against a specific code
// regardless of message, e.g. errors.Is(err, ErrValidationFailed).
var (
	ErrValidationFailed  = &Error{Code: CodeValidationFailed}
	ErrNotFound          = &Error{Code: CodeNotFound}
	ErrAlreadyExists     = &Error{Code: CodeAlreadyExists}
	ErrTimeout           = &Error{Code: CodeTimeout}
	ErrResourceExhausted = &Error{Code: CodeResourceExhausted}
	ErrCancelled         = &Error{Code: CodeCancelled}
	ErrExecutionError    = &Error{Code: CodeExecutionError}
	ErrInvalidInput      = &Error{Code: CodeInvalidInput}
	ErrInternal          = &Error{Code: CodeInternal}
)

// ErrRecursionLimit is the specific Internal error the engine returns when
// a frontier evaluation exhausts RuntimeContext.RemainingSteps.
var ErrRecursionLimit = NewError(CodeInternal, "Recursion limit reached", nil)

// ErrBackpressure indicates a streaming consumer could not keep up with
// the bounded event channel within the configured deadline.
var ErrBackpressure = NewError(CodeResourceExhausted, "downstream backpressure exceeded threshold", nil)

// ErrInvalidRetryPolicy is returned by RetryPolicy.Validate.
var ErrInvalidRetryPolicy = NewError(CodeInvalidInput, "invalid retry policy", nil)
