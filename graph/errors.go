// Package graph provides the state-graph workflow engine: graph definition,
// execution with a checkpoint after every step, and interrupt/resume.
package graph

import (
	"errors"
	"fmt"
)

// ErrInvalidResumeState is returned by Resume when the thread is not
// suspended. Nothing is written.
var ErrInvalidResumeState = errors.New("thread is not waiting for a resume value")

// ErrThreadInterrupted is returned by Run when the thread is suspended and
// must be resumed instead.
var ErrThreadInterrupted = errors.New("thread is suspended, resume it first")

// ErrUnknownField is returned when a state update names a field the schema
// does not declare.
var ErrUnknownField = errors.New("unknown state field")

// ErrInvalidRoute is returned when a branching node selects a target outside
// its declared set.
var ErrInvalidRoute = errors.New("branch selected an undeclared target")

// ErrInvalidUpdate is returned when a value cannot be merged under its
// field's policy, for example a non-sequence for an append field.
var ErrInvalidUpdate = errors.New("invalid state update")

// ErrMaxStepsExceeded indicates the run reached the step limit without
// finishing. This guards loops such as the agent's reason/act cycle.
var ErrMaxStepsExceeded = errors.New("execution exceeded maximum steps limit")

// ErrInvalidThreadID is returned for an empty thread id.
var ErrInvalidThreadID = errors.New("thread id is required")

// EngineError is a structured engine failure with a machine-readable code.
//
// Codes used by the engine and builder:
//   - DUPLICATE_NODE, RESERVED_NAME, UNKNOWN_NODE, INVALID_EDGE
//   - NO_ENTRY, UNREACHABLE_END, DEAD_END, CYCLE
//   - UNKNOWN_FIELD, INVALID_UPDATE, INVALID_ROUTE
//   - INVALID_RESUME, THREAD_INTERRUPTED, MAX_STEPS_EXCEEDED
//   - NODE_TIMEOUT, STORE_ERROR
type EngineError struct {
	Message string
	Code    string
	Err     error
}

func (e *EngineError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the sentinel so callers can use errors.Is.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// NodeError wraps a failure returned by a node body. The run's previous
// checkpoint stays authoritative.
type NodeError struct {
	NodeID string
	Err    error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s: %v", e.NodeID, e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}

func engineErr(code string, sentinel error, format string, args ...any) *EngineError {
	return &EngineError{Message: fmt.Sprintf(format, args...), Code: code, Err: sentinel}
}
