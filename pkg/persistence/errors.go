// Package persistence provides standardized error types for storage operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrEventNotFound indicates an event was not found by the given identifier.
	ErrEventNotFound = errors.New("event not found")

	// ErrWorkflowNotFound indicates a workflow was not found by the given identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrExecutionNotFound indicates no log rows exist for the given execution.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrInvalidTransition indicates a status change that the event
	// lifecycle does not permit (e.g. retrying a completed event).
	ErrInvalidTransition = errors.New("invalid status transition")
)

// EventError wraps event-related errors with operation context.
type EventError struct {
	Op      string // Operation being performed (e.g. "Claim", "MarkFailed")
	EventID string
	Err     error
}

func (e *EventError) Error() string {
	return fmt.Sprintf("%s operation failed for event %s: %v", e.Op, e.EventID, e.Err)
}

func (e *EventError) Unwrap() error {
	return e.Err
}

func (e *EventError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewEventError creates a new event error with context.
func NewEventError(op, eventID string, err error) *EventError {
	return &EventError{Op: op, EventID: eventID, Err: err}
}

// WorkflowError wraps workflow-related errors with operation context.
type WorkflowError struct {
	Op         string
	WorkflowID string
	Err        error
}

func (e *WorkflowError) Error() string {
	return fmt.Sprintf("%s operation failed for workflow %s: %v", e.Op, e.WorkflowID, e.Err)
}

func (e *WorkflowError) Unwrap() error {
	return e.Err
}

func (e *WorkflowError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewWorkflowError creates a new workflow error with context.
func NewWorkflowError(op, workflowID string, err error) *WorkflowError {
	return &WorkflowError{Op: op, WorkflowID: workflowID, Err: err}
}

// IsEventNotFound checks if an error indicates an event was not found.
func IsEventNotFound(err error) bool {
	return errors.Is(err, ErrEventNotFound)
}

// IsWorkflowNotFound checks if an error indicates a workflow was not found.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

// IsExecutionNotFound checks if an error indicates an execution was not found.
func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}

// IsInvalidTransition checks if an error indicates a forbidden status change.
func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}
