// Package services implements the workflow and execution use cases behind
// the HTTP API.
package services

import (
	"errors"
	"fmt"
)

// Request errors map to 400 responses.
var (
	ErrInvalidRequest      = errors.New("invalid request")
	ErrEmptyOwnerID        = errors.New("owner ID cannot be empty")
	ErrWorkflowNil         = errors.New("workflow cannot be nil")
	ErrTriggerNodeRequired = errors.New("workflow must have at least one trigger node")
	ErrNotTriggerNode      = errors.New("node is not a trigger")
)

// Lookup errors map to 404 responses.
var (
	ErrNodeNotFound         = errors.New("node not found")
	ErrExecutionNotInFlight = errors.New("execution is not running in this process")
)

// Conflicts map to 409 responses.
var (
	ErrCannotModifyActive = errors.New("cannot modify an active workflow, deactivate it first")
	ErrExecutionFinished  = errors.New("execution already finished")
	ErrNotStepping        = errors.New("execution is not waiting for a step command")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a request error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrEmptyOwnerID) ||
		errors.Is(err, ErrWorkflowNil) ||
		errors.Is(err, ErrTriggerNodeRequired) ||
		errors.Is(err, ErrNotTriggerNode)
}

// IsConflictError checks if an error is a state conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrCannotModifyActive) ||
		errors.Is(err, ErrExecutionFinished) ||
		errors.Is(err, ErrNotStepping)
}

// IsNotFoundError covers lookups owned by the service layer. Persistence
// not-found errors are matched separately.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNodeNotFound) ||
		errors.Is(err, ErrExecutionNotInFlight)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
