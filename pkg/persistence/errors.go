package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	ErrWorkflowNotFound        = errors.New("workflow not found")
	ErrExecutionNotFound       = errors.New("execution not found")
	ErrTriggerResourceNotFound = errors.New("trigger resource not found")
	ErrIntegrationNotFound     = errors.New("integration not found")

	ErrWebhookSubscriptionNotFound = errors.New("webhook subscription not found")
)

// NotFoundError adds the lookup key to a not-found sentinel.
type NotFoundError struct {
	Op  string // Operation being performed (e.g., "GetByID", "GetExecution")
	Key string // Identifier that was looked up
	Err error  // One of the not-found sentinels
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Err)
}

func (e *NotFoundError) Unwrap() error {
	return e.Err
}

func (e *NotFoundError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func NewNotFoundError(op, key string, err error) *NotFoundError {
	return &NotFoundError{Op: op, Key: key, Err: err}
}

// IsWorkflowNotFound checks if an error indicates a workflow was not found.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}

func IsTriggerResourceNotFound(err error) bool {
	return errors.Is(err, ErrTriggerResourceNotFound)
}

func IsIntegrationNotFound(err error) bool {
	return errors.Is(err, ErrIntegrationNotFound)
}

func IsWebhookSubscriptionNotFound(err error) bool {
	return errors.Is(err, ErrWebhookSubscriptionNotFound)
}

// IsNotFound matches any of the not-found sentinels.
func IsNotFound(err error) bool {
	return IsWorkflowNotFound(err) || IsExecutionNotFound(err) ||
		IsTriggerResourceNotFound(err) || IsIntegrationNotFound(err) ||
		IsWebhookSubscriptionNotFound(err)
}
