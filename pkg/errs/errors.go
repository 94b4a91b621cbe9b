// Package errs defines the error taxonomy shared by lifecycle handlers,
// action handlers, services and the HTTP layer.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrIntegrationMissing indicates the user has no connected integration for a provider.
	ErrIntegrationMissing = errors.New("integration missing")

	// ErrExternalAPI indicates a provider API returned an error.
	ErrExternalAPI = errors.New("external api error")

	// ErrConfiguration indicates a node or trigger is misconfigured.
	ErrConfiguration = errors.New("configuration error")

	// ErrValidationFailed indicates a semantic validation failure.
	ErrValidationFailed = errors.New("validation failed")

	// ErrDatabase indicates a storage failure.
	ErrDatabase = errors.New("database error")
)

// IntegrationMissingError names the provider the user needs to connect.
type IntegrationMissingError struct {
	UserID   string
	Provider string
}

func (e *IntegrationMissingError) Error() string {
	return fmt.Sprintf("no connected %s integration for user %s", e.Provider, e.UserID)
}

func (e *IntegrationMissingError) Is(target error) bool {
	return target == ErrIntegrationMissing
}

func NewIntegrationMissing(userID, provider string) error {
	return &IntegrationMissingError{UserID: userID, Provider: provider}
}

// APIErrorKind classifies provider failures.
type APIErrorKind string

const (
	KindRateLimited APIErrorKind = "rate_limited"
	KindAuthExpired APIErrorKind = "auth_expired"
	KindRejected    APIErrorKind = "rejected"
	KindUnavailable APIErrorKind = "unavailable"
)

// ExternalAPIError wraps a provider API failure.
type ExternalAPIError struct {
	Provider string
	Status   int
	Kind     APIErrorKind
	Message  string
	Err      error
}

func (e *ExternalAPIError) Error() string {
	msg := fmt.Sprintf("%s api %s", e.Provider, e.Kind)
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}

	if e.Message != "" {
		msg += ": " + e.Message
	}

	return msg
}

func (e *ExternalAPIError) Unwrap() error {
	return e.Err
}

func (e *ExternalAPIError) Is(target error) bool {
	return target == ErrExternalAPI
}

// KindForStatus maps an HTTP status to an error kind.
func KindForStatus(status int) APIErrorKind {
	switch {
	case status == 429:
		return KindRateLimited
	case status == 401 || status == 403:
		return KindAuthExpired
	case status >= 500 || status == 408:
		return KindUnavailable
	default:
		return KindRejected
	}
}

// ConfigurationError reports a missing or invalid configuration field.
type ConfigurationError struct {
	NodeID string
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	var b strings.Builder

	b.WriteString("configuration error")

	if e.NodeID != "" {
		b.WriteString(" in node " + e.NodeID)
	}

	if e.Field != "" {
		b.WriteString(": field " + e.Field)
	}

	if e.Reason != "" {
		b.WriteString(": " + e.Reason)
	}

	return b.String()
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

func NewConfigurationError(nodeID, field, reason string) error {
	return &ConfigurationError{NodeID: nodeID, Field: field, Reason: reason}
}

// ValidationError carries every reason a request was rejected.
type ValidationError struct {
	Reasons []string
	Err     error
}

func (e *ValidationError) Error() string {
	if len(e.Reasons) == 0 && e.Err != nil {
		return "validation failed: " + e.Err.Error()
	}

	return "validation failed: " + strings.Join(e.Reasons, "; ")
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}

func NewValidationError(err error, reasons ...string) error {
	return &ValidationError{Reasons: reasons, Err: err}
}

// DatabaseError wraps a storage failure with the operation that caused it.
type DatabaseError struct {
	Op  string
	Err error
}

func (e *DatabaseError) Error() string {
	return fmt.Sprintf("database error during %s: %v", e.Op, e.Err)
}

func (e *DatabaseError) Unwrap() error {
	return e.Err
}

func (e *DatabaseError) Is(target error) bool {
	return target == ErrDatabase
}

func NewDatabaseError(op string, err error) error {
	return &DatabaseError{Op: op, Err: err}
}

func IsIntegrationMissing(err error) bool {
	return errors.Is(err, ErrIntegrationMissing)
}

func IsExternalAPI(err error) bool {
	return errors.Is(err, ErrExternalAPI)
}

func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

func IsValidation(err error) bool {
	return errors.Is(err, ErrValidationFailed)
}

func IsDatabase(err error) bool {
	return errors.Is(err, ErrDatabase)
}

// AsExternalAPI extracts the provider error, if any.
func AsExternalAPI(err error) (*ExternalAPIError, bool) {
	var apiErr *ExternalAPIError
	ok := errors.As(err, &apiErr)

	return apiErr, ok
}
