// Package errors provides the standardized error taxonomy for the
// re-engagement engine. Every error carries a stable code and a retryable
// flag; callers branch on the predicates, never on message text.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeValidation         ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidTransition  ErrorCode = "INVALID_TRANSITION"
	ErrCodeAlreadySending     ErrorCode = "ALREADY_SENDING"
	ErrCodeProviderTransient  ErrorCode = "PROVIDER_TRANSIENT_ERROR"
	ErrCodeProviderPermanent  ErrorCode = "PROVIDER_PERMANENT_ERROR"
	ErrCodeStaleEvent         ErrorCode = "RECONCILIATION_STALE_EVENT"
	ErrCodeNotFound           ErrorCode = "RESOURCE_NOT_FOUND"
	ErrCodeDNCPropagation     ErrorCode = "DNC_PROPAGATION_FAILED"
	ErrCodeQueryExecution     ErrorCode = "QUERY_EXECUTION_FAILED"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Retryable bool      `json:"retryable"`
	Timestamp time.Time `json:"timestamp"`
	cause     error
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is / errors.As chains.
func (e *StandardError) Unwrap() error {
	return e.cause
}

// ==========================
// Constructors
// ==========================

// NewValidationError rejects malformed input before any state change.
func NewValidationError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeValidation,
		Message:   "Request validation failed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidTransitionError rejects an illegal status change with no side
// effect.
func NewInvalidTransitionError(entity, from, to string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidTransition,
		Message:   fmt.Sprintf("Illegal %s status transition", entity),
		Details:   fmt.Sprintf("%s -> %s", from, to),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewAlreadySendingError reports a lost draft->sending race. Callers should
// treat it as another caller's success, not a failure.
func NewAlreadySendingError(campaignID int64) *StandardError {
	return &StandardError{
		Code:      ErrCodeAlreadySending,
		Message:   "Campaign submit lost the draft->sending race",
		Details:   fmt.Sprintf("campaignId: %d", campaignID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewProviderTransientError wraps a network-class provider failure that is
// worth retrying with backoff.
func NewProviderTransientError(channel string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeProviderTransient,
		Message:   fmt.Sprintf("Transient %s provider error", channel),
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewProviderPermanentError wraps a provider rejection that retrying cannot
// fix, such as an invalid address or a hard provider-side rejection.
func NewProviderPermanentError(channel, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeProviderPermanent,
		Message:   fmt.Sprintf("Permanent %s provider error", channel),
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewStaleEventError marks a provider event that matches no known message.
// Discarded silently; counted in telemetry only.
func NewStaleEventError(externalID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeStaleEvent,
		Message:   "Provider event matches no known message",
		Details:   fmt.Sprintf("externalId: %s", externalID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewNotFoundError reports a missing resource.
func NewNotFoundError(resource string, id int64) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotFound,
		Message:   fmt.Sprintf("%s not found", resource),
		Details:   fmt.Sprintf("id: %d", id),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewDNCPropagationError wraps a failure to persist the opt-out -> DNC write.
// This is the one failure class retried to exhaustion, never skipped.
func NewDNCPropagationError(patientID int64, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDNCPropagation,
		Message:   "Failed to propagate opt-out to patient DNC flag",
		Details:   fmt.Sprintf("patientId: %d, error: %s", patientID, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewQueryExecutionError wraps a retryable database error.
func NewQueryExecutionError(op string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeQueryExecution,
		Message:   "Database query execution error",
		Details:   fmt.Sprintf("op: %s, error: %s", op, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// ==========================
// Predicates
// ==========================

func hasCode(err error, code ErrorCode) bool {
	var se *StandardError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

func IsValidation(err error) bool        { return hasCode(err, ErrCodeValidation) }
func IsInvalidTransition(err error) bool { return hasCode(err, ErrCodeInvalidTransition) }
func IsAlreadySending(err error) bool    { return hasCode(err, ErrCodeAlreadySending) }
func IsProviderTransient(err error) bool { return hasCode(err, ErrCodeProviderTransient) }
func IsProviderPermanent(err error) bool { return hasCode(err, ErrCodeProviderPermanent) }
func IsStaleEvent(err error) bool        { return hasCode(err, ErrCodeStaleEvent) }
func IsNotFound(err error) bool          { return hasCode(err, ErrCodeNotFound) }

// IsRetryable reports whether the error is worth another attempt.
func IsRetryable(err error) bool {
	var se *StandardError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}
