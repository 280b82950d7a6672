package push

import (
	"errors"
	"fmt"
)

// ValidationError reports a malformed or missing request field. It is raised
// before any store access and maps to a 400 at the HTTP boundary.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a field-level validation failure.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// TransientGatewayError is a retryable batch-level gateway failure: timeout,
// 5xx, or an explicit rate-limit signal.
type TransientGatewayError struct {
	Reason string
	Err    error
}

func (e *TransientGatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transient gateway error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("transient gateway error: %s", e.Reason)
}

func (e *TransientGatewayError) Unwrap() error { return e.Err }

// IsTransient reports whether err is (or wraps) a TransientGatewayError.
func IsTransient(err error) bool {
	var t *TransientGatewayError
	return errors.As(err, &t)
}
