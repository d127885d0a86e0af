package domainerrors

import "errors"

// Code represents a domain error category independent of transport layer.
// These codes describe what went wrong in business logic terms, not HTTP terms.
type Code string

const (
	CodeNotFound       Code = "not_found"
	CodeBadRequest     Code = "bad_request"
	CodeValidation     Code = "validation_failed"
	CodeInternal       Code = "internal_error"
	CodeUnauthorized   Code = "unauthorized"
	CodeForbidden      Code = "forbidden"
	CodeMissingConsent Code = "missing_consent"

	// CodeStateConflict covers illegal lifecycle transitions, a signer acting
	// before their turn, and exhausted optimistic-write retries.
	CodeStateConflict Code = "state_conflict"

	// CodeRateLimited is returned when a fixed-window counter is exceeded.
	// The carrying error should expose the seconds until the window resets.
	CodeRateLimited Code = "rate_limited"

	// CodeIdempotencyMismatch means a client reused an idempotency key with a
	// different payload. Never treated as a retry of the original command.
	CodeIdempotencyMismatch Code = "idempotency_key_mismatch"

	// CodeSigningProvider wraps external signing provider failures after the
	// retry budget is exhausted or on a terminal provider error.
	CodeSigningProvider Code = "signing_provider"

	// CodeAuditIntegrity marks a broken audit hash chain. Fatal for the
	// affected envelope; never recovered automatically.
	CodeAuditIntegrity Code = "audit_integrity"
)

// Error wraps domain or infrastructure failures with a stable code.
// It is transport-agnostic and can be used across service, store, and other layers.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Code)
}

// Unwrap implements error unwrapping for error chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is enables errors.Is() to match errors by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a new domain error with the given code and message.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Wrap creates a new domain error wrapping an existing error.
// If the wrapped error is already a domain error, the original code is preserved.
func Wrap(err error, code Code, msg string) error {
	var existing *Error
	if errors.As(err, &existing) {
		return &Error{Code: existing.Code, Message: msg, Err: err}
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// HasCode checks if an error is a domain error with the given code.
func HasCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
