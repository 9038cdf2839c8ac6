// Package apperrors provides structured application errors with HTTP status mapping.
//
// The same type carries the worker failure taxonomy: adapters classify provider
// behavior into one of the sentinels below and everything above the adapter layer
// decides by errors.Is alone.
package apperrors

import (
	"errors"
	"fmt"
)

// Sentinel errors for classification via errors.Is().
var (
	ErrValidation  = errors.New("validation error")
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrInternal    = errors.New("internal error")
	ErrUnavailable = errors.New("unavailable")

	// Worker failure taxonomy.
	ErrInputUnreachable = errors.New("input unreachable")
	ErrTransient        = errors.New("provider temporarily unavailable")
	ErrProvider         = errors.New("provider error")
	ErrModelGone        = errors.New("model unavailable")
	ErrInvalidOutput    = errors.New("invalid provider output")
	ErrTimeout          = errors.New("timeout")
	ErrConfiguration    = errors.New("configuration error")
)

// Error provides structured error with context.
type Error struct {
	Sentinel   error  // Wrapped sentinel for errors.Is() classification
	Message    string // Human-readable message
	Field      string // For validation errors (e.g., "pipeline", "inputs.text")
	Resource   string // For not found/conflict (e.g., "job")
	Op         string // Operation that failed (e.g., "sqlite.update")
	Provider   string // Provider that produced a worker failure
	StatusCode int    // Upstream HTTP status, 0 when not applicable
	Retryable  bool   // Only ever true inside an adapter
	Exhausted  bool   // A retryable failure whose single retry was used up
	Cause      error  // Underlying error
}

// Error returns the human-readable error message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the sentinel error for errors.Is() classification.
func (e *Error) Unwrap() error {
	return e.Sentinel
}

// Validation creates a validation error for a specific field.
func Validation(field, message string) error {
	return &Error{
		Sentinel: ErrValidation,
		Message:  message,
		Field:    field,
	}
}

// NotFound creates a not found error for a resource.
func NotFound(resource, id string) error {
	return &Error{
		Sentinel: ErrNotFound,
		Message:  fmt.Sprintf("%s %s not found", resource, id),
		Resource: resource,
	}
}

// Conflict creates a conflict error for a resource.
func Conflict(resource, id, reason string) error {
	return &Error{
		Sentinel: ErrConflict,
		Message:  reason,
		Resource: resource,
	}
}

// Internal creates an internal error wrapping an underlying cause.
func Internal(op string, cause error) error {
	return &Error{
		Sentinel: ErrInternal,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

// Unavailable reports that the service cannot take more work right now.
func Unavailable(op, message string) error {
	return &Error{
		Sentinel: ErrUnavailable,
		Message:  message,
		Op:       op,
	}
}

// InputUnreachable is a client-input failure: a referenced image or audio
// source could not be fetched before it was handed to a provider.
func InputUnreachable(field, ref string, cause error) error {
	msg := fmt.Sprintf("input %s is unreachable: %s", field, ref)
	if cause != nil {
		msg = fmt.Sprintf("%s (%v)", msg, cause)
	}
	return &Error{
		Sentinel: ErrInputUnreachable,
		Message:  msg,
		Field:    field,
		Cause:    cause,
	}
}

// Transient reports a provider that is warming up. Adapters retry it once.
func Transient(provider string, status int, message string) error {
	return &Error{
		Sentinel:   ErrTransient,
		Message:    fmt.Sprintf("%s: %s", provider, message),
		Provider:   provider,
		StatusCode: status,
		Retryable:  true,
	}
}

// Provider reports a hard provider failure (auth, malformed request, rate
// limiting, provider-reported failure).
func Provider(provider string, status int, message string) error {
	return &Error{
		Sentinel:   ErrProvider,
		Message:    fmt.Sprintf("%s: %s", provider, message),
		Provider:   provider,
		StatusCode: status,
	}
}

// ModelGone reports a model that no longer exists at the provider (404/410).
func ModelGone(provider string, status int, message string) error {
	return &Error{
		Sentinel:   ErrModelGone,
		Message:    fmt.Sprintf("%s: %s", provider, message),
		Provider:   provider,
		StatusCode: status,
	}
}

// InvalidOutput reports a successful response whose payload is unusable.
func InvalidOutput(provider, message string) error {
	return &Error{
		Sentinel: ErrInvalidOutput,
		Message:  fmt.Sprintf("%s: %s", provider, message),
		Provider: provider,
	}
}

// Timeout reports a per-call timeout or an exhausted polling budget.
func Timeout(provider, message string, cause error) error {
	return &Error{
		Sentinel: ErrTimeout,
		Message:  fmt.Sprintf("%s: %s", provider, message),
		Provider: provider,
		Cause:    cause,
	}
}

// Configuration reports a setup problem: unsupported pipeline or missing credentials.
func Configuration(op, message string) error {
	return &Error{
		Sentinel: ErrConfiguration,
		Message:  message,
		Op:       op,
	}
}

// RetryExhausted turns a retryable failure whose single retry was used up into
// a provider-hard error. Other errors are returned unchanged.
func RetryExhausted(err error) error {
	var appErr *Error
	if !errors.As(err, &appErr) || !appErr.Retryable {
		return err
	}
	return &Error{
		Sentinel:   ErrProvider,
		Message:    appErr.Message + " (still unavailable after retry)",
		Provider:   appErr.Provider,
		StatusCode: appErr.StatusCode,
		Exhausted:  true,
		Cause:      appErr,
	}
}

// IsRetryExhausted reports whether err is a transient failure that outlived
// its retry.
func IsRetryExhausted(err error) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Exhausted
	}
	return false
}

// FallbackExhausted reports that every candidate of a fallback chain failed.
// The message carries the last candidate's error.
func FallbackExhausted(provider string, candidates int, last error) error {
	return &Error{
		Sentinel:   ErrProvider,
		Message:    fmt.Sprintf("%s: all %d candidates failed, last error: %v", provider, candidates, last),
		Provider:   provider,
		StatusCode: StatusCode(last),
		Cause:      last,
	}
}

// IsRetryable reports whether err was marked retryable by an adapter.
func IsRetryable(err error) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}

// StatusCode returns the upstream status code recorded on err, or 0.
func StatusCode(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return 0
}

// Kind returns a short stable label for the failure class, used as a metric attribute.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrInputUnreachable):
		return "input_unreachable"
	case errors.Is(err, ErrTransient):
		return "transient"
	case errors.Is(err, ErrModelGone):
		return "model_gone"
	case errors.Is(err, ErrInvalidOutput):
		return "invalid_output"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrProvider):
		return "provider"
	case errors.Is(err, ErrValidation):
		return "validation"
	default:
		return "internal"
	}
}
