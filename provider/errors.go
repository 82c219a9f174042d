package provider

import (
	"errors"
	"fmt"
)

// Sentinel errors for provider operations.
var (
	// ErrUnknownProvider indicates the requested provider is not registered.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrNotSent marks failures that happened before the request left the
	// process. Such requests must not consume rate-limit quota.
	ErrNotSent = errors.New("request not sent")

	// ErrEmptyResponse indicates the provider answered without any text.
	ErrEmptyResponse = errors.New("empty response")

	// ErrCLINotFound indicates the CLI binary was not found in PATH.
	ErrCLINotFound = errors.New("CLI binary not found")
)

// Error is a failure reported by a provider backend.
//
// Status is the HTTP status code, or 0 when the failure did not come from
// an HTTP exchange. Name is the provider's error type ("rate_limit_error",
// "RESOURCE_EXHAUSTED", "TimeoutError", ...).
type Error struct {
	Provider string
	Model    string
	Status   int
	Name     string
	Message  string
	Err      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	switch {
	case e.Status > 0 && e.Name != "":
		return fmt.Sprintf("%s %s: status %d (%s): %s", e.Provider, e.Model, e.Status, e.Name, msg)
	case e.Status > 0:
		return fmt.Sprintf("%s %s: status %d: %s", e.Provider, e.Model, e.Status, msg)
	case e.Name != "":
		return fmt.Sprintf("%s %s: %s: %s", e.Provider, e.Model, e.Name, msg)
	default:
		return fmt.Sprintf("%s %s: %s", e.Provider, e.Model, msg)
	}
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewStatusError creates an error for a non-success HTTP response.
func NewStatusError(provider, model string, status int, name, message string) *Error {
	return &Error{
		Provider: provider,
		Model:    model,
		Status:   status,
		Name:     name,
		Message:  message,
	}
}

// NotSent wraps err so callers can tell the request never left the process.
func NotSent(provider, model string, err error) *Error {
	return &Error{
		Provider: provider,
		Model:    model,
		Name:     "NotSent",
		Message:  err.Error(),
		Err:      fmt.Errorf("%w: %w", ErrNotSent, err),
	}
}

// WasSent reports whether err describes a request that reached the backend
// (or may have). Only ErrNotSent failures count as unsent.
func WasSent(err error) bool {
	return !errors.Is(err, ErrNotSent)
}
