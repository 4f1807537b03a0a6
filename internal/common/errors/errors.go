// Package errors provides the typed error taxonomy shared by all MXF components.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds as constants
const (
	KindNotFound            = "NOT_FOUND"
	KindInvalidRequest      = "INVALID_REQUEST"
	KindInvalidTransition   = "INVALID_TRANSITION"
	KindInvalidDependency   = "INVALID_DEPENDENCY"
	KindCyclicDependency    = "CYCLIC_DEPENDENCY"
	KindInvalidRelationship = "INVALID_RELATIONSHIP"
	KindProviderUnavailable = "PROVIDER_UNAVAILABLE"
	KindTimeout             = "TIMEOUT"
	KindSandboxFailure      = "SANDBOX_FAILURE"
	KindStorageFailure      = "STORAGE_FAILURE"
	KindConflict            = "CONFLICT"
)

// AppError represents an application-specific error with a kind and HTTP mapping.
type AppError struct {
	Kind       string `json:"error"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped error for use with errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a not found error for a resource.
func NotFound(resource string, id string) *AppError {
	return &AppError{
		Kind:       KindNotFound,
		Message:    fmt.Sprintf("%s with id '%s' not found", resource, id),
		HTTPStatus: http.StatusNotFound,
	}
}

// InvalidRequest creates an error for a schema, type, or enum violation at a boundary.
func InvalidRequest(message string) *AppError {
	return &AppError{
		Kind:       KindInvalidRequest,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// InvalidTransition creates an error for a disallowed task status transition.
func InvalidTransition(from, to string) *AppError {
	return &AppError{
		Kind:       KindInvalidTransition,
		Message:    fmt.Sprintf("cannot transition task from '%s' to '%s'", from, to),
		HTTPStatus: http.StatusBadRequest,
	}
}

// InvalidDependency creates an error for a dependency edge that violates task invariants.
func InvalidDependency(message string) *AppError {
	return &AppError{
		Kind:       KindInvalidDependency,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// CyclicDependency creates an error for a dependency edge that would introduce a cycle.
func CyclicDependency(dependent, dependency string) *AppError {
	return &AppError{
		Kind:       KindCyclicDependency,
		Message:    fmt.Sprintf("dependency from '%s' to '%s' would create a cycle", dependent, dependency),
		HTTPStatus: http.StatusBadRequest,
	}
}

// InvalidRelationship creates an error for relationship endpoints that violate graph invariants.
func InvalidRelationship(message string) *AppError {
	return &AppError{
		Kind:       KindInvalidRelationship,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// ProviderUnavailable creates an error for an LLM transport failure.
func ProviderUnavailable(provider string, err error) *AppError {
	return &AppError{
		Kind:       KindProviderUnavailable,
		Message:    fmt.Sprintf("provider '%s' is unavailable", provider),
		HTTPStatus: http.StatusServiceUnavailable,
		Err:        err,
	}
}

// Timeout creates an error for an LLM or sandbox deadline expiration.
func Timeout(operation string) *AppError {
	return &AppError{
		Kind:       KindTimeout,
		Message:    fmt.Sprintf("%s exceeded deadline", operation),
		HTTPStatus: http.StatusGatewayTimeout,
	}
}

// SandboxFailure creates an error for a malformed sandbox response or executor crash.
func SandboxFailure(message string, err error) *AppError {
	return &AppError{
		Kind:       KindSandboxFailure,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// StorageFailure creates an error for a backend fault reported by a repository.
func StorageFailure(message string, err error) *AppError {
	return &AppError{
		Kind:       KindStorageFailure,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// Conflict creates an error for a concurrent update rejected by the adapter.
func Conflict(message string) *AppError {
	return &AppError{
		Kind:       KindConflict,
		Message:    message,
		HTTPStatus: http.StatusConflict,
	}
}

// Wrap wraps an existing error with additional context, returning an AppError.
// An AppError in the chain keeps its kind and status.
func Wrap(err error, message string) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Kind:       appErr.Kind,
			Message:    fmt.Sprintf("%s: %s", message, appErr.Message),
			HTTPStatus: appErr.HTTPStatus,
			Err:        err,
		}
	}

	return &AppError{
		Kind:       KindStorageFailure,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// IsKind checks whether the error carries the given kind.
func IsKind(err error, kind string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind == kind
	}
	return false
}

// IsNotFound checks if the error is a not found error.
func IsNotFound(err error) bool {
	return IsKind(err, KindNotFound)
}

// IsConflict checks if the error is a conflict error.
func IsConflict(err error) bool {
	return IsKind(err, KindConflict)
}

// IsTimeout checks if the error is a timeout error.
func IsTimeout(err error) bool {
	return IsKind(err, KindTimeout)
}

// GetHTTPStatus returns the HTTP status code for an error.
// Returns 500 Internal Server Error if the error is not an AppError.
func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// GetKind returns the error kind, or STORAGE_FAILURE for untyped errors.
func GetKind(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindStorageFailure
}
