// Package errors defines the typed failure taxonomy returned by registry
// operations. Every operation recovers failures at its boundary and returns
// one of these kinds; nothing leaves a service as an opaque error.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a service failure for callers and UI layers.
type Kind string

const (
	KindValidation           Kind = "validation"
	KindConflict             Kind = "conflict"
	KindInsufficientCapacity Kind = "insufficient_capacity"
	KindUnreachable          Kind = "unreachable"
	KindUnauthorized         Kind = "unauthorized"
	KindNotFound             Kind = "not_found"
	KindInternal             Kind = "internal"
)

// ServiceError carries the taxonomy kind, a human-readable message, and the
// HTTP status the transport layer should use.
type ServiceError struct {
	Kind       Kind   `json:"kind"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is makes two service errors of the same kind match under errors.Is.
func (e *ServiceError) Is(target error) bool {
	var se *ServiceError
	if errors.As(target, &se) {
		return se.Kind == e.Kind
	}
	return false
}

func Validation(format string, args ...interface{}) *ServiceError {
	return &ServiceError{Kind: KindValidation, Message: fmt.Sprintf(format, args...), HTTPStatus: http.StatusBadRequest}
}

func Conflict(format string, args ...interface{}) *ServiceError {
	return &ServiceError{Kind: KindConflict, Message: fmt.Sprintf(format, args...), HTTPStatus: http.StatusConflict}
}

func InsufficientCapacity(format string, args ...interface{}) *ServiceError {
	return &ServiceError{Kind: KindInsufficientCapacity, Message: fmt.Sprintf(format, args...), HTTPStatus: http.StatusConflict}
}

func Unreachable(format string, args ...interface{}) *ServiceError {
	return &ServiceError{Kind: KindUnreachable, Message: fmt.Sprintf(format, args...), HTTPStatus: http.StatusUnprocessableEntity}
}

func Unauthorized(format string, args ...interface{}) *ServiceError {
	return &ServiceError{Kind: KindUnauthorized, Message: fmt.Sprintf(format, args...), HTTPStatus: http.StatusForbidden}
}

func NotFound(resource, id string) *ServiceError {
	return &ServiceError{Kind: KindNotFound, Message: fmt.Sprintf("%s %s not found", resource, id), HTTPStatus: http.StatusNotFound}
}

func Internal(err error) *ServiceError {
	return &ServiceError{Kind: KindInternal, Message: err.Error(), HTTPStatus: http.StatusInternalServerError}
}

// KindOf extracts the taxonomy kind, defaulting to internal for untyped
// errors that escape a lower layer.
func KindOf(err error) Kind {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}

// StatusOf maps an error to its HTTP status.
func StatusOf(err error) int {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.HTTPStatus
	}
	return http.StatusInternalServerError
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Kind == kind
	}
	return false
}
