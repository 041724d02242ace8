package domain

import "fmt"

// ErrorKind is the closed taxonomy of failures the service surfaces at its
// API boundary (spec.md §7).
type ErrorKind string

const (
	KindNotFound   ErrorKind = "not_found"
	KindBadRequest ErrorKind = "bad_request"
	KindInternal   ErrorKind = "internal"
)

// ServiceError is the error type returned by every store and service
// operation that can fail. Callers at the HTTP boundary map Kind to a
// status code in one place rather than inspecting error strings.
type ServiceError struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *ServiceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ServiceError) Unwrap() error {
	return e.Cause
}

// NotFound constructs a NotFound ServiceError.
func NotFound(format string, args ...interface{}) *ServiceError {
	return &ServiceError{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// BadRequest constructs a BadRequest ServiceError.
func BadRequest(format string, args ...interface{}) *ServiceError {
	return &ServiceError{Kind: KindBadRequest, Message: fmt.Sprintf(format, args...)}
}

// Internal constructs an Internal ServiceError, optionally wrapping a cause.
func Internal(cause error, format string, args ...interface{}) *ServiceError {
	return &ServiceError{Kind: KindInternal, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// IsKind reports whether err is a *ServiceError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	se, ok := err.(*ServiceError)
	return ok && se.Kind == kind
}
