package rest

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrServiceUnavailable means the service never reported ready.
	ErrServiceUnavailable = errors.New("service unavailable")
	// ErrMissingField means a response lacked a field the caller depends on.
	ErrMissingField = errors.New("missing field")
	// ErrNotFound means the service answered 404 for a lookup.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument is returned for bad client-side input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrResponseTooLarge is returned when a JSON body exceeds the configured limit.
	ErrResponseTooLarge = errors.New("response too large")
)

// ServiceError is a non-success HTTP status or a transport failure.
// StatusCode is 0 when no response was received.
type ServiceError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
	Err        error
}

func (e *ServiceError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s %s: transport: %v", e.Method, e.Path, e.Err)
	}
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, msg)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Is makes a 404 match ErrNotFound.
func (e *ServiceError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// MissingField builds an ErrMissingField error naming the absent field.
func MissingField(field string) error {
	return fmt.Errorf("%w: %s", ErrMissingField, field)
}
