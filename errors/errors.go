package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

var (
	ErrWorkerPanic  = fmt.Errorf("worker panic")
	ErrEmptyWords   = fmt.Errorf("no words have been found")
	ErrValidation   = fmt.Errorf("validation error")
	ErrForbidden    = fmt.Errorf("forbidden")
	ErrNotFound     = fmt.Errorf("not found")
	ErrAuth         = fmt.Errorf("authentication required")
	ErrTransport    = fmt.Errorf("connection unreachable")
	ErrUnknownEvent = fmt.Errorf("unknown event")
)

// HTTPStatus maps a service error to the status code returned by the REST surface.
// Anything not part of the taxonomy is an internal failure.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case stderrors.Is(err, ErrValidation), stderrors.Is(err, ErrUnknownEvent):
		return http.StatusBadRequest
	case stderrors.Is(err, ErrAuth):
		return http.StatusUnauthorized
	case stderrors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case stderrors.Is(err, ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// FromHTTPStatus is the inverse of HTTPStatus, used by clients of the REST surface.
func FromHTTPStatus(status int) error {
	switch status {
	case http.StatusBadRequest:
		return ErrValidation
	case http.StatusUnauthorized:
		return ErrAuth
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	default:
		if status >= 200 && status < 300 {
			return nil
		}
		return fmt.Errorf("unexpected status %d", status)
	}
}
