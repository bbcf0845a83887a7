package dav

import (
	"errors"
	"fmt"
	"net/http"
)

// HTTPError is a protocol error carrying the status code it maps to. Kind is
// the short exception name reported in the XML error body.
type HTTPError struct {
	Status    int
	Kind      string
	Message   string
	Condition *Name // optional precondition element rendered inside {DAV:}error
	Err       error
}

// Error implements the error interface
func (e *HTTPError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *HTTPError) Unwrap() error {
	return e.Err
}

// Is reports whether target is an HTTPError of the same kind, so that
// errors.Is(ErrNotFound.With("x"), ErrNotFound) holds.
func (e *HTTPError) Is(target error) bool {
	t, ok := target.(*HTTPError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// With returns a copy of e with a formatted message.
func (e *HTTPError) With(format string, args ...any) *HTTPError {
	c := *e
	c.Message = fmt.Sprintf(format, args...)
	return &c
}

// Wrap returns a copy of e wrapping err.
func (e *HTTPError) Wrap(err error) *HTTPError {
	c := *e
	c.Err = err
	return &c
}

// WithCondition returns a copy of e reporting the precondition n.
func (e *HTTPError) WithCondition(n Name) *HTTPError {
	c := *e
	c.Condition = &n
	return &c
}

func newError(status int, kind, msg string) *HTTPError {
	return &HTTPError{Status: status, Kind: kind, Message: msg}
}

func withCondition(e *HTTPError, n Name) *HTTPError {
	e.Condition = &n
	return e
}

// Protocol errors.
var (
	ErrBadRequest                   = newError(http.StatusBadRequest, "BadRequest", "Bad request")
	ErrForbidden                    = newError(http.StatusForbidden, "Forbidden", "Access denied")
	ErrNeedPrivileges               = withCondition(newError(http.StatusForbidden, "NeedPrivileges", "Insufficient privileges"), ConditionNeedPrivileges)
	ErrInvalidResourceType          = withCondition(newError(http.StatusForbidden, "InvalidResourceType", "Invalid resource type"), ConditionValidResourceType)
	ErrNotFound                     = newError(http.StatusNotFound, "NotFound", "Resource not found")
	ErrMethodNotAllowed             = newError(http.StatusMethodNotAllowed, "MethodNotAllowed", "Method not allowed")
	ErrConflict                     = newError(http.StatusConflict, "Conflict", "Conflict")
	ErrPreconditionFailed           = newError(http.StatusPreconditionFailed, "PreconditionFailed", "Precondition failed")
	ErrUnsupportedMediaType         = newError(http.StatusUnsupportedMediaType, "UnsupportedMediaType", "Unsupported media type")
	ErrRequestedRangeNotSatisfiable = newError(http.StatusRequestedRangeNotSatisfiable, "RequestedRangeNotSatisfiable", "Requested range not satisfiable")
	ErrLocked                       = newError(http.StatusLocked, "Locked", "Resource is locked")
	ErrInsufficientStorage          = newError(http.StatusInsufficientStorage, "InsufficientStorage", "Insufficient storage")
	ErrNotImplemented               = newError(http.StatusNotImplemented, "NotImplemented", "Not implemented")
	ErrReportNotImplemented         = newError(http.StatusNotImplemented, "ReportNotImplemented", "Report not implemented")
)

// StatusOf returns the HTTP status for err: the status of the first HTTPError
// in its chain, or 500.
func StatusOf(err error) int {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Status
	}
	return http.StatusInternalServerError
}

// IsNotFound is shorthand for errors.Is(err, ErrNotFound).
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
