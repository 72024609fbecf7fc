package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure for callers and for the HTTP surface.
type Kind string

const (
	KindUnauthenticated Kind = "unauthenticated"
	KindForbidden       Kind = "forbidden"
	KindInvalidTenant   Kind = "invalid_tenant"
	KindTenantNotFound  Kind = "tenant_not_found"
	KindUnavailable     Kind = "unavailable"
	KindInternal        Kind = "internal"
	// KindBadRequest and KindNotFound cover the API surface around the
	// pipeline: malformed bodies and missing records.
	KindBadRequest Kind = "bad_request"
	KindNotFound   Kind = "not_found"
)

// Stable machine-readable codes rendered in error responses.
const (
	CodeUnauthenticated    = "UNAUTHENTICATED"
	CodeForbidden          = "FORBIDDEN"
	CodeInvalidTenant      = "INVALID_TENANT"
	CodeTenantNotFound     = "TENANT_NOT_FOUND"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeInternal           = "INTERNAL"
	CodeBadRequest         = "INVALID_REQUEST"
	CodeNotFound           = "NOT_FOUND"
)

// ErrNotImplemented marks a backend capability that exists in the interface
// but not in the concrete store. It always surfaces as KindInternal so it is
// never mistaken for a deny.
var ErrNotImplemented = &Error{Kind: KindInternal, Msg: "not implemented"}

// Error is the application error type. Msg is safe to log; Err carries the
// underlying cause and is never rendered to clients.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	var msg string
	switch {
	case e.Msg != "" && e.Err != nil:
		msg = e.Msg + ": " + e.Err.Error()
	case e.Msg != "":
		msg = e.Msg
	case e.Err != nil:
		msg = e.Err.Error()
	default:
		msg = string(e.Kind)
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors of the same kind and message, so wrapped copies of a
// sentinel like ErrNotImplemented still satisfy errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Msg == t.Msg && t.Op == "" && t.Err == nil
}

// Code returns the response code for the error's kind.
func (e *Error) Code() string {
	return CodeOf(e.Kind)
}

// New builds an error of the given kind.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Wrap attaches a kind and operation to err. A nil err returns nil.
func Wrap(err error, kind Kind, op, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

// Errorf builds an error of the given kind with a formatted message.
func Errorf(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// NotImplemented returns ErrNotImplemented annotated with the operation.
func NotImplemented(op string) error {
	return &Error{Kind: KindInternal, Op: op, Msg: ErrNotImplemented.Msg}
}

// KindOf returns the kind of the outermost *Error in err's chain, or
// KindInternal when err carries none.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// CodeOf maps a kind to its response code.
func CodeOf(kind Kind) string {
	switch kind {
	case KindUnauthenticated:
		return CodeUnauthenticated
	case KindForbidden:
		return CodeForbidden
	case KindInvalidTenant:
		return CodeInvalidTenant
	case KindTenantNotFound:
		return CodeTenantNotFound
	case KindUnavailable:
		return CodeServiceUnavailable
	case KindBadRequest:
		return CodeBadRequest
	case KindNotFound:
		return CodeNotFound
	default:
		return CodeInternal
	}
}

// HTTPStatus maps a kind to its HTTP status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindInvalidTenant, KindBadRequest:
		return http.StatusBadRequest
	case KindTenantNotFound, KindNotFound:
		return http.StatusNotFound
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
