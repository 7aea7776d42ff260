// Package apqerror defines the client visible failure kinds of persisted query handling.
//
// Every kind maps to a distinct HTTP status and extension code so that clients
// can pick the right recovery action (e.g. resend the full document on
// PersistedQueryNotFound).
package apqerror

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	// The hash is unknown to the registry. Clients retry with the full document.
	PersistedQueryNotFound Kind = iota + 1
	// The supplied hash does not match the document (sent or stored).
	HashMismatch
	// A collaborator boundary (e.g. page size) was exceeded.
	LimitExceeded
	// The registry or cache backend could not be reached.
	StoreUnavailable
	// The request could not be parsed or carried no operation.
	InvalidRequest
	// Persisted (or arbitrary) queries are disabled for this endpoint.
	PersistedQueryNotSupported
)

func (k Kind) String() string {
	switch k {
	case PersistedQueryNotFound:
		return "PersistedQueryNotFound"
	case HashMismatch:
		return "HashMismatch"
	case LimitExceeded:
		return "LimitExceeded"
	case StoreUnavailable:
		return "StoreUnavailable"
	case InvalidRequest:
		return "InvalidRequest"
	case PersistedQueryNotSupported:
		return "PersistedQueryNotSupported"
	}
	return "Unknown"
}

// Code returns the value for the `extensions.code` field of an error response.
func (k Kind) Code() string {
	switch k {
	case PersistedQueryNotFound:
		return "PERSISTED_QUERY_NOT_FOUND"
	case HashMismatch:
		return "PERSISTED_QUERY_HASH_MISMATCH"
	case LimitExceeded:
		return "LIMIT_EXCEEDED"
	case StoreUnavailable:
		return "STORE_UNAVAILABLE"
	case InvalidRequest:
		return "BAD_REQUEST"
	case PersistedQueryNotSupported:
		return "PERSISTED_QUERY_NOT_SUPPORTED"
	}
	return "INTERNAL_SERVER_ERROR"
}

// HTTPStatus returns the response status used for the kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case PersistedQueryNotFound:
		return http.StatusNotFound
	case HashMismatch, LimitExceeded, InvalidRequest, PersistedQueryNotSupported:
		return http.StatusBadRequest
	case StoreUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// Error is a typed failure. Errors compare equal (errors.Is) when their kinds match.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error.
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: err}
}

// Sentinels for errors.Is comparisons.
var (
	ErrNotFound       = New(PersistedQueryNotFound, "PersistedQueryNotFound")
	ErrHashMismatch   = New(HashMismatch, "provided sha does not match query")
	ErrLimitExceeded  = New(LimitExceeded, "limit exceeded")
	ErrUnavailable    = New(StoreUnavailable, "store unavailable")
	ErrInvalidRequest = New(InvalidRequest, "invalid request")
	ErrNotSupported   = New(PersistedQueryNotSupported, "PersistedQueryNotSupported")
)

// KindOf returns the kind of the first typed error in the chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
