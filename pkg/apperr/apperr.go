// Package apperr defines the language-neutral error taxonomy shared by every layer.
// Handlers translate a Kind into a transport status and a Code into a localized message.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the caller.
type Kind int

const (
	// Internal is an unexpected failure of the identity authority, the membership store, or this service.
	Internal Kind = iota
	// Unauthenticated means no valid session was presented.
	Unauthenticated
	// PermissionDenied means the session is valid but lacks the required role or business claim.
	PermissionDenied
	// InvalidArgument means a required field is missing, malformed, or outside its enumeration.
	InvalidArgument
	// NotFound means a referenced membership or principal does not exist.
	NotFound
	// Conflict means a conditional write lost against a concurrent writer.
	Conflict
)

func (k Kind) String() string {
	switch k {
	case Unauthenticated:
		return "unauthenticated"
	case PermissionDenied:
		return "permission_denied"
	case InvalidArgument:
		return "invalid_argument"
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Error carries a Kind, a stable machine code, and an optional cause.
type Error struct {
	Kind Kind
	Code string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an error of the given kind.
func New(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg}
}

// Wrap attaches a kind and code to err. A nil err yields nil.
func Wrap(kind Kind, code string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Code: code, Msg: code, Err: err}
}

// Internalf wraps err as Internal with a formatted context message.
func Internalf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: Internal, Code: "internal", Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the Kind of the outermost *Error in err's chain, or Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// CodeOf returns the Code of the outermost *Error in err's chain, or "internal".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Code != "" {
		return e.Code
	}
	return "internal"
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}
