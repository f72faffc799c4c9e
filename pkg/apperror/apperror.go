// Package apperror defines the error kinds shared by all domain services.
// Services return these errors unmodified; HTTP handlers translate the kind
// into a status code with HTTPStatus.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a domain error.
type Kind int

const (
	// KindValidation indicates malformed or missing input.
	KindValidation Kind = iota
	// KindAuthorization indicates a role or ownership mismatch.
	KindAuthorization
	// KindInvalidTransition indicates a state-machine violation.
	KindInvalidTransition
	// KindNotFound indicates an unknown identifier.
	KindNotFound
	// KindConflict indicates a concurrent-mutation race was lost; the
	// caller should re-read and retry.
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindInvalidTransition:
		return "invalid_transition"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Error is a classified domain error with a machine-usable detail message.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Validationf returns a KindValidation error.
func Validationf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

// Authorizationf returns a KindAuthorization error.
func Authorizationf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindAuthorization, Msg: fmt.Sprintf(format, args...)}
}

// InvalidTransitionf returns a KindInvalidTransition error.
func InvalidTransitionf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindInvalidTransition, Msg: fmt.Sprintf(format, args...)}
}

// NotFoundf returns a KindNotFound error.
func NotFoundf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

// Conflictf returns a KindConflict error.
func Conflictf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConflict, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches an underlying cause to a classified error.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the Kind from err. The second return is false when err is
// not an apperror.
func KindOf(err error) (Kind, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind, true
	}
	return 0, false
}

// IsKind reports whether err is an apperror of the given kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// HTTPStatus maps an error to the HTTP status the API layer should return.
// Unclassified errors map to 500.
func HTTPStatus(err error) int {
	k, ok := KindOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthorization:
		return http.StatusForbidden
	case KindInvalidTransition, KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
