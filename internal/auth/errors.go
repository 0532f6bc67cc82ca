package auth

import (
	"errors"
	"fmt"
)

// Outcome classes a caller can branch on.
var (
	ErrValidationFailed     = errors.New("validation error")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrNotFound             = errors.New("not found")
	ErrUnexpected           = errors.New("server error")
)

// ErrTokenInvalid covers every token failure: bad signature, wrong algorithm,
// expired, malformed or signed with the other secret.
var ErrTokenInvalid = fmt.Errorf("%w: token not valid", ErrAuthenticationFailed)

// Violation is a single field-level validation failure.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error carries an outcome class, a client-facing message and, for
// validation failures, every field violation found.
type Error struct {
	Kind       error
	Message    string
	Violations []Violation
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.Error()
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func ValidationFailed(violations []Violation) *Error {
	return &Error{Kind: ErrValidationFailed, Message: "validation error", Violations: violations}
}

func AuthenticationFailed(message string) *Error {
	return &Error{Kind: ErrAuthenticationFailed, Message: message}
}

func NotFound(message string) *Error {
	return &Error{Kind: ErrNotFound, Message: message}
}

// Unexpected wraps an infrastructure fault. The cause is kept for logging and
// never shown to clients.
func Unexpected(err error) *Error {
	return &Error{Kind: ErrUnexpected, Message: "server error", Err: err}
}

// KindOf returns the outcome class of err. Unclassified errors are unexpected.
func KindOf(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrValidationFailed):
		return ErrValidationFailed
	case errors.Is(err, ErrAuthenticationFailed):
		return ErrAuthenticationFailed
	case errors.Is(err, ErrNotFound):
		return ErrNotFound
	default:
		return ErrUnexpected
	}
}

// MessageOf returns the client-facing message for err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" && e.Kind != ErrUnexpected {
		return e.Message
	}
	if errors.Is(err, ErrTokenInvalid) {
		return "token not valid"
	}
	return KindOf(err).Error()
}

// ViolationsOf returns the field violations carried by err, if any.
func ViolationsOf(err error) []Violation {
	var e *Error
	if errors.As(err, &e) {
		return e.Violations
	}
	return nil
}
