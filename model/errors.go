package model

import (
	"errors"
	"fmt"
)

// Kind is a stable category for programmatic error handling.
//
// Callers should branch on Kind (via IsKind) rather than matching error
// strings. Absence of a claim and lack of access are NOT errors and never
// carry a Kind: both surface as a nil result.
type Kind string

const (
	// KindInvalidSignature: a signature did not verify (claim rejected,
	// accessor authentication failed).
	KindInvalidSignature Kind = "INVALID_SIGNATURE"
	// KindUnknownIdentity: a reference could not be resolved to a key
	// (unknown prefix, malformed key, unregistered certificate).
	KindUnknownIdentity Kind = "UNKNOWN_IDENTITY"
	// KindNotFound: a rendezvous registration named a nonce with no
	// pending stream.
	KindNotFound Kind = "NOT_FOUND"
	// KindTimeout: the rendezvous registration exhausted its retry budget.
	KindTimeout Kind = "TIMEOUT"

	KindInvalidRequest Kind = "INVALID_REQUEST"
	KindInternal       Kind = "INTERNAL"
)

// Error is the structured error returned across package boundaries.
//
// Message is intended for humans; do not match on it.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is makes errors.Is(err, &Error{Kind: k}) match on Kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// NewError builds an *Error without a cause.
func NewError(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

// Errorf builds an *Error with a formatted message.
func Errorf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError builds an *Error around cause. A nil cause yields a plain error.
func WrapError(kind Kind, message string, cause error) error {
	if cause == nil {
		return NewError(kind, message)
	}
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// IsKind reports whether err is (or wraps) an *Error with the given Kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// KindOf returns the Kind of a structured error, or "" if err is not one.
func KindOf(err error) Kind {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Kind
}

// ErrInvalidSignature is the sentinel for errors.Is checks against any
// signature failure regardless of message.
var ErrInvalidSignature = &Error{Kind: KindInvalidSignature}
