package model

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a kernel failure so the transport layer can map it
// to a wire-level status without inspecting messages.
type ErrorKind int

const (
	// KindValidation is malformed or out-of-range input. Never retried.
	KindValidation ErrorKind = iota
	// KindNotFound is a referenced entity that does not exist.
	KindNotFound
	// KindConflict is a violated state precondition (double revoke,
	// duplicate fingerprint, duplicate policy version).
	KindConflict
	// KindAuthorization is missing or mismatched workspace context.
	KindAuthorization
	// KindUnavailable is absent required configuration. Fatal at startup.
	KindUnavailable
	// KindInternal is an underlying store or crypto failure.
	KindInternal
)

// Error is the typed failure returned from kernel operations. Business
// rule failures carry a stable code; they are results, not faults.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a typed kernel error.
func NewError(kind ErrorKind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// WrapError builds a typed kernel error around an underlying cause.
func WrapError(kind ErrorKind, code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

// KindOf extracts the ErrorKind from err, defaulting to KindInternal.
func KindOf(err error) ErrorKind {
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return KindInternal
}

// CodeOf extracts the stable code from err, or "" when untyped.
func CodeOf(err error) string {
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Code
	}
	return ""
}
