// Package apperr defines the error taxonomy shared by the ingestion and
// conversation paths. The server maps kinds to HTTP statuses; the
// conversation path logs everything and answers with a generic ack.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation policy.
type Kind int

const (
	// Validation: the payload could not be normalized (400 on ingestion).
	Validation Kind = iota
	// NotFound: unknown integration or task (404 on ingestion).
	NotFound
	// Transport: an outbound chat send failed. Logged, never surfaced —
	// the task state is still persisted.
	Transport
	// Persistence: a storage write failed (500 on ingestion, where the PM
	// tool is expected to retry; swallowed on the conversation path).
	Persistence
)

// Error carries a kind alongside the wrapped cause.
type Error struct {
	Kind Kind
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

// New creates an Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap creates an Error of the given kind wrapping cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// IsKind reports whether err is (or wraps) an Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
