// Package errors implements the error taxonomy shared by every component:
// per-item failures degrade (they are recorded and the batch continues),
// per-invocation failures abort.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error into one of the fixed diagnostic categories.
type Kind string

const (
	ClusterUnreachable Kind = "CLUSTER_UNREACHABLE"
	AccessDenied       Kind = "ACCESS_DENIED"
	NotFound           Kind = "NOT_FOUND"
	CorruptPayload     Kind = "CORRUPT_PAYLOAD"
	UnsupportedSchema  Kind = "UNSUPPORTED_SCHEMA"
	UnknownStorage     Kind = "UNKNOWN_STORAGE"
	IOError            Kind = "IO_ERROR"
	ParseError         Kind = "PARSE_ERROR"
	Timeout            Kind = "TIMEOUT"
	InvariantViolation Kind = "INVARIANT_VIOLATION"
)

// Error is a taxonomy-tagged error. It wraps an underlying cause so callers
// can still unwrap to the original error when they need to.
type Error struct {
	Kind Kind
	Item string // e.g. "secret/foo.v3", empty for invocation-wide errors
	Err  error
}

func (e *Error) Error() string {
	if e.Item != "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Item, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with the given Kind. It always returns a non-nil *Error;
// callers check err for nil before wrapping.
func New(kind Kind, item string, err error) *Error {
	return &Error{Kind: kind, Item: item, Err: err}
}

// KindOf returns the Kind carried by err, or "" if err does not carry one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Abortable reports whether an error of this kind should abort the whole
// invocation rather than degrade the surrounding batch.
func Abortable(kind Kind) bool {
	switch kind {
	case ClusterUnreachable, Timeout, InvariantViolation:
		return true
	default:
		return false
	}
}

// ItemError is the wire shape for the "errors" array surfaced alongside
// JSON/YAML results, per the propagation policy: a single corrupt item must
// not mask the rest of a listing.
type ItemError struct {
	Item    string `json:"item"`
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

// FromError converts a taxonomy error (or a plain error, which gets an empty
// Kind) into the wire ItemError shape.
func FromError(item string, err error) ItemError {
	var e *Error
	if errors.As(err, &e) {
		return ItemError{Item: e.Item, Kind: e.Kind, Message: e.Err.Error()}
	}
	return ItemError{Item: item, Kind: "", Message: err.Error()}
}
