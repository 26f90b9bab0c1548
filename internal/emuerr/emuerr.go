// Package emuerr defines the transport-independent error taxonomy shared by
// every core service. Handlers classify these into HTTP status codes; the
// core itself never knows about HTTP.
package emuerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is one of the error kinds named in the control-plane error design.
type Kind string

// Error kinds. These are stable across releases; adapters map them to
// transport-specific status codes.
const (
	InvalidArgument    Kind = "InvalidArgument"
	NotFound           Kind = "NotFound"
	AlreadyExists      Kind = "AlreadyExists"
	PreconditionFailed Kind = "PreconditionFailed"
	Aborted            Kind = "Aborted"
	FailedPrecondition Kind = "FailedPrecondition"
	OutOfRange         Kind = "OutOfRange"
	Unavailable        Kind = "Unavailable"
	Internal           Kind = "Internal"
	DeadlineExceeded   Kind = "DeadlineExceeded"
	Cancelled          Kind = "Cancelled"
)

// Error is the core's error type. Reason is a short stable machine token
// (e.g. "subnetOverlap"); Message is the human-readable explanation;
// ResourceLink, when set, names the resource the error concerns.
type Error struct {
	Kind         Kind
	Reason       string
	Message      string
	ResourceLink string
	cause        error
}

func (e *Error) Error() string {
	if e.ResourceLink != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.ResourceLink)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap lets errors.Is / errors.As reach the wrapped cause.
func (e *Error) Unwrap() error { return e.cause }

// New builds an Error with no wrapped cause.
func New(kind Kind, reason, message string) *Error {
	return &Error{Kind: kind, Reason: reason, Message: message}
}

// Newf builds an Error with a formatted message.
func Newf(kind Kind, reason, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches cause to a new Error of the given kind, preserving cause's
// message via github.com/pkg/errors so %+v still prints a stack.
func Wrap(cause error, kind Kind, reason, message string) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Reason: reason, Message: message, cause: errors.Wrap(cause, message)}
}

// WithResource returns a copy of e with ResourceLink set.
func (e *Error) WithResource(link string) *Error {
	c := *e
	c.ResourceLink = link
	return &c
}

// Is reports whether err (or something it wraps) is an *Error of kind k.
func Is(err error, k Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == k
}

// KindOf returns the Kind of err, or Internal if err is not a classified
// *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if err == nil {
		return ""
	}
	return Internal
}
