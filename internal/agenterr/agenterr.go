// Package agenterr defines a typed error envelope: an error kind the caller
// can switch on, plus a human-readable message and an optional wrapped
// cause. The remote client, watcher, resolver and transfer code return it;
// store errors and ErrNotAuthenticated are plain errors.
package agenterr

import (
	"errors"
	"fmt"
)

// Kind is one of the error kinds the engine distinguishes. It is a string
// enum, not a set of error values, so it can be serialized directly onto
// the command/event channel.
type Kind string

const (
	NotAuthenticated  Kind = "not-authenticated"
	InvalidArgument   Kind = "invalid-argument"
	NotFound          Kind = "not-found"
	AlreadyExists     Kind = "already-exists"
	PermissionDenied  Kind = "permission-denied"
	IOError           Kind = "io-error"
	NetworkTransient  Kind = "network-transient"
	NetworkPermanent  Kind = "network-permanent"
	Conflict          Kind = "conflict"
	ResourceExhausted Kind = "resource-exhausted"
	Cancelled         Kind = "cancelled"
	Internal          Kind = "internal"
)

// AgentError is the typed failure envelope. Callers use errors.As to
// recover the Kind.
type AgentError struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *AgentError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AgentError) Unwrap() error {
	return e.Cause
}

// New builds an AgentError with no wrapped cause.
func New(kind Kind, message string) *AgentError {
	return &AgentError{Kind: kind, Message: message}
}

// Wrap builds an AgentError carrying cause as its Unwrap target.
func Wrap(kind Kind, message string, cause error) *AgentError {
	return &AgentError{Kind: kind, Message: message, Cause: cause}
}

// As extracts an *AgentError from err, following the error chain.
func As(err error) (*AgentError, bool) {
	var ae *AgentError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// KindOf returns the Kind carried by err, or Internal if err is not (or
// does not wrap) an *AgentError.
func KindOf(err error) Kind {
	if ae, ok := As(err); ok {
		return ae.Kind
	}
	return Internal
}

// Is reports whether err is (or wraps) an AgentError of the given kind.
func Is(err error, kind Kind) bool {
	ae, ok := As(err)
	return ok && ae.Kind == kind
}
