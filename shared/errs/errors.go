// Package errs defines the node's error kinds (spec §7) and the thin
// wrapping helpers every subsystem uses to attach one to an underlying
// cause while staying compatible with errors.Is/As.
package errs

import "fmt"

// Kind is one of the node-wide error categories. Subsystems branch on Kind
// rather than on error strings.
type Kind string

// The error kinds named by the specification's error handling design.
const (
	MalformedEncoding Kind = "MalformedEncoding"
	InvalidSignature  Kind = "InvalidSignature"
	InvalidChainId    Kind = "InvalidChainId"
	InvalidProof      Kind = "InvalidProof"
	UnknownParent     Kind = "UnknownParent"
	DuplicateBlock    Kind = "DuplicateBlock"
	InvalidLevel      Kind = "InvalidLevel"
	QueueFull         Kind = "QueueFull"
	DbCorruption      Kind = "DbCorruption"
	VersionMismatch   Kind = "VersionMismatch"
	PeerMisbehavior   Kind = "PeerMisbehavior"
	Timeout           Kind = "Timeout"
	ConfigInvalid     Kind = "ConfigInvalid"
	StateMismatch     Kind = "StateMismatch"
)

// Error is a Kind paired with an underlying cause.
type Error struct {
	kind  Kind
	cause error
}

// New builds a bare Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{kind: kind, cause: fmt.Errorf(format, args...)}
}

// Wrap attaches kind to cause. If cause is nil, Wrap returns nil so callers
// can write `return errs.Wrap(errs.QueueFull, err)` without a nil check.
func Wrap(kind Kind, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{kind: kind, cause: cause}
}

// Kind reports the error's category.
func (e *Error) Kind() Kind { return e.kind }

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause == nil {
		return string(e.kind)
	}
	return string(e.kind) + ": " + e.cause.Error()
}

// Unwrap exposes the underlying cause for errors.Is/As/Unwrap.
func (e *Error) Unwrap() error { return e.cause }

// Is reports whether err carries the given Kind, looking through wrapped
// causes the standard way.
func Is(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			if e.kind == kind {
				return true
			}
			err = e.cause
			continue
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Fatal kinds abort the process at startup rather than being handled by a
// caller (spec §7).
func (k Kind) Fatal() bool {
	return k == DbCorruption || k == VersionMismatch
}
