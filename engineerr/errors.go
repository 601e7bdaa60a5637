// Package engineerr implements the engine-wide error taxonomy: a fixed
// enumeration of kinds, never a bare string, carried in a typed Result
// across every component boundary.
package engineerr

import (
	"errors"
	"fmt"
)

// Kind enumerates the error taxonomy. Never compare on error strings;
// switch on Kind (or use errors.As to recover *Error and read Kind).
type Kind int

const (
	// InvalidArgument: configuration out of range. Fatal at construction.
	InvalidArgument Kind = iota
	// InvalidData: a bar/field failed validation. Skip, surface, no mutation.
	InvalidData
	// NotInitialized: operation attempted before initialize(). Fatal.
	NotInitialized
	// StrategyError: signal or sizing computation failed.
	StrategyError
	// InvalidStateTransition: illegal state-machine edge.
	InvalidStateTransition
	// RiskLimitExceeded: proposed positions violate limits.
	RiskLimitExceeded
	// DatabaseError: persistence layer failure.
	DatabaseError
	// FileIoError: export/persistence to file failed.
	FileIoError
	// Network: live broker transport failure.
	Network
	// NotConnected: DB/broker used before connect. Fatal at call site.
	NotConnected
	// UnknownInstrument: symbol missing from registry. Fatal at execution time.
	UnknownInstrument
	// ConvergenceFailure: optimizer did not converge; last iterate used.
	ConvergenceFailure
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "InvalidArgument"
	case InvalidData:
		return "InvalidData"
	case NotInitialized:
		return "NotInitialized"
	case StrategyError:
		return "StrategyError"
	case InvalidStateTransition:
		return "InvalidStateTransition"
	case RiskLimitExceeded:
		return "RiskLimitExceeded"
	case DatabaseError:
		return "DatabaseError"
	case FileIoError:
		return "FileIoError"
	case Network:
		return "Network"
	case NotConnected:
		return "NotConnected"
	case UnknownInstrument:
		return "UnknownInstrument"
	case ConvergenceFailure:
		return "ConvergenceFailure"
	default:
		return "Unknown"
	}
}

// Error is the typed Result carried across component boundaries: kind,
// message, the component that raised it, and an optional wrapped cause.
type Error struct {
	Kind      Kind
	Component string
	Message   string
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s[%s]: %s: %v", e.Kind, e.Component, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s[%s]: %s", e.Kind, e.Component, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// IsRetryable distinguishes the errors worth retrying with backoff: only
// transport and persistence failures qualify.
func (e *Error) IsRetryable() bool {
	return e.Kind == Network || e.Kind == DatabaseError
}

// New constructs a component error with no wrapped cause.
func New(kind Kind, component, message string) *Error {
	return &Error{Kind: kind, Component: component, Message: message}
}

// Wrap constructs a component error wrapping an underlying cause.
func Wrap(kind Kind, component, message string, cause error) *Error {
	return &Error{Kind: kind, Component: component, Message: message, Cause: cause}
}

// KindOf extracts the Kind from err, or false if err is not (or does not
// wrap) an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// Is reports whether err is (or wraps) an *Error of the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
