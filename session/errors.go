package session

import (
	"errors"
	"fmt"
)

// Sentinel errors for session failure classification.
// Use errors.Is(err, ErrXxx) for typed assertions.
var (
	// ErrProtocol indicates a message of the wrong kind for the current state.
	ErrProtocol = errors.New("protocol violation")

	// ErrSizeMismatch indicates a payload whose length differs from the
	// declared size, or a stream that ended before the declared size arrived.
	ErrSizeMismatch = errors.New("size mismatch")

	// ErrConnection indicates the peer closed or reset the connection
	// unexpectedly.
	ErrConnection = errors.New("connection error")

	// ErrFilesystem indicates a local read or write failure.
	ErrFilesystem = errors.New("filesystem error")

	// ErrReservedName wraps a batch file name the output location keeps
	// for itself, such as the catalog manifest. It surfaces as ErrProtocol.
	ErrReservedName = errors.New("reserved file name")
)

// Error is a classified session failure. It preserves the underlying error
// in the chain for inspection via errors.As.
type Error struct {
	// Kind is the sentinel error for classification (e.g., ErrProtocol).
	Kind error
	// State is the session state in which the failure happened.
	State State
	// Msg describes the failure.
	Msg string
	// Err is the underlying error, if any.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v in state %s: %s: %v", e.Kind, e.State, e.Msg, e.Err)
	}
	return fmt.Sprintf("%v in state %s: %s", e.Kind, e.State, e.Msg)
}

// Unwrap returns the underlying error for errors.Is/As chain traversal.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target sentinel.
func (e *Error) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

func newError(kind error, state State, err error, format string, args ...any) *Error {
	return &Error{
		Kind:  kind,
		State: state,
		Msg:   fmt.Sprintf(format, args...),
		Err:   err,
	}
}

// Reason returns a short, stable label for err, used for metrics and logs.
func Reason(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrProtocol):
		return "protocol"
	case errors.Is(err, ErrSizeMismatch):
		return "size_mismatch"
	case errors.Is(err, ErrConnection):
		return "connection"
	case errors.Is(err, ErrFilesystem):
		return "filesystem"
	default:
		return "other"
	}
}
