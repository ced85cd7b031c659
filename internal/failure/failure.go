// Package failure classifies the user-visible ways a capture attempt can
// fail. None of the kinds is fatal to the process; every one leaves the
// controller Idle and re-triggerable.
package failure

import (
	"errors"
	"fmt"
)

// Kind is the category of a capture failure
type Kind int

const (
	// Unknown is returned by KindOf for errors outside the taxonomy
	Unknown Kind = iota
	// PermissionDenied means the host refused screen capture authorization
	PermissionDenied
	// TargetNotRunning means no running process matched the target identity
	TargetNotRunning
	// WindowNotFound means the selection did not overlap a matching window
	WindowNotFound
	// StreamStartFailure means the stream facility rejected the configuration
	StreamStartFailure
	// StreamTerminated means an active stream ended on its own
	StreamTerminated
)

// String returns the wire name used in API responses and events
func (k Kind) String() string {
	switch k {
	case PermissionDenied:
		return "permission_denied"
	case TargetNotRunning:
		return "target_not_running"
	case WindowNotFound:
		return "window_not_found"
	case StreamStartFailure:
		return "stream_start_failure"
	case StreamTerminated:
		return "stream_terminated"
	default:
		return "unknown"
	}
}

// Guidance returns a short, user-actionable message for the kind
func (k Kind) Guidance() string {
	switch k {
	case PermissionDenied:
		return "Screen capture is not permitted. Allow screen sharing for RegionPiP in your desktop's privacy settings (or start an X11 session with the Composite extension) and try again."
	case TargetNotRunning:
		return "The target application is not running. Launch it and try again."
	case WindowNotFound:
		return "The selected region does not overlap a window of the target application. Select a region over one of its windows."
	case StreamStartFailure:
		return "The capture stream could not be started."
	case StreamTerminated:
		return "Capture stopped because the source window went away."
	default:
		return "Capture failed."
	}
}

// Error is a classified failure. Op names the step that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with a kind and operation name
func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unknown
}

// Is reports whether err carries the given kind
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
