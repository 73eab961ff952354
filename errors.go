package syncengine

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by emits attempted while the channel is down.
	// The event is dropped, never queued.
	ErrNotConnected = errors.New("channel not connected")

	// ErrOutboundFull is returned when the writer cannot keep up with emits.
	ErrOutboundFull = errors.New("outbound buffer full")

	// ErrChannelClosed is returned by Open after Close.
	ErrChannelClosed = errors.New("channel closed")

	// ErrSessionClosed is returned by session operations after Close.
	ErrSessionClosed = errors.New("session closed")

	// ErrUnknownEvent is returned when decoding an event name outside the
	// inbound set.
	ErrUnknownEvent = errors.New("unknown event")

	// ErrUnknownConversation is returned for operations on a conversation the
	// store does not hold.
	ErrUnknownConversation = errors.New("unknown conversation")

	// ErrQueryTooShort is the hint reported for one-character searches.
	ErrQueryTooShort = errors.New("type at least 2 characters to search")
)

// TransportError describes a connect or reconnect failure. It is surfaced as
// connection state and never aborts the caller.
type TransportError struct {
	Op      string
	Attempt int
	Err     error
}

func (e *TransportError) Error() string {
	if e.Attempt > 0 {
		return fmt.Sprintf("transport %s (attempt %d): %v", e.Op, e.Attempt, e.Err)
	}
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// SnapshotFetchError describes a failed REST snapshot. The affected store keeps
// its previous state.
type SnapshotFetchError struct {
	Resource string
	Err      error
}

func (e *SnapshotFetchError) Error() string {
	return fmt.Sprintf("fetch %s snapshot: %v", e.Resource, e.Err)
}

func (e *SnapshotFetchError) Unwrap() error { return e.Err }

// ValidationError is returned for input rejected before any network call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Reason
}

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
