package stream

import (
	"errors"
	"strings"
)

var (
	// ErrResolution means the room reference did not map to a room. Sessions
	// are never started without a resolved RoomID.
	ErrResolution = errors.New("room not resolved")

	// ErrTransport is a network or protocol failure during history fetch or
	// live feed setup.
	ErrTransport = errors.New("transport failure")

	// ErrStreamInterrupted is an abnormal end of the live feed after a
	// successful start (remote close, dropped connection).
	ErrStreamInterrupted = errors.New("stream interrupted")

	// ErrCancelled is returned by Start when cancellation was requested before
	// setup completed. A running Sequence never reports it: cancellation ends
	// the sequence with a nil error.
	ErrCancelled = errors.New("stream cancelled")

	// ErrInvalidLimit is returned for a non-positive history limit.
	ErrInvalidLimit = errors.New("history limit must be positive")

	// ErrSequenceGap means the live feed resumed past the next expected seq
	// and the missing messages could not be backfilled. A Sequence reports it
	// wrapped in ErrStreamInterrupted.
	ErrSequenceGap = errors.New("sequence gap")

	// ErrAlreadyStarted is returned when Start is called twice on one Session.
	ErrAlreadyStarted = errors.New("session already started")
)

// OpError is the typed error returned by engine operations.
//
// Kind is one of the sentinel errors above; Err, when set, is the underlying
// cause. Both match errors.Is.
type OpError struct {
	Op   string
	Kind error
	Room RoomID
	Err  error
}

func (e *OpError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.Room != "" {
		b.WriteString(" (room ")
		b.WriteString(string(e.Room))
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// IsResolution reports whether err represents ErrResolution.
func IsResolution(err error) bool { return errors.Is(err, ErrResolution) }

// IsTransport reports whether err represents ErrTransport.
func IsTransport(err error) bool { return errors.Is(err, ErrTransport) }

// IsInterrupted reports whether err represents ErrStreamInterrupted.
func IsInterrupted(err error) bool { return errors.Is(err, ErrStreamInterrupted) }

// IsCancelled reports whether err represents ErrCancelled.
func IsCancelled(err error) bool { return errors.Is(err, ErrCancelled) }

// Interrupted wraps a live feed failure as ErrStreamInterrupted unless it
// already is one. Feed implementations use it for remote closes.
func Interrupted(op string, room RoomID, cause error) error {
	if cause != nil && errors.Is(cause, ErrStreamInterrupted) {
		return cause
	}
	return &OpError{Op: op, Kind: ErrStreamInterrupted, Room: room, Err: cause}
}
