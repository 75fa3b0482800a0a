package guestloop

import "time"

// IOHandle identifies an abstract I/O handle. On Unix platforms it is a file
// descriptor.
type IOHandle int

// IOEvents is an interest/readiness bitmask for I/O registrations.
type IOEvents uint32

const (
	// EventRead indicates interest in, or readiness for, reading.
	EventRead IOEvents = 1 << iota
	// EventWrite indicates interest in, or readiness for, writing.
	EventWrite
)

// String returns a human-readable representation of the event mask.
func (e IOEvents) String() string {
	switch e & (EventRead | EventWrite) {
	case EventRead:
		return "read"
	case EventWrite:
		return "write"
	case EventRead | EventWrite:
		return "read|write"
	default:
		return "none"
	}
}

// PollRequest describes one registration to poll for readiness.
type PollRequest struct {
	Handle IOHandle
	Events IOEvents
}

// PollResult reports readiness for one polled handle.
type PollResult struct {
	Handle IOHandle
	Events IOEvents
}

// Selector polls a set of registrations for readiness.
//
// A Selector holds no registration state of its own; the scheduler owns its
// registrations and passes the current set on every poll. Poll blocks for at
// most timeout: a zero timeout returns immediately, a negative timeout
// blocks indefinitely (until some handle is ready). Implementations are
// called only from the scheduler's thread.
//
// An error returned by Poll is a structural fault: it is fatal to the
// current [Scheduler.Step] call and propagates to the caller wrapped in
// [PollError].
type Selector interface {
	Poll(reqs []PollRequest, timeout time.Duration) ([]PollResult, error)
}
