package guestloop

import "time"

// HostLoop is the registration surface a foreign event loop must expose for
// a scheduler to be embedded in it. Implementations wrap a toolkit loop's
// native primitives; [SchedulerHost] adapts a [Scheduler] itself.
//
// All callbacks registered through a HostLoop are delivered on the host
// loop's thread, which is the scheduler's single logical thread of control.
// ScheduleTimer must additionally be callable from any goroutine: the wake
// notifier uses it to convert a thread-agnostic trigger into a host-loop
// notification.
type HostLoop interface {
	// ScheduleTimer arms a one-shot timer invoking fn after delay. A zero
	// delay requests an immediate callback on the next loop iteration.
	ScheduleTimer(delay time.Duration, fn func()) (HostTimer, error)

	// RegisterReady arms a readiness notifier: fn is invoked (repeatedly,
	// level-triggered) while the handle is ready for any event in the
	// interest mask.
	RegisterReady(handle IOHandle, events IOEvents, fn func(IOEvents)) (HostWatch, error)

	// NewRun returns a new blocking "run until stopped" invocation of the
	// host loop. Invocations are re-entrant: a run may be started while
	// another is on the call stack of the same thread, and each is
	// independently stoppable.
	NewRun() (HostRun, error)
}

// HostTimer is a cancellable one-shot host-loop timer registration.
type HostTimer interface {
	// Cancel deregisters the timer. Cancelling a timer that has already
	// fired is a no-op.
	Cancel()
}

// HostWatch is a cancellable host-loop readiness registration.
type HostWatch interface {
	// Close deregisters the readiness notifier.
	Close() error
}

// HostRun is one blocking invocation of a host loop.
type HostRun interface {
	// Exec runs the loop on the calling goroutine until Exit is called,
	// returning the value passed to Exit. If Exit was called before Exec,
	// Exec returns immediately.
	Exec() error

	// Exit terminates Exec with err after the callback currently being
	// dispatched (if any) returns.
	Exit(err error)
}
