package guestloop

import (
	"errors"
	"fmt"
)

// Standard errors.
var (
	// ErrSchedulerClosed is returned when operations are attempted on a
	// scheduler whose resources have been released via [Scheduler.Close].
	ErrSchedulerClosed = errors.New("guestloop: scheduler is closed")

	// ErrSchedulerStopped is returned by [Scheduler.Step] and [Scheduler.Run]
	// once the stop flag has been observed; no further steps may be performed.
	ErrSchedulerStopped = errors.New("guestloop: scheduler is stopped")

	// ErrReentrantStep is returned when Step is invoked while another Step on
	// the same scheduler is still on the call stack. This indicates a
	// collaborator bug: the embedding contract forbids nested steps.
	ErrReentrantStep = errors.New("guestloop: nested Step on the same scheduler")

	// ErrAlreadyEmbedded is returned by [Embed] when the scheduler is already
	// being driven by another adapter or by its own blocking run.
	ErrAlreadyEmbedded = errors.New("guestloop: scheduler is already embedded")

	// ErrWaitCancelled is carried by the [Outcome] of a wait that was
	// cancelled before the event was delivered.
	ErrWaitCancelled = errors.New("guestloop: wait cancelled")

	// ErrWaitPending is returned by [Task.BeginWait] while the task already
	// has a pending wait; a task awaits at most one event at a time.
	ErrWaitPending = errors.New("guestloop: task already has a pending wait")

	// ErrRunExited is carried by the [Outcome] of [RunUntil] when the nested
	// host-loop invocation terminated before the event source fired, for
	// example because an enclosing run was stopped.
	ErrRunExited = errors.New("guestloop: host run exited before event delivery")
)

// CallbackError wraps a panic raised by a ready-queue or timer callback.
//
// Callback faults are reported to the scheduler's fault handler (see
// [WithFaultHandler]) and never abort the remaining callbacks of the same
// step, nor propagate out of [Scheduler.Step].
type CallbackError struct {
	// Value is the recovered panic value.
	Value any
}

// Error implements the error interface.
func (e CallbackError) Error() string {
	return fmt.Sprintf("guestloop: callback panicked: %v", e.Value)
}

// Unwrap returns the underlying error if the panic value is an error type,
// enabling use with [errors.Is] and [errors.As] through the cause chain.
// Returns nil if the panic value is not an error.
func (e CallbackError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// PollError wraps a fault reported by the selector during the polling phase
// of a step. Poll faults are fatal to the current [Scheduler.Step] call and
// propagate to the caller; an embedding that stops due to one reports it via
// [Embedding.Err].
type PollError struct {
	Cause error
}

// Error implements the error interface.
func (e *PollError) Error() string {
	return fmt.Sprintf("guestloop: poll failed: %v", e.Cause)
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *PollError) Unwrap() error {
	return e.Cause
}
