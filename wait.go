package guestloop

import "errors"

// Outcome is the explicit result of a wait: a delivered value, or an error
// variant for cancellation and structural failures. Stop and cancellation
// are carried as values and checked at resumption points; they are never
// thrown across suspended frames.
type Outcome struct {
	// Value is the value delivered by the event source.
	Value any
	// Err is non-nil if the wait did not complete with a delivered value.
	Err error
}

// Cancelled reports whether the wait was cancelled before delivery.
func (o Outcome) Cancelled() bool {
	return errors.Is(o.Err, ErrWaitCancelled)
}

// EventSource is a host-delivered event, e.g. a UI signal, exposing
// single-shot callback connect semantics: the callback fires at most once
// per connection unless reconnected.
type EventSource interface {
	// Connect registers fn to be invoked with the event's value when the
	// host-delivered condition next occurs.
	Connect(fn func(value any)) (Connection, error)
}

// Connection is the token for one EventSource connection.
type Connection interface {
	// Disconnect removes the connection. A disconnect requested strictly
	// before firing, on the same thread, is guaranteed effective; after
	// firing it is a no-op.
	Disconnect()
}

const (
	waitStateWaiting uint8 = iota
	waitStateSignaled
	waitStateConsumed
)

// WaitHandle tracks one pending wait through its lifecycle:
// WAITING → SIGNALED (exactly once; duplicate or late firings are no-ops)
// → CONSUMED (at most once; consuming twice is a programming error and
// panics).
//
// Cancellation and delivery race only by same-thread call order, and the
// first transition wins: a cancel after the handle is signaled is a no-op
// (the delivered result stands), and a late fire after a winning cancel is
// discarded — the event-source side keeps its simple fire-once contract,
// with no rollback.
type WaitHandle struct {
	out      Outcome
	onSignal func()
	conn     Connection
	state    uint8
}

func newWaitHandle() *WaitHandle {
	return &WaitHandle{}
}

// signal performs the WAITING→SIGNALED transition, recording the outcome
// and notifying the waiter. It reports whether this call won the
// transition; duplicate signals are no-ops.
func (w *WaitHandle) signal(out Outcome) bool {
	if w.state != waitStateWaiting {
		return false
	}
	w.state = waitStateSignaled
	w.out = out
	if w.onSignal != nil {
		w.onSignal()
	}
	return true
}

// consume performs the SIGNALED→CONSUMED transition and returns the
// outcome. Consuming an unsignaled or already-consumed handle panics.
func (w *WaitHandle) consume() Outcome {
	if w.state != waitStateSignaled {
		panic("guestloop: wait result consumed more than once")
	}
	w.state = waitStateConsumed
	out := w.out
	w.out = Outcome{}
	return out
}

// Signaled reports whether the event (or a cancellation) has been
// delivered.
func (w *WaitHandle) Signaled() bool {
	return w.state != waitStateWaiting
}

// Cancel cancels a pending wait: the event-source connection is
// disconnected (when the source supports it) and the waiter resumes with a
// [ErrWaitCancelled] outcome. Cancel reports whether it won; if the event
// already fired, cancellation loses and Cancel is a no-op.
func (w *WaitHandle) Cancel() bool {
	if w.state != waitStateWaiting {
		return false
	}
	if w.conn != nil {
		w.conn.Disconnect()
		w.conn = nil
	}
	return w.signal(Outcome{Err: ErrWaitCancelled})
}

// RunUntil waits for source to fire by starting a nested blocking
// invocation of the host loop and driving it until delivery, then
// terminating that invocation and returning the delivered value.
//
// It is the form of awaiting used by a top-level synchronous caller, when
// no loop is currently driving execution; a scheduler task uses
// [Task.AwaitEvent] instead. Nesting is safe: host-loop invocations may be
// started while another invocation is already on the call stack of the same
// thread, and exiting the nested invocation does not disturb enclosing
// ones.
//
// If the nested invocation terminates before the source fires (an enclosing
// run was stopped, or the host run fails), the wait is cancelled and the
// outcome carries [ErrRunExited] or the run's error.
func RunUntil(host HostLoop, source EventSource) Outcome {
	run, err := host.NewRun()
	if err != nil {
		return Outcome{Err: err}
	}

	w := newWaitHandle()
	w.onSignal = func() {
		run.Exit(nil)
	}
	conn, err := source.Connect(func(v any) {
		w.signal(Outcome{Value: v})
	})
	if err != nil {
		return Outcome{Err: err}
	}
	w.conn = conn

	if err := run.Exec(); err != nil {
		w.Cancel()
		_ = w.consume()
		return Outcome{Err: err}
	}
	if !w.Signaled() {
		// The run was exited externally before delivery.
		w.conn.Disconnect()
		w.signal(Outcome{Err: ErrRunExited})
	}
	return w.consume()
}
