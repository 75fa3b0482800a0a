package guestloop

import (
	"sync/atomic"
)

// WakeSignal is a level-triggered, idempotent "poke me" primitive.
//
// Trigger may be called from any code path reachable from the host loop,
// including injected code, without precondition; repeated triggers before
// the signal is observed coalesce into one pending wake. Unlike the rest of
// the package, Trigger is additionally safe to call from any goroutine.
//
// A WakeSignal is observable two ways:
//
//   - as a pollable readiness source: the descriptor returned by
//     [WakeSignal.ReadHandle] becomes readable while a wake is pending, so
//     an otherwise-indefinite poll is interrupted;
//   - through a notifier hook ([WakeSignal.SetNotifier]) invoked once per
//     pending-wake transition, which [Embed] uses to arm an immediate
//     host-loop callback.
//
// Consume clears the pending state and must be called once per observation,
// before the next wait budget is computed; [Scheduler.Step] does this at the
// start of every poll evaluation, which closes the missed-wake race (a
// trigger arriving after the check but before re-arming still causes an
// immediate re-check).
type WakeSignal struct {
	notifier atomic.Pointer[func()]
	pending  atomic.Uint32
	readFD   int
	writeFD  int
	buf      [8]byte
}

// NewWakeSignal creates a wake signal backed by an eventfd (Linux) or a
// non-blocking self-pipe (Darwin).
func NewWakeSignal() (*WakeSignal, error) {
	readFD, writeFD, err := createWakeFd(0, wakeFdCloexec|wakeFdNonblock)
	if err != nil {
		return nil, err
	}
	return &WakeSignal{readFD: readFD, writeFD: writeFD}, nil
}

// Trigger records a pending wake and pokes both observation channels.
//
// Repeated calls before the next Consume coalesce: the descriptor is written
// and the notifier invoked at most once per pending-wake transition.
func (w *WakeSignal) Trigger() {
	if !w.pending.CompareAndSwap(0, 1) {
		return
	}
	// Write errors (EBADF/EPIPE after Close, EAGAIN on a full pipe) are not
	// actionable; the pending flag alone is sufficient for same-thread
	// observers.
	var buf [8]byte
	buf[0] = 1
	_, _ = writeFD(w.writeFD, buf[:])
	if fn := w.notifier.Load(); fn != nil {
		(*fn)()
	}
}

// Consume drains the descriptor and clears the pending state, returning
// whether a wake was pending.
func (w *WakeSignal) Consume() bool {
	for {
		if _, err := readFD(w.readFD, w.buf[:]); err != nil {
			break
		}
	}
	return w.pending.Swap(0) == 1
}

// Pending reports whether a wake is pending without consuming it.
func (w *WakeSignal) Pending() bool {
	return w.pending.Load() == 1
}

// SetNotifier installs fn to be invoked on each pending-wake transition.
// Pass nil to remove the notifier. The previous notifier, if any, may still
// be invoked by a trigger already in flight.
func (w *WakeSignal) SetNotifier(fn func()) {
	if fn == nil {
		w.notifier.Store(nil)
		return
	}
	w.notifier.Store(&fn)
}

// ReadHandle returns the readable descriptor to register as a readiness
// source. It is readable while a wake is pending.
func (w *WakeSignal) ReadHandle() IOHandle {
	return IOHandle(w.readFD)
}

// Close releases the underlying descriptors.
func (w *WakeSignal) Close() error {
	err := closeFD(w.readFD)
	if w.writeFD != w.readFD {
		if err2 := closeFD(w.writeFD); err == nil {
			err = err2
		}
	}
	return err
}
