package guestloop

import (
	"sort"
	"sync"
	"time"
)

// testHost is a miniature reactor-style host loop for exercising embeddings.
// It supports one-shot timers with real delays, manually-fired readiness
// notifiers (tests simulate the host's fd polling via fireReady), and
// re-entrant, independently stoppable blocking runs.
//
// ScheduleTimer, fireReady, and HostRun.Exit are safe from any goroutine;
// all callbacks are dispatched on the goroutine blocked in Exec.
type testHost struct {
	mu      sync.Mutex
	wakeCh  chan struct{}
	timers  []*testHostTimer
	watches []*testHostWatch
	seq     uint64
}

func newTestHost() *testHost {
	return &testHost{wakeCh: make(chan struct{}, 1)}
}

func (h *testHost) poke() {
	select {
	case h.wakeCh <- struct{}{}:
	default:
	}
}

func (h *testHost) ScheduleTimer(delay time.Duration, fn func()) (HostTimer, error) {
	h.mu.Lock()
	h.seq++
	t := &testHostTimer{h: h, when: time.Now().Add(delay), fn: fn, seq: h.seq}
	h.timers = append(h.timers, t)
	h.mu.Unlock()
	h.poke()
	return t, nil
}

func (h *testHost) RegisterReady(handle IOHandle, events IOEvents, fn func(IOEvents)) (HostWatch, error) {
	h.mu.Lock()
	w := &testHostWatch{h: h, handle: handle, events: events, fn: fn}
	h.watches = append(h.watches, w)
	h.mu.Unlock()
	return w, nil
}

func (h *testHost) NewRun() (HostRun, error) {
	return &testHostRun{h: h}, nil
}

// fireReady simulates the host loop detecting readiness on a watched handle.
func (h *testHost) fireReady(handle IOHandle, events IOEvents) {
	h.mu.Lock()
	for _, w := range h.watches {
		if !w.closed && w.handle == handle && w.events&events != 0 {
			w.pending |= events & w.events
		}
	}
	h.mu.Unlock()
	h.poke()
}

// takeDue removes and returns all callbacks ready to dispatch: expired
// timers in (deadline, insertion) order, then pending watch firings.
func (h *testHost) takeDue(now time.Time) []func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	var dueTimers []*testHostTimer
	kept := h.timers[:0]
	for _, t := range h.timers {
		switch {
		case t.cancelled:
		case !t.when.After(now):
			dueTimers = append(dueTimers, t)
		default:
			kept = append(kept, t)
		}
	}
	h.timers = kept
	sort.Slice(dueTimers, func(i, j int) bool {
		if !dueTimers[i].when.Equal(dueTimers[j].when) {
			return dueTimers[i].when.Before(dueTimers[j].when)
		}
		return dueTimers[i].seq < dueTimers[j].seq
	})

	var due []func()
	for _, t := range dueTimers {
		due = append(due, t.fn)
	}
	for _, w := range h.watches {
		if w.closed || w.pending == 0 {
			continue
		}
		w := w
		events := w.pending
		w.pending = 0
		due = append(due, func() { w.fn(events) })
	}
	return due
}

// nextDeadline returns the earliest pending timer deadline, if any.
func (h *testHost) nextDeadline() (time.Time, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var when time.Time
	for _, t := range h.timers {
		if t.cancelled {
			continue
		}
		if when.IsZero() || t.when.Before(when) {
			when = t.when
		}
	}
	return when, !when.IsZero()
}

type testHostTimer struct {
	h         *testHost
	fn        func()
	when      time.Time
	seq       uint64
	cancelled bool
}

func (t *testHostTimer) Cancel() {
	t.h.mu.Lock()
	t.cancelled = true
	t.h.mu.Unlock()
}

type testHostWatch struct {
	h       *testHost
	fn      func(IOEvents)
	handle  IOHandle
	events  IOEvents
	pending IOEvents
	closed  bool
}

func (w *testHostWatch) Close() error {
	w.h.mu.Lock()
	w.closed = true
	w.h.mu.Unlock()
	return nil
}

type testHostRun struct {
	h      *testHost
	mu     sync.Mutex
	err    error
	exited bool
}

func (r *testHostRun) Exec() error {
	for {
		r.mu.Lock()
		exited, err := r.exited, r.err
		r.mu.Unlock()
		if exited {
			return err
		}

		if due := r.h.takeDue(time.Now()); len(due) > 0 {
			for _, fn := range due {
				fn()
			}
			continue
		}

		if when, ok := r.h.nextDeadline(); ok {
			delay := time.Until(when)
			if delay <= 0 {
				continue
			}
			select {
			case <-r.h.wakeCh:
			case <-time.After(delay):
			}
		} else {
			<-r.h.wakeCh
		}
	}
}

func (r *testHostRun) Exit(err error) {
	r.mu.Lock()
	if !r.exited {
		r.err = err
		r.exited = true
	}
	r.mu.Unlock()
	r.h.poke()
}
