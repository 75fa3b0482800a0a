package guestloop

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/joeycumines/logiface"
)

// Embedding drives a [Scheduler] to completion using only a [HostLoop]'s
// non-blocking registration primitives; the scheduler's blocking wait is
// never used. It is created by [Embed].
//
// Every host-loop notification runs one cycle: perform exactly one
// [Scheduler.Step], then, unless the stop flag was set, recompute the wait —
// an immediate (zero-delay) host callback if the ready queue is non-empty or
// a wake is pending, else a one-shot host timer for the earliest timer
// deadline (none if no timers) — and refresh host readiness notifiers for
// every current selector registration and for the wake signal's own
// readiness source.
//
// Code the host loop executes between one cycle's re-arming and the next
// notification is injected code: it is absorbed safely because any guarded
// mutator it calls triggers the wake signal, whose notifier arms an
// immediate cycle — logically equivalent to the scheduler receiving a
// thread-safe external wake.
type Embedding struct {
	sched  *Scheduler
	host   HostLoop
	logger *logiface.Logger[logiface.Event]

	deadlineTimer HostTimer
	wakeWatch     HostWatch
	watches       map[IOHandle]*embedWatch

	pumpArmed atomic.Bool
	finished  bool
	err       error
	done      chan struct{}
}

// embedWatch pairs a host readiness registration with the interest mask it
// was armed for, so mask changes re-register.
type embedWatch struct {
	watch  HostWatch
	events IOEvents
}

// Embed starts driving sched inside host and returns the embedding handle.
// The handle's [Embedding.Stop] and [Embedding.Wait] close the embedding;
// a structural fault that stops the embedding is reported through
// [Embedding.Err], never silently.
//
// The scheduler must not be otherwise driven while embedded: a concurrent
// blocking run or second embedding returns [ErrAlreadyEmbedded].
func Embed(sched *Scheduler, host HostLoop, opts ...EmbedOption) (*Embedding, error) {
	cfg, err := resolveEmbedOptions(opts)
	if err != nil {
		return nil, err
	}
	if sched.closed {
		return nil, ErrSchedulerClosed
	}
	if sched.embedded || sched.runDepth > 0 {
		return nil, ErrAlreadyEmbedded
	}

	e := &Embedding{
		sched:   sched,
		host:    host,
		logger:  cfg.logger,
		watches: make(map[IOHandle]*embedWatch),
		done:    make(chan struct{}),
	}
	if e.logger == nil {
		e.logger = sched.logger
	}

	// The wake signal is observed both ways: as a host readiness source (so
	// an otherwise-idle host notices a pending wake) and through the
	// notifier hook (so a trigger arms an immediate cycle without waiting
	// for the host to poll).
	wakeWatch, err := host.RegisterReady(sched.wake.ReadHandle(), EventRead, func(IOEvents) {
		e.pump()
	})
	if err != nil {
		return nil, err
	}
	e.wakeWatch = wakeWatch

	sched.embedded = true
	sched.nonBlockingPoll = true
	sched.wake.SetNotifier(e.requestPump)

	e.logger.Debug().Log("guestloop: embedding started")

	// Schedule the initial step.
	e.requestPump()
	return e, nil
}

// requestPump arms an immediate host callback for the next cycle, coalescing
// concurrent requests. Safe from any goroutine (via the wake notifier).
func (e *Embedding) requestPump() {
	if !e.pumpArmed.CompareAndSwap(false, true) {
		return
	}
	if _, err := e.host.ScheduleTimer(0, func() {
		e.pumpArmed.Store(false)
		e.pump()
	}); err != nil {
		e.pumpArmed.Store(false)
		e.fail(err)
	}
}

// pump runs one embedding cycle on the host thread.
func (e *Embedding) pump() {
	if e.finished {
		return
	}

	// The deadline timer armed last cycle is stale either way: if it fired
	// we are here because of it, and if something else woke us the wait is
	// about to be recomputed.
	if e.deadlineTimer != nil {
		e.deadlineTimer.Cancel()
		e.deadlineTimer = nil
	}

	if err := e.sched.Step(); err != nil {
		// A stop that arrived between cycles (injected code) surfaces as
		// ErrSchedulerStopped before the step begins; that is a clean halt,
		// not a structural fault.
		if errors.Is(err, ErrSchedulerStopped) {
			e.complete(nil)
		} else {
			e.fail(err)
		}
		return
	}
	if e.sched.Stopping() {
		e.complete(nil)
		return
	}
	e.rearm()
}

// rearm recomputes the delegated wait after a step.
func (e *Embedding) rearm() {
	if e.sched.readyLen() > 0 || e.sched.wake.Pending() {
		e.requestPump()
	} else if when, ok := e.sched.nextDeadline(); ok {
		delay := when.Sub(e.sched.clock())
		if delay < 0 {
			delay = 0
		}
		t, err := e.host.ScheduleTimer(delay, e.pump)
		if err != nil {
			e.fail(err)
			return
		}
		e.deadlineTimer = t
	}
	e.syncWatches()
}

// syncWatches reconciles host readiness notifiers with the scheduler's
// current selector registrations.
func (e *Embedding) syncWatches() {
	for handle, w := range e.watches {
		if reg, ok := e.sched.ios[handle]; !ok || reg.events != w.events {
			_ = w.watch.Close()
			delete(e.watches, handle)
		}
	}
	for handle, reg := range e.sched.ios {
		if _, ok := e.watches[handle]; ok {
			continue
		}
		watch, err := e.host.RegisterReady(handle, reg.events, func(IOEvents) {
			e.pump()
		})
		if err != nil {
			e.fail(err)
			return
		}
		e.watches[handle] = &embedWatch{watch: watch, events: reg.events}
	}
}

// fail terminates the embedding with a structural fault.
func (e *Embedding) fail(err error) {
	e.logger.Err().Err(err).Log("guestloop: embedding terminated by fault")
	e.complete(err)
}

// complete tears the embedding down: all host-loop notifiers are
// deregistered, nothing is re-armed, and completion is signalled.
func (e *Embedding) complete(err error) {
	if e.finished {
		return
	}
	e.finished = true
	e.err = err

	e.sched.wake.SetNotifier(nil)
	if e.deadlineTimer != nil {
		e.deadlineTimer.Cancel()
		e.deadlineTimer = nil
	}
	_ = e.wakeWatch.Close()
	for handle, w := range e.watches {
		_ = w.watch.Close()
		delete(e.watches, handle)
	}
	e.sched.nonBlockingPoll = false
	e.sched.embedded = false

	e.logger.Debug().Log("guestloop: embedding completed")
	close(e.done)
}

// Stop requests the embedded scheduler to stop. The embedding observes the
// stop within one notification cycle and completes; wait for completion via
// [Embedding.Wait] or [Embedding.Done].
func (e *Embedding) Stop() {
	e.sched.Stop()
}

// Done is closed once the embedding has completed and all host-loop
// notifiers are deregistered.
func (e *Embedding) Done() <-chan struct{} {
	return e.done
}

// Err returns the structural fault that terminated the embedding, or nil
// for a clean stop. Valid once [Embedding.Done] is closed.
func (e *Embedding) Err() error {
	return e.err
}

// Wait blocks until the embedding completes or ctx expires, returning the
// embedding's error (as [Embedding.Err]) or the context's.
func (e *Embedding) Wait(ctx context.Context) error {
	select {
	case <-e.done:
		return e.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
