package guestloop

import "time"

// SchedulerHost presents a [Scheduler] as a [HostLoop]: its timer queue
// provides one-shot timers, its selector registrations provide readiness
// notifiers, and its nested run frames provide re-entrant blocking
// invocations. This lets one scheduler host another (the outer scheduler's
// blocking run plays the part of the foreign loop), and gives [RunUntil] a
// host to drive when the caller owns a scheduler rather than a toolkit
// loop.
//
// Unlike toolkit loops with thread-safe registration (for which cross-
// thread wake triggers are delegated via ScheduleTimer), a SchedulerHost's
// registration surface is single-threaded: use it when guest and host share
// one thread, which is the embedding model anyway.
//
// Runs from [SchedulerHost.NewRun] nest only from outside a step: toolkit
// loops re-dispatch from within callbacks, but a scheduler never nests
// steps, so executing a run inside a ready-queue callback fails with
// [ErrReentrantStep]. In particular [RunUntil] over a SchedulerHost is for
// top-level or injected code; task code awaits with [Task.AwaitEvent].
type SchedulerHost struct {
	s *Scheduler
}

// NewSchedulerHost wraps s as a [HostLoop].
func NewSchedulerHost(s *Scheduler) *SchedulerHost {
	return &SchedulerHost{s: s}
}

// ScheduleTimer implements [HostLoop] via [Scheduler.CallAfter].
func (h *SchedulerHost) ScheduleTimer(delay time.Duration, fn func()) (HostTimer, error) {
	timer, err := h.s.CallAfter(delay, fn)
	if err != nil {
		return nil, err
	}
	return schedulerHostTimer{timer}, nil
}

// RegisterReady implements [HostLoop] via [Scheduler.RegisterIO].
func (h *SchedulerHost) RegisterReady(handle IOHandle, events IOEvents, fn func(IOEvents)) (HostWatch, error) {
	if err := h.s.RegisterIO(handle, events, fn); err != nil {
		return nil, err
	}
	return &schedulerHostWatch{s: h.s, handle: handle}, nil
}

// NewRun implements [HostLoop] via [Scheduler.NewRun].
func (h *SchedulerHost) NewRun() (HostRun, error) {
	return h.s.NewRun()
}

// schedulerHostTimer adapts a [TimerHandle] to [HostTimer].
type schedulerHostTimer struct {
	timer TimerHandle
}

func (t schedulerHostTimer) Cancel() {
	t.timer.Cancel()
}

// schedulerHostWatch adapts an I/O registration to [HostWatch].
type schedulerHostWatch struct {
	s      *Scheduler
	handle IOHandle
	closed bool
}

func (w *schedulerHostWatch) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.s.UnregisterIO(w.handle)
}
