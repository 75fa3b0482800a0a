package guestloop

import (
	"container/heap"
	"log"
	"time"

	"github.com/joeycumines/logiface"
)

// Scheduler is the cooperative reactor core: a FIFO ready queue, a timer
// heap ordered by (deadline, insertion sequence), I/O readiness
// registrations, and a stop flag, advanced one reactor iteration at a time
// by [Scheduler.Step].
//
// All state is owned by a single logical thread. The only sanctioned
// mutation surface is the guarded mutators [Scheduler.CallSoon],
// [Scheduler.CallAt] (and its [Scheduler.CallAfter] convenience),
// [Scheduler.RegisterIO] (with [Scheduler.UnregisterIO]), and
// [Scheduler.Stop]; a guarded mutation arriving from outside a step —
// injected code — triggers the scheduler's [WakeSignal] so the embedding
// re-evaluates its wait.
//
// A Scheduler can be driven three ways:
//   - [Scheduler.Run]: a blocking run on the current goroutine, stepping
//     until stopped. Runs nest: each [Scheduler.NewRun] frame is
//     independently stoppable.
//   - [Embed]: hosted inside a foreign [HostLoop], which then owns all
//     blocking waits.
//   - [Scheduler.Step]: manual single-step, mainly for tests.
type Scheduler struct {
	guard    mutationGuard
	wake     *WakeSignal
	selector Selector
	clock    func() time.Time

	ready    []func()
	readyBuf []func()

	timers   timerHeap
	timerSeq uint64

	ios      map[IOHandle]*ioRegistration
	pollReqs []PollRequest

	stopping bool
	closed   bool
	embedded bool
	runDepth int

	// nonBlockingPoll forces a zero poll budget; set while embedded, where
	// the host loop owns all waiting.
	nonBlockingPoll bool

	faultHandler func(error)
	logger       *logiface.Logger[logiface.Event]
}

// ioRegistration is one selector registration: an abstract handle, the
// interest mask, and the readiness callback.
type ioRegistration struct {
	fn     func(IOEvents)
	handle IOHandle
	events IOEvents
}

// New creates a scheduler. The returned scheduler holds OS resources (the
// wake signal's descriptors) and must be released with [Scheduler.Close].
func New(opts ...SchedulerOption) (*Scheduler, error) {
	cfg, err := resolveSchedulerOptions(opts)
	if err != nil {
		return nil, err
	}

	wake, err := NewWakeSignal()
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		wake:         wake,
		selector:     cfg.selector,
		clock:        cfg.clock,
		ios:          make(map[IOHandle]*ioRegistration),
		faultHandler: cfg.faultHandler,
		logger:       cfg.logger,
	}
	s.guard.wake = wake
	if s.selector == nil {
		s.selector = newPollSelector()
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	if s.faultHandler == nil {
		s.faultHandler = s.defaultFaultHandler
	}
	return s, nil
}

// Step performs exactly one reactor iteration:
//
//  1. Consume the pending wake and compute a wait budget: zero if the ready
//     queue is non-empty or a wake was pending, otherwise the time until the
//     earliest timer deadline, or indefinite if there are no timers.
//  2. Poll all selector registrations (and the wake descriptor) for
//     readiness up to that budget.
//  3. Promote every ready I/O registration and every elapsed timer to the
//     ready queue, ties broken by insertion order.
//  4. Execute the callbacks that were in the ready queue at the start of
//     this step, in FIFO order; callbacks enqueued during execution run in a
//     later step.
//
// A panic in a callback is reported to the fault handler and does not abort
// the remaining callbacks of the step. A selector fault is fatal to the
// step and is returned as a [PollError]. After a step in which the stop
// flag was set, the driving loop must not step again; further Step calls
// return [ErrSchedulerStopped].
func (s *Scheduler) Step() error {
	if s.closed {
		return ErrSchedulerClosed
	}
	if s.stopping {
		return ErrSchedulerStopped
	}
	if err := s.guard.enter(); err != nil {
		return err
	}
	defer s.guard.exit()

	// Pending wake state is cleared at the start of every poll evaluation; a
	// trigger landing any later re-arms via the descriptor and notifier.
	pending := s.wake.Consume()

	timeout := s.waitBudget(pending)
	if s.nonBlockingPoll {
		timeout = 0
	}

	results, err := s.selector.Poll(s.buildPollRequests(), timeout)
	if err != nil {
		s.logger.Err().Err(err).Log("guestloop: poll fault")
		return &PollError{Cause: err}
	}

	s.promoteIO(results)
	s.promoteTimers()

	// Snapshot: callbacks scheduled by this batch land in s.ready and run
	// in a later step, so one step cannot run unboundedly.
	batch := s.ready
	s.ready = s.readyBuf[:0]
	s.readyBuf = batch
	for i, fn := range batch {
		s.runCallback(fn)
		batch[i] = nil
	}

	return nil
}

// waitBudget computes how long the poll phase may block. Zero means do not
// block, a negative duration means block indefinitely.
func (s *Scheduler) waitBudget(wakePending bool) time.Duration {
	if len(s.ready) > 0 || wakePending {
		return 0
	}
	if when, ok := s.nextDeadline(); ok {
		d := when.Sub(s.clock())
		if d < 0 {
			d = 0
		}
		return d
	}
	return -1
}

// nextDeadline returns the earliest live timer deadline, discarding
// cancelled entries from the top of the heap.
func (s *Scheduler) nextDeadline() (time.Time, bool) {
	for len(s.timers) > 0 {
		if s.timers[0].state == timerCancelled {
			heap.Pop(&s.timers)
			continue
		}
		return s.timers[0].when, true
	}
	return time.Time{}, false
}

// buildPollRequests assembles the current registration set plus the wake
// descriptor.
func (s *Scheduler) buildPollRequests() []PollRequest {
	reqs := s.pollReqs[:0]
	reqs = append(reqs, PollRequest{Handle: s.wake.ReadHandle(), Events: EventRead})
	for _, reg := range s.ios {
		reqs = append(reqs, PollRequest{Handle: reg.handle, Events: reg.events})
	}
	s.pollReqs = reqs
	return reqs
}

// promoteIO moves the callbacks of now-ready registrations to the ready
// queue. Readiness of the wake descriptor carries no callback; the pending
// flag is consumed at the top of the next step.
func (s *Scheduler) promoteIO(results []PollResult) {
	wakeHandle := s.wake.ReadHandle()
	for _, r := range results {
		if r.Handle == wakeHandle {
			continue
		}
		reg, ok := s.ios[r.Handle]
		if !ok || reg.events&r.Events == 0 {
			continue
		}
		fn, events := reg.fn, r.Events&reg.events
		s.ready = append(s.ready, func() { fn(events) })
	}
}

// promoteTimers moves every elapsed timer's callback to the ready queue in
// (deadline, insertion order). A promoted timer is immune to cancellation.
func (s *Scheduler) promoteTimers() {
	now := s.clock()
	for len(s.timers) > 0 {
		e := s.timers[0]
		if e.state == timerCancelled {
			heap.Pop(&s.timers)
			continue
		}
		if e.when.After(now) {
			break
		}
		heap.Pop(&s.timers)
		e.state = timerPromoted
		s.ready = append(s.ready, e.fn)
	}
}

// runCallback executes one ready-queue callback with panic containment.
func (s *Scheduler) runCallback(fn func()) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.faultHandler(CallbackError{Value: r})
		}
	}()
	fn()
}

// defaultFaultHandler reports a callback fault without aborting the step.
func (s *Scheduler) defaultFaultHandler(err error) {
	if s.logger != nil {
		s.logger.Err().Err(err).Log("guestloop: callback fault")
		return
	}
	log.Printf("ERROR: guestloop: callback fault: %v", err)
}

// CallSoon schedules fn to run in the next step's ready-queue snapshot,
// after callbacks already queued (FIFO). Guarded mutator.
func (s *Scheduler) CallSoon(fn func()) error {
	if s.closed {
		return ErrSchedulerClosed
	}
	if fn != nil {
		s.ready = append(s.ready, fn)
	}
	s.guard.mutated()
	return nil
}

// CallAt schedules fn to run once the deadline has elapsed. Deadlines use
// the scheduler clock (monotonic by default). Guarded mutator.
func (s *Scheduler) CallAt(when time.Time, fn func()) (TimerHandle, error) {
	if s.closed {
		return TimerHandle{}, ErrSchedulerClosed
	}
	s.timerSeq++
	e := &timerEntry{when: when, fn: fn, seq: s.timerSeq}
	heap.Push(&s.timers, e)
	s.guard.mutated()
	return TimerHandle{entry: e}, nil
}

// CallAfter schedules fn to run after the given delay. Guarded mutator.
func (s *Scheduler) CallAfter(delay time.Duration, fn func()) (TimerHandle, error) {
	return s.CallAt(s.clock().Add(delay), fn)
}

// RegisterIO registers a readiness callback for the handle. The
// registration is level-triggered and persists until [Scheduler.UnregisterIO];
// registering an already-registered handle replaces the interest mask and
// callback. Guarded mutator.
func (s *Scheduler) RegisterIO(handle IOHandle, events IOEvents, fn func(IOEvents)) error {
	if s.closed {
		return ErrSchedulerClosed
	}
	s.ios[handle] = &ioRegistration{handle: handle, events: events, fn: fn}
	s.guard.mutated()
	return nil
}

// UnregisterIO removes the handle's registration. Always call UnregisterIO
// before closing a handle, to prevent stale delivery through handle
// recycling. Guarded mutator (part of the RegisterIO surface).
func (s *Scheduler) UnregisterIO(handle IOHandle) error {
	if s.closed {
		return ErrSchedulerClosed
	}
	delete(s.ios, handle)
	s.guard.mutated()
	return nil
}

// Stop requests the scheduler to stop. The flag is checked after the
// current (or next) step completes its ready-queue snapshot; the driving
// loop then performs no further steps. Guarded mutator: a Stop from
// injected code wakes the embedding so the stop is observed within one
// notification cycle rather than at the next unrelated event.
func (s *Scheduler) Stop() {
	if s.closed {
		return
	}
	if !s.stopping {
		s.stopping = true
		s.logger.Debug().Log("guestloop: stop requested")
	}
	s.guard.mutated()
}

// Stopping reports whether a stop has been requested.
func (s *Scheduler) Stopping() bool {
	return s.stopping
}

// Run steps the scheduler on the current goroutine until it is stopped,
// blocking in the selector between steps. It is the scheduler-owned
// counterpart of a host loop's "run until stopped" entry point; nested runs
// are available via [Scheduler.NewRun].
func (s *Scheduler) Run() error {
	frame, err := s.NewRun()
	if err != nil {
		return err
	}
	return frame.Exec()
}

// NewRun returns a new blocking run frame. Frames may nest on the same
// goroutine: an inner frame's Exec returns without disturbing outer frames,
// and each frame is independently stoppable via Exit. [Scheduler.Stop]
// terminates all frames.
func (s *Scheduler) NewRun() (HostRun, error) {
	if s.closed {
		return nil, ErrSchedulerClosed
	}
	if s.embedded {
		return nil, ErrAlreadyEmbedded
	}
	return &runFrame{s: s}, nil
}

// runFrame is one blocking run of the scheduler, independently stoppable.
type runFrame struct {
	s      *Scheduler
	err    error
	exited bool
}

// Exec steps the scheduler until the frame is exited or the scheduler is
// stopped, returning the value passed to Exit or the structural fault that
// terminated stepping.
func (f *runFrame) Exec() error {
	s := f.s
	s.runDepth++
	defer func() { s.runDepth-- }()
	for {
		if f.exited {
			return f.err
		}
		if s.stopping {
			return nil
		}
		if err := s.Step(); err != nil {
			if err == ErrSchedulerStopped {
				return nil
			}
			return err
		}
		if s.stopping {
			return nil
		}
	}
}

// Exit terminates this frame's Exec with err once the current step (if any)
// completes. It triggers the wake signal so a frame blocked in the selector
// observes the exit promptly.
func (f *runFrame) Exit(err error) {
	if f.exited {
		return
	}
	f.err = err
	f.exited = true
	f.s.wake.Trigger()
}

// Wake returns the scheduler's wake signal.
func (s *Scheduler) Wake() *WakeSignal {
	return s.wake
}

// readyLen reports the current ready-queue length (adapter use).
func (s *Scheduler) readyLen() int {
	return len(s.ready)
}

// Close releases the scheduler's resources. Close must not be called while
// the scheduler is running or embedded; wait for [Embedding.Done] or for
// [Scheduler.Run] to return first.
func (s *Scheduler) Close() error {
	if s.closed {
		return ErrSchedulerClosed
	}
	if s.embedded || s.runDepth > 0 {
		return ErrAlreadyEmbedded
	}
	s.closed = true
	s.ready = nil
	s.timers = nil
	s.ios = nil
	return s.wake.Close()
}
