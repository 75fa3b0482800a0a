package guestloop

// Task is a suspendable unit of scheduler-driven work, spawned by
// [Scheduler.Spawn].
//
// A task's function runs on its own goroutine, but cooperatively: exactly
// one of {scheduler, task} holds the logical thread of control at any
// moment, handed back and forth through unbuffered channels. The scheduler
// runs the task as a ready-queue callback; the task returns control by
// suspending in [Task.AwaitEvent] (or by finishing), and is resumed by a
// later step once the awaited event has fired. This preserves the package's
// single-logical-thread model while letting AwaitEvent return its [Outcome]
// synchronously to straight-line task code.
//
// Task methods other than Done must only be called from the task's own
// function.
type Task struct {
	s *Scheduler

	// baton carries resume outcomes scheduler→task; yield hands the thread
	// task→scheduler. Both are unbuffered: a send is a transfer of control.
	baton chan Outcome
	yield chan struct{}

	// pending is the task's one outstanding wait. A task awaits at most one
	// event at a time; the field is accessed only while its side holds the
	// baton, so the channel handoffs order every access.
	pending *WaitHandle

	done     chan struct{}
	err      error
	finished bool
}

// Spawn schedules fn to run as a new [Task]. The task starts in a later
// step, after callbacks already queued. Spawn is a guarded mutation (via
// [Scheduler.CallSoon]): spawning from injected code wakes the embedding.
//
// A panic in fn is contained like any callback fault: it is reported to the
// scheduler's fault handler and ends the task.
func (s *Scheduler) Spawn(fn func(*Task)) (*Task, error) {
	t := &Task{
		s:     s,
		baton: make(chan Outcome),
		yield: make(chan struct{}),
		done:  make(chan struct{}),
	}
	if err := s.CallSoon(func() { t.start(fn) }); err != nil {
		return nil, err
	}
	return t, nil
}

// start launches the task goroutine and blocks the scheduler callback until
// the task first suspends or finishes.
func (t *Task) start(fn func(*Task)) {
	go t.body(fn)
	<-t.yield
	t.reap()
}

// body is the task goroutine: it runs fn and always returns the baton.
func (t *Task) body(fn func(*Task)) {
	defer func() {
		if r := recover(); r != nil {
			t.err = CallbackError{Value: r}
		}
		t.finished = true
		close(t.done)
		t.yield <- struct{}{}
	}()
	fn(t)
}

// reap reports a task-ending fault once the baton is back with the
// scheduler.
func (t *Task) reap() {
	if t.finished && t.err != nil {
		t.s.faultHandler(t.err)
		t.err = nil
	}
}

// Done is closed when the task's function has returned (or panicked). It is
// the completion signal for anything awaiting the task.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Scheduler returns the scheduler that owns t.
func (t *Task) Scheduler() *Scheduler {
	return t.s
}

// BeginWait connects a single-shot callback to source and returns the
// pending wait's [WaitHandle]. The handle may be handed to other
// scheduler-driven code, which can cancel the wait via [WaitHandle.Cancel];
// complete the wait with [Task.Await].
//
// A task has at most one pending wait: a second BeginWait before the first
// wait's outcome has been delivered returns [ErrWaitPending].
func (t *Task) BeginWait(source EventSource) (*WaitHandle, error) {
	if t.pending != nil {
		return nil, ErrWaitPending
	}
	w := newWaitHandle()
	w.onSignal = func() {
		// Delivery may be injected code: CallSoon's guard wakes the
		// embedding, and the resumption runs in a subsequent step.
		_ = t.s.CallSoon(func() { t.resume(w) })
	}
	conn, err := source.Connect(func(v any) {
		w.signal(Outcome{Value: v})
	})
	if err != nil {
		return nil, err
	}
	w.conn = conn
	t.pending = w
	return w, nil
}

// Await suspends the task until the wait is signaled, then returns the
// outcome, consumed exactly once by the resuming step. A wait that was
// already signaled (the source fired, or the wait was cancelled, before
// suspension) has its resumption queued; Await still suspends and is
// resumed in the next step.
//
// w must be the task's pending wait from [Task.BeginWait]; awaiting any
// other handle is a programming error and panics (contained like any other
// callback fault).
func (t *Task) Await(w *WaitHandle) Outcome {
	if w == nil || w != t.pending {
		panic("guestloop: awaited handle is not the task's pending wait")
	}
	return t.suspend()
}

// AwaitEvent suspends the task until source fires and returns the delivered
// value; a host loop must be driving the scheduler (its own [Scheduler.Run]
// or an [Embedding]) for the event to be dispatched. It is the task-context
// form of awaiting; a top-level synchronous caller uses [RunUntil].
func (t *Task) AwaitEvent(source EventSource) Outcome {
	w, err := t.BeginWait(source)
	if err != nil {
		return Outcome{Err: err}
	}
	return t.Await(w)
}

// suspend hands the thread back to the scheduler and parks until resumed.
func (t *Task) suspend() Outcome {
	t.yield <- struct{}{}
	return <-t.baton
}

// resume runs as a ready-queue callback: it consumes the wait's outcome,
// hands the thread to the task, and blocks until the task suspends again or
// finishes. An outcome whose task has already finished (it began a wait but
// returned without awaiting) is dropped; sending it would block the step
// forever, since the baton has no receiver left.
func (t *Task) resume(w *WaitHandle) {
	if t.finished || t.pending != w {
		return
	}
	t.pending = nil
	out := w.consume()
	t.baton <- out
	<-t.yield
	t.reap()
}
