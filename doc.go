// Package guestloop embeds a cooperative, single-threaded reactor (the
// "scheduler") inside a foreign event loop (the "host loop") that it does not
// own and cannot modify, and conversely lets scheduler-driven tasks wait on
// events that only the host loop can deliver.
//
// # Architecture
//
// The package is built around a [Scheduler] core that manages a FIFO ready
// queue, a timer heap, and I/O readiness registrations, all mutated through
// four guarded entry points ([Scheduler.CallSoon], [Scheduler.CallAt],
// [Scheduler.RegisterIO], [Scheduler.Stop]). A single reactor iteration is
// exposed as [Scheduler.Step]; a blocking run (itself usable as a host loop,
// see [SchedulerHost]) is exposed as [Scheduler.Run].
//
// [Embed] drives a Scheduler to completion using only a [HostLoop]'s
// non-blocking registration primitives: one [Scheduler.Step] per host
// notification, re-arming a zero-delay callback, a one-shot timer for the
// earliest deadline, and readiness watches after every step. The scheduler
// never blocks the thread while embedded; the host loop owns all waiting.
//
// Code the host loop runs between steps ("injected code") is absorbed
// safely: any guarded mutator called outside a step triggers the embedded
// [WakeSignal], which the adapter observes both as a pollable readiness
// source and through a notifier hook, guaranteeing re-evaluation of the wait
// before the thread next goes idle.
//
// The reverse bridge is [Task.AwaitEvent] and [RunUntil]: a scheduler task
// suspends until a host-delivered event fires, and a top-level caller with
// no loop running drives a nested host-loop invocation ([HostLoop.NewRun])
// until the event arrives. Results are delivered as explicit [Outcome]
// values; stop and cancellation are values, never panics across suspension
// points.
//
// # Concurrency Model
//
// There is a single logical thread of control. All scheduler and adapter
// state is mutated only from that thread; the only "thread safety" required
// is re-entrancy safety (the same thread re-entering loop machinery through
// a deeper call frame). [WakeSignal] is the one exception: its trigger is
// safe from any goroutine, coalescing repeated triggers into one pending
// wake.
//
// # Ordering Guarantees
//
//   - Ready-queue callbacks run FIFO within one step; callbacks enqueued
//     during a step run in a later step (snapshot semantics).
//   - Timers fire in ascending (deadline, insertion order).
//   - A mutator call from injected code causes the wait to be re-evaluated
//     before the next host-loop-level blocking wait begins.
package guestloop
