package guestloop

// mutationGuard instruments the scheduler's state-mutating entry points to
// detect calls originating from outside a reactor step.
//
// The guard maintains a single flag: whether a Step is currently on the call
// stack. A guarded mutation that completes while the flag is clear came from
// injected code (code the host loop ran on the scheduler's behalf between
// delegated waits) and triggers the wake signal: the adapter computed its
// poll parameters once per step, and a mutation landing after that
// computation must not be silently deferred until an unrelated future event.
// A mutation from within a step needs no trigger, because the adapter
// re-evaluates its registrations right after the step finishes.
//
// The guard is composed into [Scheduler] rather than wrapping it from the
// outside; the four guarded mutators are the only sanctioned mutation
// surface.
type mutationGuard struct {
	wake   *WakeSignal
	inStep bool
}

// enter marks the start of a step, failing if one is already in progress on
// the same scheduler.
func (g *mutationGuard) enter() error {
	if g.inStep {
		return ErrReentrantStep
	}
	g.inStep = true
	return nil
}

// exit marks the end of a step.
func (g *mutationGuard) exit() {
	g.inStep = false
}

// mutated records that a guarded mutation completed, waking the embedding if
// the call originated from injected code.
func (g *mutationGuard) mutated() {
	if !g.inStep {
		g.wake.Trigger()
	}
}
