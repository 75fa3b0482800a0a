package guestloop

import "time"

const (
	timerPending uint8 = iota
	timerPromoted
	timerCancelled
)

// timerEntry is one scheduled deadline callback. Entries are ordered by
// (deadline, insertion sequence) ascending; the sequence breaks ties so that
// timers sharing a deadline fire in scheduling order.
type timerEntry struct {
	when  time.Time
	fn    func()
	seq   uint64
	state uint8
}

// timerHeap is a min-heap of timer entries implementing heap.Interface.
type timerHeap []*timerEntry

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if !h[i].when.Equal(h[j].when) {
		return h[i].when.Before(h[j].when)
	}
	return h[i].seq < h[j].seq
}

func (h timerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *timerHeap) Push(x any) {
	*h = append(*h, x.(*timerEntry))
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return x
}

// TimerHandle identifies a scheduled timer for cancellation.
type TimerHandle struct {
	entry *timerEntry
}

// Cancel prevents the timer's callback from running, provided the callback
// has not yet been promoted to the ready queue. A timer already promoted is
// immune to cancellation: its callback still runs, and Cancel reports false.
//
// Cancellation is not a guarded mutation: it can only lengthen the pending
// wait, never shorten it, so no wake is required. A stale one-shot host
// timer armed for the cancelled deadline fires a no-op step.
func (h TimerHandle) Cancel() bool {
	if h.entry == nil || h.entry.state != timerPending {
		return false
	}
	h.entry.state = timerCancelled
	h.entry.fn = nil
	return true
}

// When returns the timer's deadline.
func (h TimerHandle) When() time.Time {
	if h.entry == nil {
		return time.Time{}
	}
	return h.entry.when
}
