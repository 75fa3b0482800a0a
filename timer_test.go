package guestloop

import (
	"container/heap"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimerHeapOrdering(t *testing.T) {
	base := time.Unix(1000, 0)
	var h timerHeap
	heap.Push(&h, &timerEntry{when: base.Add(2 * time.Second), seq: 1})
	heap.Push(&h, &timerEntry{when: base.Add(time.Second), seq: 2})
	heap.Push(&h, &timerEntry{when: base.Add(time.Second), seq: 3})
	heap.Push(&h, &timerEntry{when: base, seq: 4})

	var seqs []uint64
	for h.Len() > 0 {
		seqs = append(seqs, heap.Pop(&h).(*timerEntry).seq)
	}
	// Ascending deadline, insertion sequence breaking ties.
	assert.Equal(t, []uint64{4, 2, 3, 1}, seqs)
}

func TestTimerHandleZeroValue(t *testing.T) {
	var h TimerHandle
	assert.False(t, h.Cancel())
	assert.True(t, h.When().IsZero())
}

func TestTimerHandleWhen(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	s := newTestScheduler(t, WithClock(clk.Now), WithSelector(&fakeSelector{}))

	h, err := s.CallAfter(5*time.Millisecond, func() {})
	assert.NoError(t, err)
	assert.Equal(t, clk.now.Add(5*time.Millisecond), h.When())
}
