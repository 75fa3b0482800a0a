package guestloop

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// driveHost blocks in a host run until the embedding completes (or a
// watchdog expires), returning the elapsed time.
func driveHost(t *testing.T, h *testHost, e *Embedding) time.Duration {
	t.Helper()
	run, err := h.NewRun()
	require.NoError(t, err)

	start := time.Now()
	go func() {
		select {
		case <-e.Done():
		case <-time.After(5 * time.Second):
			t.Error("watchdog: embedding did not complete")
		}
		run.Exit(nil)
	}()
	require.NoError(t, run.Exec())
	return time.Since(start)
}

func TestEmbedRunsCallbacksAndStops(t *testing.T) {
	h := newTestHost()
	s := newTestScheduler(t)

	var order []string
	require.NoError(t, s.CallSoon(func() { order = append(order, "a") }))
	require.NoError(t, s.CallSoon(func() { order = append(order, "b") }))
	require.NoError(t, s.CallSoon(s.Stop))

	e, err := Embed(s, h)
	require.NoError(t, err)
	driveHost(t, h, e)

	assert.Equal(t, []string{"a", "b"}, order)
	assert.NoError(t, e.Err())
	select {
	case <-e.Done():
	default:
		t.Fatal("Done must be closed")
	}
}

func TestEmbedStopFromInjectedCodeIsPrompt(t *testing.T) {
	h := newTestHost()
	s := newTestScheduler(t)

	// A long timer keeps the delegated wait far in the future; only the wake
	// triggered by the injected Stop can end the embedding promptly.
	_, err := s.CallAfter(time.Hour, func() { t.Error("must not fire") })
	require.NoError(t, err)

	e, err := Embed(s, h)
	require.NoError(t, err)

	// Host-scheduled code outside any step is injected code.
	_, err = h.ScheduleTimer(5*time.Millisecond, func() { s.Stop() })
	require.NoError(t, err)

	elapsed := driveHost(t, h, e)
	assert.NoError(t, e.Err())
	assert.Less(t, elapsed, time.Second, "stop must be observed within one cycle, not at the next timer")
}

func TestEmbedInjectedCallSoon(t *testing.T) {
	h := newTestHost()
	s := newTestScheduler(t)

	e, err := Embed(s, h)
	require.NoError(t, err)

	var ran bool
	_, err = h.ScheduleTimer(5*time.Millisecond, func() {
		require.NoError(t, s.CallSoon(func() {
			ran = true
			s.Stop()
		}))
	})
	require.NoError(t, err)

	driveHost(t, h, e)
	assert.True(t, ran)
	assert.NoError(t, e.Err())
}

func TestEmbedSchedulerTimerFiresViaHost(t *testing.T) {
	h := newTestHost()
	s := newTestScheduler(t)

	var fired bool
	start := time.Now()
	_, err := s.CallAfter(10*time.Millisecond, func() {
		fired = true
		s.Stop()
	})
	require.NoError(t, err)

	e, err := Embed(s, h)
	require.NoError(t, err)
	driveHost(t, h, e)

	assert.True(t, fired)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
	assert.NoError(t, e.Err())
}

func TestEmbedIOReadinessViaHost(t *testing.T) {
	h := newTestHost()
	s := newTestScheduler(t)

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	handle := IOHandle(r.Fd())
	var got IOEvents
	require.NoError(t, s.RegisterIO(handle, EventRead, func(ev IOEvents) {
		got = ev
		s.Stop()
	}))

	e, err := Embed(s, h)
	require.NoError(t, err)

	// The host "detects" readiness; the scheduler's own selector confirms it
	// when the resulting cycle polls.
	_, err = h.ScheduleTimer(5*time.Millisecond, func() {
		if _, err := w.Write([]byte("x")); err != nil {
			t.Error(err)
		}
		h.fireReady(handle, EventRead)
	})
	require.NoError(t, err)

	driveHost(t, h, e)
	assert.Equal(t, EventRead, got&EventRead)
	assert.NoError(t, e.Err())
}

func TestEmbedPollFaultReported(t *testing.T) {
	h := newTestHost()
	cause := errors.New("selector exploded")
	s := newTestScheduler(t, WithSelector(&fakeSelector{err: cause}))

	e, err := Embed(s, h)
	require.NoError(t, err)
	driveHost(t, h, e)

	var pollErr *PollError
	require.ErrorAs(t, e.Err(), &pollErr)
	assert.ErrorIs(t, e.Err(), cause)
}

func TestEmbedRejectsConcurrentDrivers(t *testing.T) {
	h := newTestHost()
	s := newTestScheduler(t)

	e, err := Embed(s, h)
	require.NoError(t, err)

	_, err = s.NewRun()
	assert.ErrorIs(t, err, ErrAlreadyEmbedded)
	_, err = Embed(s, h)
	assert.ErrorIs(t, err, ErrAlreadyEmbedded)
	assert.ErrorIs(t, s.Close(), ErrAlreadyEmbedded)

	e.Stop()
	driveHost(t, h, e)
	assert.NoError(t, e.Err())

	// Once the embedding has completed, the scheduler is free again.
	require.NoError(t, s.Close())
}

func TestEmbedWaitContext(t *testing.T) {
	h := newTestHost()
	s := newTestScheduler(t)

	e, err := Embed(s, h)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, e.Wait(ctx), context.DeadlineExceeded)

	e.Stop()
	driveHost(t, h, e)
	assert.NoError(t, e.Wait(context.Background()))
}
