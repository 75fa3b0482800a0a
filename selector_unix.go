//go:build linux || darwin

package guestloop

import (
	"time"

	"golang.org/x/sys/unix"
)

// pollSelector is the default [Selector], implemented with poll(2).
//
// The registration sets this package polls are tiny (a handful of handles
// plus the wake descriptor), so the portable poll surface is preferred over
// the platform-native epoll/kqueue machinery a standalone loop would carry.
type pollSelector struct {
	fds []unix.PollFd
}

func newPollSelector() *pollSelector {
	return &pollSelector{}
}

func (p *pollSelector) Poll(reqs []PollRequest, timeout time.Duration) ([]PollResult, error) {
	p.fds = p.fds[:0]
	for _, req := range reqs {
		var events int16
		if req.Events&EventRead != 0 {
			events |= unix.POLLIN
		}
		if req.Events&EventWrite != 0 {
			events |= unix.POLLOUT
		}
		p.fds = append(p.fds, unix.PollFd{Fd: int32(req.Handle), Events: events})
	}

	ms := -1
	if timeout >= 0 {
		ms = int(timeout.Milliseconds())
		// Ceiling rounding: a sub-millisecond positive timeout must not
		// degrade to a non-blocking poll.
		if ms == 0 && timeout > 0 {
			ms = 1
		}
	}

	var n int
	for {
		var err error
		n, err = unix.Poll(p.fds, ms)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, err
		}
		break
	}
	if n == 0 {
		return nil, nil
	}

	results := make([]PollResult, 0, n)
	for _, fd := range p.fds {
		if fd.Revents == 0 {
			continue
		}
		var events IOEvents
		if fd.Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
			events |= EventRead
		}
		if fd.Revents&(unix.POLLOUT|unix.POLLERR) != 0 {
			events |= EventWrite
		}
		if events != 0 {
			results = append(results, PollResult{Handle: IOHandle(fd.Fd), Events: events})
		}
	}
	return results, nil
}
