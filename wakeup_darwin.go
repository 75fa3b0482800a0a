//go:build darwin

package guestloop

import (
	"syscall"

	"golang.org/x/sys/unix"
)

const (
	wakeFdCloexec  = unix.O_CLOEXEC
	wakeFdNonblock = unix.O_NONBLOCK
)

// createWakeFd creates a non-blocking self-pipe for wake-up notifications
// (Darwin). Returns the read end and the write end of the pipe.
// The initval and flags parameters are ignored (API compatibility with the
// Linux eventfd variant).
func createWakeFd(initval uint, flags int) (int, int, error) {
	_ = initval
	_ = flags

	var fds [2]int
	if err := syscall.Pipe(fds[:]); err != nil {
		return 0, 0, err
	}

	cleanup := func() {
		syscall.Close(fds[0])
		syscall.Close(fds[1])
	}

	syscall.CloseOnExec(fds[0])
	syscall.CloseOnExec(fds[1])

	if err := syscall.SetNonblock(fds[0], true); err != nil {
		cleanup()
		return 0, 0, err
	}
	if err := syscall.SetNonblock(fds[1], true); err != nil {
		cleanup()
		return 0, 0, err
	}

	return fds[0], fds[1], nil
}
