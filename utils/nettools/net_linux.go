//go:build linux
// +build linux

package nettools

import (
	"time"

	"golang.org/x/sys/unix"
)

var _ = func() error { // make sure this executes before func init()
	probe = pollRDHUP
	return nil
}()

// pollRDHUP waits for the peer's half-close. POLLRDHUP fires on FIN even
// while unread pipelined data is still queued, so nothing is consumed.
func pollRDHUP(fd int, timeout time.Duration) (closed, known bool) {
	s := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLRDHUP}}

	step := 50 * time.Millisecond // process shouldn't hang in syscalls
	for {
		n, err := unix.Poll(s, int(step.Milliseconds()))
		if err != nil && err != unix.EINTR {
			return false, false
		}
		if n > 0 && s[0].Revents&(unix.POLLRDHUP|unix.POLLHUP|unix.POLLERR) != 0 {
			return true, true
		}
		timeout -= step
		if timeout <= 0 {
			return false, true
		}
	}
}
