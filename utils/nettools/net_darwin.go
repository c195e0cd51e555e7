//go:build darwin
// +build darwin

package nettools

import (
	"time"

	"golang.org/x/sys/unix"
)

var _ = func() error { // make sure this executes before func init()
	probe = pollHUP
	return nil
}()

func pollHUP(fd int, timeout time.Duration) (closed, known bool) {
	s := []unix.PollFd{{Fd: int32(fd), Events: 0}}

	step := 50 * time.Millisecond
	for {
		n, err := unix.Poll(s, int(step.Milliseconds()))
		if err != nil && err != unix.EINTR {
			return false, false
		}
		if n > 0 && s[0].Revents&(unix.POLLHUP|unix.POLLERR) != 0 {
			return true, true
		}
		timeout -= step
		if timeout <= 0 {
			return false, true
		}
	}
}
