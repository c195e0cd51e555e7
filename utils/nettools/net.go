// Package nettools probes connection liveness at the descriptor level,
// without consuming bytes the peer may still be pipelining. Platforms
// without a registered probe report "unknown" and callers fall back to
// deadline reads.
package nettools

import (
	"net"
	"syscall"
	"time"
)

var probe func(fd int, timeout time.Duration) (closed, known bool)

// PeerClosed reports whether the peer has shut down its write side of c,
// waiting up to timeout for the FIN to arrive. known is false when the
// platform or the connection type cannot be probed.
func PeerClosed(c net.Conn, timeout time.Duration) (closed, known bool) {
	if probe == nil {
		return false, false
	}
	rc := rawConn(c)
	if rc == nil {
		return false, false
	}
	if err := rc.Control(func(fd uintptr) {
		closed, known = probe(int(fd), timeout)
	}); err != nil {
		return false, false
	}
	return
}

func rawConn(raw net.Conn) syscall.RawConn {
	if t, ok := raw.(interface{ NetConn() net.Conn }); ok {
		// is *tls.Conn or polyfilled TLS Connection
		raw = t.NetConn()
	}
	if c, ok := raw.(syscall.Conn); ok {
		if rc, err := c.SyscallConn(); err == nil {
			return rc
		}
	}
	return nil
}
