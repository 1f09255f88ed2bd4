package chatserver

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// setReuseAddr sets SO_REUSEADDR on the acceptor socket before bind, per
// spec section 4.2's start(): "binds the acceptor (SO_REUSEADDR)". This is
// the one place the fabric needs a raw socket option the standard library
// doesn't expose, so it reaches for golang.org/x/sys/unix rather than
// hand-rolling a syscall number table.
func setReuseAddr(_, _ string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
