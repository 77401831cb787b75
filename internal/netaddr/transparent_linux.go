//go:build linux

// Package netaddr implements the address and socket-option helpers a
// transparent proxy needs: enabling IP_TRANSPARENT on listening and
// egress sockets, recovering a redirected connection's original
// destination, and resolving a SNAT interface's IPv4 address.
//
// IP_TRANSPARENT is Linux-specific, so the socket-option and upstream-dial
// helpers in this file are built only on linux; transparent_other.go
// provides a clear failure on every other GOOS rather than a silent no-op.
// OriginalDestination, WithZeroPort and InterfaceIPv4Addr live in the
// untagged addr.go and build everywhere.
package netaddr

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// setTransparentOpts enables the socket options a transparent proxy
// needs on fd: IP_TRANSPARENT (permit bind/accept on non-local
// addresses), SO_KEEPALIVE, and SO_REUSEADDR. It mirrors, option for
// option, the setsockopt sequence in the original C source's
// start_unatd and the HALFOPEN branch of read_cb.
func setTransparentOpts(fd uintptr) error {
	ifd := int(fd)
	if err := unix.SetsockoptInt(ifd, unix.SOL_IP, unix.IP_TRANSPARENT, 1); err != nil {
		return fmt.Errorf("setsockopt(IP_TRANSPARENT): %w", err)
	}
	if err := unix.SetsockoptInt(ifd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); err != nil {
		return fmt.Errorf("setsockopt(SO_KEEPALIVE): %w", err)
	}
	if err := unix.SetsockoptInt(ifd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fmt.Errorf("setsockopt(SO_REUSEADDR): %w", err)
	}
	return nil
}

// ListenControl is passed as net.ListenConfig.Control. It runs on the raw
// fd after socket() and before bind(), the only window in which
// IP_TRANSPARENT can be set for a listening socket.
func ListenControl(_, _ string, c syscall.RawConn) error {
	var opErr error
	err := c.Control(func(fd uintptr) {
		opErr = setTransparentOpts(fd)
	})
	if err != nil {
		return err
	}
	return opErr
}

// DialControl is passed as net.Dialer.Control. Per the net.Dialer
// contract it runs after the egress socket is created but before
// bind+connect, which is exactly where the original source calls
// setsockopt(IP_TRANSPARENT) on f->egress.sock before its bind().
func DialControl(_, _ string, c syscall.RawConn) error {
	var opErr error
	err := c.Control(func(fd uintptr) {
		opErr = setTransparentOpts(fd)
	})
	if err != nil {
		return err
	}
	return opErr
}

// dialerFor builds a *net.Dialer bound to localAddr with the transparent
// socket options armed, ready to connect() to dst — the HALFOPEN→WAITING
// transition of spec.md §4.3, delegated to the Go runtime's netpoller:
// DialContext blocks the calling goroutine exactly as an EV_WRITE watcher
// would park a callback, and returns the moment connect() completes.
func dialerFor(localAddr *net.TCPAddr) *net.Dialer {
	return &net.Dialer{
		LocalAddr: localAddr,
		Control:   DialControl,
	}
}

// DialUpstream opens the egress connection to dst, bound to localAddr
// with port 0, with IP_TRANSPARENT armed so the kernel permits binding to
// an address not locally assigned. ctx carries no deadline by default
// (see DESIGN.md OQ-2); callers that want one can wrap ctx themselves.
func DialUpstream(ctx context.Context, localAddr, dst *net.TCPAddr) (*net.TCPConn, error) {
	d := dialerFor(localAddr)
	conn, err := d.DialContext(ctx, "tcp4", dst.String())
	if err != nil {
		return nil, err
	}
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("netaddr: dialed connection is not TCP")
	}
	return tc, nil
}
