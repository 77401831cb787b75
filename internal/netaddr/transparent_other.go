//go:build !linux

package netaddr

import (
	"context"
	"fmt"
	"net"
	"syscall"
)

var errUnsupported = fmt.Errorf("netaddr: transparent proxying requires linux (IP_TRANSPARENT)")

// ListenControl on non-Linux platforms always fails fast: there is no
// portable IP_TRANSPARENT equivalent, so attempting to bind the listener
// here is a startup-fatal error per spec.md §7, not a degraded mode.
func ListenControl(_, _ string, _ syscall.RawConn) error { return errUnsupported }

// DialControl mirrors ListenControl for the egress dialer.
func DialControl(_, _ string, _ syscall.RawConn) error { return errUnsupported }

// DialUpstream always fails on non-Linux platforms; see ListenControl.
func DialUpstream(_ context.Context, _, _ *net.TCPAddr) (*net.TCPConn, error) {
	return nil, errUnsupported
}
