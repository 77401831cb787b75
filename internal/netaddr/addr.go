package netaddr

import (
	"fmt"
	"net"
)

// OriginalDestination recovers the pre-redirect destination address of
// an accepted connection. Under the host's transparent-redirect (TPROXY)
// packet-filter configuration, a query of the socket's own local name
// returns the original destination rather than the listener's own
// address — no cooperation from the client is required. This is
// precisely what the original source's getsockname() call on the
// accepted fd relies on, and is plain portable net.Conn behavior, unlike
// the Linux-only socket options in transparent_linux.go.
func OriginalDestination(conn *net.TCPConn) (*net.TCPAddr, error) {
	addr, ok := conn.LocalAddr().(*net.TCPAddr)
	if !ok {
		return nil, fmt.Errorf("netaddr: accepted connection has no TCP local address")
	}
	// Defensive copy: a caller that mutates the returned address must
	// never mutate the conn's own cached address.
	cp := *addr
	return &cp, nil
}

// WithZeroPort returns a copy of addr with the port set to 0, so the
// kernel picks an ephemeral source port for the egress bind. Both the
// default (client-address) and SNAT (interface-address) bind sources
// need this.
func WithZeroPort(addr *net.TCPAddr) *net.TCPAddr {
	cp := *addr
	cp.Port = 0
	return &cp
}

// InterfaceIPv4Addr resolves the first IPv4 address assigned to iface,
// with its port already zeroed — the SNAT source-bind template. This is
// the idiomatic stdlib equivalent of the C source's SIOCGIFADDR ioctl
// (get_ifaddr): no third-party library in the example pack offers
// interface-address enumeration, so net.InterfaceByName/Addrs is used
// directly, and it works unchanged on every GOOS.
func InterfaceIPv4Addr(iface string) (*net.TCPAddr, error) {
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, fmt.Errorf("netaddr: interface %q: %w", iface, err)
	}
	addrs, err := ifi.Addrs()
	if err != nil {
		return nil, fmt.Errorf("netaddr: addresses of %q: %w", iface, err)
	}
	for _, a := range addrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip4 := ip.To4(); ip4 != nil {
			return &net.TCPAddr{IP: ip4, Port: 0}, nil
		}
	}
	return nil, fmt.Errorf("netaddr: interface %q has no IPv4 address", iface)
}
