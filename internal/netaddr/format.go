package netaddr

import (
	"fmt"
	"net"
)

// Format renders a TCP address as "ip:port", the same "%s:%u" shape the
// original source's addr_to_string/get_port pair produced. net.TCPAddr
// already stores an address-family-agnostic net.IP, so unlike the C
// source (which switches on sa_family between sockaddr_in and
// sockaddr_in6) this single helper already covers both families —
// extending to IPv6 elsewhere in the proxy is local to lifting the
// "tcp4" literals in netaddr and proxy, not to this formatting path.
func Format(addr *net.TCPAddr) string {
	if addr == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s:%d", addr.IP.String(), addr.Port)
}
