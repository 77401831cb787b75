// Package config holds the proxy's parsed command-line options.
package config

import "net"

// DefaultPort is the listening port when -p is not given.
const DefaultPort = 2002

// Config is the fully-resolved set of options the proxy runs with.
// There is no config file and no reload: every field is fixed for the
// lifetime of the process, set once from the command line.
type Config struct {
	// Port is the TCP port the listener binds on all local IPv4 addresses.
	Port int

	// SNATEnabled is true when -n was given: upstream connections bind
	// to SNATAddr instead of the client's own address.
	SNATEnabled bool

	// SNATInterface is the interface name passed to -n, kept for logging.
	SNATInterface string

	// SNATAddr is the IPv4 address of SNATInterface, port already zeroed.
	// Only meaningful when SNATEnabled is true.
	SNATAddr *net.TCPAddr

	// Verbose raises the log level to debug, standing in for the source's
	// compile-time LOG macro toggle.
	Verbose bool
}
