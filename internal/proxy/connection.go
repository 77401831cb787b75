package proxy

import (
	"net"
	"sync/atomic"
)

// bufferSize is B from spec.md §3: the fixed capacity of a Connection's
// relay buffer. Per-Flow memory is therefore O(B) regardless of how much
// data the Flow ever moves — no dynamic buffer growth.
const bufferSize = 32 * 1024

// connState mirrors the C source's enum conn_state.
type connState int32

const (
	connClosed connState = iota
	connOpen
)

// Connection wraps one socket of a Flow plus its relay buffer and
// bookkeeping, per spec.md §3. The buffer is a fixed-size array, never a
// slice, so its capacity can never grow past bufferSize.
//
// Only the pump reading this Connection ever writes buffer/pending/
// written, but the *opposite* direction's pump reads pending at EOF time
// (to decide whether to tear the whole Flow down immediately, per
// spec.md §4.4's half-close rule), so pending and written are atomics
// rather than plain ints. state is written by close, which both the
// Flow's teardown goroutine and Flow.cleanup call, and toClose is set by
// the pump reading this Connection, so both are atomics too.
type Connection struct {
	sock *net.TCPConn
	addr *net.TCPAddr

	buffer  [bufferSize]byte
	pending atomic.Int32
	written atomic.Int32

	state   atomic.Int32
	toClose atomic.Bool
}

func newConnection(sock *net.TCPConn, addr *net.TCPAddr) *Connection {
	c := &Connection{sock: sock, addr: addr}
	c.state.Store(int32(connOpen))
	return c
}

// close closes the underlying socket and marks it CLOSED. It is called
// more than once per Connection (by the Flow's teardown goroutine and
// again by Flow.cleanup); a second call is harmless, because
// net.Conn.Close on an already-closed conn only returns an error, which
// is discarded.
func (c *Connection) close() {
	c.state.Store(int32(connClosed))
	_ = c.sock.Close()
}

// isOpen reports whether this Connection's socket is still open.
func (c *Connection) isOpen() bool {
	return connState(c.state.Load()) == connOpen
}
