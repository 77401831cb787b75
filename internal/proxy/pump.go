package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// halfCloser is implemented by *net.TCPConn; pulled out as an interface
// so tests can substitute a fake connection pair.
type halfCloser interface {
	CloseWrite() error
}

// pump implements the steady-state relay cycle of spec.md §4.4 for one
// direction: read up to bufferSize bytes from "from", then write the
// full batch to "to" before reading again. This is the backpressure
// mechanism — "from" is never read again until the batch just read has
// been completely flushed to "to".
//
// Unlike the original C write_cb (flagged as buggy in spec.md §9), the
// write loop here *accumulates* bytes written rather than overwriting
// "written" with the return value of a single write() call, so a
// partial write is correctly treated as progress, not completion.
//
// cancel tears the whole Flow down; pump calls it itself rather than
// just returning when spec.md §4.4's half-close rule requires an
// immediate joint teardown (see the EOF branch below). On a genuine I/O
// error pump does not call cancel: it returns the error, and the
// errgroup in Flow.Run cancels the shared context, which unblocks the
// sibling pump.
func pump(ctx context.Context, from, to *Connection, cancel context.CancelFunc, log *logrus.Entry) error {
	for {
		n, err := from.sock.Read(from.buffer[:])
		if n > 0 {
			from.pending.Store(int32(n))
			from.written.Store(0)
			if werr := writeAll(to, from); werr != nil {
				return werr
			}
			from.pending.Store(0)
			from.written.Store(0)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				// Orderly termination (spec.md §7 taxonomy #4): no more
				// data will arrive on "from".
				from.toClose.Store(true)
				if to.pending.Load() == 0 {
					// original_source's read_cb: if the opposite
					// direction has nothing in flight, there is no
					// reason to wait on its own termination — tear the
					// whole Flow down right now (main.c's c_other->pending
					// == 0 branch).
					log.Debug("read EOF, opposite side idle, tearing down flow")
					cancel()
					return nil
				}
				// Otherwise propagate the half-close onward so "to"'s
				// peer observes the same FIN, then let this direction's
				// goroutine end cleanly. The opposite direction keeps
				// running independently until it too finishes — the
				// Flow-wide cleanup only runs once both pumps have
				// returned (see Flow.Run), which is exactly "B's pending
				// buffer has been fully flushed" from spec.md §4.4.
				if hc, ok := any(to.sock).(halfCloser); ok {
					_ = hc.CloseWrite()
				}
				log.Debug("read EOF, propagated half-close")
				return nil
			}
			if ctx.Err() != nil {
				// The sibling direction hit a real error (or forced a
				// teardown on its own EOF) and cancelled the shared
				// context, which closed our socket
				// out from under this blocked Read. Not a new error to
				// report.
				return nil
			}
			return fmt.Errorf("pump: read: %w", err)
		}
	}
}

// writeAll drains from.buffer[from.written:from.pending] into to's
// socket, looping until the whole batch is sent.
func writeAll(to *Connection, from *Connection) error {
	for from.written.Load() < from.pending.Load() {
		written, pending := from.written.Load(), from.pending.Load()
		n, err := to.sock.Write(from.buffer[written:pending])
		if n > 0 {
			from.written.Add(int32(n))
		}
		if err != nil {
			return fmt.Errorf("pump: write: %w", err)
		}
	}
	return nil
}
