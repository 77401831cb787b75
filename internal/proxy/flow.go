package proxy

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/alsterg/unatd/internal/netaddr"
)

// flowState mirrors the C source's enum flow_state.
type flowState int32

const (
	flowUninitialized flowState = iota
	flowHalfopen
	flowWaiting
	flowOpen
)

func (s flowState) String() string {
	switch s {
	case flowHalfopen:
		return "HALFOPEN"
	case flowWaiting:
		return "WAITING"
	case flowOpen:
		return "OPEN"
	default:
		return "UNINITIALIZED"
	}
}

// Dialer is the subset of netaddr's upstream-dial behavior a Flow needs,
// extracted so tests can substitute a fake without a real transparent
// socket.
type Dialer func(ctx context.Context, localAddr, dst *net.TCPAddr) (*net.TCPConn, error)

// Flow owns exactly one ingress and one egress Connection and the state
// machine coordinating their joint lifecycle, per spec.md §3. It is
// created in HALFOPEN by the Listener and runs to completion (cleanup
// invoked exactly once) in Run.
type Flow struct {
	id uint64

	Ingress *Connection
	Egress  *Connection

	clientAddr, dstAddr, localBindAddr *net.TCPAddr
	dial                               Dialer

	state     atomic.Int32
	cleanOnce sync.Once

	log *logrus.Entry
}

// newFlow constructs a Flow in HALFOPEN around an already-accepted
// ingress connection. localBindAddr is the address the egress socket
// will bind to: the client's own address (port zeroed) by default, or
// the configured SNAT interface's address in -n mode.
func newFlow(id uint64, ingress *net.TCPConn, clientAddr, dstAddr, localBindAddr *net.TCPAddr, dial Dialer, log *logrus.Entry) *Flow {
	f := &Flow{
		id:            id,
		Ingress:       newConnection(ingress, clientAddr),
		clientAddr:    clientAddr,
		dstAddr:       dstAddr,
		localBindAddr: localBindAddr,
		dial:          dial,
		log:           log.WithField("flow_id", id),
	}
	f.state.Store(int32(flowHalfopen))
	return f
}

func (f *Flow) setState(s flowState) {
	f.state.Store(int32(s))
	f.log.Debugf("flow state -> %s", s)
}

// Run drives the Flow from HALFOPEN through to cleanup. It blocks until
// both relay directions have finished, matching spec.md §4.3/§4.4: the
// "first readable event on ingress in HALFOPEN" of the original reactor
// is, in this goroutine-per-Flow rendition, simply "Run was called" —
// the upstream dial begins immediately rather than waiting for a
// readiness callback, because there is no separate callback to wait for.
func (f *Flow) Run(ctx context.Context) {
	defer f.cleanup()

	f.setState(flowWaiting)
	egressConn, err := f.dial(ctx, f.localBindAddr, f.dstAddr)
	if err != nil {
		// Per spec.md §4.3 outcome 3 and §7 taxonomy #2: any connect
		// failure other than in-progress (which DialContext already
		// resolves internally) is fatal to this Flow, not the process.
		f.log.WithError(err).Warn("upstream connect failed")
		return
	}
	f.Egress = newConnection(egressConn, f.dstAddr)
	f.setState(flowOpen)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// gctx, not runCtx, is what errgroup cancels the moment either pump
	// returns a real error — runCtx is only ever cancelled by us, via
	// cancel() above or pump's own forced-teardown path below. Watching
	// runCtx.Done() here would never observe a sibling pump's error and
	// would leave the other, still-healthy direction blocked in Read/Write
	// forever. Watching gctx.Done() catches both: a pump error (via
	// errgroup) and an explicit cancel() call (since gctx derives from
	// runCtx).
	g, gctx := errgroup.WithContext(runCtx)

	// Closing both sockets here is what unblocks a pump goroutine parked
	// in a blocking Read or Write on the sibling direction, standing in
	// for "stop the watcher" in the reactor model.
	go func() {
		<-gctx.Done()
		f.Ingress.close()
		if f.Egress != nil {
			f.Egress.close()
		}
	}()

	g.Go(func() error { return pump(gctx, f.Ingress, f.Egress, cancel, f.log.WithField("dir", "ingress->egress")) })
	g.Go(func() error { return pump(gctx, f.Egress, f.Ingress, cancel, f.log.WithField("dir", "egress->ingress")) })

	if err := g.Wait(); err != nil {
		f.log.WithError(err).Debug("flow relay ended with error")
	}
}

// cleanup tears the Flow down exactly once: stops nothing (the Go
// rendition has no watchers to stop — see SPEC_FULL.md §4.5) and closes
// both sockets if still open. Safe to call multiple times; only the
// first call has any effect.
func (f *Flow) cleanup() {
	f.cleanOnce.Do(func() {
		f.Ingress.close()
		if f.Egress != nil {
			f.Egress.close()
		}
		f.log.Debug("flow cleaned up")
	})
}

func (f *Flow) String() string {
	return fmt.Sprintf("flow#%d %s->%s", f.id, netaddr.Format(f.clientAddr), netaddr.Format(f.dstAddr))
}
