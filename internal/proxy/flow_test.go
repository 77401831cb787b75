package proxy

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeEchoServer accepts one connection and echoes everything it reads
// back to the same connection, standing in for the upstream origin
// server in Flow-level tests (which cannot rely on real IP_TRANSPARENT
// dialing in an unprivileged test process).
func fakeEchoServer(t *testing.T) (addr *net.TCPAddr, accepted <-chan *net.TCPConn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ch := make(chan *net.TCPConn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		tc := c.(*net.TCPConn)
		ch <- tc
		buf := make([]byte, 4096)
		for {
			n, rerr := tc.Read(buf)
			if n > 0 {
				if _, werr := tc.Write(buf[:n]); werr != nil {
					return
				}
			}
			if rerr != nil {
				return
			}
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return ln.Addr().(*net.TCPAddr), ch
}

func TestFlowShortEcho(t *testing.T) {
	dstAddr, accepted := fakeEchoServer(t)

	dial := func(ctx context.Context, localAddr, dst *net.TCPAddr) (*net.TCPConn, error) {
		c, err := net.DialTCP("tcp", nil, dst)
		return c, err
	}

	client, ingress := tcpPipe(t)
	defer client.Close()

	clientAddr := client.LocalAddr().(*net.TCPAddr)
	localBind := &net.TCPAddr{IP: clientAddr.IP, Port: 0}

	f := newFlow(1, ingress, clientAddr, dstAddr, localBind, dial, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan struct{})
	go func() { f.Run(ctx); close(runDone) }()

	_, err := client.Write([]byte("PING"))
	require.NoError(t, err)

	buf := make([]byte, 4)
	client.SetReadDeadline(time.Now().Add(5 * time.Second))
	n, err := client.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "PING", string(buf[:n]))

	select {
	case <-accepted:
	case <-time.After(5 * time.Second):
		t.Fatal("upstream never accepted")
	}

	require.NoError(t, client.Close())

	select {
	case <-runDone:
	case <-time.After(5 * time.Second):
		t.Fatal("flow did not clean up after client close")
	}

	require.False(t, f.Ingress.isOpen())
	require.False(t, f.Egress.isOpen())
}

func TestFlowDialFailureCleansUpIngress(t *testing.T) {
	dial := func(ctx context.Context, localAddr, dst *net.TCPAddr) (*net.TCPConn, error) {
		return nil, net.UnknownNetworkError("simulated connect refused")
	}

	client, ingress := tcpPipe(t)
	defer client.Close()

	dstAddr := &net.TCPAddr{IP: net.ParseIP("203.0.113.7"), Port: 80}
	f := newFlow(1, ingress, client.LocalAddr().(*net.TCPAddr), dstAddr, nil, dial, discardLogger())

	runDone := make(chan struct{})
	go func() { f.Run(context.Background()); close(runDone) }()

	select {
	case <-runDone:
	case <-time.After(5 * time.Second):
		t.Fatal("flow did not clean up after dial failure")
	}

	require.False(t, f.Ingress.isOpen())
	require.Nil(t, f.Egress)
}
