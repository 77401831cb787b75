package proxy

import (
	"io"
	"net"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// tcpPipe returns two connected *net.TCPConn over the loopback interface,
// standing in for a real transparent socket pair in tests that don't
// need IP_TRANSPARENT itself (i.e. everything except the listener's own
// accept/bind options, which are covered separately and skipped when the
// test process lacks the needed capability).
func tcpPipe(t *testing.T) (a, b *net.TCPConn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	acceptCh := make(chan net.Conn, 1)
	errCh := make(chan error, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			errCh <- err
			return
		}
		acceptCh <- c
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)

	select {
	case c := <-acceptCh:
		return client.(*net.TCPConn), c.(*net.TCPConn)
	case err := <-errCh:
		t.Fatalf("accept failed: %v", err)
	}
	return nil, nil
}

func discardLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}
