package control

import (
	"context"
	"io"
	"net"
	"net/netip"

	"github.com/twamplab/twamp/internal/twamp"
)

// connAddrs extracts the peer and local addresses from conn for metrics
// labeling. Either returns the zero netip.Addr if conn's endpoints are not
// *net.TCPAddr, which only happens under test with in-memory pipes.
func connAddrs(conn net.Conn) (peer, local netip.Addr) {
	if remote, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		peer = remote.AddrPort().Addr()
	}
	if la, ok := conn.LocalAddr().(*net.TCPAddr); ok {
		local = la.AddrPort().Addr()
	}
	return peer, local
}

// closeOnCancel closes conn as soon as ctx is done, so that a blocked Read
// or Write unblocks promptly instead of waiting out a deadline. The
// returned func must be called once the caller no longer needs this
// behavior, to stop the watcher goroutine.
func closeOnCancel(ctx context.Context, conn net.Conn) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	return func() { close(done) }
}

// readExact reads exactly len(buf) bytes from conn, naming msgName in any
// resulting error. The control stream has no framing delimiters; each
// message is read into a buffer pre-sized to its exact wire length, and a
// short read or connection close is fatal.
func readExact(conn net.Conn, buf []byte, msgName string) error {
	if _, err := io.ReadFull(conn, buf); err != nil {
		return twamp.NewReadError(msgName, err)
	}
	return nil
}

// writeAll writes every byte of buf to conn, naming msgName in any
// resulting error. net.Conn.Write already retries partial writes until
// everything is out or an error surfaces.
func writeAll(conn net.Conn, buf []byte, msgName string) error {
	if _, err := conn.Write(buf); err != nil {
		return twamp.NewWriteError(msgName, err)
	}
	return nil
}
