package responder

import (
	"context"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/twamplab/twamp/internal/control"
	"github.com/twamplab/twamp/internal/metrics"
	"github.com/twamplab/twamp/internal/reflector"
	"github.com/twamplab/twamp/internal/twamp"
)

// Responder owns the TCP listener the Responder endpoint accepts
// TWAMP-Control connections on.
type Responder struct {
	ln        net.Listener
	addr      netip.Addr
	logger    *slog.Logger
	collector *metrics.Collector
}

// Listen binds a TCP listener at addr:port. addr is also the address new
// Session-Reflector UDP sockets are bound on for each accepted connection.
func Listen(addr netip.Addr, port uint16, logger *slog.Logger, collector *metrics.Collector) (*Responder, error) {
	ln, err := net.Listen("tcp", netip.AddrPortFrom(addr, port).String())
	if err != nil {
		return nil, twamp.NewLifecycleError("responder: listen", err)
	}
	return &Responder{
		ln:        ln,
		addr:      addr,
		logger:    logger.With(slog.String("component", "responder")),
		collector: collector,
	}, nil
}

// Addr reports the bound local address and port.
func (r *Responder) Addr() netip.AddrPort {
	return r.ln.Addr().(*net.TCPAddr).AddrPort() //nolint:forcetypeassert // net.Listen("tcp", ...) always reports *net.TCPAddr
}

// Close releases the listener.
func (r *Responder) Close() error {
	return r.ln.Close()
}

// Run accepts TCP connections until ctx is cancelled, handling each
// concurrently. refwait bounds each session's Session-Reflector
// per-datagram wait. Run returns once every accepted connection's handler
// has returned.
func (r *Responder) Run(ctx context.Context, refwait time.Duration) error {
	stopWatcher := make(chan struct{})
	defer close(stopWatcher)
	go func() {
		select {
		case <-ctx.Done():
			r.ln.Close()
		case <-stopWatcher:
		}
	}()

	var wg sync.WaitGroup
	var acceptErr error

	for {
		conn, err := r.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			acceptErr = twamp.NewLifecycleError("responder: accept", err)
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.handleConn(ctx, conn, refwait)
		}()
	}

	wg.Wait()
	return acceptErr
}

// handleConn joins one connection's Server dialogue with its own
// Session-Reflector via errgroup, the same per-endpoint two-task join
// the Controller orchestrator uses.
func (r *Responder) handleConn(ctx context.Context, conn net.Conn, refwait time.Duration) {
	defer conn.Close()

	remote, ok := conn.RemoteAddr().(*net.TCPAddr)
	var peer, local netip.Addr
	if ok {
		peer = remote.AddrPort().Addr()
	}
	if la, ok := conn.LocalAddr().(*net.TCPAddr); ok {
		local = la.AddrPort().Addr()
	}

	logger := r.logger.With(slog.String("peer", peer.String()))

	if r.collector != nil {
		r.collector.RegisterSession(peer, local)
		defer r.collector.UnregisterSession(peer, local)
	}

	requestCh := make(chan twamp.RequestTwSession, 1)
	timeoutCh := make(chan uint64, 1)
	startAckSentCh := make(chan struct{})
	stopReceivedCh := make(chan struct{})
	boundPortCh := make(chan uint16, 1)

	serverSig := control.ServerSignals{
		Request:              requestCh,
		Timeout:              timeoutCh,
		StartAckSent:         startAckSentCh,
		StopSessionsReceived: stopReceivedCh,
		BoundPort:            boundPortCh,
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return control.RunServer(gCtx, conn, serverSig, r.collector, logger)
	})

	// Session-Reflector binds against request.ReceiverPort, the client's
	// preferred port, so the bind itself must wait until the control
	// dialogue has parsed Request-TW-Session.
	var request twamp.RequestTwSession
	select {
	case request = <-requestCh:
	case <-gCtx.Done():
		if err := g.Wait(); err != nil {
			if r.collector != nil {
				r.collector.IncSessionsRejected(peer, local, "Error")
			}
			logger.Error("session failed", slog.String("error", err.Error()))
		}
		return
	}

	refl, err := reflector.Bind(r.addr, request.ReceiverPort, logger, r.collector)
	if err != nil {
		logger.Error("failed to bind session-reflector", slog.String("error", err.Error()))
		conn.Close()
		_ = g.Wait()
		return
	}
	defer refl.Close()

	reflectorSig := reflector.Signals{
		Timeout:              timeoutCh,
		StartAckSent:         startAckSentCh,
		StopSessionsReceived: stopReceivedCh,
		BoundPort:            boundPortCh,
	}

	var reflected int
	g.Go(func() error {
		count, err := refl.Run(gCtx, request, refwait, reflectorSig)
		reflected = count
		return err
	})

	if err := g.Wait(); err != nil {
		if r.collector != nil {
			r.collector.IncSessionsRejected(peer, local, "Error")
		}
		logger.Error("session failed", slog.String("error", err.Error()))
		return
	}

	logger.Info("session complete", slog.Int("reflected", reflected))
}
