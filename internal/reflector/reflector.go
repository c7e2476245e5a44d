package reflector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"golang.org/x/net/ipv4"

	"github.com/twamplab/twamp/internal/metrics"
	"github.com/twamplab/twamp/internal/twamp"
)

// ErrRefwaitExpired indicates the per-datagram wait bound elapsed without a
// new test packet arriving.
var ErrRefwaitExpired = errors.New("refwait expired")

// placeholderTTL is sent when the platform does not surface the sender's
// IP TTL to user space.
const placeholderTTL = 255

// Signals are the one-shot channels Session-Reflector uses to coordinate
// with the local control-server dialogue. The parsed Request-TW-Session
// itself is not one of these channels: the caller must already hold it
// before calling Run, since the socket is bound to the client's requested
// receiver_port.
type Signals struct {
	// Timeout delivers the client's requested post-stop grace period, in
	// seconds (forwarded verbatim from Request-TW-Session.Timeout).
	Timeout <-chan uint64

	// StartAckSent releases the reflect loop once Start-Ack has been
	// written to the client.
	StartAckSent <-chan struct{}

	// StopSessionsReceived tells the reflect loop to begin its post-stop
	// grace sleep.
	StopSessionsReceived <-chan struct{}

	// BoundPort reports the port this Reflector actually bound, which
	// the control-server dialogue relays in Accept-Session.
	BoundPort chan<- uint16
}

// Reflector owns the UDP socket Session-Reflector uses for one TWAMP-Test
// session.
type Reflector struct {
	conn      *net.UDPConn
	pconn     *ipv4.PacketConn // non-nil when IP_RECVTTL instrumentation is active
	logger    *slog.Logger
	collector *metrics.Collector
}

// Bind opens Session-Reflector's UDP socket at (addr, port); if that port
// is unavailable, it retries with port 0 for OS assignment and the
// control dialogue reports the substitute in Accept-Session. It also
// attempts to enable IP_RECVTTL so reflected packets can carry the
// sender's actual TTL instead of the 255 placeholder.
func Bind(addr netip.Addr, port uint16, logger *slog.Logger, collector *metrics.Collector) (*Reflector, error) {
	logger = logger.With(slog.String("component", "reflector"))

	conn, err := net.ListenUDP("udp", net.UDPAddrFromAddrPort(netip.AddrPortFrom(addr, port)))
	if err != nil {
		conn, err = net.ListenUDP("udp", net.UDPAddrFromAddrPort(netip.AddrPortFrom(addr, 0)))
		if err != nil {
			return nil, twamp.NewLifecycleError("reflector: bind UDP socket", err)
		}
		logger.Info("requested receiver port unavailable, bound OS-assigned port instead")
	}

	return &Reflector{conn: conn, pconn: setupTTL(conn, logger), logger: logger, collector: collector}, nil
}

// setupTTL enables TTL reporting on conn, returning the wrapping
// ipv4.PacketConn or nil when the platform cannot deliver the control
// message (reflected packets then carry the placeholder TTL).
func setupTTL(conn *net.UDPConn, logger *slog.Logger) *ipv4.PacketConn {
	if err := enableRecvTTL(conn); err != nil {
		logger.Debug("direct IP_RECVTTL setsockopt unavailable", slog.String("error", err.Error()))
	}

	pconn := ipv4.NewPacketConn(conn)
	if err := pconn.SetControlMessage(ipv4.FlagTTL, true); err != nil {
		logger.Debug("IP_RECVTTL unavailable, reflected packets will carry the placeholder TTL",
			slog.String("error", err.Error()))
		return nil
	}
	return pconn
}

// BoundPort reports the port this Reflector actually bound.
func (r *Reflector) BoundPort() uint16 {
	return uint16(r.conn.LocalAddr().(*net.UDPAddr).Port) //nolint:forcetypeassert // *net.UDPConn always reports *net.UDPAddr
}

// localAddr reports the bound local address, resolving OS assignment.
func (r *Reflector) localAddr() netip.Addr {
	return r.conn.LocalAddr().(*net.UDPAddr).AddrPort().Addr() //nolint:forcetypeassert // *net.UDPConn always reports *net.UDPAddr
}

// Close releases the underlying socket.
func (r *Reflector) Close() error {
	return r.conn.Close()
}

// connect pins the socket to the session's sender so the kernel rejects
// datagrams from any other source, re-enabling TTL reporting on the new
// descriptor. The local address is rebound unchanged: it is the port
// Accept-Session already carried back to the client.
func (r *Reflector) connect(remote netip.AddrPort) error {
	laddr := r.conn.LocalAddr().(*net.UDPAddr) //nolint:forcetypeassert // *net.UDPConn always reports *net.UDPAddr
	if err := r.conn.Close(); err != nil {
		return twamp.NewLifecycleError("reflector: release unconnected socket", err)
	}
	conn, err := net.DialUDP("udp", laddr, net.UDPAddrFromAddrPort(remote))
	if err != nil {
		return twamp.NewLifecycleError("reflector: connect UDP socket", err)
	}
	r.conn = conn
	r.pconn = setupTTL(conn, r.logger)
	return nil
}

// Run waits for the timeout and start-ack signals, then reflects test
// packets addressed to request.SenderAddr/SenderPort until either the
// per-datagram refwait bound elapses or Stop-Sessions arrives and the
// post-stop grace period (request.Timeout) elapses (RFC 5357 Section 3.5:
// late-arriving in-flight packets must still be reflected). request is
// the value the control-server dialogue already parsed; the caller binds
// this Reflector's socket with it (via Bind) before calling Run.
func (r *Reflector) Run(ctx context.Context, request twamp.RequestTwSession, refwait time.Duration, sig Signals) (int, error) {
	var timeoutSecs uint64
	select {
	case timeoutSecs = <-sig.Timeout:
	case <-ctx.Done():
		return 0, twamp.NewLifecycleError("reflector: await timeout", ctx.Err())
	}

	sig.BoundPort <- r.BoundPort()

	remote := netip.AddrPortFrom(request.SenderAddr, request.SenderPort)
	if err := r.connect(remote); err != nil {
		return 0, err
	}
	local := r.localAddr()

	select {
	case <-sig.StartAckSent:
	case <-ctx.Done():
		return 0, twamp.NewLifecycleError("reflector: await start-ack", ctx.Err())
	}

	loopCtx, cancelLoop := context.WithCancel(ctx)
	defer cancelLoop()

	var count int
	var loopErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		count, loopErr = r.reflectLoop(loopCtx, remote, local, refwait)
	}()

	select {
	case <-sig.StopSessionsReceived:
		grace := time.Duration(timeoutSecs) * time.Second
		select {
		case <-time.After(grace):
		case <-done:
		case <-ctx.Done():
		}
		cancelLoop()
		<-done
	case <-done:
	case <-ctx.Done():
		cancelLoop()
		<-done
	}

	r.logger.Info("session-reflector run complete", slog.Int("reflected", count))
	return count, loopErr
}

// reflectPollInterval bounds how long reflectLoop blocks in a single read
// before re-checking ctx cancellation, so a Stop-Sessions-triggered grace
// timeout shorter than refwait (default 900s) is noticed promptly instead
// of blocking for up to the full remaining refwait. Mirrors the polling
// pattern in internal/sender.recvLoop.
const reflectPollInterval = 200 * time.Millisecond

// reflectLoop waits for the next test packet with an overall idle bound of
// refwait since the last datagram (reset whenever a datagram is read,
// whether or not it parses), reflects each packet it accepts, and repeats
// until ctx is cancelled (graceful) or refwait elapses with no datagram
// pending (a ProtocolError wrapping ErrRefwaitExpired).
func (r *Reflector) reflectLoop(ctx context.Context, remote netip.AddrPort, local netip.Addr, refwait time.Duration) (int, error) {
	buf := make([]byte, 1024)
	count := 0
	idleDeadline := time.Now().Add(refwait)
	for {
		if ctx.Err() != nil {
			return count, nil
		}
		if time.Now().After(idleDeadline) {
			return count, twamp.NewProtocolError("refwait", fmt.Errorf("%w: after %d packets", ErrRefwaitExpired, count))
		}

		readDeadline := time.Now().Add(reflectPollInterval)
		if readDeadline.After(idleDeadline) {
			readDeadline = idleDeadline
		}
		_ = r.conn.SetReadDeadline(readDeadline)
		n, ttl, err := r.readFrom(buf)
		if err != nil {
			continue // poll-interval or idle-deadline expiry: loop re-checks ctx/idleDeadline.
		}
		idleDeadline = time.Now().Add(refwait)
		recvTS := twamp.Now()

		sent, err := twamp.ParseTestPacketUnauth(buf[:n])
		if err != nil {
			r.logger.Debug("dropping malformed test packet", slog.String("error", err.Error()))
			if r.collector != nil {
				r.collector.IncTestPacketsDropped(remote.Addr(), local)
			}
			continue
		}

		reflected := twamp.ReflectFrom(uint32(count), sent, recvTS, ttl)
		outBuf := make([]byte, twamp.ReflectedTestPacketSize)
		if err := reflected.Marshal(outBuf); err != nil {
			return count, err
		}
		if _, err := r.conn.Write(outBuf); err != nil {
			return count, twamp.NewWriteError("ReflectedTestPacketUnauth", err)
		}
		if r.collector != nil {
			r.collector.IncTestPacketsReflected(remote.Addr(), local)
		}
		count++
	}
}

// readFrom reads one datagram off the connected socket, returning the
// sender's IP TTL when IP_RECVTTL instrumentation is active, or
// placeholderTTL otherwise.
func (r *Reflector) readFrom(buf []byte) (int, uint8, error) {
	if r.pconn == nil {
		n, err := r.conn.Read(buf)
		return n, placeholderTTL, err
	}

	n, cm, _, err := r.pconn.ReadFrom(buf)
	if err != nil {
		return 0, placeholderTTL, err
	}
	ttl := uint8(placeholderTTL)
	if cm != nil && cm.TTL > 0 {
		ttl = uint8(cm.TTL) //nolint:gosec // TTL is bounded to [0,255] by IPv4
	}
	return n, ttl, nil
}
