package sender

import (
	"context"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/twamplab/twamp/internal/metrics"
	"github.com/twamplab/twamp/internal/twamp"
)

// Config carries the parameters that shape a Session-Sender run.
type Config struct {
	NumPackets       uint32
	NTPSynchronized  bool
	StopSessionSleep time.Duration
}

// Signals are the one-shot channels Session-Sender uses to coordinate with
// the local Control-Client. Each fires exactly once.
type Signals struct {
	// ReflectorPort delivers the negotiated reflector port before the
	// send loop may begin.
	ReflectorPort <-chan uint16

	// Start releases the send loop.
	Start <-chan struct{}

	// TestComplete is closed once both the send loop and the receive
	// loop have concluded.
	TestComplete chan<- struct{}
}

// ReflectedRecord pairs a parsed reflected packet with the local arrival
// time it was recorded at.
type ReflectedRecord struct {
	Packet  twamp.ReflectedTestPacketUnauth
	Arrival twamp.Timestamp
}

// Result is the outcome of a Session-Sender run: how many packets were
// transmitted and every reflected packet recorded before the grace period
// expired.
type Result struct {
	Sent      int
	Reflected []ReflectedRecord
}

// Sender owns the UDP socket Session-Sender uses for one TWAMP-Test run.
// It is bound at construction so the Control-Client can learn the sender
// port before RequestTwSession is sent.
type Sender struct {
	conn      *net.UDPConn
	logger    *slog.Logger
	collector *metrics.Collector
}

// New binds a UDP socket at addr:port (port 0 for OS assignment). collector
// may be nil, in which case Sender records no Prometheus metrics.
func New(addr netip.Addr, port uint16, logger *slog.Logger, collector *metrics.Collector) (*Sender, error) {
	conn, err := net.ListenUDP("udp", net.UDPAddrFromAddrPort(netip.AddrPortFrom(addr, port)))
	if err != nil {
		return nil, twamp.NewLifecycleError("sender: bind UDP socket", err)
	}
	return &Sender{
		conn:      conn,
		logger:    logger.With(slog.String("component", "sender")),
		collector: collector,
	}, nil
}

// localAddr reports the bound local address, resolving OS assignment.
func (s *Sender) localAddr() netip.Addr {
	return s.conn.LocalAddr().(*net.UDPAddr).AddrPort().Addr() //nolint:forcetypeassert // *net.UDPConn always reports *net.UDPAddr
}

// LocalPort reports the bound local port, resolving OS assignment.
func (s *Sender) LocalPort() uint16 {
	return uint16(s.conn.LocalAddr().(*net.UDPAddr).Port) //nolint:forcetypeassert // *net.UDPConn always reports *net.UDPAddr
}

// Close releases the underlying socket.
func (s *Sender) Close() error {
	return s.conn.Close()
}

// connect pins the socket to the negotiated reflector so the kernel
// rejects datagrams from any other source. The local address is rebound
// unchanged: it is the sender_addr/sender_port the control dialogue
// already advertised in Request-TW-Session.
func (s *Sender) connect(remote netip.AddrPort) error {
	laddr := s.conn.LocalAddr().(*net.UDPAddr) //nolint:forcetypeassert // *net.UDPConn always reports *net.UDPAddr
	if err := s.conn.Close(); err != nil {
		return twamp.NewLifecycleError("sender: release unconnected socket", err)
	}
	conn, err := net.DialUDP("udp", laddr, net.UDPAddrFromAddrPort(remote))
	if err != nil {
		return twamp.NewLifecycleError("sender: connect UDP socket", err)
	}
	s.conn = conn
	return nil
}

// Run waits for the reflector port and start signal, transmits
// cfg.NumPackets test packets back-to-back, concurrently records reflected
// packets, and signals TestComplete once both loops have concluded.
func (s *Sender) Run(ctx context.Context, responderAddr netip.Addr, sig Signals, cfg Config) (Result, error) {
	var reflectorPort uint16
	select {
	case reflectorPort = <-sig.ReflectorPort:
	case <-ctx.Done():
		return Result{}, twamp.NewLifecycleError("sender: await reflector port", ctx.Err())
	}
	remote := netip.AddrPortFrom(responderAddr, reflectorPort)
	if err := s.connect(remote); err != nil {
		return Result{}, err
	}
	local := s.localAddr()

	recvCtx, cancelRecv := context.WithCancel(ctx)
	defer cancelRecv()

	var (
		mu        sync.Mutex
		reflected []ReflectedRecord
	)
	recvDone := make(chan struct{})
	go func() {
		defer close(recvDone)
		s.recvLoop(recvCtx, remote, local, cfg.NumPackets, &mu, &reflected)
	}()

	select {
	case <-sig.Start:
	case <-ctx.Done():
		return Result{}, twamp.NewLifecycleError("sender: await start", ctx.Err())
	}

	sent, err := s.sendLoop(ctx, remote, local, cfg)
	if err != nil {
		return Result{}, err
	}

	select {
	case <-recvDone:
	case <-time.After(cfg.StopSessionSleep):
		cancelRecv()
		<-recvDone
	}

	close(sig.TestComplete)

	mu.Lock()
	result := Result{Sent: sent, Reflected: append([]ReflectedRecord(nil), reflected...)}
	mu.Unlock()

	s.logger.Info("session-sender run complete",
		slog.Int("sent", result.Sent),
		slog.Int("reflected", len(result.Reflected)),
	)
	return result, nil
}

func (s *Sender) sendLoop(ctx context.Context, remote netip.AddrPort, local netip.Addr, cfg Config) (int, error) {
	ee := twamp.NewErrorEstimate(cfg.NTPSynchronized)
	buf := make([]byte, twamp.TestPacketSize)
	for seq := range cfg.NumPackets {
		if ctx.Err() != nil {
			return int(seq), twamp.NewLifecycleError("sender: send loop", ctx.Err())
		}
		pkt := twamp.TestPacketUnauth{
			SequenceNumber: seq,
			Timestamp:      twamp.Now(),
			ErrorEstimate:  ee,
		}
		if err := pkt.Marshal(buf); err != nil {
			return int(seq), err
		}
		if _, err := s.conn.Write(buf); err != nil {
			return int(seq), twamp.NewWriteError("TestPacketUnauth", err)
		}
		if s.collector != nil {
			s.collector.IncTestPacketsSent(remote.Addr(), local)
		}
	}
	return int(cfg.NumPackets), nil
}

// recvLoop reads reflected packets off the connected socket until either
// count reflections have been recorded or ctx is cancelled, whichever
// occurs first. The caller cancels ctx when the post-send grace period
// expires.
func (s *Sender) recvLoop(ctx context.Context, remote netip.AddrPort, local netip.Addr, count uint32, mu *sync.Mutex, out *[]ReflectedRecord) {
	buf := make([]byte, 1024)
	for {
		mu.Lock()
		done := uint32(len(*out)) >= count
		mu.Unlock()
		if done {
			return
		}
		if ctx.Err() != nil {
			return
		}

		_ = s.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, err := s.conn.Read(buf)
		if err != nil {
			continue // deadline expiry or transient error: loop re-checks ctx/count.
		}
		arrival := twamp.Now()
		pkt, err := twamp.ParseReflectedTestPacketUnauth(buf[:n])
		if err != nil {
			s.logger.Debug("dropping malformed reflected packet", slog.String("error", err.Error()))
			if s.collector != nil {
				s.collector.IncTestPacketsDropped(remote.Addr(), local)
			}
			continue
		}
		mu.Lock()
		*out = append(*out, ReflectedRecord{Packet: pkt, Arrival: arrival})
		mu.Unlock()
	}
}
