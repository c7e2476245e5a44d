package control

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"

	"github.com/twamplab/twamp/internal/metrics"
	"github.com/twamplab/twamp/internal/twamp"
)

// ClientConfig carries the parameters Control-Client needs to build
// Request-TW-Session.
type ClientConfig struct {
	// SenderAddr and SenderPort identify the Session-Sender's UDP socket.
	SenderAddr netip.Addr
	SenderPort uint16

	// ReceiverAddr and ReceiverPort identify where the Responder should
	// bind Session-Reflector. ReceiverPort is the client's preference;
	// the Responder may substitute a different port, and the substitute
	// is what ClientSignals.ReflectorPort delivers.
	ReceiverAddr netip.Addr
	ReceiverPort uint16

	// Timeout is the post-Stop-Sessions grace period, in seconds, the
	// client asks the Responder's Session-Reflector to honor
	// (RFC 5357 Section 3.5).
	Timeout uint64
}

// ClientSignals are the one-shot channels Control-Client uses to
// coordinate with the local Session-Sender. Each channel fires exactly
// once.
type ClientSignals struct {
	// ReflectorPort delivers the negotiated reflector port once
	// Accept-Session arrives.
	ReflectorPort chan<- uint16

	// Start releases Session-Sender's send loop once Start-Ack arrives.
	Start chan<- struct{}

	// TestComplete is closed by Session-Sender once its send and receive
	// loops have both concluded.
	TestComplete <-chan struct{}
}

// RunClient drives the Control-Client dialogue over conn: greeting,
// security-mode setup, session request, session start, and, once
// TestComplete fires, session stop.
//
// Any non-Ok Accept code, framing violation, or I/O error aborts the
// dialogue and returns a typed error naming the message in progress. The
// caller is responsible for closing conn.
func RunClient(ctx context.Context, conn net.Conn, cfg ClientConfig, sig ClientSignals, collector *metrics.Collector, logger *slog.Logger) error {
	logger = logger.With(slog.String("component", "control.client"))
	stop := closeOnCancel(ctx, conn)
	defer stop()

	peer, local := connAddrs(conn)
	incControlMessage := func() {
		if collector != nil {
			collector.IncControlMessages(peer, local, "client")
		}
	}

	state := StateAwaitGreeting
	logger.Debug("control-client dialogue starting", slog.String("state", state.String()))

	greetBuf := make([]byte, twamp.ServerGreetingSize)
	if err := readExact(conn, greetBuf, "ServerGreeting"); err != nil {
		return err
	}
	greeting, err := twamp.ParseServerGreeting(greetBuf)
	if err != nil {
		return err
	}
	if !greeting.Modes.Has(twamp.SecurityModeUnauthenticated) {
		return twamp.NewProtocolError("ServerGreeting", twamp.ErrInvalidSecurityMode)
	}
	incControlMessage()

	state = StateSentSetUpResponse
	setup := twamp.SetUpResponse{Mode: twamp.SecurityModeUnauthenticated}
	setupBuf := make([]byte, twamp.SetUpResponseSize)
	if err := setup.Marshal(setupBuf); err != nil {
		return err
	}
	if err := writeAll(conn, setupBuf, "SetUpResponse"); err != nil {
		return err
	}
	incControlMessage()
	logger.Debug("control-client dialogue", slog.String("state", state.String()))

	state = StateAwaitServerStart
	startBuf := make([]byte, twamp.ServerStartSize)
	if err := readExact(conn, startBuf, "ServerStart"); err != nil {
		return err
	}
	serverStart, err := twamp.ParseServerStart(startBuf)
	if err != nil {
		return err
	}
	if serverStart.Accept != twamp.AcceptOk {
		return twamp.NewProtocolError("ServerStart", fmt.Errorf("server refused: %s", serverStart.Accept))
	}
	incControlMessage()

	state = StateSentRequestTwSession
	request := twamp.RequestTwSession{
		SenderPort:   cfg.SenderPort,
		ReceiverPort: cfg.ReceiverPort,
		SenderAddr:   cfg.SenderAddr,
		ReceiverAddr: cfg.ReceiverAddr,
		StartTime:    twamp.Now(),
		Timeout:      cfg.Timeout,
	}
	requestBuf := make([]byte, twamp.RequestTwSessionSize)
	if err := request.Marshal(requestBuf); err != nil {
		return err
	}
	if err := writeAll(conn, requestBuf, "RequestTwSession"); err != nil {
		return err
	}
	incControlMessage()
	logger.Debug("control-client dialogue", slog.String("state", state.String()))

	state = StateAwaitAcceptSession
	acceptBuf := make([]byte, twamp.AcceptSessionSize)
	if err := readExact(conn, acceptBuf, "AcceptSession"); err != nil {
		return err
	}
	accept, err := twamp.ParseAcceptSession(acceptBuf)
	if err != nil {
		return err
	}
	if accept.Accept != twamp.AcceptOk {
		return twamp.NewProtocolError("AcceptSession", fmt.Errorf("server refused: %s", accept.Accept))
	}
	incControlMessage()
	sig.ReflectorPort <- accept.Port
	logger.Info("session accepted", slog.Uint64("reflector_port", uint64(accept.Port)))

	state = StateSentStartSessions
	startSessionsBuf := make([]byte, twamp.StartSessionsSize)
	if err := (twamp.StartSessions{}).Marshal(startSessionsBuf); err != nil {
		return err
	}
	if err := writeAll(conn, startSessionsBuf, "StartSessions"); err != nil {
		return err
	}
	incControlMessage()
	logger.Debug("control-client dialogue", slog.String("state", state.String()))

	state = StateAwaitStartAck
	startAckBuf := make([]byte, twamp.StartAckSize)
	if err := readExact(conn, startAckBuf, "StartAck"); err != nil {
		return err
	}
	startAck, err := twamp.ParseStartAck(startAckBuf)
	if err != nil {
		return err
	}
	if startAck.Accept != twamp.AcceptOk {
		return twamp.NewProtocolError("StartAck", fmt.Errorf("server refused: %s", startAck.Accept))
	}
	incControlMessage()
	sig.Start <- struct{}{}

	state = StateRunning
	logger.Debug("control-client dialogue", slog.String("state", state.String()))
	select {
	case <-sig.TestComplete:
	case <-ctx.Done():
		return twamp.NewLifecycleError("control-client", ctx.Err())
	}

	state = StateSentStopSessions
	stopBuf := make([]byte, twamp.StopSessionsSize)
	if err := (twamp.StopSessions{Accept: twamp.AcceptOk}).Marshal(stopBuf); err != nil {
		return err
	}
	if err := writeAll(conn, stopBuf, "StopSessions"); err != nil {
		return err
	}
	incControlMessage()

	state = StateDone
	logger.Info("control-client dialogue complete", slog.String("state", state.String()))
	return nil
}
