package control

import (
	"context"
	"log/slog"
	"net"

	"github.com/twamplab/twamp/internal/metrics"
	"github.com/twamplab/twamp/internal/twamp"
)

// ServerSignals are the one-shot channels the Responder's control
// dialogue uses to coordinate with the local Session-Reflector. Each
// channel fires exactly once.
type ServerSignals struct {
	// Request delivers the parsed Request-TW-Session once it arrives,
	// so Session-Reflector can bind its UDP socket.
	Request chan<- twamp.RequestTwSession

	// Timeout delivers the client's requested refwait-replacement grace
	// period, forwarded verbatim from Request-TW-Session.
	Timeout chan<- uint64

	// StartAckSent is closed once Start-Ack has been written, releasing
	// Session-Reflector's reflect loop.
	StartAckSent chan<- struct{}

	// StopSessionsReceived is closed once Stop-Sessions arrives, telling
	// Session-Reflector to begin its post-stop grace sleep.
	StopSessionsReceived chan<- struct{}

	// BoundPort delivers the port Session-Reflector actually bound,
	// which may differ from the client's requested receiver_port.
	BoundPort <-chan uint16
}

// RunServer drives the Responder's control dialogue over conn: greeting,
// security-mode setup, session request, session start, and session stop.
// It surfaces the session request to Session-Reflector via
// sig.Request and blocks on sig.BoundPort before answering with
// Accept-Session.
func RunServer(ctx context.Context, conn net.Conn, sig ServerSignals, collector *metrics.Collector, logger *slog.Logger) error {
	logger = logger.With(slog.String("component", "control.server"))
	stop := closeOnCancel(ctx, conn)
	defer stop()

	peer, local := connAddrs(conn)
	incControlMessage := func() {
		if collector != nil {
			collector.IncControlMessages(peer, local, "server")
		}
	}

	greeting := twamp.NewServerGreeting(twamp.SecurityModeUnauthenticated)
	greetBuf := make([]byte, twamp.ServerGreetingSize)
	if err := greeting.Marshal(greetBuf); err != nil {
		return err
	}
	if err := writeAll(conn, greetBuf, "ServerGreeting"); err != nil {
		return err
	}
	incControlMessage()
	logger.Debug("control-server dialogue", slog.String("state", "SendGreeting"))

	setupBuf := make([]byte, twamp.SetUpResponseSize)
	if err := readExact(conn, setupBuf, "SetUpResponse"); err != nil {
		return err
	}
	setup, err := twamp.ParseSetUpResponse(setupBuf)
	if err != nil {
		return err
	}
	if setup.Mode != twamp.SecurityModeUnauthenticated {
		return twamp.NewProtocolError("SetUpResponse", twamp.ErrInvalidSecurityMode)
	}
	incControlMessage()

	serverStart := twamp.ServerStart{Accept: twamp.AcceptOk, StartTime: twamp.Now()}
	startBuf := make([]byte, twamp.ServerStartSize)
	if err := serverStart.Marshal(startBuf); err != nil {
		return err
	}
	if err := writeAll(conn, startBuf, "ServerStart"); err != nil {
		return err
	}
	incControlMessage()

	requestBuf := make([]byte, twamp.RequestTwSessionSize)
	if err := readExact(conn, requestBuf, "RequestTwSession"); err != nil {
		return err
	}
	request, err := twamp.ParseRequestTwSession(requestBuf)
	if err != nil {
		return err
	}
	incControlMessage()
	sig.Request <- request
	sig.Timeout <- request.Timeout
	logger.Info("session requested",
		slog.Uint64("receiver_port", uint64(request.ReceiverPort)),
		slog.Uint64("timeout", request.Timeout),
	)

	var boundPort uint16
	select {
	case boundPort = <-sig.BoundPort:
	case <-ctx.Done():
		return twamp.NewLifecycleError("control-server", ctx.Err())
	}

	accept := twamp.AcceptSession{
		Accept:          twamp.AcceptOk,
		Port:            boundPort,
		ReflectedOctets: request.OctetsToReflect,
		ServerOctets:    0,
	}
	acceptBuf := make([]byte, twamp.AcceptSessionSize)
	if err := accept.Marshal(acceptBuf); err != nil {
		return err
	}
	if err := writeAll(conn, acceptBuf, "AcceptSession"); err != nil {
		return err
	}
	incControlMessage()

	startSessionsBuf := make([]byte, twamp.StartSessionsSize)
	if err := readExact(conn, startSessionsBuf, "StartSessions"); err != nil {
		return err
	}
	if _, err := twamp.ParseStartSessions(startSessionsBuf); err != nil {
		return err
	}
	incControlMessage()

	startAckBuf := make([]byte, twamp.StartAckSize)
	if err := (twamp.StartAck{Accept: twamp.AcceptOk}).Marshal(startAckBuf); err != nil {
		return err
	}
	if err := writeAll(conn, startAckBuf, "StartAck"); err != nil {
		return err
	}
	incControlMessage()
	close(sig.StartAckSent)
	logger.Debug("control-server dialogue", slog.String("state", "Running"))

	stopBuf := make([]byte, twamp.StopSessionsSize)
	if err := readExact(conn, stopBuf, "StopSessions"); err != nil {
		return err
	}
	if _, err := twamp.ParseStopSessions(stopBuf); err != nil {
		return err
	}
	incControlMessage()
	close(sig.StopSessionsReceived)

	logger.Info("control-server dialogue complete")
	return nil
}
