package controller

import (
	"context"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/twamplab/twamp/internal/control"
	"github.com/twamplab/twamp/internal/metrics"
	"github.com/twamplab/twamp/internal/sender"
	"github.com/twamplab/twamp/internal/twamp"
)

// Config carries one Controller invocation's worth of parameters, one
// field per CLI flag.
type Config struct {
	ResponderAddr netip.Addr
	ResponderPort uint16

	ControllerAddr     netip.Addr
	ControllerTestPort uint16

	ResponderReflectPort uint16

	NumPackets       uint32
	Timeout          uint64
	StopSessionSleep time.Duration
}

// Result is the outcome of one Controller run: the raw Session-Sender
// result plus its derived metrics summary.
type Result struct {
	Sent      int
	Reflected []sender.ReflectedRecord
	Metrics   Metrics
}

// Run dials the Responder's TCP control port, drives the Control-Client
// dialogue and Session-Sender data plane concurrently via errgroup, and
// computes metrics once both tasks have joined. Both tasks must complete
// for the session to succeed; either task's error is propagated to the
// caller. collector may be nil, in which case no Prometheus metrics are
// recorded.
func Run(ctx context.Context, cfg Config, collector *metrics.Collector, logger *slog.Logger) (Result, error) {
	logger = logger.With(slog.String("component", "controller"))

	responderAddr := netip.AddrPortFrom(cfg.ResponderAddr, cfg.ResponderPort)
	conn, err := net.Dial("tcp", responderAddr.String())
	if err != nil {
		return Result{}, twamp.NewLifecycleError("controller: dial responder", err)
	}
	defer conn.Close()

	snd, err := sender.New(cfg.ControllerAddr, cfg.ControllerTestPort, logger, collector)
	if err != nil {
		return Result{}, err
	}
	defer snd.Close()

	reflectorPortCh := make(chan uint16, 1)
	startCh := make(chan struct{}, 1)
	testCompleteCh := make(chan struct{})

	clientCfg := control.ClientConfig{
		SenderAddr:   cfg.ControllerAddr,
		SenderPort:   snd.LocalPort(),
		ReceiverAddr: cfg.ResponderAddr,
		ReceiverPort: cfg.ResponderReflectPort,
		Timeout:      cfg.Timeout,
	}
	clientSig := control.ClientSignals{
		ReflectorPort: reflectorPortCh,
		Start:         startCh,
		TestComplete:  testCompleteCh,
	}
	senderSig := sender.Signals{
		ReflectorPort: reflectorPortCh,
		Start:         startCh,
		TestComplete:  testCompleteCh,
	}
	senderCfg := sender.Config{
		NumPackets:       cfg.NumPackets,
		NTPSynchronized:  true,
		StopSessionSleep: cfg.StopSessionSleep,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return control.RunClient(gCtx, conn, clientCfg, clientSig, collector, logger)
	})

	var sendResult sender.Result
	g.Go(func() error {
		r, err := snd.Run(gCtx, cfg.ResponderAddr, senderSig, senderCfg)
		sendResult = r
		return err
	})

	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	m := ComputeMetrics(sendResult.Reflected, cfg.NumPackets)
	logger.Info("controller run complete",
		slog.Int("sent", sendResult.Sent),
		slog.Int("reflected", len(sendResult.Reflected)),
		slog.Float64("packet_loss_percent", m.PacketLossPercent),
	)

	return Result{
		Sent:      sendResult.Sent,
		Reflected: sendResult.Reflected,
		Metrics:   m,
	}, nil
}
