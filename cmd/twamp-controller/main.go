// twamp-controller runs one TWAMP measurement session against a Responder
// and prints the resulting metrics summary (RFC 5357/4656 unauthenticated
// mode).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/twamplab/twamp/internal/controller"
	"github.com/twamplab/twamp/internal/metrics"
	appversion "github.com/twamplab/twamp/internal/version"
)

// twampControlWellKnownPort is the IANA-assigned TCP port for TWAMP-Control
// (RFC 8545 Section 7).
const twampControlWellKnownPort = 862

// twampTestWellKnownPort is the default Session-Reflector UDP port before
// any port-in-use renegotiation.
const twampTestWellKnownPort = 862

func main() {
	os.Exit(run())
}

// cliConfig holds the parsed flag values, one field per flag.
type cliConfig struct {
	responderAddr netip.Addr
	responderPort uint16

	controllerAddr     netip.Addr
	controllerTestPort uint16

	responderReflectPort uint16

	numPackets       uint
	timeout          uint64
	stopSessionSleep uint
}

func parseFlags() (cliConfig, error) {
	responderAddrStr := flag.String("responder-addr", "", "IP address of Responder")
	responderPort := flag.Uint("responder-port", twampControlWellKnownPort, "port Responder listens on for TWAMP-Control")
	controllerAddrStr := flag.String("controller-addr", "0.0.0.0", "IP address Controller binds Session-Sender to")
	controllerTestPort := flag.Uint("controller-test-port", 0, "port Session-Sender binds to (0 = OS-assigned)")
	responderReflectPort := flag.Uint("responder-reflect-port", twampTestWellKnownPort, "port Session-Reflector should listen on")
	numPackets := flag.Uint("number-of-test-packets", 10, "number of TWAMP-Test packets to send")
	timeout := flag.Uint64("timeout", 900, "seconds Session-Reflector should keep reflecting after Stop-Sessions")
	stopSessionSleep := flag.Uint("stop-session-sleep", 5, "grace period in seconds to wait for reflected packets after the send loop completes")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(appversion.Full("twamp-controller"))
		os.Exit(0)
	}

	if *responderAddrStr == "" {
		return cliConfig{}, fmt.Errorf("--responder-addr is required")
	}
	responderAddr, err := netip.ParseAddr(*responderAddrStr)
	if err != nil {
		return cliConfig{}, fmt.Errorf("--responder-addr: %w", err)
	}
	controllerAddr, err := netip.ParseAddr(*controllerAddrStr)
	if err != nil {
		return cliConfig{}, fmt.Errorf("--controller-addr: %w", err)
	}

	return cliConfig{
		responderAddr:        responderAddr,
		responderPort:        uint16(*responderPort),
		controllerAddr:       controllerAddr,
		controllerTestPort:   uint16(*controllerTestPort),
		responderReflectPort: uint16(*responderReflectPort),
		numPackets:           *numPackets,
		timeout:              *timeout,
		stopSessionSleep:     *stopSessionSleep,
	}, nil
}

func run() int {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cli, err := parseFlags()
	if err != nil {
		logger.Error("invalid flags", slog.String("error", err.Error()))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := controller.Config{
		ResponderAddr:        cli.responderAddr,
		ResponderPort:        cli.responderPort,
		ControllerAddr:       cli.controllerAddr,
		ControllerTestPort:   cli.controllerTestPort,
		ResponderReflectPort: cli.responderReflectPort,
		NumPackets:           uint32(cli.numPackets),
		Timeout:              cli.timeout,
		StopSessionSleep:     time.Duration(cli.stopSessionSleep) * time.Second,
	}

	// One-shot invocation: metrics are recorded but not served over HTTP,
	// unlike twamp-responder's long-lived /metrics endpoint.
	collector := metrics.NewCollector(prometheus.NewRegistry())

	result, err := controller.Run(ctx, cfg, collector, logger)
	if err != nil {
		logger.Error("controller run failed", slog.String("error", err.Error()))
		return 1
	}

	printMetrics(result)
	return 0
}

func printMetrics(result controller.Result) {
	m := result.Metrics
	fmt.Printf("Packet loss: %.0f%%\n", m.PacketLossPercent)
	fmt.Printf("RTT (MIN): %.2fms\n", m.RTTMinMs)
	fmt.Printf("RTT (MAX): %.2fms\n", m.RTTMaxMs)
	fmt.Printf("RTT (AVG): %.2fms\n", m.RTTAvgMs)
	fmt.Printf("OWD (Sender -> Reflector) (AVG): %.2fms\n", m.OneWaySenderToReflectorAvgMs)
	fmt.Printf("OWD (Reflector -> Sender) (AVG): %.2fms\n", m.OneWayReflectorToSenderAvgMs)
	fmt.Printf("Jitter: %.2fms\n", m.JitterMs)
}
