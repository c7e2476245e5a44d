// twamp-responder accepts TWAMP-Control connections and serves the
// Responder role (Server + Session-Reflector) for each one concurrently
// (RFC 5357/4656 unauthenticated mode).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/twamplab/twamp/internal/metrics"
	"github.com/twamplab/twamp/internal/responder"
	appversion "github.com/twamplab/twamp/internal/version"
)

const twampControlWellKnownPort = 862

// metricsAddr is the plain HTTP listener address for the Prometheus
// /metrics endpoint.
const metricsAddr = "127.0.0.1:9863"

func main() {
	os.Exit(run())
}

type cliConfig struct {
	addr    netip.Addr
	port    uint16
	refwait uint
}

func parseFlags() (cliConfig, error) {
	addrStr := flag.String("addr", "127.0.0.1", "IP address to bind the Responder's TWAMP-Control listener to")
	port := flag.Uint("port", twampControlWellKnownPort, "port to bind the Responder's TWAMP-Control listener to")
	refwait := flag.Uint("refwait", 900, "seconds Session-Reflector waits for the next test packet before aborting")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(appversion.Full("twamp-responder"))
		os.Exit(0)
	}

	addr, err := netip.ParseAddr(*addrStr)
	if err != nil {
		return cliConfig{}, fmt.Errorf("--addr: %w", err)
	}

	return cliConfig{addr: addr, port: uint16(*port), refwait: *refwait}, nil
}

func run() int {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	cli, err := parseFlags()
	if err != nil {
		logger.Error("invalid flags", slog.String("error", err.Error()))
		return 1
	}

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	resp, err := responder.Listen(cli.addr, cli.port, logger, collector)
	if err != nil {
		logger.Error("failed to start responder", slog.String("error", err.Error()))
		return 1
	}
	defer resp.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	metricsSrv := newMetricsServer(reg)
	g.Go(func() error {
		return listenAndServe(gCtx, metricsSrv, metricsAddr)
	})

	g.Go(func() error {
		return resp.Run(gCtx, time.Duration(cli.refwait)*time.Second)
	})

	g.Go(func() error {
		<-gCtx.Done()
		notifyStopping(logger)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return metricsSrv.Shutdown(shutdownCtx)
	})

	logger.Info("twamp-responder starting",
		slog.String("version", appversion.Version),
		slog.String("addr", net.JoinHostPort(cli.addr.String(), fmt.Sprintf("%d", cli.port))),
		slog.String("metrics_addr", metricsAddr),
	)
	notifyReady(logger)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("twamp-responder exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("twamp-responder stopped")
	return 0
}

func newMetricsServer(reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}

func listenAndServe(ctx context.Context, srv *http.Server, addr string) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve %s: %w", addr, err)
	}
	return nil
}

func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}
