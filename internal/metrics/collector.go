// Package metrics exposes Prometheus instrumentation for the TWAMP
// responder and controller processes.
package metrics

import (
	"net/netip"

	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "twamp"
	subsystem = "session"
)

// Label names for TWAMP metrics.
const (
	labelPeerAddr  = "peer_addr"
	labelLocalAddr = "local_addr"
	labelRole      = "role"
	labelAccept    = "accept"
)

// -------------------------------------------------------------------------
// Collector — Prometheus TWAMP Metrics
// -------------------------------------------------------------------------

// Collector holds all TWAMP Prometheus metrics.
//
//   - Session gauges track currently active TWAMP-Control dialogues.
//   - Packet counters track TWAMP-Test send/reflect/drop volumes per peer.
//   - Control-message counters record PDU exchange volume for alerting.
//   - Rejected-session counters flag Accept-Session/Start-Ack refusals.
type Collector struct {
	// Sessions tracks the number of currently active TWAMP-Control
	// dialogues. Incremented when the Responder accepts a TWAMP-Control
	// connection, decremented when that connection's handler returns.
	Sessions *prometheus.GaugeVec

	// TestPacketsSent counts the total TWAMP-Test packets transmitted by
	// a Session-Sender, per peer.
	TestPacketsSent *prometheus.CounterVec

	// TestPacketsReflected counts the total TWAMP-Test packets reflected
	// by a Session-Reflector, per peer.
	TestPacketsReflected *prometheus.CounterVec

	// TestPacketsDropped counts TWAMP-Test packets dropped because they
	// failed to parse, per peer.
	TestPacketsDropped *prometheus.CounterVec

	// ControlMessages counts TWAMP-Control PDUs exchanged, labeled by
	// local role ("client" or "server").
	ControlMessages *prometheus.CounterVec

	// SessionsRejected counts sessions that did not complete, labeled by
	// an outcome string. The Responder records every failed session with
	// the label "Error".
	SessionsRejected *prometheus.CounterVec
}

// NewCollector creates a Collector with all TWAMP metrics registered against
// the provided prometheus.Registerer. If reg is nil, prometheus.DefaultRegisterer
// is used.
//
// All metrics are created with the "twamp_session_" prefix (namespace_subsystem)
// to avoid collisions with other exporters.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.Sessions,
		c.TestPacketsSent,
		c.TestPacketsReflected,
		c.TestPacketsDropped,
		c.ControlMessages,
		c.SessionsRejected,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	peerLabels := []string{labelPeerAddr, labelLocalAddr}
	roleLabels := []string{labelPeerAddr, labelLocalAddr, labelRole}
	acceptLabels := []string{labelPeerAddr, labelLocalAddr, labelAccept}

	return &Collector{
		Sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "active",
			Help:      "Number of currently active TWAMP-Control dialogues.",
		}, peerLabels),

		TestPacketsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "test_packets_sent_total",
			Help:      "Total TWAMP-Test packets transmitted by a Session-Sender.",
		}, peerLabels),

		TestPacketsReflected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "test_packets_reflected_total",
			Help:      "Total TWAMP-Test packets reflected by a Session-Reflector.",
		}, peerLabels),

		TestPacketsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "test_packets_dropped_total",
			Help:      "Total TWAMP-Test packets dropped due to parse failure.",
		}, peerLabels),

		ControlMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "control_messages_total",
			Help:      "Total TWAMP-Control PDUs exchanged.",
		}, roleLabels),

		SessionsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sessions_rejected_total",
			Help:      "Total sessions that did not complete, labeled by outcome.",
		}, acceptLabels),
	}
}

// -------------------------------------------------------------------------
// Session Lifecycle
// -------------------------------------------------------------------------

// RegisterSession increments the active sessions gauge for the given peer.
// Called when the Responder accepts a TWAMP-Control connection.
func (c *Collector) RegisterSession(peer, local netip.Addr) {
	c.Sessions.WithLabelValues(peer.String(), local.String()).Inc()
}

// UnregisterSession decrements the active sessions gauge for the given peer.
// Called when a session's control dialogue concludes.
func (c *Collector) UnregisterSession(peer, local netip.Addr) {
	c.Sessions.WithLabelValues(peer.String(), local.String()).Dec()
}

// -------------------------------------------------------------------------
// TWAMP-Test Packet Counters
// -------------------------------------------------------------------------

// IncTestPacketsSent increments the transmitted test-packet counter for the
// given peer. Called on each successful TestPacketUnauth transmission.
func (c *Collector) IncTestPacketsSent(peer, local netip.Addr) {
	c.TestPacketsSent.WithLabelValues(peer.String(), local.String()).Inc()
}

// IncTestPacketsReflected increments the reflected test-packet counter for
// the given peer. Called on each successful ReflectedTestPacketUnauth
// transmission.
func (c *Collector) IncTestPacketsReflected(peer, local netip.Addr) {
	c.TestPacketsReflected.WithLabelValues(peer.String(), local.String()).Inc()
}

// IncTestPacketsDropped increments the dropped test-packet counter for the
// given peer. Called when a datagram fails to parse; datagrams from any
// address other than the negotiated peer never reach the application,
// since the data-plane sockets are connected.
func (c *Collector) IncTestPacketsDropped(peer, local netip.Addr) {
	c.TestPacketsDropped.WithLabelValues(peer.String(), local.String()).Inc()
}

// -------------------------------------------------------------------------
// Control Dialogue
// -------------------------------------------------------------------------

// IncControlMessages increments the control-message counter for the given
// peer and role ("client" or "server").
func (c *Collector) IncControlMessages(peer, local netip.Addr, role string) {
	c.ControlMessages.WithLabelValues(peer.String(), local.String(), role).Inc()
}

// IncSessionsRejected increments the rejected-sessions counter, labeled
// with the given outcome string (e.g. an Accept value's name such as
// "Failure", or "Error" as the Responder uses for any failed session).
func (c *Collector) IncSessionsRejected(peer, local netip.Addr, accept string) {
	c.SessionsRejected.WithLabelValues(peer.String(), local.String(), accept).Inc()
}
