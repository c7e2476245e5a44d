// Package sender implements Session-Sender, the Controller-side UDP
// endpoint of a TWAMP-Test exchange (RFC 5357 Section 4): it
// transmits a fixed number of stamped test packets to the negotiated
// reflector port and records every reflected packet that arrives before
// the run's grace period expires.
package sender
