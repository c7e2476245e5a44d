// Package twamp implements the wire codec layer for the Two-Way Active
// Measurement Protocol, unauthenticated mode (RFC 5357, with RFC 4656
// framing conventions).
//
// This package owns every fixed-size message shape used by TWAMP-Control
// (the TCP negotiation dialogue) and TWAMP-Test (the UDP measurement
// exchange), plus the shared NTP timestamp and error-estimate encodings.
// Message-type disambiguation on the wire is positional, not
// self-describing: callers (internal/control) know from dialogue phase
// which shape to parse next. This package only guarantees that
// serialize(parse(bytes)) round-trips and that malformed bytes (wrong
// length, nonzero MBZ, mismatched command number) are rejected.
package twamp
