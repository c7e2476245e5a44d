// Package control drives the TWAMP-Control dialogue (RFC 4656 Section 3.1,
// RFC 5357 Section 3) over a single TCP connection: greeting, security mode
// negotiation, session request/accept, and start/stop signalling.
//
// The dialogue has exactly one path from connection open to Running
// (Accept-Session and Start-Ack can only succeed or fail the whole
// connection) -- there are no alternate incoming states to branch on. The
// Control-Client still names its phases as explicit State values for debug
// logging, but each dialogue is driven with a plain sequential function rather than a
// transition table, since a table with one entry per state would describe
// nothing a reader couldn't get from the function body itself.
package control
