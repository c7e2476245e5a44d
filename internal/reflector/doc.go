// Package reflector implements Session-Reflector, the Responder-side UDP
// endpoint of a TWAMP-Test exchange (RFC 5357 Section 4): it
// binds a socket for the requested session, reflects every test packet it
// receives with sender- and receiver-side timestamps attached, and honors
// a post-stop grace period so in-flight packets are still answered.
package reflector
