// Package responder implements the Responder orchestrator: it listens
// for TCP control connections and, for each one, joins a
// Server control dialogue with its own Session-Reflector data plane.
package responder
