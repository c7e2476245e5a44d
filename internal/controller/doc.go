// Package controller implements the Controller orchestrator: it joins
// the Control-Client dialogue and the Session-Sender data plane
// for one TWAMP measurement run and reduces the result to a metrics
// summary.
package controller
