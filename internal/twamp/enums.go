package twamp

import "fmt"

// Accept is the one-octet status code carried in ServerStart, Accept-Session,
// and Start-Ack (RFC 4656 Section 3.1 / RFC 5357 Section 3.5).
type Accept uint8

const (
	AcceptOk                          Accept = 0
	AcceptFailure                     Accept = 1
	AcceptInternalError               Accept = 2
	AcceptNotSupported                Accept = 3
	AcceptPermanentResourceLimitation Accept = 4
	AcceptTemporaryResourceLimitation Accept = 5
)

var acceptNames = map[Accept]string{
	AcceptOk:                          "Ok",
	AcceptFailure:                     "Failure",
	AcceptInternalError:               "InternalError",
	AcceptNotSupported:                "NotSupported",
	AcceptPermanentResourceLimitation: "PermanentResourceLimitation",
	AcceptTemporaryResourceLimitation: "TemporaryResourceLimitation",
}

// String returns the human-readable name of the accept code.
func (a Accept) String() string {
	if name, ok := acceptNames[a]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", uint8(a))
}

// Valid reports whether a is one of the six defined accept codes.
func (a Accept) Valid() bool {
	_, ok := acceptNames[a]
	return ok
}

// SecurityMode is the 32-bit bit-field carried in ServerGreeting (OR of
// supported modes) and Set-Up-Response (exactly one selected mode)
// (RFC 4656 Section 3.1).
type SecurityMode uint32

const (
	SecurityModeReserved                   SecurityMode = 0
	SecurityModeUnauthenticated            SecurityMode = 1
	SecurityModeAuthenticated              SecurityMode = 2
	SecurityModeEncrypted                  SecurityMode = 4
	SecurityModeEncryptedControlUnauthTest SecurityMode = 8
)

// Has reports whether mode bit m is present in the (possibly OR'd) bitmap s.
func (s SecurityMode) Has(m SecurityMode) bool {
	return s&m != 0
}

// CommandNumber identifies the command carried in the leading octet of
// Request-TW-Session, Start-Sessions, and Stop-Sessions (RFC 5357 Section 3.4).
type CommandNumber uint8

const (
	CommandForbidden        CommandNumber = 1
	CommandStartSessions    CommandNumber = 2
	CommandStopSessions     CommandNumber = 3
	CommandRequestTwSession CommandNumber = 5
	CommandExperimentation  CommandNumber = 6
)
