package twamp

import (
	"encoding/binary"
	"net/netip"
)

// Wire sizes of the eight TWAMP-Control messages (RFC 4656 Section 3.1,
// RFC 5357 Section 3.4).
const (
	ServerGreetingSize   = 64
	SetUpResponseSize    = 164
	ServerStartSize      = 48
	RequestTwSessionSize = 112
	AcceptSessionSize    = 48
	StartSessionsSize    = 32
	StartAckSize         = 32
	StopSessionsSize     = 20
)

// ServerGreeting is the first message on a TWAMP-Control connection, sent
// by the Server immediately after accept (RFC 4656 Section 3.1).
type ServerGreeting struct {
	Modes     SecurityMode
	Challenge [16]byte
	Salt      [16]byte
	Count     uint32
}

// NewServerGreeting builds a greeting advertising the OR of modes, with the
// conventional default iteration count.
func NewServerGreeting(modes SecurityMode) ServerGreeting {
	return ServerGreeting{Modes: modes, Count: 1024}
}

func (g ServerGreeting) Marshal(buf []byte) error {
	if len(buf) < ServerGreetingSize {
		return NewWireConversionError("ServerGreeting", ErrBufTooSmall)
	}
	clear(buf[0:12])
	binary.BigEndian.PutUint32(buf[12:16], uint32(g.Modes))
	copy(buf[16:32], g.Challenge[:])
	copy(buf[32:48], g.Salt[:])
	binary.BigEndian.PutUint32(buf[48:52], g.Count)
	clear(buf[52:64])
	return nil
}

func ParseServerGreeting(buf []byte) (ServerGreeting, error) {
	if len(buf) < ServerGreetingSize {
		return ServerGreeting{}, NewWireConversionError("ServerGreeting", ErrPacketTooShort)
	}
	if !isZero(buf[0:12]) || !isZero(buf[52:64]) {
		return ServerGreeting{}, NewWireConversionError("ServerGreeting", ErrMBZNonzero)
	}
	var g ServerGreeting
	g.Modes = SecurityMode(binary.BigEndian.Uint32(buf[12:16]))
	copy(g.Challenge[:], buf[16:32])
	copy(g.Salt[:], buf[32:48])
	g.Count = binary.BigEndian.Uint32(buf[48:52])
	return g, nil
}

// SetUpResponse is the Control-Client's reply to ServerGreeting, selecting
// a single security mode (RFC 4656 Section 3.1). KeyID, Token, and ClientIV
// are unused and MBZ in unauthenticated mode, which is all this
// implementation supports.
type SetUpResponse struct {
	Mode SecurityMode
}

func (r SetUpResponse) Marshal(buf []byte) error {
	if len(buf) < SetUpResponseSize {
		return NewWireConversionError("SetUpResponse", ErrBufTooSmall)
	}
	binary.BigEndian.PutUint32(buf[0:4], uint32(r.Mode))
	clear(buf[4:164])
	return nil
}

func ParseSetUpResponse(buf []byte) (SetUpResponse, error) {
	if len(buf) < SetUpResponseSize {
		return SetUpResponse{}, NewWireConversionError("SetUpResponse", ErrPacketTooShort)
	}
	mode := SecurityMode(binary.BigEndian.Uint32(buf[0:4]))
	if mode != SecurityModeReserved && mode != SecurityModeUnauthenticated {
		return SetUpResponse{}, NewWireConversionError("SetUpResponse", ErrInvalidSecurityMode)
	}
	// key_id[80], token[64], client_iv[16] are MBZ in unauthenticated mode.
	if !isZero(buf[4:164]) {
		return SetUpResponse{}, NewWireConversionError("SetUpResponse", ErrMBZNonzero)
	}
	return SetUpResponse{Mode: mode}, nil
}

// ServerStart follows SetUpResponse, carrying the Server's willingness to
// continue and the time its process started (RFC 4656 Section 3.1).
type ServerStart struct {
	Accept    Accept
	ServerIV  [16]byte
	StartTime Timestamp
}

func (s ServerStart) Marshal(buf []byte) error {
	if len(buf) < ServerStartSize {
		return NewWireConversionError("ServerStart", ErrBufTooSmall)
	}
	clear(buf[0:15])
	buf[15] = uint8(s.Accept)
	copy(buf[16:32], s.ServerIV[:])
	if err := s.StartTime.Marshal(buf[32:40]); err != nil {
		return NewWireConversionError("ServerStart", err)
	}
	clear(buf[40:48])
	return nil
}

func ParseServerStart(buf []byte) (ServerStart, error) {
	if len(buf) < ServerStartSize {
		return ServerStart{}, NewWireConversionError("ServerStart", ErrPacketTooShort)
	}
	if !isZero(buf[0:15]) || !isZero(buf[40:48]) {
		return ServerStart{}, NewWireConversionError("ServerStart", ErrMBZNonzero)
	}
	accept := Accept(buf[15])
	if !accept.Valid() {
		return ServerStart{}, NewWireConversionError("ServerStart", ErrInvalidAccept)
	}
	startTime, err := ParseTimestamp(buf[32:40])
	if err != nil {
		return ServerStart{}, NewWireConversionError("ServerStart", err)
	}
	var s ServerStart
	s.Accept = accept
	copy(s.ServerIV[:], buf[16:32])
	s.StartTime = startTime
	return s, nil
}

// RequestTwSession is sent by Control-Client to request a single
// unauthenticated, unscheduled test session (RFC 5357 Section 3.4). This
// implementation never drives dynamic schedule slots or server-configured
// addressing, so ConfSender/ConfReceiver/NumSlots/NumPackets are always
// zero on the wire.
type RequestTwSession struct {
	SenderPort       uint16
	ReceiverPort     uint16
	SenderAddr       netip.Addr
	ReceiverAddr     netip.Addr
	PaddingLength    uint32
	StartTime        Timestamp
	Timeout          uint64
	TypeP            uint32
	OctetsToReflect  uint16
	PaddingToReflect uint16
}

func (r RequestTwSession) Marshal(buf []byte) error {
	if len(buf) < RequestTwSessionSize {
		return NewWireConversionError("RequestTwSession", ErrBufTooSmall)
	}
	buf[0] = uint8(CommandRequestTwSession)
	buf[1] = 0x04 // mbz_first(4 bits, high nibble)=0, ipvn(4 bits, low nibble)=4 (IPv4 only, RFC 5357 Section 3.4)
	buf[2] = 0    // conf_sender
	buf[3] = 0    // conf_receiver
	binary.BigEndian.PutUint32(buf[4:8], 0)
	binary.BigEndian.PutUint32(buf[8:12], 0)
	binary.BigEndian.PutUint16(buf[12:14], r.SenderPort)
	binary.BigEndian.PutUint16(buf[14:16], r.ReceiverPort)
	if err := putAddr4(buf[16:20], r.SenderAddr); err != nil {
		return NewWireConversionError("RequestTwSession", err)
	}
	clear(buf[20:32])
	if err := putAddr4(buf[32:36], r.ReceiverAddr); err != nil {
		return NewWireConversionError("RequestTwSession", err)
	}
	clear(buf[36:48])
	clear(buf[48:64]) // sid
	binary.BigEndian.PutUint32(buf[64:68], r.PaddingLength)
	if err := r.StartTime.Marshal(buf[68:76]); err != nil {
		return NewWireConversionError("RequestTwSession", err)
	}
	binary.BigEndian.PutUint64(buf[76:84], r.Timeout)
	binary.BigEndian.PutUint32(buf[84:88], r.TypeP)
	binary.BigEndian.PutUint16(buf[88:90], r.OctetsToReflect)
	binary.BigEndian.PutUint16(buf[90:92], r.PaddingToReflect)
	binary.BigEndian.PutUint32(buf[92:96], 0) // mbz_last
	clear(buf[96:112])                        // hmac
	return nil
}

func ParseRequestTwSession(buf []byte) (RequestTwSession, error) {
	if len(buf) < RequestTwSessionSize {
		return RequestTwSession{}, NewWireConversionError("RequestTwSession", ErrPacketTooShort)
	}
	if CommandNumber(buf[0]) != CommandRequestTwSession {
		return RequestTwSession{}, NewWireConversionError("RequestTwSession", ErrCommandNumberMismatch)
	}
	if buf[1]&0x0f != 4 {
		return RequestTwSession{}, NewWireConversionError("RequestTwSession", ErrInvalidIPVN)
	}
	if buf[1]&0xf0 != 0 || !isZero(buf[20:32]) || !isZero(buf[36:48]) || !isZero(buf[48:64]) || binary.BigEndian.Uint32(buf[92:96]) != 0 {
		return RequestTwSession{}, NewWireConversionError("RequestTwSession", ErrMBZNonzero)
	}
	startTime, err := ParseTimestamp(buf[68:76])
	if err != nil {
		return RequestTwSession{}, NewWireConversionError("RequestTwSession", err)
	}
	var r RequestTwSession
	r.SenderPort = binary.BigEndian.Uint16(buf[12:14])
	r.ReceiverPort = binary.BigEndian.Uint16(buf[14:16])
	r.SenderAddr = addr4(buf[16:20])
	r.ReceiverAddr = addr4(buf[32:36])
	r.PaddingLength = binary.BigEndian.Uint32(buf[64:68])
	r.StartTime = startTime
	r.Timeout = binary.BigEndian.Uint64(buf[76:84])
	r.TypeP = binary.BigEndian.Uint32(buf[84:88])
	r.OctetsToReflect = binary.BigEndian.Uint16(buf[88:90])
	r.PaddingToReflect = binary.BigEndian.Uint16(buf[90:92])
	return r, nil
}

// AcceptSession is the Server's response to RequestTwSession (RFC 5357
// Section 3.4), confirming the reflector port and the padding octets the
// reflector will echo.
type AcceptSession struct {
	Accept          Accept
	Port            uint16
	SID             [16]byte
	ReflectedOctets uint16
	ServerOctets    uint16
}

func (a AcceptSession) Marshal(buf []byte) error {
	if len(buf) < AcceptSessionSize {
		return NewWireConversionError("AcceptSession", ErrBufTooSmall)
	}
	buf[0] = uint8(a.Accept)
	buf[1] = 0
	binary.BigEndian.PutUint16(buf[2:4], a.Port)
	copy(buf[4:20], a.SID[:])
	binary.BigEndian.PutUint16(buf[20:22], a.ReflectedOctets)
	binary.BigEndian.PutUint16(buf[22:24], a.ServerOctets)
	clear(buf[24:32])
	clear(buf[32:48]) // hmac
	return nil
}

func ParseAcceptSession(buf []byte) (AcceptSession, error) {
	if len(buf) < AcceptSessionSize {
		return AcceptSession{}, NewWireConversionError("AcceptSession", ErrPacketTooShort)
	}
	if buf[1] != 0 || !isZero(buf[24:32]) {
		return AcceptSession{}, NewWireConversionError("AcceptSession", ErrMBZNonzero)
	}
	accept := Accept(buf[0])
	if !accept.Valid() {
		return AcceptSession{}, NewWireConversionError("AcceptSession", ErrInvalidAccept)
	}
	var a AcceptSession
	a.Accept = accept
	a.Port = binary.BigEndian.Uint16(buf[2:4])
	copy(a.SID[:], buf[4:20])
	a.ReflectedOctets = binary.BigEndian.Uint16(buf[20:22])
	a.ServerOctets = binary.BigEndian.Uint16(buf[22:24])
	return a, nil
}

// StartSessions instructs the Server to begin accepting test traffic for
// all previously negotiated sessions (RFC 5357 Section 3.5).
type StartSessions struct{}

func (StartSessions) Marshal(buf []byte) error {
	if len(buf) < StartSessionsSize {
		return NewWireConversionError("StartSessions", ErrBufTooSmall)
	}
	buf[0] = uint8(CommandStartSessions)
	clear(buf[1:16])
	clear(buf[16:32]) // hmac
	return nil
}

func ParseStartSessions(buf []byte) (StartSessions, error) {
	if len(buf) < StartSessionsSize {
		return StartSessions{}, NewWireConversionError("StartSessions", ErrPacketTooShort)
	}
	if CommandNumber(buf[0]) != CommandStartSessions {
		return StartSessions{}, NewWireConversionError("StartSessions", ErrCommandNumberMismatch)
	}
	if !isZero(buf[1:16]) {
		return StartSessions{}, NewWireConversionError("StartSessions", ErrMBZNonzero)
	}
	return StartSessions{}, nil
}

// StartAck is the Server's acknowledgment of StartSessions (RFC 5357
// Section 3.5).
type StartAck struct {
	Accept Accept
}

func (s StartAck) Marshal(buf []byte) error {
	if len(buf) < StartAckSize {
		return NewWireConversionError("StartAck", ErrBufTooSmall)
	}
	buf[0] = uint8(s.Accept)
	clear(buf[1:16])
	clear(buf[16:32]) // hmac
	return nil
}

func ParseStartAck(buf []byte) (StartAck, error) {
	if len(buf) < StartAckSize {
		return StartAck{}, NewWireConversionError("StartAck", ErrPacketTooShort)
	}
	if !isZero(buf[1:16]) {
		return StartAck{}, NewWireConversionError("StartAck", ErrMBZNonzero)
	}
	accept := Accept(buf[0])
	if !accept.Valid() {
		return StartAck{}, NewWireConversionError("StartAck", ErrInvalidAccept)
	}
	return StartAck{Accept: accept}, nil
}

// StopSessions ends the TWAMP-Test exchange for every session on this
// control connection (RFC 5357 Section 3.6).
type StopSessions struct {
	Accept Accept
}

func (s StopSessions) Marshal(buf []byte) error {
	if len(buf) < StopSessionsSize {
		return NewWireConversionError("StopSessions", ErrBufTooSmall)
	}
	buf[0] = uint8(CommandStopSessions)
	buf[1] = uint8(s.Accept)
	clear(buf[2:4])
	clear(buf[4:20]) // hmac
	return nil
}

func ParseStopSessions(buf []byte) (StopSessions, error) {
	if len(buf) < StopSessionsSize {
		return StopSessions{}, NewWireConversionError("StopSessions", ErrPacketTooShort)
	}
	if CommandNumber(buf[0]) != CommandStopSessions {
		return StopSessions{}, NewWireConversionError("StopSessions", ErrCommandNumberMismatch)
	}
	if !isZero(buf[2:4]) {
		return StopSessions{}, NewWireConversionError("StopSessions", ErrMBZNonzero)
	}
	accept := Accept(buf[1])
	if !accept.Valid() {
		return StopSessions{}, NewWireConversionError("StopSessions", ErrInvalidAccept)
	}
	return StopSessions{Accept: accept}, nil
}

func isZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// putAddr4 writes an IPv4 address into a 4-byte field. The zero netip.Addr
// (used by callers who have not yet learned the peer's address) encodes as
// all-zero, matching the MBZ convention this implementation relies on
// before the test socket is bound.
func putAddr4(buf []byte, a netip.Addr) error {
	if !a.IsValid() {
		clear(buf)
		return nil
	}
	a4 := a.As4()
	copy(buf, a4[:])
	return nil
}

func addr4(buf []byte) netip.Addr {
	var a [4]byte
	copy(a[:], buf)
	return netip.AddrFrom4(a)
}
