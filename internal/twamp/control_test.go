package twamp_test

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/twamplab/twamp/internal/twamp"
)

func TestServerGreetingRoundTrip(t *testing.T) {
	t.Parallel()

	g := twamp.NewServerGreeting(twamp.SecurityModeUnauthenticated)
	g.Challenge = [16]byte{1, 2, 3}
	g.Salt = [16]byte{4, 5, 6}

	buf := make([]byte, twamp.ServerGreetingSize)
	if err := g.Marshal(buf); err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := twamp.ParseServerGreeting(buf)
	if err != nil {
		t.Fatalf("ParseServerGreeting: %v", err)
	}
	if got != g {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, g)
	}
}

func TestServerGreetingRejectsMBZ(t *testing.T) {
	t.Parallel()

	g := twamp.NewServerGreeting(twamp.SecurityModeUnauthenticated)
	buf := make([]byte, twamp.ServerGreetingSize)
	if err := g.Marshal(buf); err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	buf[0] = 0xFF // corrupt the leading unused[12] MBZ field

	_, err := twamp.ParseServerGreeting(buf)
	if !errors.Is(err, twamp.ErrMBZNonzero) {
		t.Fatalf("got %v, want ErrMBZNonzero", err)
	}
}

func TestSetUpResponseRoundTrip(t *testing.T) {
	t.Parallel()

	r := twamp.SetUpResponse{Mode: twamp.SecurityModeUnauthenticated}
	buf := make([]byte, twamp.SetUpResponseSize)
	if err := r.Marshal(buf); err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := twamp.ParseSetUpResponse(buf)
	if err != nil {
		t.Fatalf("ParseSetUpResponse: %v", err)
	}
	if got != r {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, r)
	}
}

func TestSetUpResponseRejectsUnsupportedMode(t *testing.T) {
	t.Parallel()

	r := twamp.SetUpResponse{Mode: twamp.SecurityModeAuthenticated}
	buf := make([]byte, twamp.SetUpResponseSize)
	if err := r.Marshal(buf); err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	_, err := twamp.ParseSetUpResponse(buf)
	if !errors.Is(err, twamp.ErrInvalidSecurityMode) {
		t.Fatalf("got %v, want ErrInvalidSecurityMode", err)
	}
}

func TestSetUpResponseRejectsNonzeroKeyID(t *testing.T) {
	t.Parallel()

	r := twamp.SetUpResponse{Mode: twamp.SecurityModeUnauthenticated}
	buf := make([]byte, twamp.SetUpResponseSize)
	if err := r.Marshal(buf); err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	buf[10] = 0x01 // corrupt key_id, which must be MBZ in unauthenticated mode

	_, err := twamp.ParseSetUpResponse(buf)
	if !errors.Is(err, twamp.ErrMBZNonzero) {
		t.Fatalf("got %v, want ErrMBZNonzero", err)
	}
}

func TestServerStartRoundTrip(t *testing.T) {
	t.Parallel()

	s := twamp.ServerStart{
		Accept:    twamp.AcceptOk,
		ServerIV:  [16]byte{9, 9, 9},
		StartTime: twamp.FromDuration(1234567 * 1_000_000),
	}
	buf := make([]byte, twamp.ServerStartSize)
	if err := s.Marshal(buf); err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := twamp.ParseServerStart(buf)
	if err != nil {
		t.Fatalf("ParseServerStart: %v", err)
	}
	if got != s {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, s)
	}
}

func TestServerStartRejectsInvalidAccept(t *testing.T) {
	t.Parallel()

	s := twamp.ServerStart{Accept: twamp.Accept(250)}
	buf := make([]byte, twamp.ServerStartSize)
	if err := s.Marshal(buf); err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	_, err := twamp.ParseServerStart(buf)
	if !errors.Is(err, twamp.ErrInvalidAccept) {
		t.Fatalf("got %v, want ErrInvalidAccept", err)
	}
}

func TestRequestTwSessionRoundTrip(t *testing.T) {
	t.Parallel()

	r := twamp.RequestTwSession{
		SenderPort:       20001,
		ReceiverPort:     20002,
		SenderAddr:       netip.MustParseAddr("192.0.2.10"),
		ReceiverAddr:     netip.MustParseAddr("192.0.2.20"),
		PaddingLength:    0,
		StartTime:        twamp.Now(),
		Timeout:          900,
		TypeP:            0,
		OctetsToReflect:  0,
		PaddingToReflect: 0,
	}
	buf := make([]byte, twamp.RequestTwSessionSize)
	if err := r.Marshal(buf); err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if twamp.CommandNumber(buf[0]) != twamp.CommandRequestTwSession {
		t.Fatalf("leading command number = %d, want %d", buf[0], twamp.CommandRequestTwSession)
	}
	if buf[1] != 0x04 {
		t.Fatalf("mbz_first+ipvn byte = 0x%02x, want 0x04 (mbz=0, ipvn=4)", buf[1])
	}

	got, err := twamp.ParseRequestTwSession(buf)
	if err != nil {
		t.Fatalf("ParseRequestTwSession: %v", err)
	}
	if got != r {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, r)
	}
}

func TestRequestTwSessionRejectsWrongIPVN(t *testing.T) {
	t.Parallel()

	r := twamp.RequestTwSession{}
	buf := make([]byte, twamp.RequestTwSessionSize)
	if err := r.Marshal(buf); err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	buf[1] = 0x06 // ipvn=6: this implementation supports IPv4 addressing only

	_, err := twamp.ParseRequestTwSession(buf)
	if !errors.Is(err, twamp.ErrInvalidIPVN) {
		t.Fatalf("got %v, want ErrInvalidIPVN", err)
	}
}

func TestRequestTwSessionRejectsNonzeroMbzFirst(t *testing.T) {
	t.Parallel()

	r := twamp.RequestTwSession{}
	buf := make([]byte, twamp.RequestTwSessionSize)
	if err := r.Marshal(buf); err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	buf[1] = 0x14 // mbz_first high nibble set, ipvn=4 preserved

	_, err := twamp.ParseRequestTwSession(buf)
	if !errors.Is(err, twamp.ErrMBZNonzero) {
		t.Fatalf("got %v, want ErrMBZNonzero", err)
	}
}

func TestRequestTwSessionRejectsWrongCommandNumber(t *testing.T) {
	t.Parallel()

	r := twamp.RequestTwSession{}
	buf := make([]byte, twamp.RequestTwSessionSize)
	if err := r.Marshal(buf); err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	buf[0] = uint8(twamp.CommandStartSessions)

	_, err := twamp.ParseRequestTwSession(buf)
	if !errors.Is(err, twamp.ErrCommandNumberMismatch) {
		t.Fatalf("got %v, want ErrCommandNumberMismatch", err)
	}
}

func TestRequestTwSessionRejectsNonzeroSID(t *testing.T) {
	t.Parallel()

	r := twamp.RequestTwSession{}
	buf := make([]byte, twamp.RequestTwSessionSize)
	if err := r.Marshal(buf); err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	buf[50] = 0x01 // inside the 16-byte sid field, which this implementation never sets

	_, err := twamp.ParseRequestTwSession(buf)
	if !errors.Is(err, twamp.ErrMBZNonzero) {
		t.Fatalf("got %v, want ErrMBZNonzero", err)
	}
}

func TestAcceptSessionRoundTrip(t *testing.T) {
	t.Parallel()

	a := twamp.AcceptSession{
		Accept:          twamp.AcceptOk,
		Port:            20002,
		SID:             [16]byte{1, 2, 3, 4},
		ReflectedOctets: 0,
		ServerOctets:    0,
	}
	buf := make([]byte, twamp.AcceptSessionSize)
	if err := a.Marshal(buf); err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := twamp.ParseAcceptSession(buf)
	if err != nil {
		t.Fatalf("ParseAcceptSession: %v", err)
	}
	if got != a {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, a)
	}
}

func TestAcceptSessionRejectsInvalidAccept(t *testing.T) {
	t.Parallel()

	buf := make([]byte, twamp.AcceptSessionSize)
	buf[0] = 200 // outside the six defined accept codes

	_, err := twamp.ParseAcceptSession(buf)
	if !errors.Is(err, twamp.ErrInvalidAccept) {
		t.Fatalf("got %v, want ErrInvalidAccept", err)
	}
}

func TestStartSessionsRoundTrip(t *testing.T) {
	t.Parallel()

	buf := make([]byte, twamp.StartSessionsSize)
	if err := (twamp.StartSessions{}).Marshal(buf); err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if _, err := twamp.ParseStartSessions(buf); err != nil {
		t.Fatalf("ParseStartSessions: %v", err)
	}
}

func TestStartSessionsRejectsWrongCommandNumber(t *testing.T) {
	t.Parallel()

	buf := make([]byte, twamp.StartSessionsSize)
	if err := (twamp.StartSessions{}).Marshal(buf); err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	buf[0] = uint8(twamp.CommandStopSessions)

	_, err := twamp.ParseStartSessions(buf)
	if !errors.Is(err, twamp.ErrCommandNumberMismatch) {
		t.Fatalf("got %v, want ErrCommandNumberMismatch", err)
	}
}

func TestStartAckRoundTrip(t *testing.T) {
	t.Parallel()

	s := twamp.StartAck{Accept: twamp.AcceptOk}
	buf := make([]byte, twamp.StartAckSize)
	if err := s.Marshal(buf); err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := twamp.ParseStartAck(buf)
	if err != nil {
		t.Fatalf("ParseStartAck: %v", err)
	}
	if got != s {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, s)
	}
}

func TestStopSessionsRoundTrip(t *testing.T) {
	t.Parallel()

	s := twamp.StopSessions{Accept: twamp.AcceptOk}
	buf := make([]byte, twamp.StopSessionsSize)
	if err := s.Marshal(buf); err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := twamp.ParseStopSessions(buf)
	if err != nil {
		t.Fatalf("ParseStopSessions: %v", err)
	}
	if got != s {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, s)
	}
}

func TestStopSessionsRejectsWrongCommandNumber(t *testing.T) {
	t.Parallel()

	s := twamp.StopSessions{Accept: twamp.AcceptOk}
	buf := make([]byte, twamp.StopSessionsSize)
	if err := s.Marshal(buf); err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	buf[0] = uint8(twamp.CommandForbidden)

	_, err := twamp.ParseStopSessions(buf)
	if !errors.Is(err, twamp.ErrCommandNumberMismatch) {
		t.Fatalf("got %v, want ErrCommandNumberMismatch", err)
	}
}

func TestControlMessagesRejectTooShortBuffers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		parse func([]byte) error
		size  int
	}{
		{name: "ServerGreeting", size: twamp.ServerGreetingSize, parse: func(b []byte) error { _, err := twamp.ParseServerGreeting(b); return err }},
		{name: "SetUpResponse", size: twamp.SetUpResponseSize, parse: func(b []byte) error { _, err := twamp.ParseSetUpResponse(b); return err }},
		{name: "ServerStart", size: twamp.ServerStartSize, parse: func(b []byte) error { _, err := twamp.ParseServerStart(b); return err }},
		{name: "RequestTwSession", size: twamp.RequestTwSessionSize, parse: func(b []byte) error { _, err := twamp.ParseRequestTwSession(b); return err }},
		{name: "AcceptSession", size: twamp.AcceptSessionSize, parse: func(b []byte) error { _, err := twamp.ParseAcceptSession(b); return err }},
		{name: "StartSessions", size: twamp.StartSessionsSize, parse: func(b []byte) error { _, err := twamp.ParseStartSessions(b); return err }},
		{name: "StartAck", size: twamp.StartAckSize, parse: func(b []byte) error { _, err := twamp.ParseStartAck(b); return err }},
		{name: "StopSessions", size: twamp.StopSessionsSize, parse: func(b []byte) error { _, err := twamp.ParseStopSessions(b); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if err := tt.parse(make([]byte, tt.size-1)); err == nil {
				t.Fatal("expected error for truncated buffer, got nil")
			}
		})
	}
}
