package twamp

import "encoding/binary"

// SenderPaddingSize is the fixed zero-filled tail every TWAMP-Test packet
// carries from Session-Sender to Session-Reflector. RFC 4656 permits
// negotiating padding_length per session; this implementation fixes the
// send-side tail at 27 octets and the reflect-side tail at zero.
const SenderPaddingSize = 27

// senderFixedSize is the length of a TestPacketUnauth before its padding
// tail (RFC 5357 Section 4.1 / RFC 4656 Section 4.1.2).
const senderFixedSize = 4 + TimestampSize + ErrorEstimateSize

// TestPacketSize is the wire size of a TestPacketUnauth sent by
// Session-Sender.
const TestPacketSize = senderFixedSize + SenderPaddingSize

// reflectedFixedSize is the length of a ReflectedTestPacketUnauth before
// its padding tail.
const reflectedFixedSize = 4 + TimestampSize + ErrorEstimateSize + 2 +
	TimestampSize + 4 + TimestampSize + ErrorEstimateSize + 2 + 1

// ReflectedPaddingSize is the padding tail length Session-Reflector
// appends to every reflected packet: zero octets, regardless of what the
// sender requested.
const ReflectedPaddingSize = 0

// ReflectedTestPacketSize is the wire size of a ReflectedTestPacketUnauth
// in this implementation.
const ReflectedTestPacketSize = reflectedFixedSize + ReflectedPaddingSize

// TestPacketUnauth is the packet Session-Sender transmits to
// Session-Reflector over TWAMP-Test (RFC 4656 Section 4.1.2).
type TestPacketUnauth struct {
	SequenceNumber uint32
	Timestamp      Timestamp
	ErrorEstimate  ErrorEstimate
}

// Marshal serializes p into a TestPacketSize-byte wire image, with the
// trailing SenderPaddingSize octets zero-filled.
func (p TestPacketUnauth) Marshal(buf []byte) error {
	if len(buf) < TestPacketSize {
		return NewWireConversionError("TestPacketUnauth", ErrBufTooSmall)
	}
	binary.BigEndian.PutUint32(buf[0:4], p.SequenceNumber)
	if err := p.Timestamp.Marshal(buf[4:12]); err != nil {
		return NewWireConversionError("TestPacketUnauth", err)
	}
	if err := p.ErrorEstimate.Marshal(buf[12:14]); err != nil {
		return NewWireConversionError("TestPacketUnauth", err)
	}
	clear(buf[14:TestPacketSize])
	return nil
}

// ParseTestPacketUnauth decodes a wire image of at least senderFixedSize
// bytes. The padding tail is not inspected, whatever its length, so
// Session-Reflector accepts a sender-chosen padding length shorter or
// longer than this implementation's fixed 27 octets.
func ParseTestPacketUnauth(buf []byte) (TestPacketUnauth, error) {
	if len(buf) < senderFixedSize {
		return TestPacketUnauth{}, NewWireConversionError("TestPacketUnauth", ErrPacketTooShort)
	}
	ts, err := ParseTimestamp(buf[4:12])
	if err != nil {
		return TestPacketUnauth{}, NewWireConversionError("TestPacketUnauth", err)
	}
	ee, err := ParseErrorEstimate(buf[12:14])
	if err != nil {
		return TestPacketUnauth{}, NewWireConversionError("TestPacketUnauth", err)
	}
	return TestPacketUnauth{
		SequenceNumber: binary.BigEndian.Uint32(buf[0:4]),
		Timestamp:      ts,
		ErrorEstimate:  ee,
	}, nil
}

// ReflectedTestPacketUnauth is the packet Session-Reflector transmits back
// to Session-Sender, copying enough of the original packet to let the
// sender compute one-way delay in both directions (RFC 5357 Section 4.2.1).
type ReflectedTestPacketUnauth struct {
	SequenceNumber       uint32
	Timestamp            Timestamp
	ErrorEstimate        ErrorEstimate
	ReceiveTimestamp     Timestamp
	SenderSequenceNumber uint32
	SenderTimestamp      Timestamp
	SenderErrorEstimate  ErrorEstimate
	SenderTTL            uint8
}

// ReflectFrom builds the reflected packet answering sent, which the
// reflector received at receiveTime, assigning it sequence number
// seq in the reflector's own, independent sequence space (RFC 5357
// Section 3.8).
func ReflectFrom(seq uint32, sent TestPacketUnauth, receiveTime Timestamp, senderTTL uint8) ReflectedTestPacketUnauth {
	return ReflectedTestPacketUnauth{
		SequenceNumber:       seq,
		Timestamp:            Now(),
		ErrorEstimate:        NTPSynchronizedEstimate(),
		ReceiveTimestamp:     receiveTime,
		SenderSequenceNumber: sent.SequenceNumber,
		SenderTimestamp:      sent.Timestamp,
		SenderErrorEstimate:  sent.ErrorEstimate,
		SenderTTL:            senderTTL,
	}
}

// Marshal serializes p into a ReflectedTestPacketSize-byte wire image.
func (p ReflectedTestPacketUnauth) Marshal(buf []byte) error {
	if len(buf) < ReflectedTestPacketSize {
		return NewWireConversionError("ReflectedTestPacketUnauth", ErrBufTooSmall)
	}
	binary.BigEndian.PutUint32(buf[0:4], p.SequenceNumber)
	if err := p.Timestamp.Marshal(buf[4:12]); err != nil {
		return NewWireConversionError("ReflectedTestPacketUnauth", err)
	}
	if err := p.ErrorEstimate.Marshal(buf[12:14]); err != nil {
		return NewWireConversionError("ReflectedTestPacketUnauth", err)
	}
	binary.BigEndian.PutUint16(buf[14:16], 0) // mbz_first
	if err := p.ReceiveTimestamp.Marshal(buf[16:24]); err != nil {
		return NewWireConversionError("ReflectedTestPacketUnauth", err)
	}
	binary.BigEndian.PutUint32(buf[24:28], p.SenderSequenceNumber)
	if err := p.SenderTimestamp.Marshal(buf[28:36]); err != nil {
		return NewWireConversionError("ReflectedTestPacketUnauth", err)
	}
	if err := p.SenderErrorEstimate.Marshal(buf[36:38]); err != nil {
		return NewWireConversionError("ReflectedTestPacketUnauth", err)
	}
	binary.BigEndian.PutUint16(buf[38:40], 0) // mbz_second
	buf[40] = p.SenderTTL
	clear(buf[41:ReflectedTestPacketSize])
	return nil
}

// ParseReflectedTestPacketUnauth decodes a wire image of at least
// reflectedFixedSize bytes, ignoring any trailing padding.
func ParseReflectedTestPacketUnauth(buf []byte) (ReflectedTestPacketUnauth, error) {
	if len(buf) < reflectedFixedSize {
		return ReflectedTestPacketUnauth{}, NewWireConversionError("ReflectedTestPacketUnauth", ErrPacketTooShort)
	}
	if binary.BigEndian.Uint16(buf[14:16]) != 0 || binary.BigEndian.Uint16(buf[38:40]) != 0 {
		return ReflectedTestPacketUnauth{}, NewWireConversionError("ReflectedTestPacketUnauth", ErrMBZNonzero)
	}
	ts, err := ParseTimestamp(buf[4:12])
	if err != nil {
		return ReflectedTestPacketUnauth{}, NewWireConversionError("ReflectedTestPacketUnauth", err)
	}
	ee, err := ParseErrorEstimate(buf[12:14])
	if err != nil {
		return ReflectedTestPacketUnauth{}, NewWireConversionError("ReflectedTestPacketUnauth", err)
	}
	recvTS, err := ParseTimestamp(buf[16:24])
	if err != nil {
		return ReflectedTestPacketUnauth{}, NewWireConversionError("ReflectedTestPacketUnauth", err)
	}
	senderTS, err := ParseTimestamp(buf[28:36])
	if err != nil {
		return ReflectedTestPacketUnauth{}, NewWireConversionError("ReflectedTestPacketUnauth", err)
	}
	senderEE, err := ParseErrorEstimate(buf[36:38])
	if err != nil {
		return ReflectedTestPacketUnauth{}, NewWireConversionError("ReflectedTestPacketUnauth", err)
	}
	return ReflectedTestPacketUnauth{
		SequenceNumber:       binary.BigEndian.Uint32(buf[0:4]),
		Timestamp:            ts,
		ErrorEstimate:        ee,
		ReceiveTimestamp:     recvTS,
		SenderSequenceNumber: binary.BigEndian.Uint32(buf[24:28]),
		SenderTimestamp:      senderTS,
		SenderErrorEstimate:  senderEE,
		SenderTTL:            buf[40],
	}, nil
}
