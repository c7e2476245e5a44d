package twamp_test

import (
	"testing"
	"time"

	"github.com/twamplab/twamp/internal/twamp"
)

func TestTimestampMarshalParseRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ts   twamp.Timestamp
	}{
		{name: "zero", ts: twamp.Timestamp{}},
		{name: "epoch-ish", ts: twamp.Timestamp{Seconds: 3913056000, Fraction: 500_000_000}},
		{name: "max fraction", ts: twamp.Timestamp{Seconds: 1, Fraction: 999_999_999}},
		{name: "max seconds", ts: twamp.Timestamp{Seconds: 0xFFFFFFFF, Fraction: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			buf := make([]byte, twamp.TimestampSize)
			if err := tt.ts.Marshal(buf); err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			got, err := twamp.ParseTimestamp(buf)
			if err != nil {
				t.Fatalf("ParseTimestamp: %v", err)
			}
			if got != tt.ts {
				t.Fatalf("round trip mismatch: got %+v, want %+v", got, tt.ts)
			}
		})
	}
}

func TestParseTimestampTooShort(t *testing.T) {
	t.Parallel()

	_, err := twamp.ParseTimestamp(make([]byte, 7))
	if err == nil {
		t.Fatal("expected error for short buffer, got nil")
	}
}

func TestTimestampMarshalBufTooSmall(t *testing.T) {
	t.Parallel()

	ts := twamp.Now()
	if err := ts.Marshal(make([]byte, 4)); err == nil {
		t.Fatal("expected error for short buffer, got nil")
	}
}

func TestTimestampAddCarriesFraction(t *testing.T) {
	t.Parallel()

	a := twamp.Timestamp{Seconds: 10, Fraction: 700_000_000}
	b := twamp.Timestamp{Seconds: 5, Fraction: 500_000_000}

	got := a.Add(b)
	want := twamp.Timestamp{Seconds: 16, Fraction: 200_000_000}
	if got != want {
		t.Fatalf("Add: got %+v, want %+v", got, want)
	}
}

func TestTimestampSubBorrowsFraction(t *testing.T) {
	t.Parallel()

	a := twamp.Timestamp{Seconds: 16, Fraction: 200_000_000}
	b := twamp.Timestamp{Seconds: 5, Fraction: 500_000_000}

	got := a.Sub(b)
	want := twamp.Timestamp{Seconds: 10, Fraction: 700_000_000}
	if got != want {
		t.Fatalf("Sub: got %+v, want %+v", got, want)
	}
}

func TestTimestampSubIsAddInverse(t *testing.T) {
	t.Parallel()

	a := twamp.FromDuration(12*time.Second + 345*time.Millisecond)
	b := twamp.FromDuration(3*time.Second + 999*time.Millisecond)

	sum := a.Add(b)
	back := sum.Sub(b)
	if back != a {
		t.Fatalf("Sub did not invert Add: got %+v, want %+v", back, a)
	}
}

func TestSumTimestamps(t *testing.T) {
	t.Parallel()

	ts := []twamp.Timestamp{
		twamp.FromDuration(1 * time.Second),
		twamp.FromDuration(2 * time.Second),
		twamp.FromDuration(500 * time.Millisecond),
	}
	got := twamp.SumTimestamps(ts...)
	want := twamp.Timestamp{Seconds: 3, Fraction: 500_000_000}
	if got != want {
		t.Fatalf("SumTimestamps: got %+v, want %+v", got, want)
	}
}

func TestTimestampFloat64(t *testing.T) {
	t.Parallel()

	ts := twamp.Timestamp{Seconds: 2, Fraction: 250_000_000}
	got := ts.Float64()
	want := 2.25
	if got != want {
		t.Fatalf("Float64: got %v, want %v", got, want)
	}
}

func TestTimestampFromTimeRoundTripsThroughTime(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 7, 31, 12, 0, 0, 123_000_000, time.UTC)
	ts := twamp.FromTime(now)
	back := ts.Time()
	if !back.Equal(now) {
		t.Fatalf("Time: got %v, want %v", back, now)
	}
}
