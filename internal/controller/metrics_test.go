package controller_test

import (
	"math"
	"testing"

	"github.com/twamplab/twamp/internal/controller"
	"github.com/twamplab/twamp/internal/sender"
	"github.com/twamplab/twamp/internal/twamp"
)

func ts(seconds uint32, fractionNanos uint32) twamp.Timestamp {
	return twamp.Timestamp{Seconds: seconds, Fraction: fractionNanos}
}

func TestComputeMetricsNoLossSymmetricDelay(t *testing.T) {
	t.Parallel()

	// t1=100.000, t2=100.010 (owd 10ms), t3=100.020, t4=100.030 (owd 10ms)
	// rtt = (t4-t1)-(t3-t2) = 0.030 - 0.010 = 0.020s = 20ms, constant across
	// all three packets so jitter should be zero.
	records := []sender.ReflectedRecord{
		{
			Packet: twamp.ReflectedTestPacketUnauth{
				SenderTimestamp:  ts(100, 0),
				ReceiveTimestamp: ts(100, 10_000_000),
				Timestamp:        ts(100, 20_000_000),
			},
			Arrival: ts(100, 30_000_000),
		},
		{
			Packet: twamp.ReflectedTestPacketUnauth{
				SenderTimestamp:  ts(101, 0),
				ReceiveTimestamp: ts(101, 10_000_000),
				Timestamp:        ts(101, 20_000_000),
			},
			Arrival: ts(101, 30_000_000),
		},
		{
			Packet: twamp.ReflectedTestPacketUnauth{
				SenderTimestamp:  ts(102, 0),
				ReceiveTimestamp: ts(102, 10_000_000),
				Timestamp:        ts(102, 20_000_000),
			},
			Arrival: ts(102, 30_000_000),
		},
	}

	m := controller.ComputeMetrics(records, 3)

	if m.PacketLossPercent != 0 {
		t.Errorf("PacketLossPercent = %v, want 0", m.PacketLossPercent)
	}
	if m.RTTAvgMs != 20 || m.RTTMinMs != 20 || m.RTTMaxMs != 20 {
		t.Errorf("RTT = {min:%v max:%v avg:%v}, want all 20", m.RTTMinMs, m.RTTMaxMs, m.RTTAvgMs)
	}
	if m.OneWaySenderToReflectorAvgMs != 10 {
		t.Errorf("OneWaySenderToReflectorAvgMs = %v, want 10", m.OneWaySenderToReflectorAvgMs)
	}
	if m.OneWayReflectorToSenderAvgMs != 10 {
		t.Errorf("OneWayReflectorToSenderAvgMs = %v, want 10", m.OneWayReflectorToSenderAvgMs)
	}
	if m.JitterMs != 0 {
		t.Errorf("JitterMs = %v, want 0 (constant RTT)", m.JitterMs)
	}
}

func TestComputeMetricsPartialLoss(t *testing.T) {
	t.Parallel()

	records := []sender.ReflectedRecord{
		{
			Packet: twamp.ReflectedTestPacketUnauth{
				SenderTimestamp:  ts(200, 0),
				ReceiveTimestamp: ts(200, 5_000_000),
				Timestamp:        ts(200, 10_000_000),
			},
			Arrival: ts(200, 15_000_000),
		},
	}

	m := controller.ComputeMetrics(records, 10)

	// 9 of 10 lost => 90%.
	if m.PacketLossPercent != 90 {
		t.Errorf("PacketLossPercent = %v, want 90", m.PacketLossPercent)
	}
}

func TestComputeMetricsEmptyReflectedYieldsTotalLossNoPanic(t *testing.T) {
	t.Parallel()

	m := controller.ComputeMetrics(nil, 10)

	if m.PacketLossPercent != 100 {
		t.Errorf("PacketLossPercent = %v, want 100", m.PacketLossPercent)
	}
	if m.RTTAvgMs != 0 || m.RTTMinMs != 0 || m.RTTMaxMs != 0 {
		t.Errorf("RTT fields should be zero-valued when nothing was reflected, got %+v", m)
	}
}

func TestComputeMetricsZeroSentNoDivByZero(t *testing.T) {
	t.Parallel()

	m := controller.ComputeMetrics(nil, 0)

	if math.IsNaN(m.PacketLossPercent) || math.IsInf(m.PacketLossPercent, 0) {
		t.Errorf("PacketLossPercent = %v, want a finite number", m.PacketLossPercent)
	}
}

func TestComputeMetricsJitterTracksRTTVariation(t *testing.T) {
	t.Parallel()

	// RTTs: 10ms, 30ms, 10ms -- diffs are 20ms, 20ms, so jitter after two
	// updates should be 20*(1/16) + 20*(1/16)*(15/16) = 2.421875ms, rounded.
	mk := func(sec uint32, rttFracNanos uint32) sender.ReflectedRecord {
		return sender.ReflectedRecord{
			Packet: twamp.ReflectedTestPacketUnauth{
				SenderTimestamp:  ts(sec, 0),
				ReceiveTimestamp: ts(sec, 0),
				Timestamp:        ts(sec, 0),
			},
			Arrival: ts(sec, rttFracNanos),
		}
	}
	records := []sender.ReflectedRecord{
		mk(300, 10_000_000),
		mk(301, 30_000_000),
		mk(302, 10_000_000),
	}

	m := controller.ComputeMetrics(records, 3)

	want := 2.42 // (20*(1/16)) = 1.25 then (20-1.25)*(1/16)+1.25, matching RFC-3550 recurrence, rounded to 2 decimals
	if math.Abs(m.JitterMs-want) > 0.05 {
		t.Errorf("JitterMs = %v, want approximately %v", m.JitterMs, want)
	}
}
