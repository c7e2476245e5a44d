package controller

import (
	"math"

	"github.com/twamplab/twamp/internal/sender"
)

// jitterSmoothing is the RFC 3550 Section 6.4.1 exponential smoothing
// coefficient applied to successive RTT differences. A reporting
// convention, not a protocol requirement.
const jitterSmoothing = 1.0 / 16.0

// Metrics summarizes one Controller run's Session-Sender results. All
// millisecond fields are derived from Timestamp values expressed in
// seconds.
type Metrics struct {
	PacketLossPercent float64

	RTTMinMs float64
	RTTMaxMs float64
	RTTAvgMs float64

	OneWaySenderToReflectorAvgMs float64
	OneWayReflectorToSenderAvgMs float64

	JitterMs float64
}

// ComputeMetrics derives a Metrics summary from the reflected-packet
// records Session-Sender collected and the number of packets the send
// loop transmitted. rtt = (t4-t1) - (t3-t2), where t1 is the sender's
// original send time, t2 the reflector's receive time, t3 the reflector's
// transmit time, and t4 the sender's local arrival time; one-way delays
// are t2-t1 (sender to reflector) and t4-t3 (reflector to sender).
func ComputeMetrics(records []sender.ReflectedRecord, totalSent uint32) Metrics {
	received := float64(len(records))
	sent := float64(totalSent)

	var lossPercent float64
	if sent > 0 {
		lossPercent = ((sent - received) / sent) * 100
	}
	lossPercent = math.Trunc(lossPercent)

	if received == 0 {
		return Metrics{PacketLossPercent: lossPercent}
	}

	rtts := make([]float64, len(records))
	var rttSum, owdSentSum, owdRecvSum float64
	rttMin := math.Inf(1)
	rttMax := math.Inf(-1)

	for i, rec := range records {
		t1 := rec.Packet.SenderTimestamp.Float64()
		t2 := rec.Packet.ReceiveTimestamp.Float64()
		t3 := rec.Packet.Timestamp.Float64()
		t4 := rec.Arrival.Float64()

		rtt := (t4 - t1) - (t3 - t2)
		owdSent := t2 - t1
		owdRecv := t4 - t3

		rtts[i] = rtt
		rttSum += rtt
		owdSentSum += owdSent
		owdRecvSum += owdRecv

		rttMin = math.Min(rttMin, rtt)
		rttMax = math.Max(rttMax, rtt)
	}

	var jitter float64
	for i := 1; i < len(rtts); i++ {
		diff := math.Abs(rtts[i] - rtts[i-1])
		jitter += (diff - jitter) * jitterSmoothing
	}

	const msPerSecond = 1e3
	return Metrics{
		PacketLossPercent:            lossPercent,
		RTTMinMs:                     roundToTwoDecimals(rttMin * msPerSecond),
		RTTMaxMs:                     roundToTwoDecimals(rttMax * msPerSecond),
		RTTAvgMs:                     roundToTwoDecimals((rttSum / received) * msPerSecond),
		OneWaySenderToReflectorAvgMs: roundToTwoDecimals((owdSentSum / received) * msPerSecond),
		OneWayReflectorToSenderAvgMs: roundToTwoDecimals((owdRecvSum / received) * msPerSecond),
		JitterMs:                     roundToTwoDecimals(jitter * msPerSecond),
	}
}

func roundToTwoDecimals(v float64) float64 {
	return math.Round(v*100) / 100
}
