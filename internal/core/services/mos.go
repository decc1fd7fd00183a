package services

import (
	"math"

	"callpulse/internal/core/domain"
)

const (
	minMOS = 1.0
	maxMOS = 4.5
)

// EstimateMOS derives a MOS from packet loss (%), jitter (ms) and RTT (ms)
// using a simplified ITU-T G.107 E-model.
func EstimateMOS(packetLoss, jitter, rtt float64) float64 {
	return MOSFromR(RFactor(packetLoss, jitter, rtt))
}

// RFactor computes the transmission rating clamped to [0, 100].
func RFactor(packetLoss, jitter, rtt float64) float64 {
	packetLoss = domain.NonNegative(packetLoss)
	jitter = domain.NonNegative(jitter)
	rtt = domain.NonNegative(rtt)

	d := rtt/2 + jitter
	id := 0.024 * d
	if d-177.3 >= 0 {
		id += 0.11 * (d - 177.3)
	}
	ie := packetLoss*2.5 + packetLoss*packetLoss*0.1

	return clamp(93.2-id-ie, 0, 100)
}

// MOSFromR converts an R-factor to MOS rounded to one decimal.
func MOSFromR(r float64) float64 {
	switch {
	case math.IsNaN(r) || r < 0:
		return minMOS
	case r > 100:
		return maxMOS
	}
	mos := 1 + 0.035*r + 7e-6*r*(r-60)*(100-r)
	return clamp(round1(mos), minMOS, maxMOS)
}

// effectiveMOS picks the MOS used for scoring and alerting: the measured
// value, else an estimate when any transport metric exists. ok is false
// when neither is available.
func effectiveMOS(sample *domain.MetricSample) (mos float64, ok bool) {
	if sample.MOS != nil {
		return *sample.MOS, true
	}
	if sample.PacketLoss == nil && sample.Jitter == nil && sample.RTT == nil {
		return 0, false
	}
	return EstimateMOS(valueOr(sample.PacketLoss, 0), valueOr(sample.Jitter, 0), valueOr(sample.RTT, 0)), true
}

func valueOr(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
