package webrtc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"callpulse/internal/core/domain"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

const (
	defaultClockRate = 90000
	// seconds between 1900-01-01 and 1970-01-01
	ntpEpochOffset = 2208988800
	// plausible round trip bound, 10s in 1/65536 s units
	maxRoundTripUnits = 10 << 16
)

// RTCPSummary is what an accumulator observed since the last Drain.
type RTCPSummary struct {
	PacketLoss        *float64 // percent, mean of fraction lost
	Jitter            *float64 // ms, worst stream
	RTT               *float64 // ms, mean of LSR/DLSR round trips
	AvailableBitrate  *float64 // bps, last REMB
	DegradationEvents int      // NACK, PLI and FIR packets
}

// RTCPAccumulator folds RTCP feedback into sample-sized windows.
type RTCPAccumulator struct {
	mu         sync.Mutex
	clockRates map[uint32]uint32
	now        func() time.Time
	logger     *zap.SugaredLogger

	lossSum     float64
	lossReports int
	jitterMax   float64
	hasJitter   bool
	rttSum      float64
	rttCount    int
	remb        *float64
	degradation int
}

func NewRTCPAccumulator(logger *zap.SugaredLogger) *RTCPAccumulator {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &RTCPAccumulator{
		clockRates: make(map[uint32]uint32),
		now:        time.Now,
		logger:     logger,
	}
}

// SetClockRate records the RTP clock rate of a stream so its jitter can be
// converted to milliseconds. Unknown streams use 90 kHz.
func (a *RTCPAccumulator) SetClockRate(ssrc, rate uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.clockRates[ssrc] = rate
}

// ProcessRaw decodes a compound RTCP packet and processes it.
func (a *RTCPAccumulator) ProcessRaw(data []byte) error {
	packets, err := rtcp.Unmarshal(data)
	if err != nil {
		return fmt.Errorf("failed to unmarshal RTCP: %w", err)
	}
	a.Process(packets)
	return nil
}

func (a *RTCPAccumulator) Process(packets []rtcp.Packet) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	for _, packet := range packets {
		switch p := packet.(type) {
		case *rtcp.ReceiverReport:
			a.addReports(p.Reports, now)
		case *rtcp.SenderReport:
			a.addReports(p.Reports, now)
		case *rtcp.TransportLayerNack:
			a.degradation++
		case *rtcp.PictureLossIndication:
			a.degradation++
		case *rtcp.FullIntraRequest:
			a.degradation++
		case *rtcp.ReceiverEstimatedMaximumBitrate:
			bitrate := float64(p.Bitrate)
			a.remb = &bitrate
		}
	}
}

func (a *RTCPAccumulator) addReports(reports []rtcp.ReceptionReport, now time.Time) {
	for _, report := range reports {
		a.lossSum += float64(report.FractionLost) / 256 * 100
		a.lossReports++

		rate := a.clockRates[report.SSRC]
		if rate == 0 {
			rate = defaultClockRate
		}
		jitter := float64(report.Jitter) / float64(rate) * 1000
		if !a.hasJitter || jitter > a.jitterMax {
			a.jitterMax = jitter
			a.hasJitter = true
		}

		if rtt, ok := roundTrip(report, now); ok {
			a.rttSum += rtt
			a.rttCount++
		}
	}
}

// roundTrip computes RTT in ms from LSR and DLSR per RFC 3550 6.4.1.
func roundTrip(report rtcp.ReceptionReport, now time.Time) (float64, bool) {
	if report.LastSenderReport == 0 {
		return 0, false
	}
	// modular so that the 16.16 timestamp may wrap between LSR and arrival
	rtt := ntpMiddle(now) - report.LastSenderReport - report.Delay
	if rtt > maxRoundTripUnits {
		return 0, false
	}
	return float64(rtt) / 65536 * 1000, true
}

// ntpMiddle returns the middle 32 bits of the NTP timestamp of t.
func ntpMiddle(t time.Time) uint32 {
	secs := uint64(t.Unix()) + ntpEpochOffset
	frac := uint64(t.Nanosecond()) << 32 / uint64(time.Second)
	return uint32(secs<<16 | frac>>16)
}

// Drain returns the current window and starts a new one. REMB persists.
func (a *RTCPAccumulator) Drain() RTCPSummary {
	a.mu.Lock()
	defer a.mu.Unlock()

	var s RTCPSummary
	if a.lossReports > 0 {
		s.PacketLoss = domain.Float(a.lossSum / float64(a.lossReports))
	}
	if a.hasJitter {
		s.Jitter = domain.Float(a.jitterMax)
	}
	if a.rttCount > 0 {
		s.RTT = domain.Float(a.rttSum / float64(a.rttCount))
	}
	if a.remb != nil {
		s.AvailableBitrate = domain.Float(*a.remb)
	}
	s.DegradationEvents = a.degradation

	a.lossSum, a.lossReports = 0, 0
	a.jitterMax, a.hasJitter = 0, false
	a.rttSum, a.rttCount = 0, 0
	a.degradation = 0
	return s
}

// Apply drains the window into sample. Metrics already present in the
// sample win; degradation events are added.
func (a *RTCPAccumulator) Apply(sample *domain.MetricSample) {
	s := a.Drain()
	if sample.PacketLoss == nil {
		sample.PacketLoss = s.PacketLoss
	}
	if sample.Jitter == nil {
		sample.Jitter = s.Jitter
	}
	if sample.RTT == nil {
		sample.RTT = s.RTT
	}
	if sample.AvailableBitrate == nil {
		sample.AvailableBitrate = s.AvailableBitrate
	}
	if s.DegradationEvents > 0 {
		events := s.DegradationEvents
		if sample.DegradationEvents != nil {
			events += *sample.DegradationEvents
		}
		sample.DegradationEvents = domain.Int(events)
	}
}

// Watch reads RTCP with read until it fails or ctx is done.
func (a *RTCPAccumulator) Watch(ctx context.Context, read func() ([]rtcp.Packet, error)) {
	for ctx.Err() == nil {
		packets, err := read()
		if err != nil {
			a.logger.Debugw("stopped reading RTCP", "error", err)
			return
		}
		a.Process(packets)
	}
}

// WatchSender collects the feedback the remote peer sends about our media.
func (a *RTCPAccumulator) WatchSender(ctx context.Context, sender *webrtc.RTPSender) {
	params := sender.GetParameters()
	if len(params.Codecs) > 0 {
		for _, enc := range params.Encodings {
			a.SetClockRate(uint32(enc.SSRC), params.Codecs[0].ClockRate)
		}
	}
	go a.Watch(ctx, func() ([]rtcp.Packet, error) {
		packets, _, err := sender.ReadRTCP()
		return packets, err
	})
}

// WatchReceiver collects sender reports for a remote track.
func (a *RTCPAccumulator) WatchReceiver(ctx context.Context, receiver *webrtc.RTPReceiver) {
	go a.Watch(ctx, func() ([]rtcp.Packet, error) {
		packets, _, err := receiver.ReadRTCP()
		return packets, err
	})
}
