package webrtc

import (
	"context"
	"sync"
	"time"

	"callpulse/internal/core/domain"
	"callpulse/internal/core/ports"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// StatsGetter is satisfied by *webrtc.PeerConnection.
type StatsGetter interface {
	GetStats() webrtc.StatsReport
}

// counters are the cumulative values rates are derived from.
type counters struct {
	at            time.Time
	packetsRecv   map[string]uint64 // by kind
	packetsLost   map[string]int64
	bytesRecv     uint64
	bytesSent     uint64
	audioBytes    uint64
	framesDecoded uint32
	bitrate       *float64
}

// StatsProvider turns peer connection stats into metric samples.
type StatsProvider struct {
	pc     StatsGetter
	rtcp   *RTCPAccumulator
	now    func() time.Time
	logger *zap.SugaredLogger

	mu   sync.Mutex
	prev *counters
}

type StatsProviderOption func(*StatsProvider)

// WithRTCP fills metrics the stats report lacks from RTCP feedback.
func WithRTCP(acc *RTCPAccumulator) StatsProviderOption {
	return func(p *StatsProvider) { p.rtcp = acc }
}

func WithProviderClock(now func() time.Time) StatsProviderOption {
	return func(p *StatsProvider) { p.now = now }
}

func WithProviderLogger(logger *zap.SugaredLogger) StatsProviderOption {
	return func(p *StatsProvider) { p.logger = logger }
}

func NewStatsProvider(pc StatsGetter, opts ...StatsProviderOption) *StatsProvider {
	p := &StatsProvider{
		pc:     pc,
		now:    time.Now,
		logger: zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *StatsProvider) Snapshot(ctx context.Context) (*domain.MetricSample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report := p.pc.GetStats()
	now := p.now()

	p.mu.Lock()
	sample, cur := buildSample(report, p.prev, now)
	p.prev = cur
	p.mu.Unlock()

	if p.rtcp != nil {
		p.rtcp.Apply(sample)
	}

	p.logger.Debugw("collected stats snapshot",
		"entries", len(report),
		"connection_type", sample.ConnectionType,
	)
	return sample, nil
}

// collected gathers the typed entries of one report.
type collected struct {
	inbound       []webrtc.InboundRTPStreamStats
	outbound      []webrtc.OutboundRTPStreamStats
	remoteInbound []webrtc.RemoteInboundRTPStreamStats
	pairs         []webrtc.ICECandidatePairStats
	candidates    map[string]webrtc.ICECandidateStats
}

// collect accepts both value and pointer entries.
func collect(report webrtc.StatsReport) collected {
	c := collected{candidates: make(map[string]webrtc.ICECandidateStats)}
	for _, s := range report {
		switch stat := s.(type) {
		case webrtc.InboundRTPStreamStats:
			c.inbound = append(c.inbound, stat)
		case *webrtc.InboundRTPStreamStats:
			c.inbound = append(c.inbound, *stat)
		case webrtc.OutboundRTPStreamStats:
			c.outbound = append(c.outbound, stat)
		case *webrtc.OutboundRTPStreamStats:
			c.outbound = append(c.outbound, *stat)
		case webrtc.RemoteInboundRTPStreamStats:
			c.remoteInbound = append(c.remoteInbound, stat)
		case *webrtc.RemoteInboundRTPStreamStats:
			c.remoteInbound = append(c.remoteInbound, *stat)
		case webrtc.ICECandidatePairStats:
			c.pairs = append(c.pairs, stat)
		case *webrtc.ICECandidatePairStats:
			c.pairs = append(c.pairs, *stat)
		case webrtc.ICECandidateStats:
			c.candidates[stat.ID] = stat
		case *webrtc.ICECandidateStats:
			c.candidates[stat.ID] = *stat
		}
	}
	return c
}

func buildSample(report webrtc.StatsReport, prev *counters, now time.Time) (*domain.MetricSample, *counters) {
	c := collect(report)
	cur := &counters{
		at:          now,
		packetsRecv: make(map[string]uint64),
		packetsLost: make(map[string]int64),
	}
	sample := &domain.MetricSample{Timestamp: now}

	var elapsed float64
	if prev != nil {
		elapsed = now.Sub(prev.at).Seconds()
	}

	hasVideo := false
	var jitter *float64
	var inboundVideo *webrtc.InboundRTPStreamStats
	for i := range c.inbound {
		in := &c.inbound[i]
		cur.packetsRecv[in.Kind] += uint64(in.PacketsReceived)
		cur.packetsLost[in.Kind] += int64(in.PacketsLost)
		cur.bytesRecv += in.BytesReceived
		if in.Kind == string(webrtc.MediaKindAudio) {
			cur.audioBytes += in.BytesReceived
		}
		if j := in.Jitter * 1000; jitter == nil || j > *jitter {
			jitter = domain.Float(j)
		}
		if in.Kind == string(webrtc.MediaKindVideo) {
			hasVideo = true
			if inboundVideo == nil || in.FrameHeight > inboundVideo.FrameHeight {
				inboundVideo = in
			}
		}
	}
	sample.Jitter = jitter

	// Loss over the interval when a previous snapshot exists.
	audioLoss := lossPercent(cur, prev, string(webrtc.MediaKindAudio))
	videoLoss := lossPercent(cur, prev, string(webrtc.MediaKindVideo))
	if audioLoss != nil || videoLoss != nil {
		sample.StreamPacketLoss = &domain.StreamPacketLoss{Audio: audioLoss, Video: videoLoss}
	}
	sample.PacketLoss = totalLoss(cur, prev)

	var outboundVideo *webrtc.OutboundRTPStreamStats
	for i := range c.outbound {
		out := &c.outbound[i]
		cur.bytesSent += out.BytesSent
		if out.Kind == string(webrtc.MediaKindAudio) && len(c.inbound) == 0 {
			cur.audioBytes += out.BytesSent
		}
		if out.Kind == string(webrtc.MediaKindVideo) {
			hasVideo = true
			if outboundVideo == nil || out.FrameHeight > outboundVideo.FrameHeight {
				outboundVideo = out
			}
		}
	}

	// Remote-inbound stats describe how the peer receives our media.
	var remoteRTT *float64
	for _, ri := range c.remoteInbound {
		if len(c.inbound) == 0 {
			if loss := ri.FractionLost * 100; sample.PacketLoss == nil || loss > *sample.PacketLoss {
				sample.PacketLoss = domain.Float(loss)
			}
		}
		if sample.Jitter == nil {
			sample.Jitter = domain.Float(ri.Jitter * 1000)
		}
		if ri.RoundTripTime > 0 {
			remoteRTT = domain.Float(ri.RoundTripTime * 1000)
		}
	}

	if pair := selectedPair(c.pairs); pair != nil {
		if pair.CurrentRoundTripTime > 0 {
			sample.RTT = domain.Float(pair.CurrentRoundTripTime * 1000)
		}
		switch {
		case pair.AvailableOutgoingBitrate > 0:
			sample.AvailableBitrate = domain.Float(pair.AvailableOutgoingBitrate)
		case pair.AvailableIncomingBitrate > 0:
			sample.AvailableBitrate = domain.Float(pair.AvailableIncomingBitrate)
		}
		if local, ok := c.candidates[pair.LocalCandidateID]; ok {
			sample.ConnectionType = local.CandidateType.String()
		}
	}
	if sample.RTT == nil {
		sample.RTT = remoteRTT
	}

	switch {
	case outboundVideo != nil:
		sample.Resolution = resolution(outboundVideo.FrameWidth, outboundVideo.FrameHeight)
		if outboundVideo.FramesPerSecond > 0 {
			sample.Framerate = domain.Float(outboundVideo.FramesPerSecond)
		}
	case inboundVideo != nil:
		sample.Resolution = resolution(inboundVideo.FrameWidth, inboundVideo.FrameHeight)
		cur.framesDecoded = inboundVideo.FramesDecoded
		if elapsed > 0 && inboundVideo.FramesDecoded >= prev.framesDecoded {
			sample.Framerate = domain.Float(float64(inboundVideo.FramesDecoded-prev.framesDecoded) / elapsed)
		}
		sample.FreezeCount = domain.Int(int(inboundVideo.FreezeCount))
	}
	sample.AudioOnly = !hasVideo && (len(c.inbound) > 0 || len(c.outbound) > 0)

	if elapsed > 0 {
		bytes := cur.bytesSent
		prevBytes := prev.bytesSent
		if bytes == 0 {
			bytes, prevBytes = cur.bytesRecv, prev.bytesRecv
		}
		if bytes >= prevBytes {
			sample.Bitrate = domain.Float(float64(bytes-prevBytes) * 8 / elapsed)
			cur.bitrate = sample.Bitrate
		}
		if cur.audioBytes >= prev.audioBytes && cur.audioBytes > 0 {
			sample.AudioBitrate = domain.Float(float64(cur.audioBytes-prev.audioBytes) * 8 / elapsed)
		}
		sample.PreviousBitrate = prev.bitrate
	}

	return sample, cur
}

// selectedPair prefers the nominated succeeded pair.
func selectedPair(pairs []webrtc.ICECandidatePairStats) *webrtc.ICECandidatePairStats {
	var fallback *webrtc.ICECandidatePairStats
	for i := range pairs {
		p := &pairs[i]
		if p.State != webrtc.StatsICECandidatePairStateSucceeded {
			continue
		}
		if p.Nominated {
			return p
		}
		if fallback == nil {
			fallback = p
		}
	}
	return fallback
}

func lossPercent(cur, prev *counters, kind string) *float64 {
	recv, ok := cur.packetsRecv[kind]
	if !ok {
		return nil
	}
	lost := cur.packetsLost[kind]
	if prev != nil {
		if pr, ok := prev.packetsRecv[kind]; ok && recv >= pr {
			recv -= pr
			lost -= prev.packetsLost[kind]
		}
	}
	return ratio(lost, recv)
}

func totalLoss(cur, prev *counters) *float64 {
	if len(cur.packetsRecv) == 0 {
		return nil
	}
	var recv uint64
	var lost int64
	for kind, r := range cur.packetsRecv {
		l := cur.packetsLost[kind]
		if prev != nil {
			if pr, ok := prev.packetsRecv[kind]; ok && r >= pr {
				r -= pr
				l -= prev.packetsLost[kind]
			}
		}
		recv += r
		lost += l
	}
	return ratio(lost, recv)
}

func ratio(lost int64, recv uint64) *float64 {
	if lost < 0 {
		lost = 0
	}
	total := float64(recv) + float64(lost)
	if total == 0 {
		return nil
	}
	return domain.Float(float64(lost) / total * 100)
}

func resolution(width, height uint32) *domain.Resolution {
	if width == 0 || height == 0 {
		return nil
	}
	return &domain.Resolution{Width: int(width), Height: int(height)}
}

var _ ports.StatsProvider = (*StatsProvider)(nil)
