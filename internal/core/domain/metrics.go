package domain

import (
	"math"
	"time"
)

// QualityLevel is the discrete quality band of a metric or of the whole call.
type QualityLevel string

const (
	QualityExcellent QualityLevel = "excellent"
	QualityGood      QualityLevel = "good"
	QualityFair      QualityLevel = "fair"
	QualityPoor      QualityLevel = "poor"
	QualityCritical  QualityLevel = "critical"
	QualityUnknown   QualityLevel = "unknown"
)

// Rank orders levels from critical (0) to excellent (4). Unknown ranks -1.
func (l QualityLevel) Rank() int {
	switch l {
	case QualityCritical:
		return 0
	case QualityPoor:
		return 1
	case QualityFair:
		return 2
	case QualityGood:
		return 3
	case QualityExcellent:
		return 4
	default:
		return -1
	}
}

// Thresholds are the upper bounds of the excellent, good, fair and poor bands.
// Anything above Poor is critical.
type Thresholds struct {
	Excellent float64 `json:"excellent"`
	Good      float64 `json:"good"`
	Fair      float64 `json:"fair"`
	Poor      float64 `json:"poor"`
}

type Resolution struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Label  string `json:"label,omitempty"`
}

// StreamPacketLoss carries loss percentages measured per media kind.
type StreamPacketLoss struct {
	Audio *float64 `json:"audio,omitempty"`
	Video *float64 `json:"video,omitempty"`
}

// MetricSample is one statistics snapshot of a connection. Every field is
// optional; nil means the collaborator could not measure it.
type MetricSample struct {
	PacketLoss        *float64          `json:"packet_loss,omitempty"` // percent
	Jitter            *float64          `json:"jitter,omitempty"`      // ms
	RTT               *float64          `json:"rtt,omitempty"`         // ms
	MOS               *float64          `json:"mos,omitempty"`
	Bitrate           *float64          `json:"bitrate,omitempty"` // bps
	PreviousBitrate   *float64          `json:"previous_bitrate,omitempty"`
	AvailableBitrate  *float64          `json:"available_bitrate,omitempty"`
	AudioBitrate      *float64          `json:"audio_bitrate,omitempty"`
	Resolution        *Resolution       `json:"resolution,omitempty"`
	Framerate         *float64          `json:"framerate,omitempty"`
	TargetFramerate   *float64          `json:"target_framerate,omitempty"`
	FreezeCount       *int              `json:"freeze_count,omitempty"`
	DegradationEvents *int              `json:"degradation_events,omitempty"`
	AudioOnly         bool              `json:"audio_only"`
	StreamPacketLoss  *StreamPacketLoss `json:"stream_packet_loss,omitempty"`
	ConnectionType    string            `json:"connection_type,omitempty"`
	Timestamp         time.Time         `json:"timestamp"`
}

// Float returns a pointer to v, for building samples.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v, for building samples.
func Int(v int) *int { return &v }

// HasNetworkMetrics reports whether any metric used for level classification is present.
func (s *MetricSample) HasNetworkMetrics() bool {
	return s.PacketLoss != nil || s.Jitter != nil || s.RTT != nil || s.MOS != nil
}

// HasVideoMetrics reports whether the sample carries any video-specific measurement.
func (s *MetricSample) HasVideoMetrics() bool {
	if s.Resolution != nil || s.Framerate != nil || s.FreezeCount != nil {
		return true
	}
	return s.StreamPacketLoss != nil && s.StreamPacketLoss.Video != nil
}

// VideoEnabled is true unless the call is audio-only.
func (s *MetricSample) VideoEnabled() bool { return !s.AudioOnly }

// Sanitize clamps NaN, infinite and negative values to zero in place.
func (s *MetricSample) Sanitize() {
	for _, p := range []*float64{
		s.PacketLoss, s.Jitter, s.RTT, s.MOS, s.Bitrate, s.PreviousBitrate,
		s.AvailableBitrate, s.AudioBitrate, s.Framerate, s.TargetFramerate,
	} {
		if p != nil {
			*p = NonNegative(*p)
		}
	}
	if s.StreamPacketLoss != nil {
		for _, p := range []*float64{s.StreamPacketLoss.Audio, s.StreamPacketLoss.Video} {
			if p != nil {
				*p = NonNegative(*p)
			}
		}
	}
	for _, p := range []*int{s.FreezeCount, s.DegradationEvents} {
		if p != nil && *p < 0 {
			*p = 0
		}
	}
	if s.Resolution != nil {
		if s.Resolution.Width < 0 {
			s.Resolution.Width = 0
		}
		if s.Resolution.Height < 0 {
			s.Resolution.Height = 0
		}
	}
}

// Clone returns a deep copy so callers may keep mutating their sample.
func (s *MetricSample) Clone() *MetricSample {
	c := *s
	c.PacketLoss = cloneFloat(s.PacketLoss)
	c.Jitter = cloneFloat(s.Jitter)
	c.RTT = cloneFloat(s.RTT)
	c.MOS = cloneFloat(s.MOS)
	c.Bitrate = cloneFloat(s.Bitrate)
	c.PreviousBitrate = cloneFloat(s.PreviousBitrate)
	c.AvailableBitrate = cloneFloat(s.AvailableBitrate)
	c.AudioBitrate = cloneFloat(s.AudioBitrate)
	c.Framerate = cloneFloat(s.Framerate)
	c.TargetFramerate = cloneFloat(s.TargetFramerate)
	if s.FreezeCount != nil {
		c.FreezeCount = Int(*s.FreezeCount)
	}
	if s.DegradationEvents != nil {
		c.DegradationEvents = Int(*s.DegradationEvents)
	}
	if s.Resolution != nil {
		r := *s.Resolution
		c.Resolution = &r
	}
	if s.StreamPacketLoss != nil {
		c.StreamPacketLoss = &StreamPacketLoss{
			Audio: cloneFloat(s.StreamPacketLoss.Audio),
			Video: cloneFloat(s.StreamPacketLoss.Video),
		}
	}
	return &c
}

// NonNegative maps NaN, negative and infinite values to a safe floor of zero.
func NonNegative(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	return Float(*p)
}
