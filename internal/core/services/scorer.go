package services

import (
	"fmt"
	"math"
	"strings"
	"time"

	"callpulse/internal/core/domain"
)

const (
	defaultTargetFramerate = 30.0
	stableBitrateChange    = 0.05
	freezePenalty          = 15.0
)

// ScoreWeights weighs the metric scores that make up the overall score.
type ScoreWeights struct {
	PacketLoss       float64
	Jitter           float64
	RTT              float64
	MOS              float64
	BitrateStability float64
}

func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{
		PacketLoss:       0.3,
		Jitter:           0.2,
		RTT:              0.2,
		MOS:              0.2,
		BitrateStability: 0.1,
	}
}

func (w ScoreWeights) Sum() float64 {
	return w.PacketLoss + w.Jitter + w.RTT + w.MOS + w.BitrateStability
}

// Scorer turns a sample into a QualityScore.
type Scorer struct {
	weights    ScoreWeights
	thresholds MetricThresholds
}

func NewScorer(weights ScoreWeights, thresholds MetricThresholds) *Scorer {
	return &Scorer{weights: weights, thresholds: thresholds}
}

// Score computes the overall, audio, video and network scores. It never fails:
// missing metrics contribute a perfect score.
func (s *Scorer) Score(sample *domain.MetricSample, now time.Time) domain.QualityScore {
	lossScore := s.optionalCurve(sample.PacketLoss, s.thresholds.PacketLoss)
	jitterScore := s.optionalCurve(sample.Jitter, s.thresholds.Jitter)
	rttScore := s.optionalCurve(sample.RTT, s.thresholds.RTT)

	mosScore := 100.0
	var effective *float64
	if mos, ok := effectiveMOS(sample); ok {
		mosScore = MOSScore(mos)
		effective = &mos
	}

	stability := 100.0
	if sample.Bitrate != nil && sample.PreviousBitrate != nil {
		stability = BitrateStabilityScore(*sample.Bitrate, *sample.PreviousBitrate)
	}

	w := s.weights
	overall := lossScore*w.PacketLoss +
		jitterScore*w.Jitter +
		rttScore*w.RTT +
		mosScore*w.MOS +
		stability*w.BitrateStability
	overall = round1(clamp(overall, 0, 100))

	audioLoss := lossScore
	if sample.StreamPacketLoss != nil && sample.StreamPacketLoss.Audio != nil {
		audioLoss = CurveScore(*sample.StreamPacketLoss.Audio, s.thresholds.PacketLoss)
	}
	audio := round1(clamp(0.5*mosScore+0.3*audioLoss+0.2*jitterScore, 0, 100))
	network := round1(clamp(0.45*rttScore+0.3*jitterScore+0.25*lossScore, 0, 100))

	var video *float64
	if !sample.AudioOnly && sample.HasVideoMetrics() {
		v := round1(clamp(s.videoScore(sample, lossScore), 0, 100))
		video = &v
	}

	grade := domain.GradeFor(overall)
	return domain.QualityScore{
		Overall:     overall,
		Audio:       audio,
		Video:       video,
		Network:     network,
		MOS:         effective,
		Grade:       grade,
		Description: s.describe(grade, sample),
		Timestamp:   now,
	}
}

func (s *Scorer) videoScore(sample *domain.MetricSample, lossScore float64) float64 {
	videoLoss := lossScore
	if sample.StreamPacketLoss != nil && sample.StreamPacketLoss.Video != nil {
		videoLoss = CurveScore(*sample.StreamPacketLoss.Video, s.thresholds.PacketLoss)
	}

	framerate := 100.0
	if sample.Framerate != nil {
		target := valueOr(sample.TargetFramerate, defaultTargetFramerate)
		if target <= 0 {
			target = defaultTargetFramerate
		}
		framerate = math.Min(*sample.Framerate/target, 1) * 100
	}

	resolution := 100.0
	if sample.Resolution != nil {
		resolution = ResolutionScore(sample.Resolution.Height)
	}

	freeze := 100.0
	if sample.FreezeCount != nil {
		freeze = math.Max(0, 100-freezePenalty*float64(*sample.FreezeCount))
	}

	return 0.25*videoLoss + 0.35*framerate + 0.25*resolution + 0.15*freeze
}

func (s *Scorer) optionalCurve(v *float64, t domain.Thresholds) float64 {
	if v == nil {
		return 100
	}
	return CurveScore(*v, t)
}

var gradeDescriptions = map[domain.Grade]string{
	domain.GradeA: "Excellent call quality",
	domain.GradeB: "Good call quality",
	domain.GradeC: "Fair call quality",
	domain.GradeD: "Poor call quality",
	domain.GradeF: "Very poor call quality",
}

func (s *Scorer) describe(grade domain.Grade, sample *domain.MetricSample) string {
	text := gradeDescriptions[grade]
	if grade == domain.GradeA || grade == domain.GradeB {
		return text
	}

	var factors []string
	if sample.PacketLoss != nil && *sample.PacketLoss > s.thresholds.PacketLoss.Fair {
		factors = append(factors, "packet loss")
	}
	if sample.Jitter != nil && *sample.Jitter > s.thresholds.Jitter.Fair {
		factors = append(factors, "jitter")
	}
	if sample.RTT != nil && *sample.RTT > s.thresholds.RTT.Fair {
		factors = append(factors, "latency")
	}
	if len(factors) == 0 {
		return text
	}
	return fmt.Sprintf("%s (affected by %s)", text, strings.Join(factors, ", "))
}

// Score endpoints at the excellent, good, fair and poor thresholds.
var curvePoints = [4]float64{100, 85, 65, 40}

// CurveScore maps a lower-is-better metric to 0-100, interpolating linearly
// between band thresholds and decaying towards zero beyond the poor band.
func CurveScore(value float64, t domain.Thresholds) float64 {
	value = domain.NonNegative(value)
	bounds := [4]float64{t.Excellent, t.Good, t.Fair, t.Poor}

	if value <= bounds[0] {
		return curvePoints[0]
	}
	for i := 1; i < len(bounds); i++ {
		if value <= bounds[i] {
			span := bounds[i] - bounds[i-1]
			if span <= 0 {
				return curvePoints[i]
			}
			frac := (value - bounds[i-1]) / span
			return curvePoints[i-1] - frac*(curvePoints[i-1]-curvePoints[i])
		}
	}
	if bounds[3] <= 0 {
		return 0
	}
	return curvePoints[3] * bounds[3] / value
}

// MOSScore maps MOS 1..5 linearly onto 0..100.
func MOSScore(mos float64) float64 {
	return clamp((domain.NonNegative(mos)-1)/4*100, 0, 100)
}

// BitrateStabilityScore is 100 when the bitrate moved at most 5% since the
// previous sample and falls linearly to 0 at a 100% change.
func BitrateStabilityScore(current, previous float64) float64 {
	current = domain.NonNegative(current)
	previous = domain.NonNegative(previous)

	if current == 0 && previous == 0 {
		return 50
	}
	if previous == 0 {
		return 0
	}
	change := math.Abs(current-previous) / previous
	if change <= stableBitrateChange {
		return 100
	}
	return clamp(100*(1-(change-stableBitrateChange)/(1-stableBitrateChange)), 0, 100)
}

// ResolutionScore rates a frame height by tier.
func ResolutionScore(height int) float64 {
	switch {
	case height >= 1080:
		return 100
	case height >= 720:
		return 85
	case height >= 480:
		return 65
	case height >= 360:
		return 50
	case height >= 240:
		return 35
	default:
		return 20
	}
}
