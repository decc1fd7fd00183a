package services

import (
	"fmt"
	"math"
	"sort"
	"time"

	"callpulse/internal/core/domain"
	"callpulse/pkg/utils"
)

const (
	diminishingReturns = 0.6
	framerateReduction = 0.6

	disableVideoImpact       = 90.0
	reduceResolutionImpact   = 60.0
	reduceFramerateImpact    = 45.0
	reduceAudioImpact        = 30.0
	increaseResolutionImpact = 35.0
)

// BandwidthConfig tunes the advisor. Bitrates are in bps.
type BandwidthConfig struct {
	// Sensitivity in [0, 1] scales severity by 0.5 + sensitivity*0.5.
	Sensitivity     float64
	MinVideoBitrate float64
	MinFramerate    float64
	MinAudioBitrate float64
}

func DefaultBandwidthConfig() BandwidthConfig {
	return BandwidthConfig{
		Sensitivity:     0.5,
		MinVideoBitrate: 300_000,
		MinFramerate:    10,
		MinAudioBitrate: 16_000,
	}
}

// ResolutionLadder lists the rungs used for step-down and step-up suggestions.
var ResolutionLadder = []domain.Resolution{
	{Width: 320, Height: 180, Label: "180p"},
	{Width: 640, Height: 360, Label: "360p"},
	{Width: 854, Height: 480, Label: "480p"},
	{Width: 1280, Height: 720, Label: "720p"},
	{Width: 1920, Height: 1080, Label: "1080p"},
}

var levelWeights = map[domain.QualityLevel]float64{
	domain.QualityCritical:  1.0,
	domain.QualityPoor:      0.7,
	domain.QualityFair:      0.4,
	domain.QualityGood:      0.15,
	domain.QualityExcellent: 0,
}

// BandwidthAdvisor recommends bitrate and resolution adaptations. It only
// advises; applying a recommendation is up to the caller.
type BandwidthAdvisor struct {
	cfg        BandwidthConfig
	thresholds MetricThresholds
}

func NewBandwidthAdvisor(cfg BandwidthConfig, thresholds MetricThresholds) *BandwidthAdvisor {
	cfg.Sensitivity = clamp(cfg.Sensitivity, 0, 1)
	return &BandwidthAdvisor{cfg: cfg, thresholds: thresholds}
}

// bandwidthSignals summarizes the inputs severity is derived from.
type bandwidthSignals struct {
	ratio         *float64
	zeroBandwidth bool
	contributions []float64
}

func (b *BandwidthAdvisor) signals(sample *domain.MetricSample) bandwidthSignals {
	var s bandwidthSignals

	if sample.AvailableBitrate != nil && sample.Bitrate != nil {
		available, current := *sample.AvailableBitrate, *sample.Bitrate
		switch {
		case available == 0 && current == 0:
			s.zeroBandwidth = true
		case current > 0:
			ratio := available / current
			s.ratio = &ratio
			s.contributions = append(s.contributions, ratioContribution(ratio))
		}
	}
	if sample.PacketLoss != nil {
		s.contributions = append(s.contributions, levelWeights[Classify(*sample.PacketLoss, b.thresholds.PacketLoss)])
	}
	if sample.RTT != nil {
		s.contributions = append(s.contributions, levelWeights[Classify(*sample.RTT, b.thresholds.RTT)])
	}
	if sample.DegradationEvents != nil {
		s.contributions = append(s.contributions, math.Min(float64(*sample.DegradationEvents)*0.1, 0.5))
	}
	return s
}

func ratioContribution(ratio float64) float64 {
	switch {
	case ratio <= 0.15:
		return 1.0
	case ratio <= 0.5:
		return 0.7
	case ratio <= 0.8:
		return 0.4
	default:
		return 0
	}
}

// Severity blends the strongest signal (60%) with the average signal (40%)
// and rescales by sensitivity.
func (b *BandwidthAdvisor) Severity(sample *domain.MetricSample) float64 {
	return b.severity(b.signals(sample))
}

func (b *BandwidthAdvisor) severity(s bandwidthSignals) float64 {
	if len(s.contributions) == 0 {
		return 0
	}
	var maxC, sum float64
	for _, c := range s.contributions {
		maxC = math.Max(maxC, c)
		sum += c
	}
	avg := sum / float64(len(s.contributions))
	blended := 0.6*maxC + 0.4*avg
	return clamp(blended*(0.5+b.cfg.Sensitivity*0.5), 0, 1)
}

func (b *BandwidthAdvisor) Recommend(sample *domain.MetricSample, now time.Time) domain.BandwidthRecommendation {
	sig := b.signals(sample)
	severity := b.severity(sig)

	var action domain.AdaptationAction
	switch {
	case severity >= 0.7 || sig.zeroBandwidth:
		action = domain.ActionCritical
	case severity >= 0.4:
		action = domain.ActionDowngrade
	case sig.ratio != nil && *sig.ratio >= 2.0 && severity < 0.2:
		action = domain.ActionUpgrade
	default:
		action = domain.ActionMaintain
	}

	var suggestions []domain.AdaptationSuggestion
	switch action {
	case domain.ActionCritical, domain.ActionDowngrade:
		suggestions = b.downgradeSuggestions(sample, severity)
	case domain.ActionUpgrade:
		suggestions = b.upgradeSuggestions(sample)
	}
	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].Impact > suggestions[j].Impact
	})
	if suggestions == nil {
		suggestions = []domain.AdaptationSuggestion{}
	}

	return domain.BandwidthRecommendation{
		Action:               action,
		Suggestions:          suggestions,
		Priority:             priorityFor(severity, sig.zeroBandwidth),
		Severity:             severity,
		EstimatedImprovement: EstimateImprovement(suggestions),
		Timestamp:            now,
	}
}

func (b *BandwidthAdvisor) downgradeSuggestions(sample *domain.MetricSample, severity float64) []domain.AdaptationSuggestion {
	var out []domain.AdaptationSuggestion
	scale := 0.6 + 0.4*severity
	video := sample.VideoEnabled()

	if video && sample.AvailableBitrate != nil && *sample.AvailableBitrate < b.cfg.MinVideoBitrate {
		out = append(out, domain.AdaptationSuggestion{
			Type: domain.SuggestDisableVideo,
			Message: fmt.Sprintf("Disable video: %s available, video needs at least %s",
				utils.FormatBitrate(*sample.AvailableBitrate), utils.FormatBitrate(b.cfg.MinVideoBitrate)),
			Current:     1,
			Recommended: 0,
			Unit:        "enabled",
			Impact:      disableVideoImpact,
		})
	}

	if video && sample.Resolution != nil {
		if lower, ok := stepDown(sample.Resolution.Height); ok {
			out = append(out, domain.AdaptationSuggestion{
				Type:        domain.SuggestReduceResolution,
				Message:     fmt.Sprintf("Reduce resolution from %s to %s", resolutionLabel(*sample.Resolution), lower.Label),
				Current:     float64(sample.Resolution.Height),
				Recommended: float64(lower.Height),
				Unit:        "px",
				Impact:      math.Round(reduceResolutionImpact * scale),
			})
		}
	}

	if video && sample.Framerate != nil && *sample.Framerate > b.cfg.MinFramerate {
		target := math.Max(math.Round(*sample.Framerate*framerateReduction), b.cfg.MinFramerate)
		out = append(out, domain.AdaptationSuggestion{
			Type:        domain.SuggestReduceFramerate,
			Message:     fmt.Sprintf("Reduce framerate from %.0f to %.0f fps", *sample.Framerate, target),
			Current:     *sample.Framerate,
			Recommended: target,
			Unit:        "fps",
			Impact:      math.Round(reduceFramerateImpact * scale),
		})
	}

	if sample.AudioBitrate != nil && *sample.AudioBitrate > b.cfg.MinAudioBitrate {
		target := math.Max(*sample.AudioBitrate/2, b.cfg.MinAudioBitrate)
		out = append(out, domain.AdaptationSuggestion{
			Type: domain.SuggestReduceAudioBitrate,
			Message: fmt.Sprintf("Reduce audio bitrate from %s to %s",
				utils.FormatBitrate(*sample.AudioBitrate), utils.FormatBitrate(target)),
			Current:     *sample.AudioBitrate,
			Recommended: target,
			Unit:        "bps",
			Impact:      math.Round(reduceAudioImpact * scale),
		})
	}
	return out
}

func (b *BandwidthAdvisor) upgradeSuggestions(sample *domain.MetricSample) []domain.AdaptationSuggestion {
	if !sample.VideoEnabled() || sample.Resolution == nil {
		return nil
	}
	higher, ok := stepUp(sample.Resolution.Height)
	if !ok {
		return nil
	}
	return []domain.AdaptationSuggestion{{
		Type:        domain.SuggestIncreaseResolution,
		Message:     fmt.Sprintf("Increase resolution from %s to %s", resolutionLabel(*sample.Resolution), higher.Label),
		Current:     float64(sample.Resolution.Height),
		Recommended: float64(higher.Height),
		Unit:        "px",
		Impact:      increaseResolutionImpact,
	}}
}

// EstimateImprovement sums impacts, discounting each further suggestion by
// 0.6, capped at 100. Suggestions must already be sorted by impact.
func EstimateImprovement(suggestions []domain.AdaptationSuggestion) float64 {
	total, factor := 0.0, 1.0
	for _, s := range suggestions {
		total += s.Impact * factor
		factor *= diminishingReturns
	}
	return math.Min(round1(total), 100)
}

func priorityFor(severity float64, zeroBandwidth bool) domain.Priority {
	switch {
	case severity >= 0.7 || zeroBandwidth:
		return domain.PriorityCritical
	case severity >= 0.4:
		return domain.PriorityHigh
	case severity >= 0.2:
		return domain.PriorityMedium
	default:
		return domain.PriorityLow
	}
}

func stepDown(height int) (domain.Resolution, bool) {
	for i := len(ResolutionLadder) - 1; i >= 0; i-- {
		if ResolutionLadder[i].Height < height {
			return ResolutionLadder[i], true
		}
	}
	return domain.Resolution{}, false
}

func stepUp(height int) (domain.Resolution, bool) {
	for _, r := range ResolutionLadder {
		if r.Height > height {
			return r, true
		}
	}
	return domain.Resolution{}, false
}

func resolutionLabel(r domain.Resolution) string {
	if r.Label != "" {
		return r.Label
	}
	return fmt.Sprintf("%dp", r.Height)
}
