package services

import (
	"testing"
	"time"

	"callpulse/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdvisor() *BandwidthAdvisor {
	return NewBandwidthAdvisor(DefaultBandwidthConfig(), DefaultMetricThresholds())
}

func findSuggestion(rec domain.BandwidthRecommendation, kind domain.SuggestionType) *domain.AdaptationSuggestion {
	for i := range rec.Suggestions {
		if rec.Suggestions[i].Type == kind {
			return &rec.Suggestions[i]
		}
	}
	return nil
}

func TestBandwidthAdvisor_StarvedVideoIsCritical(t *testing.T) {
	rec := newTestAdvisor().Recommend(&domain.MetricSample{
		AvailableBitrate: domain.Float(200_000),
		Bitrate:          domain.Float(1_500_000),
	}, time.Now())

	assert.Equal(t, domain.ActionCritical, rec.Action)
	assert.Equal(t, domain.PriorityCritical, rec.Priority)
	assert.InDelta(t, 0.75, rec.Severity, 1e-9)

	disable := findSuggestion(rec, domain.SuggestDisableVideo)
	require.NotNil(t, disable)
	assert.GreaterOrEqual(t, disable.Impact, 75.0)
	assert.Equal(t, "Disable video: 200 kbps available, video needs at least 300 kbps", disable.Message)
	assert.Equal(t, 90.0, rec.EstimatedImprovement)
}

func TestBandwidthAdvisor_DegradedNetwork(t *testing.T) {
	rec := newTestAdvisor().Recommend(&domain.MetricSample{
		PacketLoss: domain.Float(6),
		Jitter:     domain.Float(90),
		RTT:        domain.Float(420),
	}, time.Now())

	assert.Contains(t, []domain.AdaptationAction{domain.ActionDowngrade, domain.ActionCritical}, rec.Action)
	assert.InDelta(t, 0.75, rec.Severity, 1e-9)
}

func TestBandwidthAdvisor_DowngradeSuggestionsRanked(t *testing.T) {
	rec := newTestAdvisor().Recommend(&domain.MetricSample{
		AvailableBitrate: domain.Float(700_000),
		Bitrate:          domain.Float(1_500_000),
		PacketLoss:       domain.Float(1.5),
		Resolution:       &domain.Resolution{Width: 1280, Height: 720, Label: "720p"},
		Framerate:        domain.Float(30),
		AudioBitrate:     domain.Float(64_000),
	}, time.Now())

	// ratio 0.47 contributes 0.7, fair loss 0.4: (0.6*0.7 + 0.4*0.55) * 0.75
	assert.InDelta(t, 0.48, rec.Severity, 1e-9)
	assert.Equal(t, domain.ActionDowngrade, rec.Action)
	assert.Equal(t, domain.PriorityHigh, rec.Priority)

	require.Len(t, rec.Suggestions, 3)
	assert.Equal(t, domain.SuggestReduceResolution, rec.Suggestions[0].Type)
	assert.Equal(t, 48.0, rec.Suggestions[0].Impact)
	assert.Equal(t, 480.0, rec.Suggestions[0].Recommended)
	assert.Equal(t, "Reduce resolution from 720p to 480p", rec.Suggestions[0].Message)

	assert.Equal(t, domain.SuggestReduceFramerate, rec.Suggestions[1].Type)
	assert.Equal(t, 36.0, rec.Suggestions[1].Impact)
	assert.Equal(t, 18.0, rec.Suggestions[1].Recommended)

	assert.Equal(t, domain.SuggestReduceAudioBitrate, rec.Suggestions[2].Type)
	assert.Equal(t, 24.0, rec.Suggestions[2].Impact)
	assert.Equal(t, 32_000.0, rec.Suggestions[2].Recommended)

	// 48 + 36*0.6 + 24*0.36
	assert.InDelta(t, 78.2, rec.EstimatedImprovement, 1e-9)
	assert.Nil(t, findSuggestion(rec, domain.SuggestDisableVideo))
}

func TestBandwidthAdvisor_Floors(t *testing.T) {
	rec := newTestAdvisor().Recommend(&domain.MetricSample{
		PacketLoss:   domain.Float(20),
		Framerate:    domain.Float(12),
		AudioBitrate: domain.Float(24_000),
		Resolution:   &domain.Resolution{Width: 320, Height: 180},
	}, time.Now())

	require.Equal(t, domain.ActionCritical, rec.Action)
	assert.Nil(t, findSuggestion(rec, domain.SuggestReduceResolution), "no rung below 180p")

	fr := findSuggestion(rec, domain.SuggestReduceFramerate)
	require.NotNil(t, fr)
	assert.Equal(t, 10.0, fr.Recommended)

	audio := findSuggestion(rec, domain.SuggestReduceAudioBitrate)
	require.NotNil(t, audio)
	assert.Equal(t, 16_000.0, audio.Recommended)
}

func TestBandwidthAdvisor_AudioOnlySkipsVideo(t *testing.T) {
	rec := newTestAdvisor().Recommend(&domain.MetricSample{
		AvailableBitrate: domain.Float(50_000),
		Bitrate:          domain.Float(500_000),
		AudioBitrate:     domain.Float(48_000),
		Framerate:        domain.Float(30),
		AudioOnly:        true,
	}, time.Now())

	assert.Equal(t, domain.ActionCritical, rec.Action)
	require.Len(t, rec.Suggestions, 1)
	assert.Equal(t, domain.SuggestReduceAudioBitrate, rec.Suggestions[0].Type)
}

func TestBandwidthAdvisor_Upgrade(t *testing.T) {
	rec := newTestAdvisor().Recommend(&domain.MetricSample{
		AvailableBitrate: domain.Float(3_000_000),
		Bitrate:          domain.Float(1_000_000),
		PacketLoss:       domain.Float(0.2),
		Resolution:       &domain.Resolution{Width: 854, Height: 480},
	}, time.Now())

	assert.Equal(t, domain.ActionUpgrade, rec.Action)
	assert.Equal(t, domain.PriorityLow, rec.Priority)
	require.Len(t, rec.Suggestions, 1)
	assert.Equal(t, domain.SuggestIncreaseResolution, rec.Suggestions[0].Type)
	assert.Equal(t, 720.0, rec.Suggestions[0].Recommended)
	assert.Equal(t, 35.0, rec.EstimatedImprovement)

	top := newTestAdvisor().Recommend(&domain.MetricSample{
		AvailableBitrate: domain.Float(9_000_000),
		Bitrate:          domain.Float(3_000_000),
		Resolution:       &domain.Resolution{Width: 1920, Height: 1080},
	}, time.Now())
	assert.Equal(t, domain.ActionUpgrade, top.Action)
	assert.Empty(t, top.Suggestions)
}

func TestBandwidthAdvisor_Maintain(t *testing.T) {
	rec := newTestAdvisor().Recommend(&domain.MetricSample{
		AvailableBitrate: domain.Float(1_000_000),
		Bitrate:          domain.Float(1_000_000),
	}, time.Now())

	assert.Equal(t, domain.ActionMaintain, rec.Action)
	assert.Equal(t, domain.PriorityLow, rec.Priority)
	assert.NotNil(t, rec.Suggestions)
	assert.Empty(t, rec.Suggestions)
	assert.Equal(t, 0.0, rec.EstimatedImprovement)
}

func TestBandwidthAdvisor_ZeroBandwidth(t *testing.T) {
	rec := newTestAdvisor().Recommend(&domain.MetricSample{
		AvailableBitrate: domain.Float(0),
		Bitrate:          domain.Float(0),
	}, time.Now())

	assert.Equal(t, 0.0, rec.Severity)
	assert.Equal(t, domain.ActionCritical, rec.Action)
	assert.Equal(t, domain.PriorityCritical, rec.Priority)
	assert.NotNil(t, findSuggestion(rec, domain.SuggestDisableVideo))
}

func TestBandwidthAdvisor_DegradationEvents(t *testing.T) {
	advisor := newTestAdvisor()

	rec := advisor.Recommend(&domain.MetricSample{DegradationEvents: domain.Int(3)}, time.Now())
	assert.InDelta(t, 0.225, rec.Severity, 1e-9)
	assert.Equal(t, domain.ActionMaintain, rec.Action)
	assert.Equal(t, domain.PriorityMedium, rec.Priority)

	capped := advisor.Severity(&domain.MetricSample{DegradationEvents: domain.Int(50)})
	assert.InDelta(t, 0.375, capped, 1e-9)
}

func TestBandwidthAdvisor_Sensitivity(t *testing.T) {
	sample := &domain.MetricSample{PacketLoss: domain.Float(6)}
	thresholds := DefaultMetricThresholds()

	tests := []struct {
		sensitivity float64
		want        float64
	}{
		{0, 0.5},
		{0.5, 0.75},
		{1, 1.0},
		{3, 1.0}, // clamped
	}

	for _, tt := range tests {
		cfg := DefaultBandwidthConfig()
		cfg.Sensitivity = tt.sensitivity
		got := NewBandwidthAdvisor(cfg, thresholds).Severity(sample)
		assert.InDelta(t, tt.want, got, 1e-9, "sensitivity %v", tt.sensitivity)
	}
}

func TestBandwidthAdvisor_NoSignals(t *testing.T) {
	rec := newTestAdvisor().Recommend(&domain.MetricSample{}, time.Now())
	assert.Equal(t, 0.0, rec.Severity)
	assert.Equal(t, domain.ActionMaintain, rec.Action)
}

func TestEstimateImprovement(t *testing.T) {
	suggestions := []domain.AdaptationSuggestion{{Impact: 90}, {Impact: 90}, {Impact: 90}}
	assert.Equal(t, 100.0, EstimateImprovement(suggestions))
	assert.Equal(t, 0.0, EstimateImprovement(nil))
	assert.InDelta(t, 40+0.6*20, EstimateImprovement([]domain.AdaptationSuggestion{{Impact: 40}, {Impact: 20}}), 1e-9)
}
