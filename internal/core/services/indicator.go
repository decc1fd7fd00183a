package services

import (
	"fmt"

	"callpulse/internal/core/domain"
)

type indicatorStyle struct {
	bars  int
	color string
}

var indicatorStyles = map[domain.QualityLevel]indicatorStyle{
	domain.QualityExcellent: {5, "green"},
	domain.QualityGood:      {4, "lime"},
	domain.QualityFair:      {3, "yellow"},
	domain.QualityPoor:      {2, "orange"},
	domain.QualityCritical:  {1, "red"},
	domain.QualityUnknown:   {1, "gray"},
}

// BuildIndicator renders the network indicator for a level and the sample
// that produced it. sample may be nil.
func BuildIndicator(level domain.QualityLevel, sample *domain.MetricSample) domain.NetworkIndicator {
	style, ok := indicatorStyles[level]
	if !ok {
		level = domain.QualityUnknown
		style = indicatorStyles[level]
	}

	ind := domain.NetworkIndicator{
		Level:       level,
		Bars:        style.bars,
		Color:       style.color,
		Icon:        fmt.Sprintf("signal-%d", style.bars),
		Label:       fmt.Sprintf("Network quality: %s (%d of 5 bars)", level, style.bars),
		IsAvailable: level != domain.QualityUnknown,
	}
	if level == domain.QualityUnknown {
		ind.Icon = "signal-off"
		ind.Label = "Network quality: unknown"
	}

	if sample != nil {
		ind.Details = domain.IndicatorDetails{
			RTT:            cloneOptional(sample.RTT),
			Jitter:         cloneOptional(sample.Jitter),
			PacketLoss:     cloneOptional(sample.PacketLoss),
			Bandwidth:      cloneOptional(sample.AvailableBitrate),
			ConnectionType: sample.ConnectionType,
		}
		if ind.Details.Bandwidth == nil {
			ind.Details.Bandwidth = cloneOptional(sample.Bitrate)
		}
	}
	return ind
}

func cloneOptional(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
