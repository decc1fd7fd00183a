package services

import (
	"callpulse/internal/core/domain"
)

// MetricThresholds holds the classification bands for every metric.
// MOS bands are lower bounds since a higher MOS is better.
type MetricThresholds struct {
	PacketLoss domain.Thresholds
	Jitter     domain.Thresholds
	RTT        domain.Thresholds
	MOS        domain.Thresholds
}

func DefaultMetricThresholds() MetricThresholds {
	return MetricThresholds{
		PacketLoss: domain.Thresholds{Excellent: 0.5, Good: 1, Fair: 2, Poor: 5},
		Jitter:     domain.Thresholds{Excellent: 10, Good: 20, Fair: 40, Poor: 80},
		RTT:        domain.Thresholds{Excellent: 50, Good: 150, Fair: 250, Poor: 400},
		MOS:        domain.Thresholds{Excellent: 4.3, Good: 4.0, Fair: 3.6, Poor: 3.1},
	}
}

// Classify maps a lower-is-better value to its band.
func Classify(value float64, t domain.Thresholds) domain.QualityLevel {
	value = domain.NonNegative(value)
	switch {
	case value <= t.Excellent:
		return domain.QualityExcellent
	case value <= t.Good:
		return domain.QualityGood
	case value <= t.Fair:
		return domain.QualityFair
	case value <= t.Poor:
		return domain.QualityPoor
	default:
		return domain.QualityCritical
	}
}

// ClassifyHigherBetter maps a higher-is-better value such as MOS to its band.
func ClassifyHigherBetter(value float64, t domain.Thresholds) domain.QualityLevel {
	value = domain.NonNegative(value)
	switch {
	case value >= t.Excellent:
		return domain.QualityExcellent
	case value >= t.Good:
		return domain.QualityGood
	case value >= t.Fair:
		return domain.QualityFair
	case value >= t.Poor:
		return domain.QualityPoor
	default:
		return domain.QualityCritical
	}
}

// WorstLevel reduces levels to the lowest ranked one. Unknown levels are
// ignored; with nothing else left the result is unknown.
func WorstLevel(levels ...domain.QualityLevel) domain.QualityLevel {
	worst := domain.QualityUnknown
	for _, l := range levels {
		if l == domain.QualityUnknown || l.Rank() < 0 {
			continue
		}
		if worst == domain.QualityUnknown || l.Rank() < worst.Rank() {
			worst = l
		}
	}
	return worst
}

type Classifier struct {
	thresholds MetricThresholds
}

func NewClassifier(thresholds MetricThresholds) *Classifier {
	return &Classifier{thresholds: thresholds}
}

// Thresholds returns the classification bands (shared with the scorer and advisor)
func (c *Classifier) Thresholds() MetricThresholds {
	return c.thresholds
}

// MetricLevels classifies each metric present in the sample independently.
func (c *Classifier) MetricLevels(sample *domain.MetricSample) map[string]domain.QualityLevel {
	levels := make(map[string]domain.QualityLevel, 4)
	if sample.PacketLoss != nil {
		levels["packet_loss"] = Classify(*sample.PacketLoss, c.thresholds.PacketLoss)
	}
	if sample.Jitter != nil {
		levels["jitter"] = Classify(*sample.Jitter, c.thresholds.Jitter)
	}
	if sample.RTT != nil {
		levels["rtt"] = Classify(*sample.RTT, c.thresholds.RTT)
	}
	if sample.MOS != nil {
		levels["mos"] = ClassifyHigherBetter(*sample.MOS, c.thresholds.MOS)
	}
	return levels
}

// OverallLevel is the worst level among the metrics present in the sample.
func (c *Classifier) OverallLevel(sample *domain.MetricSample) domain.QualityLevel {
	levels := c.MetricLevels(sample)
	all := make([]domain.QualityLevel, 0, len(levels))
	for _, l := range levels {
		all = append(all, l)
	}
	return WorstLevel(all...)
}
