package services

import (
	"math"
	"testing"

	"callpulse/internal/core/domain"

	"github.com/stretchr/testify/assert"
)

func TestClassify_Bands(t *testing.T) {
	pl := DefaultMetricThresholds().PacketLoss

	tests := []struct {
		name  string
		value float64
		want  domain.QualityLevel
	}{
		{"at excellent bound", 0.5, domain.QualityExcellent},
		{"just above excellent", 0.6, domain.QualityGood},
		{"at good bound", 1, domain.QualityGood},
		{"fair", 1.5, domain.QualityFair},
		{"poor", 3, domain.QualityPoor},
		{"at poor bound", 5, domain.QualityPoor},
		{"above poor", 5.1, domain.QualityCritical},
		{"negative clamps to zero", -4, domain.QualityExcellent},
		{"NaN clamps to zero", math.NaN(), domain.QualityExcellent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.value, pl))
		})
	}
}

func TestClassifyHigherBetter_MOS(t *testing.T) {
	mos := DefaultMetricThresholds().MOS

	assert.Equal(t, domain.QualityExcellent, ClassifyHigherBetter(4.4, mos))
	assert.Equal(t, domain.QualityGood, ClassifyHigherBetter(4.1, mos))
	assert.Equal(t, domain.QualityFair, ClassifyHigherBetter(3.7, mos))
	assert.Equal(t, domain.QualityPoor, ClassifyHigherBetter(3.2, mos))
	assert.Equal(t, domain.QualityCritical, ClassifyHigherBetter(2.0, mos))
}

func TestWorstLevel(t *testing.T) {
	assert.Equal(t, domain.QualityUnknown, WorstLevel())
	assert.Equal(t, domain.QualityUnknown, WorstLevel(domain.QualityUnknown))
	assert.Equal(t, domain.QualityPoor, WorstLevel(domain.QualityExcellent, domain.QualityPoor, domain.QualityUnknown))
	assert.Equal(t, domain.QualityCritical, WorstLevel(domain.QualityCritical, domain.QualityGood))
	assert.Equal(t, domain.QualityGood, WorstLevel(domain.QualityUnknown, domain.QualityGood))
}

func TestClassifier_OverallLevel(t *testing.T) {
	c := NewClassifier(DefaultMetricThresholds())

	t.Run("healthy call", func(t *testing.T) {
		s := &domain.MetricSample{
			PacketLoss: domain.Float(0.3),
			Jitter:     domain.Float(8),
			RTT:        domain.Float(40),
			MOS:        domain.Float(4.4),
		}
		assert.Equal(t, domain.QualityExcellent, c.OverallLevel(s))
	})

	t.Run("worst metric wins", func(t *testing.T) {
		s := &domain.MetricSample{
			PacketLoss: domain.Float(0.3),
			RTT:        domain.Float(300),
		}
		levels := c.MetricLevels(s)
		assert.Equal(t, domain.QualityExcellent, levels["packet_loss"])
		assert.Equal(t, domain.QualityPoor, levels["rtt"])
		assert.Equal(t, domain.QualityPoor, c.OverallLevel(s))
	})

	t.Run("degraded network", func(t *testing.T) {
		s := &domain.MetricSample{
			PacketLoss: domain.Float(6),
			Jitter:     domain.Float(90),
			RTT:        domain.Float(420),
		}
		assert.Equal(t, domain.QualityCritical, c.OverallLevel(s))
	})

	t.Run("no metrics", func(t *testing.T) {
		assert.Equal(t, domain.QualityUnknown, c.OverallLevel(&domain.MetricSample{}))
	})
}
