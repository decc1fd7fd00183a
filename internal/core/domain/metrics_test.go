package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGradeFor(t *testing.T) {
	tests := []struct {
		score float64
		want  Grade
	}{
		{100, GradeA},
		{90, GradeA},
		{89.99, GradeB},
		{75, GradeB},
		{74.99, GradeC},
		{60, GradeC},
		{59.9, GradeD},
		{40, GradeD},
		{39.9, GradeF},
		{0, GradeF},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, GradeFor(tt.score), "score %v", tt.score)
	}
}

func TestQualityLevelRank(t *testing.T) {
	assert.Less(t, QualityCritical.Rank(), QualityPoor.Rank())
	assert.Less(t, QualityPoor.Rank(), QualityFair.Rank())
	assert.Less(t, QualityFair.Rank(), QualityGood.Rank())
	assert.Less(t, QualityGood.Rank(), QualityExcellent.Rank())
	assert.Equal(t, -1, QualityUnknown.Rank())
}

func TestMetricSample_Sanitize(t *testing.T) {
	s := &MetricSample{
		PacketLoss:       Float(math.NaN()),
		Jitter:           Float(-4),
		RTT:              Float(math.Inf(1)),
		MOS:              Float(4.1),
		FreezeCount:      Int(-2),
		StreamPacketLoss: &StreamPacketLoss{Video: Float(-1)},
		Resolution:       &Resolution{Width: -1, Height: 720},
	}
	s.Sanitize()

	assert.Equal(t, 0.0, *s.PacketLoss)
	assert.Equal(t, 0.0, *s.Jitter)
	assert.Equal(t, 0.0, *s.RTT)
	assert.Equal(t, 4.1, *s.MOS)
	assert.Equal(t, 0, *s.FreezeCount)
	assert.Equal(t, 0.0, *s.StreamPacketLoss.Video)
	assert.Nil(t, s.StreamPacketLoss.Audio)
	assert.Equal(t, 0, s.Resolution.Width)
	assert.Equal(t, 720, s.Resolution.Height)
	assert.Nil(t, s.Bitrate)
}

func TestMetricSample_Clone(t *testing.T) {
	orig := &MetricSample{
		RTT:              Float(50),
		FreezeCount:      Int(1),
		Resolution:       &Resolution{Width: 1280, Height: 720},
		StreamPacketLoss: &StreamPacketLoss{Audio: Float(1)},
		ConnectionType:   "host",
	}
	c := orig.Clone()
	require.Equal(t, orig, c)

	*c.RTT = 999
	*c.FreezeCount = 9
	c.Resolution.Height = 1080
	*c.StreamPacketLoss.Audio = 7

	assert.Equal(t, 50.0, *orig.RTT)
	assert.Equal(t, 1, *orig.FreezeCount)
	assert.Equal(t, 720, orig.Resolution.Height)
	assert.Equal(t, 1.0, *orig.StreamPacketLoss.Audio)
}

func TestMetricSample_Presence(t *testing.T) {
	empty := &MetricSample{}
	assert.False(t, empty.HasNetworkMetrics())
	assert.False(t, empty.HasVideoMetrics())
	assert.True(t, empty.VideoEnabled())

	assert.True(t, (&MetricSample{MOS: Float(4)}).HasNetworkMetrics())
	assert.False(t, (&MetricSample{Bitrate: Float(1)}).HasNetworkMetrics())

	assert.True(t, (&MetricSample{Framerate: Float(30)}).HasVideoMetrics())
	assert.True(t, (&MetricSample{StreamPacketLoss: &StreamPacketLoss{Video: Float(0)}}).HasVideoMetrics())
	assert.False(t, (&MetricSample{StreamPacketLoss: &StreamPacketLoss{Audio: Float(0)}}).HasVideoMetrics())

	assert.False(t, (&MetricSample{AudioOnly: true}).VideoEnabled())
}
