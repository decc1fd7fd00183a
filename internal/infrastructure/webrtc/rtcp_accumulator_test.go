package webrtc

import (
	"context"
	"errors"
	"testing"
	"time"

	"callpulse/internal/core/domain"

	"github.com/pion/rtcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAccumulator(now time.Time) *RTCPAccumulator {
	acc := NewRTCPAccumulator(nil)
	acc.now = func() time.Time { return now }
	return acc
}

func TestRTCPAccumulator_ReceiverReports(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	acc := newTestAccumulator(now)
	acc.SetClockRate(2, 48000)

	raw, err := rtcp.Marshal([]rtcp.Packet{
		&rtcp.ReceiverReport{
			SSRC: 10,
			Reports: []rtcp.ReceptionReport{
				{
					SSRC:             1,
					FractionLost:     64,
					Jitter:           900,
					LastSenderReport: ntpMiddle(now.Add(-150 * time.Millisecond)),
					Delay:            3277, // 50ms in 1/65536 s
				},
				{SSRC: 2, Jitter: 960},
			},
		},
		&rtcp.PictureLossIndication{SenderSSRC: 10, MediaSSRC: 1},
	})
	require.NoError(t, err)
	require.NoError(t, acc.ProcessRaw(raw))

	s := acc.Drain()
	require.NotNil(t, s.PacketLoss)
	assert.InDelta(t, 12.5, *s.PacketLoss, 1e-9)
	assert.InDelta(t, 20.0, *s.Jitter, 1e-9)
	require.NotNil(t, s.RTT)
	assert.InDelta(t, 100.0, *s.RTT, 0.5)
	assert.Equal(t, 1, s.DegradationEvents)
	assert.Nil(t, s.AvailableBitrate)
}

func TestRTCPAccumulator_DrainStartsNewWindow(t *testing.T) {
	acc := newTestAccumulator(time.Now())
	acc.Process([]rtcp.Packet{
		&rtcp.TransportLayerNack{Nacks: []rtcp.NackPair{{PacketID: 7}}},
		&rtcp.FullIntraRequest{FIR: []rtcp.FIREntry{{SSRC: 1}}},
		&rtcp.ReceiverEstimatedMaximumBitrate{Bitrate: 500000, SSRCs: []uint32{1}},
		&rtcp.ReceiverReport{Reports: []rtcp.ReceptionReport{{SSRC: 1, FractionLost: 128}}},
	})

	first := acc.Drain()
	assert.Equal(t, 2, first.DegradationEvents)
	assert.InDelta(t, 50.0, *first.PacketLoss, 1e-9)
	assert.Nil(t, first.RTT)

	second := acc.Drain()
	assert.Zero(t, second.DegradationEvents)
	assert.Nil(t, second.PacketLoss)
	assert.Nil(t, second.Jitter)
	require.NotNil(t, second.AvailableBitrate)
	assert.InDelta(t, 500000.0, *second.AvailableBitrate, 1e-9)
}

func TestRTCPAccumulator_ApplyKeepsMeasuredValues(t *testing.T) {
	acc := newTestAccumulator(time.Now())
	acc.Process([]rtcp.Packet{
		&rtcp.ReceiverReport{Reports: []rtcp.ReceptionReport{{SSRC: 1, FractionLost: 64, Jitter: 1800}}},
		&rtcp.PictureLossIndication{},
		&rtcp.PictureLossIndication{},
		&rtcp.PictureLossIndication{},
	})

	sample := &domain.MetricSample{
		PacketLoss:        domain.Float(1),
		DegradationEvents: domain.Int(2),
	}
	acc.Apply(sample)

	assert.Equal(t, 1.0, *sample.PacketLoss)
	assert.InDelta(t, 20.0, *sample.Jitter, 1e-9)
	assert.Equal(t, 5, *sample.DegradationEvents)
}

func TestRTCPAccumulator_RoundTripIgnoresFutureReports(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	_, ok := roundTrip(rtcp.ReceptionReport{
		LastSenderReport: ntpMiddle(now.Add(time.Second)),
	}, now)
	assert.False(t, ok)

	_, ok = roundTrip(rtcp.ReceptionReport{}, now)
	assert.False(t, ok)
}

func TestRTCPAccumulator_RoundTripAcrossTimestampWrap(t *testing.T) {
	wrap := time.Unix(int64(65536*40000)-int64(ntpEpochOffset), 0)
	require.Equal(t, uint32(0), ntpMiddle(wrap))

	rtt, ok := roundTrip(rtcp.ReceptionReport{
		LastSenderReport: ntpMiddle(wrap.Add(-100 * time.Millisecond)),
		Delay:            3277, // 50ms
	}, wrap.Add(20*time.Millisecond))
	require.True(t, ok)
	assert.InDelta(t, 70.0, rtt, 0.5)
}

func TestRTCPAccumulator_RoundTripRejectsImplausibleValues(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	_, ok := roundTrip(rtcp.ReceptionReport{
		LastSenderReport: ntpMiddle(now.Add(-time.Minute)),
	}, now)
	assert.False(t, ok)
}

func TestRTCPAccumulator_ProcessRawRejectsGarbage(t *testing.T) {
	acc := NewRTCPAccumulator(nil)
	assert.Error(t, acc.ProcessRaw([]byte{0x01, 0x02}))
}

func TestRTCPAccumulator_WatchStopsOnReadError(t *testing.T) {
	acc := NewRTCPAccumulator(nil)
	reads := 0
	acc.Watch(context.Background(), func() ([]rtcp.Packet, error) {
		reads++
		if reads > 2 {
			return nil, errors.New("closed")
		}
		return []rtcp.Packet{&rtcp.PictureLossIndication{}}, nil
	})

	assert.Equal(t, 3, reads)
	assert.Equal(t, 2, acc.Drain().DegradationEvents)
}
