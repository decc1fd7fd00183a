package services

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateMOS_KnownValues(t *testing.T) {
	tests := []struct {
		name                    string
		packetLoss, jitter, rtt float64
		want                    float64
	}{
		{"perfect network", 0, 0, 0, 4.4},
		{"healthy call", 0.3, 8, 40, 4.4},
		{"degraded call", 6, 90, 420, 2.8},
		{"unusable call", 100, 500, 2000, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, EstimateMOS(tt.packetLoss, tt.jitter, tt.rtt), 1e-9)
		})
	}
}

func TestMOSFromR_Bounds(t *testing.T) {
	assert.Equal(t, 1.0, MOSFromR(-5))
	assert.Equal(t, 1.0, MOSFromR(math.NaN()))
	assert.Equal(t, 4.5, MOSFromR(150))
	assert.Equal(t, 1.0, MOSFromR(0))
}

func TestRFactor_DelayKnee(t *testing.T) {
	// below the 177.3ms knee only the linear delay term applies
	below := RFactor(0, 0, 300) // d = 150
	assert.InDelta(t, 93.2-0.024*150, below, 1e-9)

	above := RFactor(0, 0, 400) // d = 200
	assert.InDelta(t, 93.2-0.024*200-0.11*(200-177.3), above, 1e-9)
}

func TestEstimateMOS_NonIncreasing(t *testing.T) {
	check := func(name string, f func(x float64) float64) {
		t.Run(name, func(t *testing.T) {
			prev := f(0)
			for x := 0.5; x <= 1000; x += 0.5 {
				cur := f(x)
				assert.LessOrEqual(t, cur, prev, "MOS rose at %v", x)
				assert.GreaterOrEqual(t, cur, 1.0)
				assert.LessOrEqual(t, cur, 4.5)
				prev = cur
			}
		})
	}

	check("packet loss", func(x float64) float64 { return EstimateMOS(x/10, 20, 100) })
	check("jitter", func(x float64) float64 { return EstimateMOS(1, x, 100) })
	check("rtt", func(x float64) float64 { return EstimateMOS(1, 20, x) })
}

func TestEstimateMOS_ClampsNegativeInput(t *testing.T) {
	assert.Equal(t, EstimateMOS(0, 0, 0), EstimateMOS(-3, -10, -50))
}
