package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivanzxc/go-glucose-stream/internal/sensor"
)

func TestWristbandSimStaysInRange(t *testing.T) {
	sim := NewWristbandSim(10, 72, 0.02, sensor.Default)
	for i := 0; i < 5000; i++ {
		r := sim.Next()
		require.NoError(t, r.Validate(), "sample %d", i)
		require.InDelta(t, sensor.Default.Temperature, r.Temperature, 0.5)
	}
}

func TestWristbandSimDeterministic(t *testing.T) {
	a := NewWristbandSim(1, 60, 0.01, sensor.Default)
	b := NewWristbandSim(1, 60, 0.01, sensor.Default)
	for i := 0; i < 100; i++ {
		assert.Equal(t, a.Next(), b.Next())
	}
}

func TestWristbandSimLinesParse(t *testing.T) {
	sim := NewWristbandSim(1, 72, 0.02, sensor.Default)
	for i := 0; i < 20; i++ {
		_, err := sensor.ParseLine(sensor.FormatLine(sim.Next()))
		require.NoError(t, err)
	}
}

func TestWristbandSimMotionBurst(t *testing.T) {
	sim := NewWristbandSim(1, 72, 0, sensor.Reading{Red: 0.6, IR: 0.7, Temperature: 36.5, Motion: 0.1})
	var peak float64
	for i := 0; i < 10; i++ {
		if m := sim.Next().Motion; m > peak {
			peak = m
		}
	}
	assert.Greater(t, peak, 0.4)
}
