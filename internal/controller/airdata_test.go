package controller

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simpilot/internal/atmos"
	"simpilot/internal/protocol"
)

type seaLevelSink struct {
	calls int
	last  atmos.SeaLevel
}

func (s *seaLevelSink) SetSeaLevel(sl atmos.SeaLevel) {
	s.calls++
	s.last = sl
}

// TestAirData tests that a good estimate reaches the sink
func TestAirData(t *testing.T) {
	sink := &seaLevelSink{}
	a := NewAirData(atmos.DefaultEstimatorConfig(), sink, newTestLogger())
	assert.Equal(t, atmos.Standard, sink.last, "reset restores the standard atmosphere")
	resets := sink.calls

	cmd, err := a.ProcessFrame(&protocol.Frame{Time: 0})
	require.NoError(t, err)
	assert.Nil(t, cmd)
	assert.Equal(t, resets, sink.calls, "frames without dials are ignored")

	truth := atmos.SeaLevel{Temperature: 298.15, Pressure: 100300}
	dials := truth.Predict(90, 600, 101325)
	for i := 0; i <= 40; i++ {
		f := &protocol.Frame{
			Time:     float64(i) * 0.05,
			TAS:      90,
			Position: protocol.Vec3{Y: 600},
			Dial:     protocol.Some(protocol.DialReading{Dials: dials, QNH: 101325}),
		}
		cmd, err := a.ProcessFrame(f)
		require.NoError(t, err)
		assert.Nil(t, cmd)
	}

	assert.Greater(t, sink.calls, resets)
	assert.InDelta(t, truth.Temperature, sink.last.Temperature, 0.05)
	assert.InDelta(t, truth.Pressure, sink.last.Pressure, 10)
	assert.True(t, a.Estimate().Valid())

	a.Reset()
	assert.Equal(t, atmos.Standard, sink.last)
	assert.False(t, a.Estimate().Valid())
}
