package controller

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simpilot/internal/protocol"
)

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

// TestRecorder tests that sessions and frames round-trip through a recording
func TestRecorder(t *testing.T) {
	var buf bytes.Buffer
	r := NewRecorder(&buf, newTestLogger())
	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return started }

	r.NewSession(&protocol.Bulk{Session: 7, Aircraft: "Yak-52", Version: "2.9", Exporting: true})

	first := &protocol.Frame{Session: 7, Number: 1, Time: 10, Position: protocol.Vec3{Y: 500}, TAS: 60, FuelInternal: 80, FuelExternal: 20}
	second := &protocol.Frame{Session: 7, Number: 2, Time: 10.05, Dt: 0.05, FuelFlow: protocol.Some(2949.4)}
	for _, f := range []*protocol.Frame{first, second} {
		cmd, err := r.ProcessFrame(f)
		require.NoError(t, err)
		assert.Nil(t, cmd)
	}

	var records []interface{}
	require.NoError(t, ReadRecords(&buf, func(rec interface{}) error {
		records = append(records, rec)
		return nil
	}))
	require.Len(t, records, 3)

	s, ok := records[0].(*SessionRecord)
	require.True(t, ok)
	assert.Equal(t, int64(7), s.Session)
	assert.Equal(t, "Yak-52", s.Aircraft)
	assert.True(t, s.Exporting)
	assert.True(t, started.Equal(s.Started))

	f1, ok := records[1].(*FrameRecord)
	require.True(t, ok)
	assert.Equal(t, 10.0, f1.Time)
	assert.Equal(t, 500.0, f1.Position[1])
	assert.Equal(t, 100.0, f1.Fuel)
	assert.Nil(t, f1.FuelFlow)

	f2 := records[2].(*FrameRecord)
	assert.Equal(t, int64(2), f2.Number)
	require.NotNil(t, f2.FuelFlow)
	assert.Equal(t, 2949.4, *f2.FuelFlow)
}

// TestRecorder_WriteError tests that write failures surface
func TestRecorder_WriteError(t *testing.T) {
	r := NewRecorder(failingWriter{}, newTestLogger())
	_, err := r.ProcessFrame(&protocol.Frame{Time: 1})
	assert.Error(t, err)
	assert.NotPanics(t, func() { r.NewSession(&protocol.Bulk{Session: 1}) })
}
