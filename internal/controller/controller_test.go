package controller

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// TestBase tests the enabled flag and default hooks
func TestBase(t *testing.T) {
	b := &Base{ControllerName: "sample"}
	assert.Equal(t, "sample", b.Name())
	assert.False(t, b.Enabled())

	assert.True(t, b.SetEnabled(true))
	assert.False(t, b.SetEnabled(true), "already enabled")
	assert.True(t, b.Enabled())
	assert.True(t, b.SetEnabled(false))
	assert.False(t, b.Enabled())

	assert.False(t, b.HandleKey(KeyEvent{Key: "up"}))
}

// TestPIDGains_Build tests the symmetric limit
func TestPIDGains_Build(t *testing.T) {
	pid := PIDGains{P: 10, Limit: 0.5}.build()
	out, err := pid.Update(1, 0.1)
	assert.NoError(t, err)
	assert.Equal(t, 0.5, out)

	free := PIDGains{P: 10}.build()
	out, err = free.Update(1, 0.1)
	assert.NoError(t, err)
	assert.Equal(t, 10.0, out)
}

var (
	_ FlightController = (*AttitudeHold)(nil)
	_ FlightController = (*Climb)(nil)
	_ FlightController = (*Recorder)(nil)
	_ FlightController = (*AirData)(nil)
)
