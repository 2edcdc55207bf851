package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// TestUDPChannel_Loopback tests receiving and replying to the sender
func TestUDPChannel_Loopback(t *testing.T) {
	ch, err := ListenUDP("127.0.0.1:0", "", 500*time.Millisecond, newTestLogger())
	require.NoError(t, err)
	defer ch.Close()

	assert.Error(t, ch.Send([]byte("1;ts;0;")), "no sender seen yet")

	sim, err := net.DialUDP("udp", nil, ch.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer sim.Close()

	_, err = sim.Write([]byte("frame;sess;1;time;0.5;"))
	require.NoError(t, err)

	data, err := ch.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "frame;sess;1;time;0.5;", string(data))

	require.NoError(t, ch.Send([]byte("1;ts;0;2;axis;pitch;0.1;")))

	buf := make([]byte, 128)
	require.NoError(t, sim.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, err := sim.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "1;ts;0;2;axis;pitch;0.1;", string(buf[:n]))
}

// TestUDPChannel_FixedRemote tests sending to a configured command address
func TestUDPChannel_FixedRemote(t *testing.T) {
	sim, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer sim.Close()

	ch, err := ListenUDP("127.0.0.1:0", sim.LocalAddr().String(), 50*time.Millisecond, newTestLogger())
	require.NoError(t, err)
	defer ch.Close()

	require.NoError(t, ch.Send([]byte("1;ts;0;")))

	buf := make([]byte, 64)
	require.NoError(t, sim.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, err := sim.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "1;ts;0;", string(buf[:n]))
}

// TestUDPChannel_Timeout tests the poll timeout and cancellation
func TestUDPChannel_Timeout(t *testing.T) {
	ch, err := ListenUDP("127.0.0.1:0", "", 20*time.Millisecond, newTestLogger())
	require.NoError(t, err)
	defer ch.Close()

	_, err = ch.Receive(context.Background())
	assert.True(t, errors.Is(err, ErrTimeout))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ch.Receive(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}

// TestListenUDP_BadAddress tests address validation
func TestListenUDP_BadAddress(t *testing.T) {
	_, err := ListenUDP("not-an-address", "", time.Second, newTestLogger())
	assert.Error(t, err)

	_, err = ListenUDP("127.0.0.1:0", "nowhere:port", time.Second, newTestLogger())
	assert.Error(t, err)
}
