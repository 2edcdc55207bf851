package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simpilot/internal/controller"
	"simpilot/internal/metrics"
	"simpilot/internal/protocol"
	"simpilot/internal/transport"
)

type fakeChannel struct {
	in chan []byte

	mu      sync.Mutex
	sent    [][]byte
	sendErr error
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{in: make(chan []byte, 16)}
}

func (c *fakeChannel) Receive(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case data := <-c.in:
		return data, nil
	case <-time.After(10 * time.Millisecond):
		return nil, transport.ErrTimeout
	}
}

func (c *fakeChannel) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, data)
	return nil
}

func (c *fakeChannel) Sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.sent))
	for i, d := range c.sent {
		out[i] = string(d)
	}
	return out
}

type fakeController struct {
	controller.Base
	command func(f *protocol.Frame) (*protocol.Command, error)

	resets, sessions, bulks, frames int
	signals                         []string
	keys                            map[string]bool
	dts                             []float64
}

func newFake(name string, enabled bool) *fakeController {
	c := &fakeController{Base: controller.Base{ControllerName: name}}
	c.SetEnabled(enabled)
	return c
}

func (c *fakeController) Reset()                                { c.resets++ }
func (c *fakeController) NewSession(*protocol.Bulk)             { c.sessions++ }
func (c *fakeController) ProcessBulkUpdate(*protocol.Bulk)      { c.bulks++ }
func (c *fakeController) HandleSignal(name string)              { c.signals = append(c.signals, name) }
func (c *fakeController) HandleKey(ev controller.KeyEvent) bool { return c.keys[ev.Key] }

func (c *fakeController) ProcessFrame(f *protocol.Frame) (*protocol.Command, error) {
	c.frames++
	c.dts = append(c.dts, f.Dt)
	if c.command == nil {
		return nil, nil
	}
	return c.command(f)
}

func newTestSession(t *testing.T) (*Session, *fakeChannel, *metrics.Metrics) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	ch := newFakeChannel()
	m := metrics.New()
	s := New(ch, protocol.NewCodec(logger), logger, Options{
		Metrics: m,
		Clock:   func() time.Time { return time.Unix(1700000000, 0) },
	})
	return s, ch, m
}

func scrape(t *testing.T, m *metrics.Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	return string(body)
}

func bulk(session int64, aircraft string) []byte {
	return []byte(fmt.Sprintf("bulk;sess;%d;aircraft;%s;ver;2.9;exp;true;", session, aircraft))
}

func frame(session int64, t float64) []byte {
	return []byte(fmt.Sprintf("frame;sess;%d;time;%g;pitch;0.05;vel;50;0;0;", session, t))
}

// TestSession_MergePriority tests that the earlier controller wins a field
// and the later one is named in the warning
func TestSession_MergePriority(t *testing.T) {
	s, ch, m := newTestSession(t)

	a := newFake("alpha", true)
	a.command = func(*protocol.Frame) (*protocol.Command, error) {
		return &protocol.Command{Pitch: protocol.Some(0.1)}, nil
	}
	b := newFake("bravo", true)
	b.command = func(*protocol.Frame) (*protocol.Command, error) {
		return &protocol.Command{Pitch: protocol.Some(0.2), Roll: protocol.Some(-0.3)}, nil
	}
	require.NoError(t, s.Register(a))
	require.NoError(t, s.Register(b))

	s.HandleDatagram(bulk(1, "P-51"))
	s.HandleDatagram(frame(1, 1.0))
	s.HandleDatagram(frame(1, 1.05))

	sent := ch.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "1;ts;1700000000.000;2;axis;pitch;0.1;2;axis;roll;-0.3;", sent[0])

	warnings := s.Warnings()
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "bravo")
	assert.Contains(t, warnings[0], "pitch")
	assert.Contains(t, scrape(t, m), `simpilot_merge_conflicts_total{controller="bravo"} 1`)

	snap := s.Snapshot()
	assert.Equal(t, StatusActive, snap.Status)
	require.NotNil(t, snap.Command)
	v, _ := snap.Command.Pitch.Get()
	assert.Equal(t, 0.1, v)
	assert.NoError(t, snap.SendErr)
}

// TestSession_FrameSequencing tests first-frame, duplicate and backwards
// time handling
func TestSession_FrameSequencing(t *testing.T) {
	s, _, _ := newTestSession(t)
	c := newFake("alpha", true)
	require.NoError(t, s.Register(c))

	s.HandleDatagram(bulk(1, "P-51"))
	assert.Equal(t, StatusAwaiting, s.Snapshot().Status)

	s.HandleDatagram(frame(1, 2.0))
	assert.Equal(t, 0, c.frames, "first frame is not dispatched")
	assert.Equal(t, StatusActive, s.Snapshot().Status)
	require.NotNil(t, s.Snapshot().Frame)
	assert.Equal(t, 0.0, s.Snapshot().Frame.Dt)

	s.HandleDatagram(frame(1, 2.0))
	assert.Equal(t, 0, c.frames, "duplicate time is discarded")
	assert.Empty(t, s.Warnings())

	s.HandleDatagram(frame(1, 2.1))
	require.Equal(t, 1, c.frames)
	assert.InDelta(t, 0.1, c.dts[0], 1e-9)

	s.HandleDatagram(frame(1, 1.5))
	assert.Equal(t, 1, c.frames, "time going back is not dispatched")
	require.Len(t, s.Warnings(), 1)
	assert.Contains(t, s.Warnings()[0], "time went back")

	s.HandleDatagram(frame(1, 1.6))
	require.Equal(t, 2, c.frames)
	assert.InDelta(t, 0.1, c.dts[1], 1e-9)
}

// TestSession_CutShortFrame tests that a frame cut short before its time
// is dropped rather than sequenced with a zero time
func TestSession_CutShortFrame(t *testing.T) {
	s, _, m := newTestSession(t)
	c := newFake("alpha", true)
	require.NoError(t, s.Register(c))

	s.HandleDatagram(bulk(1, "P-51"))
	s.HandleDatagram(frame(1, 100.0))
	s.HandleDatagram(frame(1, 100.05))
	s.HandleDatagram([]byte("frame;sess;1;newkey;7;time;100.10;pitch;0.05;vel;50;0;0;"))
	assert.InDelta(t, 100.05, s.Snapshot().Frame.Time, 1e-9)

	s.HandleDatagram(frame(1, 100.15))
	s.HandleDatagram(frame(1, 100.20))

	require.Len(t, c.dts, 3)
	assert.InDelta(t, 0.05, c.dts[0], 1e-9)
	assert.InDelta(t, 0.10, c.dts[1], 1e-9)
	assert.InDelta(t, 0.05, c.dts[2], 1e-9)

	require.Len(t, s.Warnings(), 1)
	assert.Contains(t, s.Warnings()[0], "newkey")
	assert.NotContains(t, s.Warnings()[0], "time went back")
	assert.Contains(t, scrape(t, m), "simpilot_parse_warnings_total 1")
}

// TestSession_Resync tests frames from a session other than the current one
func TestSession_Resync(t *testing.T) {
	s, _, _ := newTestSession(t)
	c := newFake("alpha", true)
	require.NoError(t, s.Register(c))

	s.HandleDatagram(frame(1, 1.0))
	assert.Equal(t, StatusResync, s.Snapshot().Status, "no session yet")

	s.HandleDatagram(bulk(1, "P-51"))
	s.HandleDatagram(frame(2, 1.0))
	assert.Equal(t, StatusResync, s.Snapshot().Status)
	assert.Equal(t, 0, c.frames)

	s.HandleDatagram(frame(1, 1.0))
	s.HandleDatagram(frame(1, 1.1))
	assert.Equal(t, StatusActive, s.Snapshot().Status)
	assert.Equal(t, 1, c.frames)
}

// TestSession_SessionChange tests resets on a new session and bulk updates
// within one
func TestSession_SessionChange(t *testing.T) {
	s, _, m := newTestSession(t)
	on := newFake("on", true)
	off := newFake("off", false)
	require.NoError(t, s.Register(on))
	require.NoError(t, s.Register(off))

	s.HandleDatagram(bulk(1, "P-51"))
	assert.Equal(t, 1, on.resets)
	assert.Equal(t, 1, on.sessions)
	assert.Equal(t, 0, on.bulks)
	assert.Equal(t, 0, off.resets)
	assert.Equal(t, 0, off.sessions)

	s.HandleDatagram(bulk(1, "P-51"))
	assert.Equal(t, 1, on.resets)
	assert.Equal(t, 1, on.bulks)

	s.HandleDatagram(frame(1, 1.0))
	s.HandleDatagram(frame(1, 1.1))
	require.Equal(t, 1, on.frames)

	s.HandleDatagram(bulk(2, "P-51"))
	assert.Equal(t, 2, on.resets)
	assert.Equal(t, 2, on.sessions)
	assert.Equal(t, StatusAwaiting, s.Snapshot().Status)
	assert.Contains(t, scrape(t, m), "simpilot_sessions_total 2")

	// history is dropped: the first frame of the new session is not dispatched
	s.HandleDatagram(frame(2, 5.0))
	assert.Equal(t, 1, on.frames)
	assert.Equal(t, 0, off.frames)
}

// TestSession_EnableResets tests that a re-enabled controller is reset
// before its next frame
func TestSession_EnableResets(t *testing.T) {
	s, _, _ := newTestSession(t)
	c := newFake("alpha", false)
	require.NoError(t, s.Register(c))

	s.HandleDatagram(bulk(1, "P-51"))
	s.HandleDatagram(frame(1, 1.0))
	s.HandleDatagram(frame(1, 1.1))
	assert.Equal(t, 0, c.frames)

	require.NoError(t, s.SetEnabled("alpha", true))
	assert.Equal(t, 0, c.resets, "reset happens on the dispatch goroutine")

	s.HandleDatagram(frame(1, 1.2))
	assert.Equal(t, 1, c.resets)
	assert.Equal(t, 1, c.frames)

	s.HandleDatagram(frame(1, 1.3))
	assert.Equal(t, 1, c.resets)
	assert.Equal(t, 2, c.frames)

	require.NoError(t, s.SetEnabled("alpha", false))
	s.HandleDatagram(frame(1, 1.4))
	assert.Equal(t, 2, c.frames)

	assert.Error(t, s.SetEnabled("missing", true))
}

// TestSession_ControllerFailures tests that errors and panics are isolated
func TestSession_ControllerFailures(t *testing.T) {
	s, ch, m := newTestSession(t)

	panicky := newFake("panicky", true)
	panicky.command = func(*protocol.Frame) (*protocol.Command, error) {
		panic("boom")
	}
	failing := newFake("failing", true)
	failing.command = func(*protocol.Frame) (*protocol.Command, error) {
		return &protocol.Command{Pitch: protocol.Some(0.9)}, errors.New("sensor lost")
	}
	good := newFake("good", true)
	good.command = func(*protocol.Frame) (*protocol.Command, error) {
		return &protocol.Command{Pitch: protocol.Some(0.4)}, nil
	}
	for _, c := range []controller.FlightController{panicky, failing, good} {
		require.NoError(t, s.Register(c))
	}

	s.HandleDatagram(bulk(1, "P-51"))
	s.HandleDatagram(frame(1, 1.0))
	s.HandleDatagram(frame(1, 1.1))

	sent := ch.Sent()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0], "2;axis;pitch;0.4;")

	warnings := strings.Join(s.Warnings(), "\n")
	assert.Contains(t, warnings, "panicky")
	assert.Contains(t, warnings, "boom")
	assert.Contains(t, warnings, "sensor lost")
	assert.Contains(t, scrape(t, m), `simpilot_controller_errors_total{controller="panicky"} 1`)
	assert.Contains(t, scrape(t, m), `simpilot_controller_errors_total{controller="failing"} 1`)
}

// TestSession_UnsupportedCommand tests that a command the airframe cannot
// perform is reported and not sent
func TestSession_UnsupportedCommand(t *testing.T) {
	s, ch, _ := newTestSession(t)
	c := newFake("trimmer", true)
	c.command = func(*protocol.Frame) (*protocol.Command, error) {
		cmd := &protocol.Command{}
		cmd.TrimAbs[protocol.AxisPitch] = protocol.Some(0.1)
		return cmd, nil
	}
	require.NoError(t, s.Register(c))

	s.HandleDatagram(bulk(1, "Yak-52"))
	s.HandleDatagram(frame(1, 1.0))
	s.HandleDatagram(frame(1, 1.1))

	assert.Empty(t, ch.Sent())
	snap := s.Snapshot()
	assert.True(t, errors.Is(snap.SendErr, protocol.ErrUnsupported))
	assert.Equal(t, StatusActive, snap.Status)
}

// TestSession_SendFailure tests that a channel error is recorded in the
// snapshot
func TestSession_SendFailure(t *testing.T) {
	s, ch, _ := newTestSession(t)
	ch.sendErr = errors.New("network unreachable")
	c := newFake("alpha", true)
	c.command = func(*protocol.Frame) (*protocol.Command, error) {
		return &protocol.Command{Throttle: protocol.Some(1.0)}, nil
	}
	require.NoError(t, s.Register(c))

	s.HandleDatagram(bulk(1, "P-51"))
	s.HandleDatagram(frame(1, 1.0))
	s.HandleDatagram(frame(1, 1.1))

	assert.EqualError(t, s.Snapshot().SendErr, "network unreachable")
}

// TestSession_ParseWarning tests that undecodable datagrams leave the state
// untouched
func TestSession_ParseWarning(t *testing.T) {
	s, _, m := newTestSession(t)
	c := newFake("alpha", true)
	require.NoError(t, s.Register(c))

	s.HandleDatagram(bulk(1, "P-51"))
	s.HandleDatagram(frame(1, 1.0))
	before := s.Snapshot()

	s.HandleDatagram([]byte("frame;sess;1;time;zzz;"))
	s.HandleDatagram([]byte("garbage"))

	assert.Equal(t, before, s.Snapshot())
	assert.Len(t, s.Warnings(), 2)
	assert.Contains(t, strings.Join(s.Warnings(), "\n"), "zzz")
	assert.Contains(t, scrape(t, m), "simpilot_parse_warnings_total 2")

	s.HandleDatagram(frame(1, 1.1))
	assert.Equal(t, 1, c.frames)
}

// TestSession_WarningCap tests that the warning set never exceeds its limit
func TestSession_WarningCap(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	s := New(newFakeChannel(), protocol.NewCodec(logger), logger, Options{WarningLimit: 3})

	for i := 0; i < 10; i++ {
		s.HandleDatagram([]byte(fmt.Sprintf("nonsense-%d", i)))
		assert.LessOrEqual(t, len(s.Warnings()), 3)
	}
	assert.NotEmpty(t, s.Warnings())
}

// TestSession_KeysAndSignals tests key and signal routing
func TestSession_KeysAndSignals(t *testing.T) {
	s, _, _ := newTestSession(t)
	a := newFake("alpha", true)
	a.keys = map[string]bool{"up": true}
	b := newFake("bravo", true)
	b.keys = map[string]bool{"up": true, "down": true}
	off := newFake("off", false)
	off.keys = map[string]bool{"left": true}
	for _, c := range []controller.FlightController{a, b, off} {
		require.NoError(t, s.Register(c))
	}

	assert.True(t, s.HandleKey(controller.KeyEvent{Key: "up"}))
	assert.True(t, s.HandleKey(controller.KeyEvent{Key: "down"}))
	assert.False(t, s.HandleKey(controller.KeyEvent{Key: "left"}), "disabled controllers get no keys")

	s.HandleSignal("level")
	assert.Equal(t, []string{"level"}, a.signals)
	assert.Equal(t, []string{"level"}, b.signals)
	assert.Empty(t, off.signals)
}

// TestSession_Register tests registration order and duplicate names
func TestSession_Register(t *testing.T) {
	s, _, _ := newTestSession(t)
	require.NoError(t, s.Register(newFake("alpha", true)))
	require.NoError(t, s.Register(newFake("bravo", false)))
	assert.Error(t, s.Register(newFake("alpha", false)))

	names := []string{}
	for _, c := range s.Controllers() {
		names = append(names, c.Name())
	}
	assert.Equal(t, []string{"alpha", "bravo"}, names)

	c, ok := s.Controller("bravo")
	require.True(t, ok)
	assert.False(t, c.Enabled())
	_, ok = s.Controller("charlie")
	assert.False(t, ok)
}

// TestSession_ResetControllers tests that a manual reset drops history
func TestSession_ResetControllers(t *testing.T) {
	s, _, _ := newTestSession(t)
	c := newFake("alpha", true)
	require.NoError(t, s.Register(c))

	s.HandleDatagram(bulk(1, "P-51"))
	s.HandleDatagram(frame(1, 1.0))
	s.HandleDatagram(frame(1, 1.1))
	require.Equal(t, 1, c.frames)

	s.ResetControllers()
	assert.Equal(t, 2, c.resets)
	assert.Equal(t, StatusAwaiting, s.Snapshot().Status)

	s.HandleDatagram(frame(1, 1.2))
	assert.Equal(t, 1, c.frames)
}

// TestSession_StartStop tests the dispatch goroutine lifecycle
func TestSession_StartStop(t *testing.T) {
	s, ch, _ := newTestSession(t)
	c := newFake("alpha", true)
	c.command = func(*protocol.Frame) (*protocol.Command, error) {
		return &protocol.Command{Roll: protocol.Some(0.2)}, nil
	}
	require.NoError(t, s.Register(c))

	require.NoError(t, s.Start())
	assert.True(t, errors.Is(s.Start(), ErrRunning))

	ch.in <- bulk(1, "P-51")
	ch.in <- frame(1, 1.0)
	ch.in <- frame(1, 1.1)

	require.Eventually(t, func() bool { return len(ch.Sent()) == 1 }, time.Second, 5*time.Millisecond)

	s.Stop()
	assert.Equal(t, StatusStopped, s.Snapshot().Status)
	s.Stop()

	ch.in <- frame(1, 1.2)
	time.Sleep(30 * time.Millisecond)
	assert.Len(t, ch.Sent(), 1, "nothing is processed after Stop")

	require.NoError(t, s.Start())
	s.Stop()
}

// TestSession_Run tests the caller-managed loop
func TestSession_Run(t *testing.T) {
	s, ch, _ := newTestSession(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	ch.in <- bulk(7, "P-51")
	require.Eventually(t, func() bool {
		return s.Snapshot().Status == StatusAwaiting
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, StatusStopped, s.Snapshot().Status)
}

// TestSession_RunStop tests that Stop cancels and joins a caller-managed
// loop and that the loop can then be started either way again
func TestSession_RunStop(t *testing.T) {
	s, ch, _ := newTestSession(t)
	c := newFake("alpha", true)
	c.command = func(*protocol.Frame) (*protocol.Command, error) {
		return &protocol.Command{Roll: protocol.Some(0.2)}, nil
	}
	require.NoError(t, s.Register(c))

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	ch.in <- bulk(1, "P-51")
	ch.in <- frame(1, 1.0)
	ch.in <- frame(1, 1.1)
	require.Eventually(t, func() bool { return len(ch.Sent()) == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, errors.Is(s.Start(), ErrRunning))

	assert.NotPanics(t, s.Stop)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
	assert.Equal(t, StatusStopped, s.Snapshot().Status)

	ch.in <- frame(1, 1.2)
	time.Sleep(30 * time.Millisecond)
	assert.Len(t, ch.Sent(), 1, "nothing is processed after Stop")

	go func() { done <- s.Run(context.Background()) }()
	require.Eventually(t, func() bool { return len(ch.Sent()) == 2 }, time.Second, 5*time.Millisecond)
	s.Stop()
	assert.NoError(t, <-done)
	assert.Equal(t, StatusStopped, s.Snapshot().Status)

	require.NoError(t, s.Start())
	s.Stop()
}
