// Package session runs the receive, decode, dispatch and transmit cycle
// between the simulator and the registered flight controllers.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"simpilot/internal/controller"
	"simpilot/internal/metrics"
	"simpilot/internal/protocol"
	"simpilot/internal/transport"
)

// ErrRunning is returned by Start when the loop is already running.
var ErrRunning = errors.New("dispatch loop already running")

// Status values
const (
	StatusIdle     = "idle"
	StatusAwaiting = "session started, awaiting data"
	StatusResync   = "resynchronizing"
	StatusActive   = "active"
	StatusStopped  = "stopped"
)

// errorBackoff is how long the loop waits after a failed receive.
const errorBackoff = 100 * time.Millisecond

// Channel is the datagram channel to the simulator. Receive returns
// transport.ErrTimeout when nothing arrived within its poll interval.
type Channel interface {
	Receive(ctx context.Context) ([]byte, error)
	Send(data []byte) error
}

// Snapshot is the state published after each processed datagram. It is
// never modified once published.
type Snapshot struct {
	Status  string
	Frame   *protocol.Frame
	Command *protocol.Command
	Bulk    *protocol.Bulk
	// SendErr is the error of the latest command transmission, if any.
	SendErr error
	Updated time.Time
}

// Options configures a Session.
type Options struct {
	WarningLimit int
	Metrics      *metrics.Metrics
	// Clock timestamps outgoing commands; defaults to time.Now.
	Clock func() time.Time
}

type entry struct {
	ctrl       controller.FlightController
	needsReset atomic.Bool
}

// Session owns the channel to the simulator and drives the controllers.
//
// Controllers run in registration order on a single dispatch goroutine.
// The first controller to set a command field wins it; later values for
// the same field are dropped with a warning naming the later controller.
type Session struct {
	logger  *logrus.Logger
	channel Channel
	codec   *protocol.Codec
	metrics *metrics.Metrics
	now     func() time.Time

	regMu    sync.Mutex
	registry atomic.Pointer[[]*entry]

	// dispatchMu serializes datagram handling with key and signal
	// injection; the fields below it are only touched while holding it.
	dispatchMu sync.Mutex
	session    int64
	hasSession bool
	aircraft   string
	prev       *protocol.Frame
	bulk       *protocol.Bulk

	warnings *WarningSet
	snapshot atomic.Pointer[Snapshot]

	runMu      sync.Mutex
	running    bool
	generation int
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// New creates a new session. The loop does not run until Start.
func New(channel Channel, codec *protocol.Codec, logger *logrus.Logger, opts Options) *Session {
	s := &Session{
		logger:   logger,
		channel:  channel,
		codec:    codec,
		metrics:  opts.Metrics,
		now:      opts.Clock,
		warnings: NewWarningSet(opts.WarningLimit),
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.registry.Store(&[]*entry{})
	s.snapshot.Store(&Snapshot{Status: StatusIdle, Updated: s.now()})
	return s
}

func (s *Session) entries() []*entry {
	return *s.registry.Load()
}

// Register appends c to the controller list. Registration order is merge
// priority. Names must be unique.
func (s *Session) Register(c controller.FlightController) error {
	s.regMu.Lock()
	defer s.regMu.Unlock()

	old := s.entries()
	for _, e := range old {
		if e.ctrl.Name() == c.Name() {
			return fmt.Errorf("controller %q already registered", c.Name())
		}
	}
	next := make([]*entry, len(old), len(old)+1)
	copy(next, old)
	next = append(next, &entry{ctrl: c})
	s.registry.Store(&next)

	s.logger.WithFields(logrus.Fields{
		"controller": c.Name(),
		"enabled":    c.Enabled(),
		"priority":   len(next),
	}).Info("Controller registered")
	s.updateEnabledGauge()
	return nil
}

func (s *Session) find(name string) (*entry, bool) {
	for _, e := range s.entries() {
		if e.ctrl.Name() == name {
			return e, true
		}
	}
	return nil, false
}

// Controller returns the registered controller called name.
func (s *Session) Controller(name string) (controller.FlightController, bool) {
	e, ok := s.find(name)
	if !ok {
		return nil, false
	}
	return e.ctrl, true
}

// Controllers returns the controllers in registration order.
func (s *Session) Controllers() []controller.FlightController {
	entries := s.entries()
	out := make([]controller.FlightController, len(entries))
	for i, e := range entries {
		out[i] = e.ctrl
	}
	return out
}

// SetEnabled enables or disables a controller. It may be called from any
// goroutine and takes effect before the controller's next invocation. A
// controller that becomes enabled is reset by the dispatch goroutine
// before it is invoked again.
func (s *Session) SetEnabled(name string, on bool) error {
	e, ok := s.find(name)
	if !ok {
		return fmt.Errorf("no controller %q", name)
	}
	if on && !e.ctrl.Enabled() {
		e.needsReset.Store(true)
	}
	if e.ctrl.SetEnabled(on) {
		s.logger.WithFields(logrus.Fields{
			"controller": name,
			"enabled":    on,
		}).Info("Controller toggled")
	}
	s.updateEnabledGauge()
	return nil
}

func (s *Session) updateEnabledGauge() {
	n := 0
	for _, e := range s.entries() {
		if e.ctrl.Enabled() {
			n++
		}
	}
	s.metrics.EnabledControllers(n)
}

// Snapshot returns the latest published state.
func (s *Session) Snapshot() Snapshot {
	return *s.snapshot.Load()
}

// Warnings returns the distinct warnings recorded so far.
func (s *Session) Warnings() []string {
	return s.warnings.List()
}

func (s *Session) warn(msg string) {
	if s.warnings.Add(msg) {
		s.logger.WithField("warning", msg).Warn("Dispatch warning")
	}
}

// publish stores a new snapshot. Frame and command are copied so readers
// never share memory with the dispatch goroutine.
func (s *Session) publish(status string, f *protocol.Frame, cmd *protocol.Command, sendErr error) {
	snap := &Snapshot{
		Status:  status,
		Bulk:    s.bulk,
		SendErr: sendErr,
		Updated: s.now(),
	}
	if f != nil {
		fc := *f
		snap.Frame = &fc
	}
	if cmd != nil {
		cc := *cmd
		snap.Command = &cc
	}
	s.snapshot.Store(snap)
}

// publishStatus keeps the latest frame and command and changes the status.
func (s *Session) publishStatus(status string) {
	old := s.snapshot.Load()
	snap := *old
	snap.Status = status
	snap.Bulk = s.bulk
	snap.Updated = s.now()
	s.snapshot.Store(&snap)
}

// Start runs the dispatch loop on its own goroutine.
func (s *Session) Start() error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.running {
		return ErrRunning
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true
	s.generation++

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()

	s.logger.Info("Dispatch loop started")
	return nil
}

// Stop ends the dispatch loop and waits for it. Nothing is processed once
// Stop returns. Stopping a stopped loop does nothing.
func (s *Session) Stop() {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if !s.running {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.running = false

	s.dispatchMu.Lock()
	s.publishStatus(StatusStopped)
	s.dispatchMu.Unlock()
	s.logger.Info("Dispatch loop stopped")
}

// Run runs the dispatch loop on the calling goroutine until ctx is done
// or Stop is called.
func (s *Session) Run(ctx context.Context) error {
	s.runMu.Lock()
	if s.running {
		s.runMu.Unlock()
		return ErrRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.cancel = cancel
	s.running = true
	s.generation++
	gen := s.generation
	s.wg.Add(1)
	s.runMu.Unlock()

	s.run(ctx)
	s.wg.Done()

	s.runMu.Lock()
	defer s.runMu.Unlock()
	// Stop already finished the shutdown, and the loop may since have been
	// started again
	if !s.running || s.generation != gen {
		return nil
	}
	s.running = false

	s.dispatchMu.Lock()
	s.publishStatus(StatusStopped)
	s.dispatchMu.Unlock()
	return nil
}

func (s *Session) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		data, err := s.channel.Receive(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if errors.Is(err, transport.ErrTimeout) {
				continue
			}
			s.logger.WithError(err).Warn("Receive failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(errorBackoff):
			}
			continue
		}

		s.HandleDatagram(data)
	}
}

// HandleDatagram processes one datagram synchronously.
func (s *Session) HandleDatagram(data []byte) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	msg, err := s.codec.Decode(data)
	if err != nil {
		s.metrics.ParseWarning()
		s.warn(fmt.Sprintf("parse: %v", err))
		if msg == nil {
			return
		}
	}
	s.metrics.Datagram(msg.Kind())

	switch m := msg.(type) {
	case *protocol.Bulk:
		s.handleBulk(m)
	case *protocol.Frame:
		s.handleFrame(m)
	}
}

func (s *Session) handleBulk(b *protocol.Bulk) {
	s.bulk = b
	if b.Aircraft != s.aircraft {
		s.codec.SetAirframe(b.Aircraft)
		s.aircraft = b.Aircraft
	}

	if s.hasSession && b.Session == s.session {
		for _, e := range s.entries() {
			if !e.ctrl.Enabled() {
				continue
			}
			s.hook(e.ctrl, "bulk update", func() error {
				e.ctrl.ProcessBulkUpdate(b)
				return nil
			})
		}
		s.publishStatus(s.snapshot.Load().Status)
		return
	}

	s.logger.WithFields(logrus.Fields{
		"session":  b.Session,
		"previous": s.session,
		"aircraft": b.Aircraft,
		"version":  b.Version,
	}).Info("New simulator session")

	s.session, s.hasSession = b.Session, true
	s.prev = nil
	s.metrics.SessionStarted()

	for _, e := range s.entries() {
		if !e.ctrl.Enabled() {
			continue
		}
		e.needsReset.Store(false)
		s.hook(e.ctrl, "reset", func() error {
			e.ctrl.Reset()
			return nil
		})
		s.hook(e.ctrl, "new session", func() error {
			e.ctrl.NewSession(b)
			return nil
		})
	}
	s.publish(StatusAwaiting, nil, nil, nil)
}

func (s *Session) handleFrame(f *protocol.Frame) {
	if !s.hasSession || f.Session != s.session {
		s.logger.WithFields(logrus.Fields{
			"frame_session": f.Session,
			"session":       s.session,
		}).Debug("Frame from another session")
		s.publishStatus(StatusResync)
		return
	}

	if s.prev != nil {
		switch {
		case f.Time == s.prev.Time:
			return
		case f.Time < s.prev.Time:
			s.warn(fmt.Sprintf("time went back from %v to %v in session %d", s.prev.Time, f.Time, s.session))
			s.prev = nil
		}
	}

	if s.prev == nil {
		// derivatives are undefined on the first frame
		f.Dt = 0
		s.prev = f
		s.publish(StatusActive, f, nil, nil)
		return
	}

	f.Dt = f.Time - s.prev.Time
	s.prev = f
	s.metrics.TickDuration(f.Dt)

	cmd := s.dispatch(f)

	var sendErr error
	if !cmd.Empty() {
		sendErr = s.send(cmd)
	}
	s.publish(StatusActive, f, cmd, sendErr)
}

// dispatch invokes every enabled controller in order and merges their
// commands.
func (s *Session) dispatch(f *protocol.Frame) *protocol.Command {
	merged := &protocol.Command{}
	for _, e := range s.entries() {
		c := e.ctrl
		if !c.Enabled() {
			continue
		}
		if e.needsReset.CompareAndSwap(true, false) {
			s.hook(c, "reset", func() error {
				c.Reset()
				return nil
			})
		}

		var cmd *protocol.Command
		ok := s.hook(c, "frame", func() (err error) {
			cmd, err = c.ProcessFrame(f)
			return err
		})
		if !ok {
			continue
		}

		for _, field := range merged.Merge(cmd) {
			s.metrics.Conflict(c.Name())
			s.warn(fmt.Sprintf("controller %s: %s already set by an earlier controller, value dropped", c.Name(), field))
		}
	}
	return merged
}

// hook calls fn for controller c, turning an error or panic into a
// warning so one misbehaving controller cannot stop dispatch.
func (s *Session) hook(c controller.FlightController, what string, fn func() error) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.ControllerError(c.Name())
			s.logger.WithFields(logrus.Fields{
				"controller": c.Name(),
				"hook":       what,
				"panic":      r,
			}).Error("Controller panicked")
			s.warn(fmt.Sprintf("controller %s: %s panicked: %v", c.Name(), what, r))
			ok = false
		}
	}()

	if err := fn(); err != nil {
		s.metrics.ControllerError(c.Name())
		s.logger.WithError(err).WithFields(logrus.Fields{
			"controller": c.Name(),
			"hook":       what,
		}).Error("Controller failed")
		s.warn(fmt.Sprintf("controller %s: %s: %v", c.Name(), what, err))
		return false
	}
	return true
}

func (s *Session) send(cmd *protocol.Command) error {
	data, err := s.codec.Encode(cmd, s.now())
	if err != nil {
		s.metrics.SendError()
		s.logger.WithError(err).WithField("command", cmd.String()).Error("Command not sent")
		s.warn(fmt.Sprintf("command: %v", err))
		return err
	}
	if err := s.channel.Send(data); err != nil {
		s.metrics.SendError()
		s.logger.WithError(err).Warn("Failed to send command")
		return err
	}
	s.metrics.CommandSent()
	s.logger.WithField("command", cmd.String()).Debug("Command sent")
	return nil
}

// HandleKey offers ev to the enabled controllers in order until one
// consumes it.
func (s *Session) HandleKey(ev controller.KeyEvent) bool {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	for _, e := range s.entries() {
		if !e.ctrl.Enabled() {
			continue
		}
		handled := false
		s.hook(e.ctrl, "key", func() error {
			handled = e.ctrl.HandleKey(ev)
			return nil
		})
		if handled {
			return true
		}
	}
	return false
}

// HandleSignal delivers a named signal to every enabled controller.
func (s *Session) HandleSignal(name string) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	for _, e := range s.entries() {
		if !e.ctrl.Enabled() {
			continue
		}
		s.hook(e.ctrl, "signal", func() error {
			e.ctrl.HandleSignal(name)
			return nil
		})
	}
}

// ResetControllers forgets the frame history and resets every enabled
// controller, as if the session had just started.
func (s *Session) ResetControllers() {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.prev = nil
	for _, e := range s.entries() {
		if !e.ctrl.Enabled() {
			continue
		}
		e.needsReset.Store(false)
		s.hook(e.ctrl, "reset", func() error {
			e.ctrl.Reset()
			return nil
		})
	}
	if s.hasSession {
		s.publish(StatusAwaiting, nil, nil, nil)
	}
}
