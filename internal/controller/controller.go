// Package controller defines the capability set shared by every flight
// control module and provides the built-in modules.
package controller

import (
	"sync/atomic"

	"simpilot/internal/control"
	"simpilot/internal/protocol"
)

// KeyEvent is a key press forwarded to interactive controllers.
type KeyEvent struct {
	Key string
}

// FlightController is one control module driven by the dispatch loop.
//
// ProcessFrame runs synchronously on the dispatch goroutine, once per
// accepted frame, and only while the controller is enabled. A slow
// implementation delays processing of the next datagram. All hooks are
// called from the dispatch goroutine or while dispatch is held, so
// implementations need no locking of their own except for state they
// publish to other readers.
type FlightController interface {
	Name() string
	Enabled() bool
	// SetEnabled sets the flag and reports whether it changed. It may be
	// called from any goroutine.
	SetEnabled(on bool) bool
	// Reset discards every bit of internal state: integrals, filter
	// memory, stage progress.
	Reset()
	NewSession(bulk *protocol.Bulk)
	// ProcessFrame returns the controller's partial command, or nil for
	// no opinion.
	ProcessFrame(f *protocol.Frame) (*protocol.Command, error)
	ProcessBulkUpdate(bulk *protocol.Bulk)
	HandleSignal(name string)
	// HandleKey reports whether the key was consumed.
	HandleKey(ev KeyEvent) bool
}

// Base implements the name, the enabled flag and no-op hooks. Embed it
// and implement Reset and ProcessFrame.
type Base struct {
	ControllerName string
	enabled        atomic.Bool
}

func (b *Base) Name() string  { return b.ControllerName }
func (b *Base) Enabled() bool { return b.enabled.Load() }

func (b *Base) SetEnabled(on bool) bool {
	return b.enabled.CompareAndSwap(!on, on)
}

func (b *Base) NewSession(*protocol.Bulk)        {}
func (b *Base) ProcessBulkUpdate(*protocol.Bulk) {}
func (b *Base) HandleSignal(string)              {}
func (b *Base) HandleKey(KeyEvent) bool          { return false }

// PIDGains configures one PID loop. Limit bounds the output symmetrically;
// zero leaves it unbounded.
type PIDGains struct {
	P     float64 `yaml:"p"`
	I     float64 `yaml:"i"`
	D     float64 `yaml:"d"`
	Limit float64 `yaml:"limit"`
}

func (g PIDGains) build() *control.PID {
	pid := control.NewPID(g.P, g.I, g.D)
	if g.Limit > 0 {
		pid.SetOutputLimits(-g.Limit, g.Limit)
		pid.SetProportionalLimits(-g.Limit, g.Limit)
	}
	pid.Smoothing = 0.5
	return pid
}
