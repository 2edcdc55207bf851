// Package protocol implements the simulator's semicolon-separated UDP
// telemetry and command format.
package protocol

import (
	"math"

	"simpilot/internal/atmos"
)

// Message kinds, the first token of every incoming datagram
const (
	KindFrame = "frame"
	KindBulk  = "bulk"
)

// Opt is a value that is either set or absent. An absent command field
// means "no opinion", which is different from zero.
type Opt[T any] struct {
	v  T
	ok bool
}

// Some returns a set Opt holding v.
func Some[T any](v T) Opt[T] { return Opt[T]{v: v, ok: true} }

// Get returns the value and whether it is set.
func (o Opt[T]) Get() (T, bool) { return o.v, o.ok }

// IsSet reports whether the value is set.
func (o Opt[T]) IsSet() bool { return o.ok }

// Or returns the value, or def when absent.
func (o Opt[T]) Or(def T) T {
	if o.ok {
		return o.v
	}
	return def
}

// Vec3 is a simulator-frame vector; Y points up.
type Vec3 struct {
	X, Y, Z float64
}

// Sub returns v - o.
func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }

// Len returns the Euclidean length.
func (v Vec3) Len() float64 { return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z) }

// Surfaces are control surface positions.
type Surfaces struct {
	Aileron    float64
	Elevator   float64
	Rudder     float64
	Flaps      float64
	SpeedBrake float64
}

// DialReading is what the cockpit air-data dials show, together with the
// altimeter setting.
type DialReading struct {
	atmos.Dials
	QNH float64 // Pa
}

// Message is a decoded datagram, either *Frame or *Bulk.
type Message interface {
	Kind() string
}

// Frame is one simulation tick of telemetry.
type Frame struct {
	Session   int64
	Number    int64
	Underflow int64
	Overflow  int64

	// Time is simulation time in seconds. Dt is the time since the
	// previous accepted frame of the same session, zero on the first one.
	Time float64
	Dt   float64

	Pitch   float64 // rad
	Bank    float64 // rad
	Heading float64 // rad
	Rates   Vec3    // body rates, rad/s

	Position     Vec3 // m, Y is altitude
	Velocity     Vec3 // m/s
	Acceleration Vec3
	Wind         Vec3
	AoA          float64

	FuelInternal float64
	FuelExternal float64
	Surfaces     Surfaces
	Dial         Opt[DialReading]

	// Derived
	TAS     float64 // m/s
	VVPitch float64 // velocity-vector pitch, rad
	Mach    float64
	CAS     float64 // m/s

	// Airframe-specific; absent unless the airframe reports them.
	Joystick  Opt[[2]float64]
	Trim      Opt[float64]
	GearLever Opt[float64]
	FuelFlow  Opt[float64]
	DialCAS   Opt[float64]
}

func (*Frame) Kind() string { return KindFrame }

// Altitude returns the true altitude in metres.
func (f *Frame) Altitude() float64 { return f.Position.Y }

// VerticalSpeed returns the climb rate in metres per second.
func (f *Frame) VerticalSpeed() float64 { return f.Velocity.Y }

// derive fills in values computed from raw fields.
func (f *Frame) derive(sl atmos.SeaLevel) {
	air := f.Velocity.Sub(f.Wind)
	f.TAS = air.Len()
	f.VVPitch = math.Atan2(f.Velocity.Y, math.Hypot(f.Velocity.X, f.Velocity.Z))
	f.Mach = sl.Mach(f.TAS, f.Altitude())
	f.CAS = sl.CAS(f.TAS, f.Altitude())
}

// Bulk is infrequent session metadata.
type Bulk struct {
	Session   int64
	Aircraft  string
	Version   string
	Exporting bool
}

func (*Bulk) Kind() string { return KindBulk }
