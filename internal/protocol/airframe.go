package protocol

import (
	"simpilot/internal/calib"
)

// Airframe extends the generic telemetry with aircraft-specific keys and
// describes which commands the aircraft accepts.
type Airframe interface {
	Name() string
	// FrameField returns the decoder for an aircraft-specific key.
	FrameField(key string) (Field, bool)
	SupportsTrimAbs() bool
}

type genericAirframe struct{}

func (genericAirframe) Name() string                    { return "generic" }
func (genericAirframe) FrameField(string) (Field, bool) { return Field{}, false }
func (genericAirframe) SupportsTrimAbs() bool           { return true }

// Generic is used for aircraft without an extension.
var Generic Airframe = genericAirframe{}

// Yak52 raw airspeed dial reading to calibrated airspeed, m/s
var yak52DialCurve = calib.MustCurve(
	calib.LinearFromPoints(0, 0, 25, 23.6),
	calib.LinearFromPoints(25, 23.6, 55, 55.4),
	calib.Sinusoidal{From: 55, Offset: 55.4, Amplitude: 1.2, Frequency: 0.04, Phase: -2.2},
)

type yak52 struct{}

var yak52Fields = map[string]Field{
	"joy":  {2, func(f *Frame, v []float64) { f.Joystick = Some([2]float64{v[0], v[1]}) }},
	"trim": {1, func(f *Frame, v []float64) { f.Trim = Some(v[0]) }},
	"gear": {1, func(f *Frame, v []float64) { f.GearLever = Some(v[0]) }},
	"ffdrum": {4, func(f *Frame, v []float64) {
		f.FuelFlow = Some(ReadDrums(v))
	}},
	"iasdial": {1, func(f *Frame, v []float64) { f.DialCAS = Some(yak52DialCurve.Eval(v[0])) }},
}

func (yak52) Name() string { return "Yak-52" }

func (yak52) FrameField(key string) (Field, bool) {
	f, ok := yak52Fields[key]
	return f, ok
}

// Only the trim rate can be commanded.
func (yak52) SupportsTrimAbs() bool { return false }

var airframes = map[string]Airframe{
	Generic.Name(): Generic,
	"Yak-52":       yak52{},
}

// LookupAirframe returns the extension registered for aircraft, or Generic
// with ok false.
func LookupAirframe(aircraft string) (a Airframe, ok bool) {
	if a, ok = airframes[aircraft]; ok {
		return a, true
	}
	return Generic, false
}
