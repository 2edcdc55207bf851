// Package atmos models the atmosphere the simulated instruments assume and
// recovers the effective sea-level reference from their readings.
//
// All quantities are SI: kelvin, pascal, metres, metres per second.
package atmos

import "math"

const (
	g0          = 9.80665   // standard gravity, m/s^2
	molarMass   = 0.0289644 // dry air, kg/mol
	gasConstant = 8.3144598 // J/(mol K)
	lapseRate   = 0.0065    // troposphere, K/m
	gamma       = 1.4       // ratio of specific heats
	tropopause  = 11000.0   // m

	specificGas = gasConstant / molarMass
	// exponent of the troposphere pressure law
	pressureExponent = g0 * molarMass / (gasConstant * lapseRate)
)

// SeaLevel is the sea-level reference of an atmosphere.
type SeaLevel struct {
	Temperature float64 // K
	Pressure    float64 // Pa
}

// Standard is the ISA sea-level reference the instruments are built around.
var Standard = SeaLevel{Temperature: 288.15, Pressure: 101325}

// standard speed of sound at sea level
var a0 = math.Sqrt(gamma * specificGas * Standard.Temperature)

// Valid reports whether both values are positive and finite.
func (sl SeaLevel) Valid() bool {
	return sl.Temperature > 0 && sl.Pressure > 0 &&
		!math.IsInf(sl.Temperature, 0) && !math.IsInf(sl.Pressure, 0)
}

// At returns static temperature and pressure at true altitude h. Above the
// tropopause the atmosphere is isothermal. Values are NaN when the
// temperature would drop to absolute zero.
func (sl SeaLevel) At(h float64) (temperature, pressure float64) {
	if h <= tropopause {
		t := sl.Temperature - lapseRate*h
		if t <= 0 {
			return math.NaN(), math.NaN()
		}
		return t, sl.Pressure * math.Pow(t/sl.Temperature, pressureExponent)
	}
	t11, p11 := sl.At(tropopause)
	return t11, p11 * math.Exp(-g0*molarMass*(h-tropopause)/(gasConstant*t11))
}

// SpeedOfSound returns the speed of sound at altitude h.
func (sl SeaLevel) SpeedOfSound(h float64) float64 {
	t, _ := sl.At(h)
	return math.Sqrt(gamma * specificGas * t)
}

// Mach returns the Mach number for true airspeed tas at altitude h.
func (sl SeaLevel) Mach(tas, h float64) float64 {
	return tas / sl.SpeedOfSound(h)
}

// CAS returns the calibrated airspeed for true airspeed tas at altitude h.
func (sl SeaLevel) CAS(tas, h float64) float64 {
	t, p := sl.At(h)
	m := tas / math.Sqrt(gamma*specificGas*t)
	return casFromImpact(impactPressure(m, p))
}

func impactPressure(mach, p float64) float64 {
	m2 := mach * mach
	if mach < 1 {
		return p * (math.Pow(1+0.2*m2, 3.5) - 1)
	}
	// Rayleigh pitot formula behind the normal shock
	return p * (166.9215801*math.Pow(mach, 7)/math.Pow(7*m2-1, 2.5) - 1)
}

// The subsonic relation is used throughout; calibrated airspeeds above the
// sea-level speed of sound are not expected.
func casFromImpact(qc float64) float64 {
	return a0 * math.Sqrt(5*(math.Pow(qc/Standard.Pressure+1, 2.0/7)-1))
}

// IndicatedAltitude returns what a barometric altimeter set to qnh shows
// at static pressure p.
func IndicatedAltitude(p, qnh float64) float64 {
	return Standard.Temperature / lapseRate * (1 - math.Pow(p/qnh, 1/pressureExponent))
}

// Dials are the readings of the air-data instruments.
type Dials struct {
	CAS      float64 // m/s
	Mach     float64
	Altitude float64 // m, barometric
}

// Predict returns the dial readings for an aircraft at true airspeed tas and
// true altitude h under this reference, with the altimeter set to qnh.
func (sl SeaLevel) Predict(tas, h, qnh float64) Dials {
	t, p := sl.At(h)
	m := tas / math.Sqrt(gamma*specificGas*t)
	return Dials{
		CAS:      casFromImpact(impactPressure(m, p)),
		Mach:     m,
		Altitude: IndicatedAltitude(p, qnh),
	}
}
