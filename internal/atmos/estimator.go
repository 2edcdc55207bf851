package atmos

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"simpilot/internal/calib"
)

// ErrInfeasible is returned when no starting point gives a finite objective.
var ErrInfeasible = errors.New("no feasible sea-level reference")

// Objective weights. A unit error in either unknown shows up with a
// comparable magnitude in every channel.
const (
	weightCAS      = 1.0
	weightMach     = 440.0
	weightAltitude = 0.025
)

// Search parameters.
const (
	toleranceTemperature = 0.01 // K
	tolerancePressure    = 2.0  // Pa
	stepTemperature      = 1.0
	stepPressure         = 100.0
	maxRestarts          = 32
	maxCycles            = 10000
)

// bounds for random restarts
var (
	restartTemperature = [2]float64{213.15, 333.15}
	restartPressure    = [2]float64{85000, 110000}
)

// Observation pairs ground truth with time-aligned dial readings.
type Observation struct {
	TAS      float64 // true airspeed
	Altitude float64 // true altitude
	QNH      float64 // altimeter setting
	Dials    Dials
}

// Objective returns the weighted absolute error between the dials predicted
// under sl and the observed ones. Zero is a perfect fit; infeasible
// references give +Inf.
func Objective(sl SeaLevel, o Observation) float64 {
	if !sl.Valid() {
		return math.Inf(1)
	}
	p := sl.Predict(o.TAS, o.Altitude, o.QNH)
	v := weightCAS*math.Abs(p.CAS-o.Dials.CAS) +
		weightMach*math.Abs(p.Mach-o.Dials.Mach) +
		weightAltitude*math.Abs(p.Altitude-o.Dials.Altitude)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return math.Inf(1)
	}
	return v
}

// Fit searches for the sea-level reference that best explains o, starting
// from start. It alternates between the four axis directions (+T, -T, +P,
// -P), doubling the step while the objective improves and halving and
// reversing on overshoot, until a full cycle brings no improvement.
func Fit(start SeaLevel, o Observation, rng *rand.Rand) (SeaLevel, float64, error) {
	x := [2]float64{start.Temperature, start.Pressure}
	f := objectiveAt(x, o)

	for i := 0; math.IsInf(f, 1) && i < maxRestarts; i++ {
		x = [2]float64{
			restartTemperature[0] + rng.Float64()*(restartTemperature[1]-restartTemperature[0]),
			restartPressure[0] + rng.Float64()*(restartPressure[1]-restartPressure[0]),
		}
		f = objectiveAt(x, o)
	}
	if math.IsInf(f, 1) {
		return start, f, ErrInfeasible
	}

	initial := [2]float64{stepTemperature, stepPressure}
	tolerance := [2]float64{toleranceTemperature, tolerancePressure}

	for cycle := 0; cycle < maxCycles; cycle++ {
		improved := false
		for _, dir := range [4]struct {
			axis int
			sign float64
		}{{0, 1}, {0, -1}, {1, 1}, {1, -1}} {
			step := dir.sign * initial[dir.axis]
			moved := false
			for math.Abs(step) >= tolerance[dir.axis] {
				y := x
				y[dir.axis] += step
				if fy := objectiveAt(y, o); fy < f {
					x, f = y, fy
					improved, moved = true, true
					step *= 2
				} else if moved {
					// overshot: come back at half the step
					step, moved = -step/2, false
				} else {
					step /= 2
				}
			}
		}
		if !improved {
			break
		}
	}
	return SeaLevel{Temperature: x[0], Pressure: x[1]}, f, nil
}

func objectiveAt(x [2]float64, o Observation) float64 {
	return Objective(SeaLevel{Temperature: x[0], Pressure: x[1]}, o)
}

// Lags are the delays, in seconds, between the true state and what each
// dial shows.
type Lags struct {
	CAS      float64 `yaml:"cas"`
	Mach     float64 `yaml:"mach"`
	Altitude float64 `yaml:"altitude"`
}

func (l Lags) max() float64 {
	return math.Max(l.CAS, math.Max(l.Mach, l.Altitude))
}

// EstimatorConfig configures an Estimator.
type EstimatorConfig struct {
	Lags Lags `yaml:"lags"`
	// Threshold is the quality at or below which new fits are blended into
	// the running estimate instead of replacing it.
	Threshold float64 `yaml:"threshold"`
	// MaxBlend is the blend weight given to a perfect fit.
	MaxBlend float64 `yaml:"max_blend"`
	Seed     int64   `yaml:"seed"`
}

// DefaultEstimatorConfig returns the configuration used when none is given.
func DefaultEstimatorConfig() EstimatorConfig {
	return EstimatorConfig{
		Lags:      Lags{CAS: 0.2, Mach: 0.2, Altitude: 0.5},
		Threshold: 1.0,
		MaxBlend:  0.5,
		Seed:      1,
	}
}

// Sample is one ground-truth measurement together with the raw dial
// readings taken at the same time.
type Sample struct {
	Time     float64
	TAS      float64
	Altitude float64
	QNH      float64
	Dials    Dials
}

// Estimate is the running sea-level estimate.
type Estimate struct {
	SeaLevel SeaLevel
	// Quality is the objective value of the estimate; 0 is perfect and
	// +Inf means nothing has been adopted yet.
	Quality float64
	// SinceUpdate is the sample time elapsed since the last adopted fit.
	SinceUpdate float64
	Fits        int
}

// Valid reports whether a fit has been adopted.
func (e Estimate) Valid() bool { return !math.IsInf(e.Quality, 1) }

// Estimator recovers the effective sea-level temperature and pressure from
// lagged dial readings.
//
// Not safe for concurrent use.
type Estimator struct {
	cfg EstimatorConfig
	rng *rand.Rand

	tas, alt        calib.Series
	cas, mach, baro calib.Series
	qnh             calib.Series

	est      Estimate
	lastTime float64
	hasTime  bool
}

// NewEstimator creates an estimator starting from the standard atmosphere.
func NewEstimator(cfg EstimatorConfig) *Estimator {
	if cfg.MaxBlend <= 0 || cfg.MaxBlend > 1 {
		cfg.MaxBlend = DefaultEstimatorConfig().MaxBlend
	}
	e := &Estimator{cfg: cfg, rng: rand.New(rand.NewSource(cfg.Seed))}
	e.Reset()
	return e
}

// Reset drops buffered samples and the running estimate.
func (e *Estimator) Reset() {
	for _, s := range e.series() {
		s.Reset()
	}
	e.est = Estimate{SeaLevel: Standard, Quality: math.Inf(1)}
	e.hasTime = false
}

func (e *Estimator) series() []*calib.Series {
	return []*calib.Series{&e.tas, &e.alt, &e.cas, &e.mach, &e.baro, &e.qnh}
}

// Estimate returns the current estimate.
func (e *Estimator) Estimate() Estimate { return e.est }

// Add buffers a sample and, once enough history is available to
// compensate every dial's lag, fits it. updated reports whether the
// running estimate changed.
func (e *Estimator) Add(s Sample) (est Estimate, updated bool, err error) {
	if e.hasTime {
		if s.Time < e.lastTime {
			e.Reset()
		} else {
			e.est.SinceUpdate += s.Time - e.lastTime
		}
	}
	e.lastTime, e.hasTime = s.Time, true

	for i, v := range []float64{s.TAS, s.Altitude, s.Dials.CAS, s.Dials.Mach, s.Dials.Altitude, s.QNH} {
		if err := e.series()[i].Append(s.Time, v); err != nil {
			return e.est, false, fmt.Errorf("buffer sample: %w", err)
		}
	}

	o, ok := e.observe(s.Time - e.cfg.Lags.max())
	if !ok {
		return e.est, false, nil
	}

	start := e.est.SeaLevel
	fit, q, err := Fit(start, o, e.rng)
	if err != nil {
		return e.est, false, err
	}

	if e.adopt(fit, q) {
		e.est.SinceUpdate = 0
		e.est.Fits++
		updated = true
	}
	return e.est, updated, nil
}

// observe assembles the observation for truth time te, reading each dial
// at te plus its lag.
func (e *Estimator) observe(te float64) (Observation, bool) {
	var o Observation
	lookups := []struct {
		s   *calib.Series
		t   float64
		dst *float64
	}{
		{&e.tas, te, &o.TAS},
		{&e.alt, te, &o.Altitude},
		{&e.cas, te + e.cfg.Lags.CAS, &o.Dials.CAS},
		{&e.mach, te + e.cfg.Lags.Mach, &o.Dials.Mach},
		{&e.baro, te + e.cfg.Lags.Altitude, &o.Dials.Altitude},
		{&e.qnh, te + e.cfg.Lags.Altitude, &o.QNH},
	}
	for _, l := range lookups {
		v, ok := l.s.At(l.t)
		if !ok {
			return o, false
		}
		*l.dst = v
	}
	for _, s := range e.series() {
		s.TrimBefore(te)
	}
	return o, true
}

// adopt applies the adoption policy: greedy while the estimate is poor,
// blending once it is good.
func (e *Estimator) adopt(fit SeaLevel, q float64) bool {
	if e.est.Quality > e.cfg.Threshold {
		if q < e.est.Quality {
			e.est.SeaLevel, e.est.Quality = fit, q
			return true
		}
		return false
	}
	if q > e.cfg.Threshold {
		return false
	}

	w := e.blendWeight(q)
	e.est.SeaLevel = SeaLevel{
		Temperature: e.est.SeaLevel.Temperature + w*(fit.Temperature-e.est.SeaLevel.Temperature),
		Pressure:    e.est.SeaLevel.Pressure + w*(fit.Pressure-e.est.SeaLevel.Pressure),
	}
	e.est.Quality += w * (q - e.est.Quality)
	return true
}

// blendWeight eases from MaxBlend for a perfect fit down to MaxBlend/10 at
// the threshold.
func (e *Estimator) blendWeight(q float64) float64 {
	if e.cfg.Threshold <= 0 {
		return e.cfg.MaxBlend
	}
	return e.cfg.MaxBlend / (1 + 9*q/e.cfg.Threshold)
}
