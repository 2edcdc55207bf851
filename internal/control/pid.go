package control

import (
	"fmt"
	"math"
)

// PID is a PID controller with anti-windup. The integral only accumulates
// while the loop is unsaturated and the smoothed derivative is below
// IntegrationPermit.
//
// Not safe for concurrent use.
type PID struct {
	P, I, D float64

	// Output range of the controller.
	Min, Max float64
	// Range of the proportional contribution alone.
	PMin, PMax float64

	// Smoothing is the weight given to the previous derivative estimate,
	// in [0, 1). Zero disables smoothing.
	Smoothing float64
	// IntegrationPermit is the derivative magnitude at and above which
	// integration is suspended.
	IntegrationPermit float64
	Bias              float64

	Integral    float64
	Derivative  float64
	Integrating bool
	Output      float64

	prevError float64
	hasPrev   bool
}

// NewPID creates a PID controller with unbounded ranges.
func NewPID(p, i, d float64) *PID {
	return &PID{
		P:                 p,
		I:                 i,
		D:                 d,
		Min:               math.Inf(-1),
		Max:               math.Inf(1),
		PMin:              math.Inf(-1),
		PMax:              math.Inf(1),
		IntegrationPermit: math.Inf(1),
	}
}

// SetOutputLimits sets the range the output is clamped to.
func (c *PID) SetOutputLimits(min, max float64) {
	c.Min, c.Max = min, max
}

// SetProportionalLimits sets the range the proportional term is clamped to.
func (c *PID) SetProportionalLimits(min, max float64) {
	c.PMin, c.PMax = min, max
}

// Reset discards the integral, derivative and error history.
func (c *PID) Reset() {
	c.Integral = 0
	c.Derivative = 0
	c.Integrating = false
	c.Output = 0
	c.prevError = 0
	c.hasPrev = false
}

// Update advances the controller by dt with the given error and returns
// the new output.
func (c *PID) Update(err, dt float64) (float64, error) {
	if e := checkFinite("pid error", err); e != nil {
		return 0, e
	}
	if !(dt > 0) || !isFinite(dt) {
		return 0, fmt.Errorf("pid dt %v: %w", dt, ErrBadInterval)
	}

	if c.hasPrev {
		raw := (err - c.prevError) / dt
		c.Derivative = c.Smoothing*c.Derivative + (1-c.Smoothing)*raw
	} else {
		// no prior error: the derivative is undefined on the first call
		c.Derivative = 0
	}
	c.prevError = err
	c.hasPrev = true

	p := Clamp(c.P*err, c.PMin, c.PMax)
	out := Clamp(p+c.I*c.Integral+c.D*c.Derivative+c.Bias, c.Min, c.Max)
	if e := checkFinite("pid output", out); e != nil {
		return 0, e
	}

	c.Integrating = math.Abs(c.Derivative) < c.IntegrationPermit &&
		p > c.PMin && p < c.PMax &&
		out > c.Min && out < c.Max
	if c.Integrating {
		c.Integral += err * dt
	}

	c.Output = out
	return out, nil
}

// Tuning selects one of the Ziegler-Nichols multiplier sets.
type Tuning int

const (
	// TuningAggressive is the classic Ziegler-Nichols rule (quarter decay).
	TuningAggressive Tuning = iota
	// TuningModerate allows some overshoot.
	TuningModerate
	// TuningConservative aims for no overshoot.
	TuningConservative
)

func (t Tuning) String() string {
	switch t {
	case TuningAggressive:
		return "aggressive"
	case TuningModerate:
		return "moderate"
	case TuningConservative:
		return "conservative"
	default:
		return fmt.Sprintf("Tuning(%d)", int(t))
	}
}

// Multipliers for Kp = kp*Ku, Ki = ki*Ku/Tu, Kd = kd*Ku*Tu.
var zieglerNichols = map[Tuning][3]float64{
	TuningAggressive:   {0.6, 1.2, 0.075},
	TuningModerate:     {0.33, 0.66, 0.11},
	TuningConservative: {0.2, 0.4, 0.066},
}

// ZieglerNichols derives gains from the critical gain ku and the period tu
// of the sustained oscillation observed at that gain.
func ZieglerNichols(ku, tu float64, t Tuning) (p, i, d float64, err error) {
	m, ok := zieglerNichols[t]
	if !ok {
		return 0, 0, 0, fmt.Errorf("unknown tuning %v", t)
	}
	if !(tu > 0) {
		return 0, 0, 0, fmt.Errorf("oscillation period %v: %w", tu, ErrBadInterval)
	}
	return m[0] * ku, m[1] * ku / tu, m[2] * ku * tu, nil
}

// NewTunedPID creates a PID controller from Ziegler-Nichols measurements.
func NewTunedPID(ku, tu float64, t Tuning) (*PID, error) {
	p, i, d, err := ZieglerNichols(ku, tu, t)
	if err != nil {
		return nil, err
	}
	return NewPID(p, i, d), nil
}
