package control

import (
	"fmt"
	"math"
)

// Filter is a discrete low-pass filter fed one sample at a time.
type Filter interface {
	Step(x float64) (float64, error)
	Reset()
	// Clone returns a fresh filter with the same coefficients and no state.
	Clone() Filter
}

// Null passes samples through unchanged.
type Null struct{}

func (Null) Step(x float64) (float64, error) {
	if err := checkFinite("filter input", x); err != nil {
		return 0, err
	}
	return x, nil
}

func (Null) Reset() {}

func (Null) Clone() Filter { return Null{} }

// Coefficients of a two-pole, two-zero recursive filter
//
//	y[n] = b0*x[n] + b1*x[n-1] + b2*x[n-2] - a1*y[n-1] - a2*y[n-2]
type Coefficients struct {
	B0, B1, B2 float64
	A1, A2     float64
}

// Second-order Butterworth presets with unity DC gain. The number is the
// group delay at DC, in samples.
var (
	Delay5 = Coefficients{
		B0: 1.0 / 61, B1: 2.0 / 61, B2: 1.0 / 61,
		A1: -98.0 / 61, A2: 41.0 / 61,
	}
	Delay10 = Coefficients{
		B0: 1.0 / 221, B1: 2.0 / 221, B2: 1.0 / 221,
		A1: -398.0 / 221, A2: 181.0 / 221,
	}
	Delay20 = Coefficients{
		B0: 1.0 / 841, B1: 2.0 / 841, B2: 1.0 / 841,
		A1: -1598.0 / 841, A2: 761.0 / 841,
	}
)

// Butterworth returns second-order low-pass coefficients (bilinear
// transform) for the given cutoff and sample rate, both in Hz.
func Butterworth(cutoff, sampleRate float64) (Coefficients, error) {
	if !(cutoff > 0) || !(sampleRate > 0) || cutoff >= sampleRate/2 {
		return Coefficients{}, fmt.Errorf("cutoff %v Hz not in (0, %v)", cutoff, sampleRate/2)
	}
	k := math.Tan(math.Pi * cutoff / sampleRate)
	norm := 1 / (1 + math.Sqrt2*k + k*k)
	b0 := k * k * norm
	return Coefficients{
		B0: b0,
		B1: 2 * b0,
		B2: b0,
		A1: 2 * (k*k - 1) * norm,
		A2: (1 - math.Sqrt2*k + k*k) * norm,
	}, nil
}

// DCGain returns the steady-state gain of the filter.
func (c Coefficients) DCGain() float64 {
	return (c.B0 + c.B1 + c.B2) / (1 + c.A1 + c.A2)
}

// Biquad is a second-order recursive filter. The first sample after
// construction or Reset fills the delay line, so the output starts settled
// at that sample instead of ramping up from zero.
type Biquad struct {
	c Coefficients

	x1, x2 float64
	y1, y2 float64
	primed bool
}

// NewBiquad creates a filter with the given coefficients.
func NewBiquad(c Coefficients) *Biquad {
	return &Biquad{c: c}
}

// Coefficients returns the filter's coefficients.
func (f *Biquad) Coefficients() Coefficients { return f.c }

func (f *Biquad) Step(x float64) (float64, error) {
	if err := checkFinite("filter input", x); err != nil {
		return 0, err
	}
	if !f.primed {
		f.x1, f.x2 = x, x
		f.y1, f.y2 = x, x
		f.primed = true
		return x, nil
	}

	c := f.c
	y := c.B0*x + c.B1*f.x1 + c.B2*f.x2 - c.A1*f.y1 - c.A2*f.y2
	if err := checkFinite("filter output", y); err != nil {
		return 0, err
	}
	f.x2, f.x1 = f.x1, x
	f.y2, f.y1 = f.y1, y
	return y, nil
}

func (f *Biquad) Reset() {
	f.x1, f.x2, f.y1, f.y2 = 0, 0, 0, 0
	f.primed = false
}

func (f *Biquad) Clone() Filter {
	return NewBiquad(f.c)
}
