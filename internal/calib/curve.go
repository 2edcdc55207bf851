// Package calib corrects raw instrument readings and interpolates sampled
// values in time.
package calib

import (
	"fmt"
	"math"
)

// Segment is one piece of a Curve, valid from Start up to the next
// segment's Start.
type Segment interface {
	Start() float64
	Eval(x float64) float64
}

// Linear evaluates Offset + Slope*x.
type Linear struct {
	From   float64
	Offset float64
	Slope  float64
}

// LinearFromPoints creates the segment through (x0, y0) and (x1, y1),
// starting at x0.
func LinearFromPoints(x0, y0, x1, y1 float64) Linear {
	slope := (y1 - y0) / (x1 - x0)
	return Linear{From: x0, Offset: y0 - slope*x0, Slope: slope}
}

func (l Linear) Start() float64 { return l.From }

func (l Linear) Eval(x float64) float64 { return l.Offset + l.Slope*x }

// Sinusoidal evaluates Offset + Amplitude*sin(Frequency*x + Phase).
type Sinusoidal struct {
	From      float64
	Offset    float64
	Amplitude float64
	Frequency float64
	Phase     float64
}

func (s Sinusoidal) Start() float64 { return s.From }

func (s Sinusoidal) Eval(x float64) float64 {
	return s.Offset + s.Amplitude*math.Sin(s.Frequency*x+s.Phase)
}

// Curve is an ordered list of non-overlapping segments. Inputs below the
// first segment or beyond the last segment's start are extrapolated with
// the edge segment's formula.
type Curve struct {
	segments []Segment
}

// NewCurve creates a curve from segments ordered by strictly increasing start.
func NewCurve(segments ...Segment) (*Curve, error) {
	if len(segments) == 0 {
		return nil, fmt.Errorf("curve needs at least one segment")
	}
	for i := 1; i < len(segments); i++ {
		if !(segments[i].Start() > segments[i-1].Start()) {
			return nil, fmt.Errorf("segment %d starts at %v, not after %v",
				i, segments[i].Start(), segments[i-1].Start())
		}
	}
	return &Curve{segments: segments}, nil
}

// MustCurve is like NewCurve but panics on error. Intended for
// package-level calibration tables.
func MustCurve(segments ...Segment) *Curve {
	c, err := NewCurve(segments...)
	if err != nil {
		panic(err)
	}
	return c
}

// Eval returns the curve's value at x.
func (c *Curve) Eval(x float64) float64 {
	// Segment counts are small; a linear scan is enough.
	seg := c.segments[0]
	for _, s := range c.segments[1:] {
		if x < s.Start() {
			break
		}
		seg = s
	}
	return seg.Eval(x)
}

// Len returns the number of segments.
func (c *Curve) Len() int { return len(c.segments) }
