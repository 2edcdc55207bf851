package control

import (
	"fmt"
	"math"
)

const (
	// Elapsed times above this are treated as a discontinuity.
	maxFollowInterval = 1.0
	snapEpsilon       = 1e-9
)

// Follower tracks a target without exceeding a maximum acceleration and
// arrives without overshoot whenever the bound allows it.
type Follower struct {
	MaxAccel float64
	Min, Max float64

	pos, vel   float64
	prevTarget float64
	prevTime   float64
	hasPrev    bool
}

// NewFollower creates a follower at rest at zero (or the nearest bound).
func NewFollower(maxAccel, min, max float64) *Follower {
	f := &Follower{MaxAccel: maxAccel, Min: min, Max: max}
	f.Reset()
	return f
}

// Reset puts the follower back at rest at zero and forgets the last call.
func (f *Follower) Reset() {
	f.pos = Clamp(0, f.Min, f.Max)
	f.vel = 0
	f.prevTarget = 0
	f.hasPrev = false
}

// SetPosition places the follower at rest at p.
func (f *Follower) SetPosition(p float64) {
	f.pos = Clamp(p, f.Min, f.Max)
	f.vel = 0
}

func (f *Follower) Position() float64 { return f.pos }
func (f *Follower) Velocity() float64 { return f.vel }

// MoveTo advances the follower to time t toward target and returns the new
// position.
func (f *Follower) MoveTo(target, t float64) (float64, error) {
	if err := checkFinite("follower target", target); err != nil {
		return 0, err
	}
	if err := checkFinite("follower time", t); err != nil {
		return 0, err
	}
	if f.hasPrev && t == f.prevTime {
		return 0, fmt.Errorf("follower at t=%v: %w", t, ErrSameTime)
	}
	target = Clamp(target, f.Min, f.Max)

	if !f.hasPrev {
		f.prevTarget, f.prevTime, f.hasPrev = target, t, true
		return f.pos, nil
	}

	dt := t - f.prevTime
	if dt < 0 || dt > maxFollowInterval {
		f.Reset()
		f.prevTime, f.hasPrev = t, true
		return f.pos, nil
	}

	targetVel := (target - f.prevTarget) / dt
	dist := target - f.pos

	// Land exactly on the target this step if the bound allows it and the
	// resulting velocity can still be matched to the target's next step.
	snapVel := dist / dt
	snapAccel := (snapVel - f.vel) / dt
	if math.Abs(snapAccel) <= f.MaxAccel && math.Abs(snapVel-targetVel) <= f.MaxAccel*dt {
		f.pos, f.vel = target, snapVel
	} else {
		f.vel += f.accel(dist, f.vel-targetVel, dt) * dt
		f.pos += f.vel * dt
	}

	if f.pos <= f.Min {
		f.pos, f.vel = f.Min, 0
	} else if f.pos >= f.Max {
		f.pos, f.vel = f.Max, 0
	}
	if math.Abs(target-f.pos) < snapEpsilon {
		f.pos = target
	}
	if math.Abs(f.vel) < snapEpsilon {
		f.vel = 0
	}
	if err := checkFinite("follower output", f.pos); err != nil {
		return 0, err
	}

	f.prevTarget, f.prevTime = target, t
	return f.pos, nil
}

// accel picks the acceleration for one step given the remaining distance
// and the velocity relative to the target.
func (f *Follower) accel(dist, relVel, dt float64) float64 {
	dir := 1.0
	if dist < 0 {
		dir = -1
	}
	d := math.Abs(dist)
	closing := relVel * dir
	a := f.MaxAccel

	switch {
	case closing < 0:
		// moving away from the target
		return dir * a
	case closing*closing/(2*a) >= d:
		return -dir * a
	}

	// Accelerate only if the target can still be reached without
	// overshoot afterwards; otherwise brake exactly onto it.
	v1 := closing + a*dt
	d1 := d - v1*dt
	if d1 > 0 && v1*v1/(2*a) <= d1 {
		return dir * a
	}
	return -dir * closing * closing / (2 * d)
}

// FilterFollower runs the target through a second-order low-pass filter
// designed for a fixed frame rate. It has no explicit acceleration bound.
type FilterFollower struct {
	Min, Max float64

	filter   *Biquad
	prevTime float64
	hasPrev  bool
}

// NewFilterFollower creates a follower whose filter cutoff is given in Hz
// for frames arriving at frameRate Hz.
func NewFilterFollower(cutoff, frameRate, min, max float64) (*FilterFollower, error) {
	c, err := Butterworth(cutoff, frameRate)
	if err != nil {
		return nil, fmt.Errorf("filter follower: %w", err)
	}
	return &FilterFollower{Min: min, Max: max, filter: NewBiquad(c)}, nil
}

func (f *FilterFollower) Reset() {
	f.filter.Reset()
	f.hasPrev = false
}

func (f *FilterFollower) MoveTo(target, t float64) (float64, error) {
	if err := checkFinite("follower time", t); err != nil {
		return 0, err
	}
	if f.hasPrev {
		if t == f.prevTime {
			return 0, fmt.Errorf("filter follower at t=%v: %w", t, ErrSameTime)
		}
		if dt := t - f.prevTime; dt < 0 || dt > maxFollowInterval {
			f.filter.Reset()
		}
	}
	f.prevTime, f.hasPrev = t, true

	y, err := f.filter.Step(Clamp(target, f.Min, f.Max))
	if err != nil {
		return 0, err
	}
	return Clamp(y, f.Min, f.Max), nil
}
