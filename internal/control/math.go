package control

import (
	"errors"
	"fmt"
	"math"

	"golang.org/x/exp/constraints"
)

// Errors returned by the control primitives. All of them are fatal to the
// call that produced them: a non-finite value must never reach an actuator.
var (
	ErrNonFinite   = errors.New("non-finite value")
	ErrSameTime    = errors.New("called twice with identical time")
	ErrBadInterval = errors.New("elapsed time must be positive")
)

// Clamp limits x to [low, high].
func Clamp[T constraints.Ordered](x, low, high T) T {
	if x < low {
		return low
	}
	if x > high {
		return high
	}
	return x
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func checkFinite(what string, v float64) error {
	if !isFinite(v) {
		return fmt.Errorf("%s %v: %w", what, v, ErrNonFinite)
	}
	return nil
}
