package calib

import "fmt"

// Lerp returns the value at x on the line through (x0, y0) and (x1, y1).
func Lerp(x, x0, y0, x1, y1 float64) float64 {
	if x1 == x0 {
		return y0
	}
	return y0 + (y1-y0)*(x-x0)/(x1-x0)
}

// Series is a time-ordered sequence of samples that can be read back at
// any time inside its span.
type Series struct {
	t, v []float64
}

// Append adds a sample. Times must be non-decreasing; a sample at the
// same time as the last one replaces it.
func (s *Series) Append(t, v float64) error {
	if n := len(s.t); n > 0 {
		switch last := s.t[n-1]; {
		case t < last:
			return fmt.Errorf("sample at %v before last sample at %v", t, last)
		case t == last:
			s.v[n-1] = v
			return nil
		}
	}
	s.t = append(s.t, t)
	s.v = append(s.v, v)
	return nil
}

// At returns the linearly interpolated value at t. ok is false when t is
// outside the buffered span.
func (s *Series) At(t float64) (v float64, ok bool) {
	n := len(s.t)
	if n == 0 || t < s.t[0] || t > s.t[n-1] {
		return 0, false
	}
	// Samples are appended in order; search from the newest end since
	// lookups are usually recent.
	i := n - 1
	for i > 0 && s.t[i-1] > t {
		i--
	}
	if i == 0 {
		return s.v[0], true
	}
	return Lerp(t, s.t[i-1], s.v[i-1], s.t[i], s.v[i]), true
}

// TrimBefore drops samples that are no longer needed to interpolate at t
// or later.
func (s *Series) TrimBefore(t float64) {
	i := 0
	for i+1 < len(s.t) && s.t[i+1] <= t {
		i++
	}
	if i > 0 {
		s.t = append(s.t[:0], s.t[i:]...)
		s.v = append(s.v[:0], s.v[i:]...)
	}
}

// Span returns the first and last sample times.
func (s *Series) Span() (first, last float64, ok bool) {
	if len(s.t) == 0 {
		return 0, 0, false
	}
	return s.t[0], s.t[len(s.t)-1], true
}

// Len returns the number of buffered samples.
func (s *Series) Len() int { return len(s.t) }

// Reset drops all samples.
func (s *Series) Reset() {
	s.t = s.t[:0]
	s.v = s.v[:0]
}
