package protocol

import "math"

// ReadDrums reconstructs the value shown by an odometer-style display.
// drums holds the readings least significant first; the first drum is read
// as is, including its fraction.
//
// Every other drum starts rolling to its next digit once the drum below it
// passes 9, so while the lower drum is between 9 and 10 the upper one is
// displaced by the same fraction. That displacement is removed before
// rounding to the digit.
func ReadDrums(drums []float64) float64 {
	if len(drums) == 0 {
		return 0
	}
	v := drums[0]
	scale := 1.0
	for k := 1; k < len(drums); k++ {
		scale *= 10
		carry := math.Max(0, drums[k-1]-9)
		digit := int(math.Round(drums[k]-carry)) % 10
		if digit < 0 {
			digit += 10
		}
		v += scale * float64(digit)
	}
	return v
}
