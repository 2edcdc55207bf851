package protocol

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestReadDrums tests reconstruction across digit transitions
func TestReadDrums(t *testing.T) {
	tests := []struct {
		name     string
		drums    []float64
		expected float64
	}{
		{"Tens rolling", []float64{9.4, 4.4, 9.0, 2.0}, 2949.4},
		{"Settled", []float64{3.25, 7.0, 1.0}, 173.25},
		{"Cascade rolling", []float64{9.7, 9.7, 2.7}, 299.7},
		{"Wrapped to zero", []float64{9.8, 0.8, 5.0}, 509.8},
		{"Single drum", []float64{4.5}, 4.5},
		{"No drums", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, ReadDrums(tt.drums), 1e-5)
		})
	}
}

// TestReadDrums_Jitter tests tolerance to small independent drum errors
func TestReadDrums_Jitter(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	base := []float64{9.4, 4.4, 9.0, 2.0}
	for i := 0; i < 200; i++ {
		drums := make([]float64, len(base))
		for k := range base {
			drums[k] = base[k] + (rng.Float64()*2-1)*0.005
		}
		expected := 2949.4 + (drums[0] - base[0])
		assert.InDelta(t, expected, ReadDrums(drums), 1e-5)
	}
}
