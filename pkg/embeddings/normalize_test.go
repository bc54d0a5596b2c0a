package embeddings

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func magnitude(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}

	return math.Sqrt(sum)
}

func TestNormalizeL2(t *testing.T) {
	tests := []struct {
		name string
		in   []float32
		want []float32
	}{
		{name: "unit vector unchanged", in: []float32{1, 0, 0}, want: []float32{1, 0, 0}},
		{name: "3-4-5", in: []float32{3, 4}, want: []float32{0.6, 0.8}},
		{name: "negative components keep sign", in: []float32{0, -2}, want: []float32{0, -1}},
		{name: "zero vector left alone", in: []float32{0, 0, 0}, want: []float32{0, 0, 0}},
		{name: "empty", in: []float32{}, want: []float32{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := append([]float32(nil), tt.in...)
			NormalizeL2(v)
			assert.InDeltaSlice(t, tt.want, v, 1e-6)
		})
	}
}

func TestNormalizeL2_TruncatedVectorIsUnitLength(t *testing.T) {
	// A 768-wide prefix of a larger embedding is not unit length until normalized.
	v := make([]float32, 768)
	for i := range v {
		v[i] = float32(i%7) - 3
	}

	NormalizeL2(v)
	assert.InDelta(t, 1.0, magnitude(v), 1e-5)
}
