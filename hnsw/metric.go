package hnsw

import (
	"math"

	"github.com/viterin/vek/vek32"
)

// cosineDistance returns 1 - cos(a, b). Zero-norm vectors are treated as
// maximally distant. Callers guarantee equal lengths.
func cosineDistance(a, b []float32) float32 {
	dot := vek32.Dot(a, b)
	na := vek32.Dot(a, a)
	nb := vek32.Dot(b, b)
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/float32(math.Sqrt(float64(na)*float64(nb)))
}
