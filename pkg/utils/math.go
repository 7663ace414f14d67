package utils

import "math"

// L2Norm returns the Euclidean norm of x, accumulated in float64.
func L2Norm(x []float32) float64 {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

// NormalizeL2 divides every component of x by its L2 norm, in place.
// A zero norm is treated as 1, leaving x unchanged.
func NormalizeL2(x []float32) {
	norm := L2Norm(x)
	if norm == 0 {
		norm = 1
	}
	for i := range x {
		x[i] = float32(float64(x[i]) / norm)
	}
}
