// Package similarity provides vector distance and density-based clustering utilities.
package similarity

import "math"

// EuclideanDistance returns the L2 distance between two vectors of equal length.
// Extra components of the longer vector are ignored.
func EuclideanDistance(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
