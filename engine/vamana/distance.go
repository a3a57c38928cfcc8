package vamana

import (
	"math"

	"github.com/hupe1980/adadisk/engine"
)

type distFunc func(a, b []float32) float32

func squaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

func negDot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return -sum
}

// distanceFor returns the exact distance function of a metric.
// Cosine data is normalized at build and query time and compared with L2.
func distanceFor(m engine.Metric) distFunc {
	if m == engine.MIPS {
		return negDot
	}
	return squaredL2
}

func normalize(v []float32) {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= inv
	}
}

// prepareQuery copies the query and applies the metric's preprocessing.
func prepareQuery(m engine.Metric, q []float32) []float32 {
	out := make([]float32, len(q))
	copy(out, q)
	if m == engine.Cosine {
		normalize(out)
	}
	return out
}
