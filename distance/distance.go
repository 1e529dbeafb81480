// Package distance provides vector distance metrics and normalization helpers.
package distance

import (
	"fmt"
	"math"
	"slices"
)

// Metric represents the distance metric used for vector comparison.
type Metric int

const (
	// MetricCosine is cosine distance, implemented over L2-normalized vectors.
	MetricCosine Metric = iota
	// MetricEuclidean is the squared L2 (Euclidean) distance.
	MetricEuclidean
)

func (m Metric) String() string {
	switch m {
	case MetricCosine:
		return "cosine"
	case MetricEuclidean:
		return "euclidean"
	default:
		return fmt.Sprintf("unknown(%d)", int(m))
	}
}

// ParseMetric parses a metric name as it appears in collection configuration.
func ParseMetric(s string) (Metric, error) {
	switch s {
	case "cosine":
		return MetricCosine, nil
	case "euclidean", "l2":
		return MetricEuclidean, nil
	default:
		return 0, fmt.Errorf("distance: unknown metric %q", s)
	}
}

// Func computes the distance between two vectors of equal length.
// Lower is closer for all metrics.
type Func func(a, b []float32) float32

// Provider returns the distance function for a metric.
//
// For MetricCosine the returned function assumes both inputs are already
// L2-normalized and computes 1 - dot(a, b), which is monotone with the
// cosine angle. Callers that keep raw vectors must normalize first.
func Provider(m Metric) (Func, error) {
	switch m {
	case MetricCosine:
		return func(a, b []float32) float32 { return 1 - Dot(a, b) }, nil
	case MetricEuclidean:
		return SquaredL2, nil
	default:
		return nil, fmt.Errorf("distance: unknown metric %d", int(m))
	}
}

// Dot calculates the dot product of two vectors.
// Assumes vectors are the same length (caller's responsibility).
func Dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// SquaredL2 calculates the squared L2 distance between two vectors.
// Assumes vectors are the same length (caller's responsibility).
func SquaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// Magnitude calculates the L2 norm of a vector.
func Magnitude(v []float32) float32 {
	return float32(math.Sqrt(float64(Dot(v, v))))
}

// NormalizeL2InPlace L2-normalizes v in place.
// Returns false if v has zero L2 norm.
func NormalizeL2InPlace(v []float32) bool {
	if len(v) == 0 {
		return false
	}
	norm2 := Dot(v, v)
	if norm2 == 0 {
		return false
	}
	inv := 1 / float32(math.Sqrt(float64(norm2)))
	for i := range v {
		v[i] *= inv
	}
	return true
}

// NormalizeL2Copy returns a normalized copy of src.
// Returns false if src has zero L2 norm.
func NormalizeL2Copy(src []float32) ([]float32, bool) {
	dst := slices.Clone(src)
	if !NormalizeL2InPlace(dst) {
		return nil, false
	}
	return dst, true
}
