package stats

import (
	"math"
)

// DistanceMetric represents pointwise distance functions for scalar
// contour samples
type DistanceMetric int

const (
	// EuclideanDistance is the metric for semitone pitch contours
	EuclideanDistance DistanceMetric = iota

	// ManhattanDistance is the L1 alternative; for scalar contour
	// samples it coincides with EuclideanDistance
	ManhattanDistance
)

// PointDistance is a function type for computing distance between two
// scalar contour samples
type PointDistance func(a, b float64) float64

// GetPointDistance returns the appropriate distance function for the given metric
func GetPointDistance(metric DistanceMetric) PointDistance {
	switch metric {
	case ManhattanDistance:
		return ManhattanPointDistance
	case EuclideanDistance:
		return EuclideanPointDistance
	default:
		return EuclideanPointDistance
	}
}

// EuclideanPointDistance calculates Euclidean distance between two samples.
// For scalars this reduces to the absolute difference; the name records
// which contour space the caller is matching in.
func EuclideanPointDistance(a, b float64) float64 {
	diff := a - b
	return math.Sqrt(diff * diff)
}

// ManhattanPointDistance calculates Manhattan (L1) distance between two samples
func ManhattanPointDistance(a, b float64) float64 {
	return math.Abs(a - b)
}
