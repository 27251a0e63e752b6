package filters

import (
	"sort"
)

// MedianSmoother implements a running median filter for pitch tracks.
//
// References:
//   - Tukey, J.W. (1977). "Exploratory Data Analysis" (running medians)
//   - Rabiner, L., Sambur, M., Schmidt, C. (1975). "Applications of a
//     nonlinear smoothing algorithm to speech processing"
//
// A median filter removes frame-level jitter and short octave glitches
// from a pitch contour without rounding off the melodic shape the way a
// moving average would. The kernel must be odd; when the input is shorter
// than the configured kernel the filter degrades to the largest valid odd
// kernel that fits, and passes the signal through unchanged once no kernel
// of at least 3 fits.
type MedianSmoother struct {
	kernel int
}

// NewMedianSmoother creates a median smoother with the given kernel size.
// Even kernels are bumped to the next odd value.
func NewMedianSmoother(kernel int) *MedianSmoother {
	if kernel < 1 {
		kernel = 1
	}
	if kernel%2 == 0 {
		kernel++
	}
	return &MedianSmoother{kernel: kernel}
}

// Kernel returns the configured kernel size
func (m *MedianSmoother) Kernel() int {
	return m.kernel
}

// Apply returns the median-smoothed copy of signal. The window shrinks
// symmetrically at the edges so output length always equals input length.
func (m *MedianSmoother) Apply(signal []float64) []float64 {
	n := len(signal)
	out := make([]float64, n)
	copy(out, signal)

	kernel := m.effectiveKernel(n)
	if kernel < 3 {
		return out
	}

	half := kernel / 2
	window := make([]float64, 0, kernel)

	for i := 0; i < n; i++ {
		lo := max(0, i-half)
		hi := min(n, i+half+1)

		window = window[:0]
		window = append(window, signal[lo:hi]...)
		sort.Float64s(window)

		out[i] = median(window)
	}

	return out
}

// effectiveKernel returns the largest valid odd kernel <= the configured
// kernel that fits in a signal of length n
func (m *MedianSmoother) effectiveKernel(n int) int {
	kernel := m.kernel
	if kernel > n {
		kernel = n
		if kernel%2 == 0 {
			kernel--
		}
	}
	return kernel
}

// median returns the median of a sorted window
func median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
