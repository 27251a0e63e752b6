package temporal

import (
	"math"

	"github.com/mjibson/go-dsp/fft"
)

// Proximity scores how close two tempo estimates are on a 0..1 scale:
// 1 for identical tempi, falling off linearly with the relative difference.
// Non-positive tempi carry no information and score 0.
func Proximity(tempoA, tempoB float64) float64 {
	if tempoA <= 0 || tempoB <= 0 {
		return 0
	}
	diff := math.Abs(tempoA - tempoB)
	return math.Max(0, 1.0-diff/math.Max(tempoA, tempoB))
}

// OnsetTempoEstimator estimates tempo in BPM from note onset times.
//
// The onset times are rasterized onto an impulse train and the dominant
// inter-onset period is found as the highest autocorrelation peak inside
// the plausible BPM range. Autocorrelation is computed in the frequency
// domain (Wiener-Khinchin) with mjibson/go-dsp.
type OnsetTempoEstimator struct {
	minBPM     float64
	maxBPM     float64
	resolution float64 // impulse train samples per second
}

// NewOnsetTempoEstimator creates an estimator covering 40-240 BPM
func NewOnsetTempoEstimator() *OnsetTempoEstimator {
	return &OnsetTempoEstimator{
		minBPM:     40,
		maxBPM:     240,
		resolution: 100,
	}
}

// NewOnsetTempoEstimatorWithRange creates an estimator with a custom BPM range
func NewOnsetTempoEstimatorWithRange(minBPM, maxBPM float64) *OnsetTempoEstimator {
	return &OnsetTempoEstimator{
		minBPM:     minBPM,
		maxBPM:     maxBPM,
		resolution: 100,
	}
}

// Estimate returns the estimated tempo in BPM, or 0 when fewer than two
// onsets are available
func (e *OnsetTempoEstimator) Estimate(onsets []float64) float64 {
	if len(onsets) < 2 {
		return 0
	}

	last := onsets[len(onsets)-1]
	if last <= 0 {
		return 0
	}

	train := make([]float64, int(last*e.resolution)+1)
	for _, t := range onsets {
		idx := int(t * e.resolution)
		if idx >= 0 && idx < len(train) {
			train[idx] = 1
		}
	}

	autocorr := e.autocorrelate(train)

	// Lag range corresponding to the plausible beat periods
	minLag := int(60.0 / e.maxBPM * e.resolution)
	maxLag := int(60.0 / e.minBPM * e.resolution)
	if maxLag >= len(autocorr) {
		maxLag = len(autocorr) - 1
	}
	if minLag < 1 {
		minLag = 1
	}
	if minLag > maxLag {
		return 0
	}

	bestLag := 0
	bestVal := 0.0
	for lag := minLag; lag <= maxLag; lag++ {
		if autocorr[lag] > bestVal {
			bestVal = autocorr[lag]
			bestLag = lag
		}
	}

	if bestLag == 0 || bestVal <= 0 {
		return 0
	}

	period := float64(bestLag) / e.resolution
	return 60.0 / period
}

// autocorrelate computes the autocorrelation of signal via FFT.
// Zero padding to 2N avoids circular wrap-around.
func (e *OnsetTempoEstimator) autocorrelate(signal []float64) []float64 {
	n := len(signal)

	size := 1
	for size < 2*n {
		size <<= 1
	}

	padded := make([]float64, size)
	copy(padded, signal)

	spectrum := fft.FFTReal(padded)
	for i, c := range spectrum {
		re := real(c)
		im := imag(c)
		spectrum[i] = complex(re*re+im*im, 0)
	}

	inverse := fft.IFFT(spectrum)

	autocorr := make([]float64, n)
	for i := range autocorr {
		autocorr[i] = real(inverse[i])
	}
	return autocorr
}
