package melody

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/RyanBlaney/sonido-hum/algorithms/filters"
	"github.com/RyanBlaney/sonido-hum/config"
	"github.com/RyanBlaney/sonido-hum/logging"
)

// Normalizer converts raw pitch observations into key-invariant contours.
// WHY: absolute pitch depends on the singer's key; only the melodic shape
// survives normalization, which is what matching has to compare.
//
// Pipeline: drop unvoiced frames -> median smoothing -> Hz to semitones ->
// percentile clip (octave-tracking errors) -> mean subtraction.
type Normalizer struct {
	cfg    config.ContourConfig
	smooth *filters.MedianSmoother
	logger logging.Logger
}

// NewNormalizer creates a normalizer with the given configuration.
// A nil config selects the defaults.
func NewNormalizer(cfg *config.ContourConfig) *Normalizer {
	if cfg == nil {
		cfg = config.DefaultContourConfig()
	}
	return &Normalizer{
		cfg:    *cfg,
		smooth: filters.NewMedianSmoother(cfg.MedianKernel),
		logger: logging.WithFields(logging.Fields{
			"component": "pitch_normalizer",
		}),
	}
}

// Normalize produces the mean-centered semitone contour for an observation
// sequence. It fails with ErrMalformedContour for structurally invalid
// input and ErrInsufficientSignal when fewer than the configured minimum
// of voiced frames survive filtering.
func (n *Normalizer) Normalize(observations []PitchObservation) (NormalizedContour, error) {
	semitones, err := n.cleanedSemitones(observations)
	if err != nil {
		return nil, err
	}

	clipped := n.clipOutliers(semitones)

	mean := stat.Mean(clipped, nil)
	contour := make(NormalizedContour, len(clipped))
	for i, v := range clipped {
		contour[i] = v - mean
	}

	n.logger.Debug("Normalized pitch contour", logging.Fields{
		"frames":     len(contour),
		"mean_pitch": mean,
	})

	return contour, nil
}

// Intervals produces the note-delta representation: first differences of
// the cleaned semitone track, rounded to integer semitones, clipped to the
// configured maximum jump, then mean-subtracted.
func (n *Normalizer) Intervals(observations []PitchObservation) (IntervalContour, error) {
	semitones, err := n.cleanedSemitones(observations)
	if err != nil {
		return nil, err
	}
	if len(semitones) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 frames for intervals", ErrInsufficientSignal)
	}

	intervals := make([]float64, len(semitones)-1)
	for i := range intervals {
		delta := math.Round(semitones[i+1] - semitones[i])
		// Jumps beyond the clip bound are almost certainly tracking errors
		delta = math.Max(-n.cfg.IntervalClip, math.Min(n.cfg.IntervalClip, delta))
		intervals[i] = delta
	}

	mean := stat.Mean(intervals, nil)
	contour := make(IntervalContour, len(intervals))
	for i, v := range intervals {
		contour[i] = v - mean
	}

	return contour, nil
}

// cleanedSemitones runs the shared front of both derivations: validation,
// unvoiced removal, the minimum-frame gate, median smoothing, and the
// logarithmic semitone conversion.
func (n *Normalizer) cleanedSemitones(observations []PitchObservation) ([]float64, error) {
	if err := validateObservations(observations); err != nil {
		return nil, err
	}

	voiced := voicedFrequencies(observations)
	if len(voiced) < n.cfg.MinValidFrames {
		return nil, fmt.Errorf("%w: %d voiced frames, need %d",
			ErrInsufficientSignal, len(voiced), n.cfg.MinValidFrames)
	}

	n.logger.Debug("Voiced frame filtering", logging.Fields{
		"total_frames":  len(observations),
		"voiced_frames": len(voiced),
	})

	smoothed := n.smooth.Apply(voiced)

	semitones := make([]float64, len(smoothed))
	for i, f := range smoothed {
		semitones[i] = n.hzToSemitone(f)
	}
	return semitones, nil
}

// hzToSemitone converts a frequency to the logarithmic semitone scale
// anchored at the configured reference (A440 -> MIDI 69 by default)
func (n *Normalizer) hzToSemitone(freq float64) float64 {
	return 12.0*math.Log2(freq/n.cfg.ReferenceHz) + n.cfg.ReferenceNote
}

// clipOutliers clamps the contour to its configured quantile bounds to
// suppress octave-detection errors
func (n *Normalizer) clipOutliers(semitones []float64) []float64 {
	sorted := make([]float64, len(semitones))
	copy(sorted, semitones)
	sort.Float64s(sorted)

	low := stat.Quantile(n.cfg.ClipLowQuantile, stat.Empirical, sorted, nil)
	high := stat.Quantile(n.cfg.ClipHighQuantile, stat.Empirical, sorted, nil)

	clipped := make([]float64, len(semitones))
	for i, v := range semitones {
		clipped[i] = math.Max(low, math.Min(high, v))
	}
	return clipped
}
