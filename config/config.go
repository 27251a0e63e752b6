package config

import (
	"fmt"
	"time"
)

// Default frame timing: 22050 Hz audio analyzed with a 512-sample hop,
// the grid the upstream pitch tracker reports observations on.
const (
	DefaultSampleRate = 22050
	DefaultHopSize    = 512
)

// DefaultFrameRate is the number of pitch frames per second of audio.
const DefaultFrameRate = float64(DefaultSampleRate) / float64(DefaultHopSize)

// ContourConfig configures pitch contour normalization
type ContourConfig struct {
	// Minimum number of voiced frames required for a usable contour
	MinValidFrames int `json:"min_valid_frames"`

	// Median smoothing kernel size (odd; degraded to the largest valid
	// odd value when the sequence is shorter)
	MedianKernel int `json:"median_kernel"`

	// Percentile clip bounds in [0, 1], applied on the semitone scale to
	// suppress octave-tracking errors
	ClipLowQuantile  float64 `json:"clip_low_quantile"`
	ClipHighQuantile float64 `json:"clip_high_quantile"`

	// Reference tuning for the Hz -> semitone conversion
	ReferenceHz   float64 `json:"reference_hz"`
	ReferenceNote float64 `json:"reference_note"`

	// Maximum absolute interval in semitones; larger jumps are clipped
	IntervalClip float64 `json:"interval_clip"`
}

// WindowConfig configures subsequence window slicing
type WindowConfig struct {
	WindowSeconds  float64 `json:"window_seconds"`
	OverlapSeconds float64 `json:"overlap_seconds"`
	FrameRate      float64 `json:"frame_rate"` // pitch frames per second

	// Minimum frame count for the trailing partial window
	MinFrames int `json:"min_frames"`
}

// ScoringVariant selects how candidate songs are scored. The two variants
// are never mixed within one ranking pass.
type ScoringVariant string

const (
	// VariantDTW aligns the query against every indexed window with
	// approximate dynamic time warping
	VariantDTW ScoringVariant = "dtw"

	// VariantCorrelation blends interval-sequence correlation with tempo
	// proximity; cheaper, whole-song, no alignment
	VariantCorrelation ScoringVariant = "correlation"
)

// MatchConfig configures ranking and scoring
type MatchConfig struct {
	Variant ScoringVariant `json:"variant"`

	// Number of candidates returned
	TopN int `json:"top_n"`

	// Confidence calibration: confidence = clamp(100 - distance/K, 0, 100)
	// on the path-length-normalized distance. K = 0.05 maps one semitone
	// of average per-step error to a 20-point confidence drop.
	ConfidenceDivisor float64 `json:"confidence_divisor"`

	// Search radius for the multi-resolution DTW refinement band
	SearchRadius int `json:"search_radius"`

	// Per-window computation budget; a window that exceeds it is dropped
	// from its song's candidate set
	WindowBudget time.Duration `json:"window_budget"`

	// Worker goroutines for the (song, window) scan; <=0 means NumCPU
	Workers int `json:"workers"`

	// Correlation variant blend weights
	PitchWeight float64 `json:"pitch_weight"`
	TempoWeight float64 `json:"tempo_weight"`
}

// DefaultContourConfig returns sensible defaults for contour normalization
func DefaultContourConfig() *ContourConfig {
	return &ContourConfig{
		MinValidFrames:   10,
		MedianKernel:     5,
		ClipLowQuantile:  0.05,
		ClipHighQuantile: 0.95,
		ReferenceHz:      440.0,
		ReferenceNote:    69.0, // A4 on the MIDI scale
		IntervalClip:     7.0,
	}
}

// DefaultWindowConfig returns sensible defaults for window slicing
func DefaultWindowConfig() *WindowConfig {
	return &WindowConfig{
		WindowSeconds:  15.0,
		OverlapSeconds: 5.0,
		FrameRate:      DefaultFrameRate,
		MinFrames:      10,
	}
}

// DefaultMatchConfig returns sensible defaults for ranking
func DefaultMatchConfig() *MatchConfig {
	return &MatchConfig{
		Variant:           VariantDTW,
		TopN:              5,
		ConfidenceDivisor: 0.05,
		SearchRadius:      15,
		WindowBudget:      2 * time.Second,
		Workers:           0,
		PitchWeight:       0.6,
		TempoWeight:       0.4,
	}
}

// IndexVersion derives the version string a persisted index snapshot is
// keyed by. Any parameter that changes window boundaries or contour values
// participates; a mismatch forces a full rebuild instead of silently
// reusing stale windows.
func IndexVersion(cc *ContourConfig, wc *WindowConfig) string {
	return fmt.Sprintf("v1|win=%.3f|ovl=%.3f|fr=%.4f|med=%d|clip=%.3f-%.3f|ref=%.1f/%.1f",
		wc.WindowSeconds, wc.OverlapSeconds, wc.FrameRate,
		cc.MedianKernel, cc.ClipLowQuantile, cc.ClipHighQuantile,
		cc.ReferenceHz, cc.ReferenceNote)
}
