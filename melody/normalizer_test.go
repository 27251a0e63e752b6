package melody

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"

	"github.com/RyanBlaney/sonido-hum/config"
)

// semitoneHz converts a MIDI-scale semitone value to Hz (A440 tuning)
func semitoneHz(note float64) float64 {
	return 440.0 * math.Pow(2, (note-69)/12)
}

// voicedTrack builds an ordered observation sequence from semitone values,
// one frame per 0.1 s
func voicedTrack(notes ...float64) []PitchObservation {
	obs := make([]PitchObservation, len(notes))
	for i, n := range notes {
		obs[i] = PitchObservation{
			Time:      float64(i) * 0.1,
			Frequency: semitoneHz(n),
			Voiced:    true,
		}
	}
	return obs
}

// rawNormalizerConfig disables smoothing and lowers the frame gate so tests
// can reason about exact values
func rawNormalizerConfig() *config.ContourConfig {
	cfg := config.DefaultContourConfig()
	cfg.MinValidFrames = 2
	cfg.MedianKernel = 1
	return cfg
}

func TestNormalize(t *testing.T) {
	t.Run("contour is mean centered", func(t *testing.T) {
		n := NewNormalizer(nil)
		obs := voicedTrack(60, 62, 64, 65, 67, 65, 64, 62, 60, 62, 64, 60)

		contour, err := n.Normalize(obs)
		require.NoError(t, err)

		assert.Len(t, contour, len(obs))
		assert.InDelta(t, 0, stat.Mean(contour, nil), 1e-9)
	})

	t.Run("is invariant under transposition", func(t *testing.T) {
		n := NewNormalizer(nil)
		notes := []float64{60, 62, 64, 65, 67, 65, 64, 62, 60, 62, 64, 60}

		original, err := n.Normalize(voicedTrack(notes...))
		require.NoError(t, err)

		up := make([]float64, len(notes))
		for i, v := range notes {
			up[i] = v + 5 // perfect fourth higher
		}
		transposed, err := n.Normalize(voicedTrack(up...))
		require.NoError(t, err)

		require.Len(t, transposed, len(original))
		for i := range original {
			assert.InDelta(t, original[i], transposed[i], 1e-9, "frame %d", i)
		}
	})

	t.Run("drops unvoiced frames", func(t *testing.T) {
		n := NewNormalizer(rawNormalizerConfig())
		obs := voicedTrack(60, 62, 64, 65)
		obs = append(obs, PitchObservation{Time: 0.4, Voiced: false})
		obs = append(obs, PitchObservation{Time: 0.5, Frequency: semitoneHz(60), Voiced: true})

		contour, err := n.Normalize(obs)
		require.NoError(t, err)

		assert.Len(t, contour, 5)
	})

	t.Run("clips octave outliers", func(t *testing.T) {
		n := NewNormalizer(rawNormalizerConfig())
		// One frame a full octave above an otherwise narrow melody
		notes := make([]float64, 40)
		for i := range notes {
			notes[i] = 62 + float64(i%3)
		}
		notes[20] = 76

		contour, err := n.Normalize(voicedTrack(notes...))
		require.NoError(t, err)

		// The spike is clamped to the 95th percentile of the melody itself
		for i, v := range contour {
			assert.Less(t, math.Abs(v), 4.0, "frame %d", i)
		}
	})

	t.Run("rejects too little voiced signal", func(t *testing.T) {
		n := NewNormalizer(nil) // default gate: 10 voiced frames
		_, err := n.Normalize(voicedTrack(60, 62, 64))
		assert.ErrorIs(t, err, ErrInsufficientSignal)
	})

	t.Run("rejects empty input", func(t *testing.T) {
		n := NewNormalizer(nil)
		_, err := n.Normalize(nil)
		assert.ErrorIs(t, err, ErrMalformedContour)
	})

	t.Run("rejects unordered timestamps", func(t *testing.T) {
		n := NewNormalizer(nil)
		obs := voicedTrack(60, 62, 64)
		obs[1].Time = 5.0

		_, err := n.Normalize(obs)
		assert.ErrorIs(t, err, ErrMalformedContour)
	})
}

func TestIntervals(t *testing.T) {
	t.Run("rounds clips and mean-subtracts the deltas", func(t *testing.T) {
		n := NewNormalizer(rawNormalizerConfig())
		// Deltas: +2, +2, -4, +12 (clipped to +7); mean after clipping 1.75
		contour, err := n.Intervals(voicedTrack(60, 62, 64, 60, 72))
		require.NoError(t, err)

		require.Len(t, contour, 4)
		expected := []float64{0.25, 0.25, -5.75, 5.25}
		for i := range expected {
			assert.InDelta(t, expected[i], contour[i], 1e-9, "interval %d", i)
		}
	})

	t.Run("is invariant under transposition", func(t *testing.T) {
		n := NewNormalizer(rawNormalizerConfig())

		original, err := n.Intervals(voicedTrack(60, 62, 64, 60, 65))
		require.NoError(t, err)
		transposed, err := n.Intervals(voicedTrack(67, 69, 71, 67, 72))
		require.NoError(t, err)

		require.Len(t, transposed, len(original))
		for i := range original {
			assert.InDelta(t, original[i], transposed[i], 1e-9, "interval %d", i)
		}
	})

	t.Run("needs at least two frames", func(t *testing.T) {
		cfg := rawNormalizerConfig()
		cfg.MinValidFrames = 1
		n := NewNormalizer(cfg)

		_, err := n.Intervals(voicedTrack(60))
		assert.ErrorIs(t, err, ErrInsufficientSignal)
	})
}
