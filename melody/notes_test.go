package melody

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoteContour(t *testing.T) {
	segmenter := NewNoteSegmenter(nil)

	t.Run("one note per inter-onset interval including the last", func(t *testing.T) {
		// A4 for half a second, then C5 until the end of the clip
		obs := make([]PitchObservation, 10)
		for i := range obs {
			freq := 440.0
			if i >= 5 {
				freq = semitoneHz(72)
			}
			obs[i] = PitchObservation{Time: float64(i) * 0.1, Frequency: freq, Voiced: true}
		}

		notes, err := segmenter.NoteContour(obs, []float64{0.0, 0.5})
		require.NoError(t, err)

		assert.Equal(t, []float64{69, 72}, notes)
	})

	t.Run("unvoiced interval yields zero", func(t *testing.T) {
		obs := make([]PitchObservation, 10)
		for i := range obs {
			obs[i] = PitchObservation{Time: float64(i) * 0.1, Frequency: 440, Voiced: i < 5}
		}

		notes, err := segmenter.NoteContour(obs, []float64{0.0, 0.5})
		require.NoError(t, err)

		assert.Equal(t, []float64{69, 0}, notes)
	})

	t.Run("rejects empty onsets", func(t *testing.T) {
		_, err := segmenter.NoteContour(voicedTrack(60, 62), nil)
		assert.ErrorIs(t, err, ErrMalformedContour)
	})

	t.Run("rejects unordered onsets", func(t *testing.T) {
		_, err := segmenter.NoteContour(voicedTrack(60, 62, 64), []float64{0.2, 0.1})
		assert.ErrorIs(t, err, ErrMalformedContour)
	})

	t.Run("rejects malformed observations", func(t *testing.T) {
		_, err := segmenter.NoteContour(nil, []float64{0.0})
		assert.ErrorIs(t, err, ErrMalformedContour)
	})
}

func TestRelativePitches(t *testing.T) {
	t.Run("drops repeats and implausible jumps", func(t *testing.T) {
		notes := []float64{60, 60, 62, 65, 65, 90}
		// 0 (repeat) dropped, +2 kept, +3 kept, 0 dropped, +25 dropped
		assert.Equal(t, []float64{2, 3}, RelativePitches(notes))
	})

	t.Run("keeps descending motion", func(t *testing.T) {
		assert.Equal(t, []float64{-2, -2, 4}, RelativePitches([]float64{67, 65, 63, 67}))
	})

	t.Run("short input yields no deltas", func(t *testing.T) {
		assert.Empty(t, RelativePitches([]float64{64}))
		assert.Empty(t, RelativePitches(nil))
	})
}
