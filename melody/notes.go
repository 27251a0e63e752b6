package melody

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/RyanBlaney/sonido-hum/config"
	"github.com/RyanBlaney/sonido-hum/logging"
)

// NoteSegmenter collapses a frame-level pitch track into note-level values
// using externally detected onset times: one averaged semitone value per
// inter-onset interval. Note-level contours are much shorter than frame
// contours, which makes them the natural input for the correlation-based
// scoring variant.
type NoteSegmenter struct {
	cfg    config.ContourConfig
	logger logging.Logger
}

// NewNoteSegmenter creates a note segmenter. A nil config selects defaults.
func NewNoteSegmenter(cfg *config.ContourConfig) *NoteSegmenter {
	if cfg == nil {
		cfg = config.DefaultContourConfig()
	}
	return &NoteSegmenter{
		cfg: *cfg,
		logger: logging.WithFields(logging.Fields{
			"component": "note_segmenter",
		}),
	}
}

// NoteContour averages the voiced pitch inside every inter-onset interval,
// including the final interval from the last onset to the end of the clip,
// and returns one rounded semitone value per interval. Intervals with no
// voiced frames yield 0. Onset times must be ordered.
func (s *NoteSegmenter) NoteContour(observations []PitchObservation, onsets []float64) ([]float64, error) {
	if err := validateObservations(observations); err != nil {
		return nil, err
	}
	if len(onsets) == 0 {
		return nil, fmt.Errorf("%w: no onsets", ErrMalformedContour)
	}
	for i := 1; i < len(onsets); i++ {
		if onsets[i] < onsets[i-1] {
			return nil, fmt.Errorf("%w: onsets out of order at %d", ErrMalformedContour, i)
		}
	}

	// Segment boundaries: first frame at or after each onset, plus the
	// end of the observation sequence as the final boundary
	boundaries := make([]int, 0, len(onsets)+1)
	frame := 0
	for _, onset := range onsets {
		for frame < len(observations) && observations[frame].Time < onset {
			frame++
		}
		boundaries = append(boundaries, frame)
	}
	boundaries = append(boundaries, len(observations))

	notes := make([]float64, 0, len(onsets))
	for i := 0; i+1 < len(boundaries); i++ {
		notes = append(notes, s.averageNote(observations[boundaries[i]:boundaries[i+1]]))
	}

	s.logger.Debug("Segmented notes", logging.Fields{
		"onsets": len(onsets),
		"notes":  len(notes),
	})

	return notes, nil
}

// averageNote returns the rounded semitone value of the mean voiced
// frequency in a segment, or 0 when the segment has no voiced frames or
// falls outside the plausible note range
func (s *NoteSegmenter) averageNote(segment []PitchObservation) float64 {
	voiced := voicedFrequencies(segment)
	if len(voiced) == 0 {
		return 0
	}

	avg := stat.Mean(voiced, nil)
	note := math.Round(12.0*math.Log2(avg/s.cfg.ReferenceHz) + s.cfg.ReferenceNote)
	if note < 0 || note > 127 {
		return 0
	}
	return note
}

// maxNoteJump is the largest believable note-to-note leap in semitones;
// anything at or above it is treated as a tracking error and dropped.
const maxNoteJump = 22.0

// RelativePitches converts a note-level contour into the sequence of
// note-to-note deltas, dropping repeats (delta 0) and implausible jumps.
func RelativePitches(notes []float64) []float64 {
	deltas := make([]float64, 0, len(notes))
	for i := 0; i+1 < len(notes); i++ {
		delta := notes[i+1] - notes[i]
		if delta == 0 || math.Abs(delta) >= maxNoteJump {
			continue
		}
		deltas = append(deltas, delta)
	}
	return deltas
}
