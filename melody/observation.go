package melody

import "fmt"

// PitchObservation is one frame of the upstream pitch tracker's output:
// a timestamp and a fundamental frequency estimate. Unvoiced frames
// (silence, noise, unvoiced consonants) carry Voiced=false and their
// Frequency is ignored.
type PitchObservation struct {
	Time      float64 `json:"time"`      // seconds from clip start
	Frequency float64 `json:"frequency"` // Hz; meaningful only when voiced
	Voiced    bool    `json:"voiced"`
}

// NormalizedContour is a key-invariant melodic shape: voiced frames on the
// semitone scale, smoothed, outlier-clipped and mean-centered. Its mean is
// approximately zero by construction.
type NormalizedContour []float64

// IntervalContour is the alternate note-delta representation: first
// differences of the cleaned semitone track, rounded, clipped and
// mean-subtracted. Not interchangeable with NormalizedContour; the two
// must never be mixed within one comparison.
type IntervalContour []float64

// validateObservations checks the structural invariants of an observation
// sequence: non-empty and ordered by time.
func validateObservations(observations []PitchObservation) error {
	if len(observations) == 0 {
		return fmt.Errorf("%w: no observations", ErrMalformedContour)
	}
	for i := 1; i < len(observations); i++ {
		if observations[i].Time < observations[i-1].Time {
			return fmt.Errorf("%w: timestamps out of order at frame %d", ErrMalformedContour, i)
		}
	}
	return nil
}

// voicedFrequencies extracts the frequency values of voiced frames with a
// positive frequency, preserving order
func voicedFrequencies(observations []PitchObservation) []float64 {
	voiced := make([]float64, 0, len(observations))
	for _, obs := range observations {
		if obs.Voiced && obs.Frequency > 0 {
			voiced = append(voiced, obs.Frequency)
		}
	}
	return voiced
}
