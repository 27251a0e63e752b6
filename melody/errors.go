package melody

import "errors"

// Sentinel errors for query and corpus contour processing. Callers match
// them with errors.Is; wrapping adds detail without losing the category.
var (
	// ErrInsufficientSignal means too few voiced pitch frames survived
	// filtering for a meaningful melodic comparison
	ErrInsufficientSignal = errors.New("insufficient voiced signal")

	// ErrMalformedContour means the observation sequence itself is
	// unusable: empty, or timestamps out of order
	ErrMalformedContour = errors.New("malformed pitch contour")
)
