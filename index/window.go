package index

import (
	"github.com/RyanBlaney/sonido-hum/config"
	"github.com/RyanBlaney/sonido-hum/logging"
	"github.com/RyanBlaney/sonido-hum/melody"
)

// Window is a contiguous slice of a song's normalized contour, tagged with
// where it starts. Subsequence search compares the query against windows
// instead of whole songs so a hum from the middle of a track still matches.
type Window struct {
	SongID       string                   `json:"song_id"`
	StartFrame   int                      `json:"start_frame"`
	StartSeconds float64                  `json:"start_seconds"`
	Values       melody.NormalizedContour `json:"values"`
}

// WindowIndexer slices normalized contours into overlapping fixed-length
// windows. Consecutive windows start one step (window minus overlap) apart;
// the trailing remainder becomes one final partial window when it still
// holds at least the minimum frame count, so trailing melodic content is
// never unreachable.
type WindowIndexer struct {
	cfg          config.WindowConfig
	windowFrames int
	stepFrames   int
	logger       logging.Logger
}

// NewWindowIndexer creates a window indexer. A nil config selects defaults.
func NewWindowIndexer(cfg *config.WindowConfig) *WindowIndexer {
	if cfg == nil {
		cfg = config.DefaultWindowConfig()
	}

	windowFrames := int(cfg.WindowSeconds * cfg.FrameRate)
	stepFrames := int((cfg.WindowSeconds - cfg.OverlapSeconds) * cfg.FrameRate)
	if windowFrames < 1 {
		windowFrames = 1
	}
	if stepFrames < 1 {
		stepFrames = 1
	}

	return &WindowIndexer{
		cfg:          *cfg,
		windowFrames: windowFrames,
		stepFrames:   stepFrames,
		logger: logging.WithFields(logging.Fields{
			"component": "window_indexer",
		}),
	}
}

// WindowFrames returns the nominal window length in frames
func (w *WindowIndexer) WindowFrames() int {
	return w.windowFrames
}

// StepFrames returns the start-to-start distance between windows in frames
func (w *WindowIndexer) StepFrames() int {
	return w.stepFrames
}

// Slice cuts a contour into its ordered window list. Windows never extend
// past the end of the contour.
func (w *WindowIndexer) Slice(songID string, contour melody.NormalizedContour) []Window {
	var windows []Window

	start := 0
	for start+w.windowFrames <= len(contour) {
		windows = append(windows, w.window(songID, contour, start, start+w.windowFrames))
		start += w.stepFrames
	}

	// Trailing partial window for the remainder, if it carries enough
	// frames to be meaningful
	if start < len(contour) && len(contour)-start >= w.cfg.MinFrames {
		windows = append(windows, w.window(songID, contour, start, len(contour)))
	}

	w.logger.Debug("Sliced contour into windows", logging.Fields{
		"song_id": songID,
		"frames":  len(contour),
		"windows": len(windows),
	})

	return windows
}

func (w *WindowIndexer) window(songID string, contour melody.NormalizedContour, start, end int) Window {
	return Window{
		SongID:       songID,
		StartFrame:   start,
		StartSeconds: float64(start) / w.cfg.FrameRate,
		Values:       contour[start:end],
	}
}
