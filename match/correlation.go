package match

import (
	"context"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/RyanBlaney/sonido-hum/algorithms/temporal"
	"github.com/RyanBlaney/sonido-hum/config"
	"github.com/RyanBlaney/sonido-hum/index"
	"github.com/RyanBlaney/sonido-hum/logging"
	"github.com/RyanBlaney/sonido-hum/melody"
)

// CorrelationScorer is the cheap whole-song scoring variant: it blends
// Pearson correlation of the interval contours with tempo proximity
// instead of aligning windows. Used when full alignment is too costly.
// It consumes IntervalContour, never NormalizedContour; the two variants
// are never mixed within one ranking pass.
type CorrelationScorer struct {
	cfg    config.MatchConfig
	logger logging.Logger
}

// NewCorrelationScorer creates a correlation scorer. A nil config selects
// defaults (with the blend weights 0.6 pitch / 0.4 tempo).
func NewCorrelationScorer(cfg *config.MatchConfig) *CorrelationScorer {
	if cfg == nil {
		cfg = config.DefaultMatchConfig()
	}
	return &CorrelationScorer{
		cfg: *cfg,
		logger: logging.WithFields(logging.Fields{
			"component": "correlation_scorer",
		}),
	}
}

// Rank scores the query's frame-level interval contour against every
// indexed song and returns the top-N candidates sorted by descending
// confidence (ties broken by ascending song ID). An empty corpus yields an
// empty list and no error.
func (c *CorrelationScorer) Rank(ctx context.Context, query melody.IntervalContour, queryTempo float64, idx *index.SongIndex) ([]Candidate, error) {
	return c.rank(ctx, query, queryTempo, idx, func(e *index.Entry) melody.IntervalContour {
		return e.Intervals
	})
}

// RankNotes scores a note-level relative-pitch contour (onset-segmented
// deltas) instead of the frame-level one. Entries indexed without onset
// times carry no note contour and are skipped.
func (c *CorrelationScorer) RankNotes(ctx context.Context, query melody.IntervalContour, queryTempo float64, idx *index.SongIndex) ([]Candidate, error) {
	return c.rank(ctx, query, queryTempo, idx, func(e *index.Entry) melody.IntervalContour {
		return e.Notes
	})
}

// rank runs the blend over whichever interval representation the variant
// selected. The two representations are never mixed within one pass.
func (c *CorrelationScorer) rank(ctx context.Context, query melody.IntervalContour, queryTempo float64, idx *index.SongIndex, reference func(*index.Entry) melody.IntervalContour) ([]Candidate, error) {
	if len(query) == 0 {
		return nil, fmt.Errorf("%w: empty query", melody.ErrMalformedContour)
	}

	entries, err := idx.AllEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading index: %w", err)
	}
	if len(entries) == 0 {
		c.logger.Warn("No songs to match against", logging.Fields{
			"reason": ErrEmptyCorpus.Error(),
		})
		return []Candidate{}, nil
	}

	started := time.Now()

	candidates := make([]Candidate, 0, len(entries))
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		ref := reference(entry)
		if len(ref) == 0 {
			continue
		}

		pitchSim := intervalCorrelation(query, ref)
		tempoSim := temporal.Proximity(queryTempo, entry.Tempo)
		score := (c.cfg.PitchWeight*pitchSim + c.cfg.TempoWeight*tempoSim) * 100.0
		score = math.Max(0, math.Min(100, score))

		candidates = append(candidates, Candidate{
			SongID:     entry.SongID,
			Title:      entry.Title,
			Confidence: score,
		})
	}

	sortCandidates(candidates)
	if len(candidates) > c.cfg.TopN {
		candidates = candidates[:c.cfg.TopN]
	}

	logRanking(c.logger, candidates, time.Since(started))
	return candidates, nil
}

// intervalCorrelation computes the Pearson correlation of the two interval
// sequences truncated to equal length, floored at 0 when negative or
// undefined (zero variance on either side).
func intervalCorrelation(a melody.IntervalContour, b melody.IntervalContour) float64 {
	n := min(len(a), len(b))
	if n < 2 {
		return 0
	}

	x := []float64(a[:n])
	y := []float64(b[:n])

	if stat.Variance(x, nil) == 0 || stat.Variance(y, nil) == 0 {
		return 0
	}

	corr := stat.Correlation(x, y, nil)
	if math.IsNaN(corr) || corr < 0 {
		return 0
	}
	return corr
}
