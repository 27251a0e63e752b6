package match

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/RyanBlaney/sonido-hum/algorithms/stats"
	"github.com/RyanBlaney/sonido-hum/config"
	"github.com/RyanBlaney/sonido-hum/index"
	"github.com/RyanBlaney/sonido-hum/logging"
	"github.com/RyanBlaney/sonido-hum/melody"
)

// ErrEmptyCorpus marks a ranking pass over an index with zero ready
// entries. Callers receive an empty result list, not a failed request;
// the sentinel exists for logging and tests.
var ErrEmptyCorpus = errors.New("empty corpus")

// Candidate is one scored song in a match result list
type Candidate struct {
	SongID             string  `json:"song_id"`
	Title              string  `json:"title"`
	Confidence         float64 `json:"confidence"`          // 0-100
	StartSeconds       float64 `json:"start_seconds"`       // best window's offset
	RawDistance        float64 `json:"raw_distance"`        // total alignment cost
	NormalizedDistance float64 `json:"normalized_distance"` // cost per path step

	// Realized alignment of the best window, for downstream visualization
	AlignedQuery     []float64 `json:"aligned_query,omitempty"`
	AlignedReference []float64 `json:"aligned_reference,omitempty"`
}

// Ranker scans a query contour against every indexed window, reduces to a
// per-song best alignment, and converts distances into a ranked,
// confidence-scored candidate list.
type Ranker struct {
	cfg    config.MatchConfig
	engine *stats.FastDTW
	logger logging.Logger
}

// NewRanker creates a ranker. A nil config selects defaults.
func NewRanker(cfg *config.MatchConfig) *Ranker {
	if cfg == nil {
		cfg = config.DefaultMatchConfig()
	}
	return &Ranker{
		cfg:    *cfg,
		engine: stats.NewFastDTW(stats.EuclideanDistance, cfg.SearchRadius),
		logger: logging.WithFields(logging.Fields{
			"component": "match_ranker",
		}),
	}
}

// Rank matches a normalized query contour against the index and returns
// the top-N candidates sorted by descending confidence (ties broken by
// ascending song ID). An empty corpus yields an empty list and no error.
// Only a malformed query fails the request.
//
// The context carries the caller's deadline: when it expires the scan
// stops and the best results found so far are returned.
func (r *Ranker) Rank(ctx context.Context, query melody.NormalizedContour, idx *index.SongIndex) ([]Candidate, error) {
	if len(query) == 0 {
		return nil, fmt.Errorf("%w: empty query", melody.ErrMalformedContour)
	}

	logger := r.logger.WithFields(logging.Fields{
		"request_id":   uuid.NewString(),
		"query_frames": len(query),
	})

	entries, err := idx.AllEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading index: %w", err)
	}
	if len(entries) == 0 {
		logger.Warn("No songs to match against", logging.Fields{
			"reason": ErrEmptyCorpus.Error(),
		})
		return []Candidate{}, nil
	}

	started := time.Now()
	candidates := r.scan(ctx, logger, query, entries)

	sortCandidates(candidates)
	if len(candidates) > r.cfg.TopN {
		candidates = candidates[:r.cfg.TopN]
	}

	logRanking(logger, candidates, time.Since(started))
	return candidates, nil
}

// scan fans the per-song work out to a worker pool. Each song's windows
// are independent of every other song's, so the only synchronization is
// the final collection.
func (r *Ranker) scan(ctx context.Context, logger logging.Logger, query melody.NormalizedContour, entries []*index.Entry) []Candidate {
	workers := r.cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	jobs := make(chan *index.Entry)
	out := make(chan Candidate)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for entry := range jobs {
				if cand, ok := r.bestForSong(ctx, logger, query, entry); ok {
					out <- cand
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, entry := range entries {
			select {
			case jobs <- entry:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(out)
	}()

	var candidates []Candidate
	for cand := range out {
		candidates = append(candidates, cand)
	}
	return candidates
}

// bestForSong aligns the query against each of a song's windows and keeps
// the minimum normalized distance. A window that blows its time budget is
// dropped; the song stays eligible through its other windows and is
// excluded only when none of them completes.
func (r *Ranker) bestForSong(ctx context.Context, logger logging.Logger, query melody.NormalizedContour, entry *index.Entry) (Candidate, bool) {
	var best *stats.DTWResult
	var bestWindow index.Window
	timedOut := 0

	for _, window := range entry.Windows {
		if ctx.Err() != nil {
			break // request deadline: keep what we have
		}

		result, err := r.alignWindow(ctx, query, window.Values)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				timedOut++
				logger.Debug("Window exceeded time budget", logging.Fields{
					"song_id":       entry.SongID,
					"start_seconds": window.StartSeconds,
				})
				continue
			}
			if ctx.Err() != nil {
				break
			}
			logger.Warn("Window alignment failed", logging.Fields{
				"song_id": entry.SongID,
				"error":   err.Error(),
			})
			continue
		}

		if best == nil || result.Normalized < best.Normalized {
			best = result
			bestWindow = window
		}
	}

	if best == nil {
		if timedOut > 0 {
			logger.Warn("Song excluded: every window timed out", logging.Fields{
				"song_id": entry.SongID,
				"windows": timedOut,
			})
		}
		return Candidate{}, false
	}

	alignedQuery, alignedRef := alignedSequences(best.Path, query, bestWindow.Values)

	return Candidate{
		SongID:             entry.SongID,
		Title:              entry.Title,
		Confidence:         r.confidence(best.Normalized),
		StartSeconds:       bestWindow.StartSeconds,
		RawDistance:        best.Distance,
		NormalizedDistance: best.Normalized,
		AlignedQuery:       alignedQuery,
		AlignedReference:   alignedRef,
	}, true
}

// alignWindow runs one window comparison under its own time budget,
// nested inside the request deadline
func (r *Ranker) alignWindow(ctx context.Context, query, window []float64) (*stats.DTWResult, error) {
	if r.cfg.WindowBudget <= 0 {
		return r.engine.Align(ctx, query, window)
	}
	wctx, cancel := context.WithTimeout(ctx, r.cfg.WindowBudget)
	defer cancel()
	return r.engine.Align(wctx, query, window)
}

// confidence maps a normalized alignment distance onto the 0-100 scale:
// clamp(100 - distance/K, 0, 100). Distance 0 always maps to 100.
func (r *Ranker) confidence(normalizedDistance float64) float64 {
	conf := 100.0 - normalizedDistance/r.cfg.ConfidenceDivisor
	return math.Max(0, math.Min(100, conf))
}

// alignedSequences materializes the warped query and reference values
// along the realized path
func alignedSequences(path []stats.AlignPoint, query, reference []float64) ([]float64, []float64) {
	alignedQuery := make([]float64, len(path))
	alignedRef := make([]float64, len(path))
	for i, p := range path {
		alignedQuery[i] = query[p.QueryIndex]
		alignedRef[i] = reference[p.RefIndex]
	}
	return alignedQuery, alignedRef
}

// sortCandidates orders by descending confidence with ascending song ID as
// the deterministic tie-break
func sortCandidates(candidates []Candidate) {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Confidence != candidates[j].Confidence {
			return candidates[i].Confidence > candidates[j].Confidence
		}
		return candidates[i].SongID < candidates[j].SongID
	})
}

// logRanking reports the outcome the way operators actually read it:
// the winner, the runner-up, and how separable they are
func logRanking(logger logging.Logger, candidates []Candidate, elapsed time.Duration) {
	if len(candidates) == 0 {
		logger.Info("No candidates ranked", logging.Fields{"elapsed": elapsed.String()})
		return
	}

	fields := logging.Fields{
		"top1":       candidates[0].SongID,
		"top1_score": candidates[0].Confidence,
		"elapsed":    elapsed.String(),
	}
	if len(candidates) > 1 {
		fields["top2"] = candidates[1].SongID
		fields["top2_score"] = candidates[1].Confidence
		if candidates[1].Confidence > 0 {
			fields["ratio"] = candidates[0].Confidence / candidates[1].Confidence
		}
	}
	logger.Info("Ranking complete", fields)
}
