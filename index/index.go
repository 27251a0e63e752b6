package index

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RyanBlaney/sonido-hum/config"
	"github.com/RyanBlaney/sonido-hum/logging"
	"github.com/RyanBlaney/sonido-hum/melody"
)

// ErrCorpusEntryUnreadable marks a corpus song whose pitch data could not
// be turned into an index entry. It is recorded in the skip list and never
// aborts a build.
var ErrCorpusEntryUnreadable = errors.New("corpus entry unreadable")

// CorpusSong is one reference song as supplied by the upstream pitch
// extraction collaborator. Onset times are optional; when present they
// enable the note-level contour and tempo estimation.
type CorpusSong struct {
	SongID       string                    `json:"song_id"`
	Title        string                    `json:"title"`
	Tempo        float64                   `json:"tempo"` // BPM, optional
	Observations []melody.PitchObservation `json:"observations"`
	Onsets       []float64                 `json:"onsets,omitempty"`
}

// CorpusProvider supplies the corpus snapshot an index build consumes
type CorpusProvider interface {
	Corpus(ctx context.Context) ([]CorpusSong, error)
}

// CorpusFunc adapts a function to the CorpusProvider interface
type CorpusFunc func(ctx context.Context) ([]CorpusSong, error)

func (f CorpusFunc) Corpus(ctx context.Context) ([]CorpusSong, error) {
	return f(ctx)
}

// Entry holds everything the matcher needs for one indexed song. Entries
// are owned by their snapshot and immutable once built.
type Entry struct {
	SongID    string                   `json:"song_id"`
	Title     string                   `json:"title"`
	Tempo     float64                  `json:"tempo"`
	Contour   melody.NormalizedContour `json:"contour"`
	Intervals melody.IntervalContour   `json:"intervals"`
	Notes     melody.IntervalContour   `json:"notes,omitempty"` // note-to-note deltas, needs onsets
	Windows   []Window                 `json:"windows"`
}

// Skip records a corpus song that was excluded from a build and why
type Skip struct {
	SongID string `json:"song_id"`
	Reason error  `json:"-"`
}

// Snapshot is one immutable build of the index. Readers hold a snapshot
// and never observe it changing; rebuilds publish a fresh snapshot instead
// of mutating in place.
type Snapshot struct {
	Version string
	BuiltAt time.Time

	entries map[string]*Entry
	order   []string
	skipped []Skip
}

// NewSnapshot assembles a snapshot from built entries. Entry order is
// normalized to ascending song ID so identical corpora produce identical
// snapshots.
func NewSnapshot(version string, entries []*Entry, skipped []Skip) *Snapshot {
	byID := make(map[string]*Entry, len(entries))
	order := make([]string, 0, len(entries))
	for _, e := range entries {
		if _, dup := byID[e.SongID]; !dup {
			order = append(order, e.SongID)
		}
		byID[e.SongID] = e
	}
	sort.Strings(order)

	return &Snapshot{
		Version: version,
		BuiltAt: time.Now(),
		entries: byID,
		order:   order,
		skipped: skipped,
	}
}

// Get returns the entry for a song ID
func (s *Snapshot) Get(songID string) (*Entry, bool) {
	e, ok := s.entries[songID]
	return e, ok
}

// All returns the entries in ascending song ID order
func (s *Snapshot) All() []*Entry {
	out := make([]*Entry, len(s.order))
	for i, id := range s.order {
		out[i] = s.entries[id]
	}
	return out
}

// Len returns the number of indexed songs
func (s *Snapshot) Len() int {
	return len(s.order)
}

// Skipped returns the songs excluded from this build with their reasons
func (s *Snapshot) Skipped() []Skip {
	return s.skipped
}

// SongIndex owns the searchable view of the reference corpus.
//
// Lifecycle: unbuilt -> building -> ready. The first access triggers a
// build; later accesses reuse the cached snapshot until Invalidate. Only
// one build runs at a time: concurrent callers that arrive mid-build block
// until it finishes, while readers of an already-published snapshot stay
// lock-free.
type SongIndex struct {
	provider   CorpusProvider
	normalizer *melody.Normalizer
	segmenter  *melody.NoteSegmenter
	indexer    *WindowIndexer
	version    string
	workers    int
	logger     logging.Logger

	buildMu  sync.Mutex
	snapshot atomic.Pointer[Snapshot]
}

// NewSongIndex creates an index over the given corpus provider. Nil
// configs select defaults.
func NewSongIndex(provider CorpusProvider, contourCfg *config.ContourConfig, windowCfg *config.WindowConfig) *SongIndex {
	if contourCfg == nil {
		contourCfg = config.DefaultContourConfig()
	}
	if windowCfg == nil {
		windowCfg = config.DefaultWindowConfig()
	}

	return &SongIndex{
		provider:   provider,
		normalizer: melody.NewNormalizer(contourCfg),
		segmenter:  melody.NewNoteSegmenter(contourCfg),
		indexer:    NewWindowIndexer(windowCfg),
		version:    config.IndexVersion(contourCfg, windowCfg),
		workers:    runtime.NumCPU(),
		logger: logging.WithFields(logging.Fields{
			"component": "song_index",
		}),
	}
}

// Version returns the parameter-derived version string of this index
func (s *SongIndex) Version() string {
	return s.version
}

// IsReady reports whether a built snapshot is available without triggering
// a build
func (s *SongIndex) IsReady() bool {
	return s.snapshot.Load() != nil
}

// Invalidate discards the cached snapshot; the next access rebuilds.
// In-flight readers keep the snapshot they already loaded.
func (s *SongIndex) Invalidate() {
	s.snapshot.Store(nil)
	s.logger.Info("Index invalidated")
}

// Adopt installs an externally restored snapshot (a persisted cache).
// A snapshot built under different parameters is rejected so stale windows
// are rebuilt instead of silently reused.
func (s *SongIndex) Adopt(snap *Snapshot) bool {
	if snap == nil || snap.Version != s.version {
		got := ""
		if snap != nil {
			got = snap.Version
		}
		s.logger.Warn("Rejected snapshot with mismatched version", logging.Fields{
			"want": s.version,
			"got":  got,
		})
		return false
	}
	s.snapshot.Store(snap)
	return true
}

// Snapshot returns the ready snapshot, building it first if needed
func (s *SongIndex) Snapshot(ctx context.Context) (*Snapshot, error) {
	if snap := s.snapshot.Load(); snap != nil {
		return snap, nil
	}

	s.buildMu.Lock()
	defer s.buildMu.Unlock()

	// Another caller may have finished the build while we waited
	if snap := s.snapshot.Load(); snap != nil {
		return snap, nil
	}

	snap, err := s.build(ctx)
	if err != nil {
		return nil, err
	}
	s.snapshot.Store(snap)
	return snap, nil
}

// Get returns the entry for one song, building the index if needed
func (s *SongIndex) Get(ctx context.Context, songID string) (*Entry, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	entry, ok := snap.Get(songID)
	if !ok {
		return nil, fmt.Errorf("song %q not indexed", songID)
	}
	return entry, nil
}

// AllEntries returns every indexed entry in ascending song ID order
func (s *SongIndex) AllEntries(ctx context.Context) ([]*Entry, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.All(), nil
}

// buildResult carries one song's outcome from a build worker
type buildResult struct {
	entry *Entry
	skip  *Skip
}

// build processes the corpus into a fresh snapshot. Songs are independent,
// so normalization and windowing run in parallel; results are folded into
// entries plus a side-channel list of skipped songs with reasons.
func (s *SongIndex) build(ctx context.Context) (*Snapshot, error) {
	started := time.Now()
	s.logger.Info("Building song index", logging.Fields{"version": s.version})

	corpus, err := s.provider.Corpus(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading corpus: %w", err)
	}

	jobs := make(chan CorpusSong)
	results := make(chan buildResult)

	var wg sync.WaitGroup
	for w := 0; w < s.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for song := range jobs {
				results <- s.buildEntry(song)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, song := range corpus {
			select {
			case jobs <- song:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	var entries []*Entry
	var skipped []Skip
	for res := range results {
		if res.entry != nil {
			entries = append(entries, res.entry)
		}
		if res.skip != nil {
			skipped = append(skipped, *res.skip)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	snap := NewSnapshot(s.version, entries, skipped)

	s.logger.Info("Song index built", logging.Fields{
		"songs":    snap.Len(),
		"skipped":  len(skipped),
		"duration": time.Since(started).String(),
	})

	return snap, nil
}

// buildEntry normalizes and windows a single corpus song. Failures are
// isolated: the song is skipped with a reason, the build continues.
func (s *SongIndex) buildEntry(song CorpusSong) buildResult {
	contour, err := s.normalizer.Normalize(song.Observations)
	if err != nil {
		s.logger.Warn("Skipping corpus song", logging.Fields{
			"song_id": song.SongID,
			"reason":  err.Error(),
		})
		return buildResult{skip: &Skip{
			SongID: song.SongID,
			Reason: fmt.Errorf("%w: %w", ErrCorpusEntryUnreadable, err),
		}}
	}

	// The interval representation shares the frame gate with Normalize,
	// so this only fails on degenerate configurations; the entry is still
	// usable for the alignment variant without it
	intervals, err := s.normalizer.Intervals(song.Observations)
	if err != nil {
		intervals = nil
	}

	// Note-level deltas need onset times, which not every corpus carries
	var notes melody.IntervalContour
	if len(song.Onsets) > 0 {
		if noteTrack, err := s.segmenter.NoteContour(song.Observations, song.Onsets); err == nil {
			notes = melody.RelativePitches(noteTrack)
		}
	}

	return buildResult{entry: &Entry{
		SongID:    song.SongID,
		Title:     song.Title,
		Tempo:     song.Tempo,
		Contour:   contour,
		Intervals: intervals,
		Notes:     notes,
		Windows:   s.indexer.Slice(song.SongID, contour),
	}}
}
