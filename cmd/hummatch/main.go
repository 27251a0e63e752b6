package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/RyanBlaney/sonido-hum/algorithms/temporal"
	"github.com/RyanBlaney/sonido-hum/config"
	"github.com/RyanBlaney/sonido-hum/index"
	"github.com/RyanBlaney/sonido-hum/logging"
	"github.com/RyanBlaney/sonido-hum/match"
	"github.com/RyanBlaney/sonido-hum/melody"
	"github.com/RyanBlaney/sonido-hum/store"
)

var (
	songsDir string
	dbPath   string
	variant  string
	topN     int
	timeout  time.Duration
)

func init() {
	flag.StringVar(&songsDir, "songs", getEnvOrDefault("HUMMATCH_SONGS_DIR", "songs"), "Directory of pitch-trace JSON files for the reference corpus")
	flag.StringVar(&dbPath, "db", getEnvOrDefault("HUMMATCH_DB_PATH", ""), "Optional SQLite snapshot cache; empty disables persistence")
	flag.StringVar(&variant, "variant", getEnvOrDefault("HUMMATCH_VARIANT", string(config.VariantDTW)), "Scoring variant: dtw or correlation")
	flag.IntVar(&topN, "top", 5, "Number of candidates to return")
	flag.DurationVar(&timeout, "timeout", 30*time.Second, "Overall request deadline")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	// Local .env overrides are optional
	_ = godotenv.Load()
	logging.SetLevel(logging.ParseLevel(getEnvOrDefault("HUMMATCH_LOG_LEVEL", "info")))

	log := logging.WithFields(logging.Fields{"component": "hummatch_cli"})

	args := os.Args[1:]
	if len(args) < 1 {
		printUsage()
		os.Exit(1)
	}
	command := args[0]
	flag.CommandLine.Parse(args[1:])

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var err error
	switch command {
	case "index":
		err = runIndex(ctx, log)
	case "match":
		err = runMatch(ctx, log)
	case "list":
		err = runList(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		log.Error(err, "Command failed", logging.Fields{"command": command})
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: hummatch <command> [flags]

Commands:
  index                Build the song index from -songs and persist it to -db
  match <query.json>   Match a hummed pitch trace against the corpus
  list                 List the indexed songs

Flags:`)
	flag.PrintDefaults()
}

// dirCorpus loads every *.json pitch trace in a directory
type dirCorpus struct {
	dir   string
	tempo *temporal.OnsetTempoEstimator
}

func newDirCorpus(dir string) *dirCorpus {
	return &dirCorpus{dir: dir, tempo: temporal.NewOnsetTempoEstimator()}
}

func (d *dirCorpus) Corpus(ctx context.Context) ([]index.CorpusSong, error) {
	names, err := filepath.Glob(filepath.Join(d.dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", d.dir, err)
	}

	songs := make([]index.CorpusSong, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		song, err := readSongFile(name)
		if err != nil {
			// Unreadable corpus files are skipped, not fatal
			logging.Warn("Skipping unreadable corpus file", logging.Fields{
				"file":  name,
				"error": err.Error(),
			})
			continue
		}
		songs = append(songs, d.finish(name, song))
	}
	return songs, nil
}

// finish fills the derivable fields a trace file may omit
func (d *dirCorpus) finish(name string, song *index.CorpusSong) index.CorpusSong {
	out := *song
	if out.SongID == "" {
		out.SongID = stem(name)
	}
	if out.Title == "" {
		out.Title = titleFromStem(stem(name))
	}
	if out.Tempo == 0 && len(out.Onsets) > 1 {
		out.Tempo = d.tempo.Estimate(out.Onsets)
	}
	return out
}

func readSongFile(name string) (*index.CorpusSong, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, err
	}
	var song index.CorpusSong
	if err := json.Unmarshal(data, &song); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", name, err)
	}
	return &song, nil
}

func stem(name string) string {
	base := filepath.Base(name)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// titleFromStem turns "twinkle_twinkle-star" into "Twinkle Twinkle Star"
func titleFromStem(s string) string {
	s = strings.NewReplacer("_", " ", "-", " ").Replace(s)
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// newIndex wires the corpus directory, the snapshot cache when configured,
// and the index together
func newIndex(ctx context.Context, log logging.Logger) (*index.SongIndex, *store.Store, error) {
	idx := index.NewSongIndex(newDirCorpus(songsDir), nil, nil)

	if dbPath == "" {
		return idx, nil, nil
	}

	st, err := store.Open(dbPath)
	if err != nil {
		return nil, nil, err
	}

	if snap, err := st.LoadSnapshot(idx.Version()); err != nil {
		log.Warn("Could not restore snapshot cache", logging.Fields{"error": err.Error()})
	} else if snap != nil && idx.Adopt(snap) {
		log.Info("Index restored from cache", logging.Fields{"songs": snap.Len()})
	}

	return idx, st, nil
}

// persist saves the ready snapshot when a cache is configured
func persist(ctx context.Context, idx *index.SongIndex, st *store.Store) error {
	if st == nil {
		return nil
	}
	snap, err := idx.Snapshot(ctx)
	if err != nil {
		return err
	}
	return st.SaveSnapshot(snap)
}

func runIndex(ctx context.Context, log logging.Logger) error {
	idx, st, err := newIndex(ctx, log)
	if err != nil {
		return err
	}
	defer st.Close()

	// Force a fresh build even if the cache was adopted
	idx.Invalidate()

	snap, err := idx.Snapshot(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Indexed %d songs (version %s)\n", snap.Len(), snap.Version)
	for _, skip := range snap.Skipped() {
		fmt.Printf("  skipped %s: %v\n", skip.SongID, skip.Reason)
	}

	return persist(ctx, idx, st)
}

func runMatch(ctx context.Context, log logging.Logger) error {
	queryPath := flag.CommandLine.Arg(0)
	if queryPath == "" {
		return fmt.Errorf("match requires a query pitch-trace JSON file")
	}

	qf, err := readSongFile(queryPath)
	if err != nil {
		return err
	}

	idx, st, err := newIndex(ctx, log)
	if err != nil {
		return err
	}
	defer st.Close()

	cfg := config.DefaultMatchConfig()
	cfg.TopN = topN
	cfg.Variant = config.ScoringVariant(variant)

	normalizer := melody.NewNormalizer(nil)

	var candidates []match.Candidate
	switch cfg.Variant {
	case config.VariantCorrelation:
		queryTempo := qf.Tempo
		if queryTempo == 0 && len(qf.Onsets) > 1 {
			queryTempo = temporal.NewOnsetTempoEstimator().Estimate(qf.Onsets)
		}
		scorer := match.NewCorrelationScorer(cfg)

		// A query with onset times is matched note-to-note; without them
		// only the frame-level interval contour is available
		if len(qf.Onsets) > 0 {
			noteTrack, err := melody.NewNoteSegmenter(nil).NoteContour(qf.Observations, qf.Onsets)
			if err != nil {
				return err
			}
			candidates, err = scorer.RankNotes(ctx, melody.RelativePitches(noteTrack), queryTempo, idx)
			if err != nil {
				return err
			}
		} else {
			query, err := normalizer.Intervals(qf.Observations)
			if err != nil {
				return err
			}
			candidates, err = scorer.Rank(ctx, query, queryTempo, idx)
			if err != nil {
				return err
			}
		}
	case config.VariantDTW:
		query, err := normalizer.Normalize(qf.Observations)
		if err != nil {
			return err
		}
		candidates, err = match.NewRanker(cfg).Rank(ctx, query, idx)
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown variant %q", variant)
	}

	if err := persist(ctx, idx, st); err != nil {
		log.Warn("Could not persist snapshot cache", logging.Fields{"error": err.Error()})
	}

	if len(candidates) == 0 {
		fmt.Println("No matches found")
		return nil
	}

	fmt.Printf("%-4s %-30s %-10s %-10s\n", "#", "SONG", "SCORE", "OFFSET")
	for i, cand := range candidates {
		fmt.Printf("%-4d %-30s %-10.1f %-10.1f\n", i+1, cand.Title, cand.Confidence, cand.StartSeconds)
	}
	return nil
}

func runList(ctx context.Context) error {
	idx := index.NewSongIndex(newDirCorpus(songsDir), nil, nil)
	entries, err := idx.AllEntries(ctx)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Printf("%-24s %-30s tempo=%.1f frames=%d windows=%d\n",
			e.SongID, e.Title, e.Tempo, len(e.Contour), len(e.Windows))
	}
	return nil
}
