package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/RyanBlaney/sonido-hum/index"
	"github.com/RyanBlaney/sonido-hum/logging"
	"github.com/RyanBlaney/sonido-hum/melody"
)

// DefaultDBFile is the snapshot database filename used when none is given
const DefaultDBFile = "sonido-hum.sqlite3"

// Store persists index snapshots so a process restart does not have to
// re-normalize the whole corpus. Rows are keyed by the parameter-derived
// index version; a version mismatch means the cached windows are stale and
// the caller must rebuild instead of loading.
type Store struct {
	DB     *gorm.DB
	db     *sql.DB
	logger logging.Logger
}

// songRecord is one persisted index entry. Contours and window boundaries
// are stored as JSON blobs; windows re-slice the contour on load.
type songRecord struct {
	SongID    string `gorm:"primaryKey;type:varchar(64)"`
	Title     string
	Tempo     float64
	Version   string `gorm:"index:idx_version"`
	Contour   []byte
	Intervals []byte
	Notes     []byte
	Windows   []byte
	CreatedAt time.Time
}

// windowBoundary is the persisted shape of one window: where it starts and
// how many frames it spans
type windowBoundary struct {
	StartFrame   int     `json:"start_frame"`
	Frames       int     `json:"frames"`
	StartSeconds float64 `json:"start_seconds"`
}

// Open opens (or creates) the snapshot database at the given path
func Open(dbPath string) (*Store, error) {
	if dbPath == "" {
		dbPath = DefaultDBFile
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db dir: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql.DB from gorm: %w", err)
	}
	sqlDB.SetMaxOpenConns(4)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&songRecord{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	return &Store{
		DB: db,
		db: sqlDB,
		logger: logging.WithFields(logging.Fields{
			"component": "snapshot_store",
		}),
	}, nil
}

// Close releases the underlying database handle
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveSnapshot replaces the persisted cache with the given snapshot
func (s *Store) SaveSnapshot(snap *index.Snapshot) error {
	if snap == nil {
		return fmt.Errorf("nil snapshot")
	}

	records := make([]songRecord, 0, snap.Len())
	for _, entry := range snap.All() {
		rec, err := encodeEntry(snap.Version, entry)
		if err != nil {
			return fmt.Errorf("encoding song %q: %w", entry.SongID, err)
		}
		records = append(records, rec)
	}

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&songRecord{}).Error; err != nil {
			return fmt.Errorf("clearing stale records: %w", err)
		}
		if len(records) == 0 {
			return nil
		}
		return tx.Create(&records).Error
	})
	if err != nil {
		return err
	}

	s.logger.Info("Snapshot persisted", logging.Fields{
		"songs":   len(records),
		"version": snap.Version,
	})
	return nil
}

// LoadSnapshot restores the persisted snapshot for the given index
// version. A missing cache or one written under different parameters
// returns (nil, nil): the caller rebuilds rather than reusing stale
// windows. Skip records are not cached; a rebuild re-derives them.
func (s *Store) LoadSnapshot(version string) (*index.Snapshot, error) {
	var total int64
	if err := s.DB.Model(&songRecord{}).Count(&total).Error; err != nil {
		return nil, fmt.Errorf("counting records: %w", err)
	}
	if total == 0 {
		return nil, nil
	}

	var records []songRecord
	if err := s.DB.Where("version = ?", version).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("loading records: %w", err)
	}
	if int64(len(records)) != total {
		s.logger.Warn("Cached snapshot version mismatch, forcing rebuild", logging.Fields{
			"want":    version,
			"cached":  total,
			"matched": len(records),
		})
		return nil, nil
	}

	entries := make([]*index.Entry, 0, len(records))
	for _, rec := range records {
		entry, err := decodeEntry(rec)
		if err != nil {
			return nil, fmt.Errorf("decoding song %q: %w", rec.SongID, err)
		}
		entries = append(entries, entry)
	}

	s.logger.Info("Snapshot restored", logging.Fields{
		"songs":   len(entries),
		"version": version,
	})
	return index.NewSnapshot(version, entries, nil), nil
}

func encodeEntry(version string, entry *index.Entry) (songRecord, error) {
	contour, err := json.Marshal([]float64(entry.Contour))
	if err != nil {
		return songRecord{}, err
	}
	intervals, err := json.Marshal([]float64(entry.Intervals))
	if err != nil {
		return songRecord{}, err
	}
	notes, err := json.Marshal([]float64(entry.Notes))
	if err != nil {
		return songRecord{}, err
	}

	boundaries := make([]windowBoundary, len(entry.Windows))
	for i, w := range entry.Windows {
		boundaries[i] = windowBoundary{
			StartFrame:   w.StartFrame,
			Frames:       len(w.Values),
			StartSeconds: w.StartSeconds,
		}
	}
	windows, err := json.Marshal(boundaries)
	if err != nil {
		return songRecord{}, err
	}

	return songRecord{
		SongID:    entry.SongID,
		Title:     entry.Title,
		Tempo:     entry.Tempo,
		Version:   version,
		Contour:   contour,
		Intervals: intervals,
		Notes:     notes,
		Windows:   windows,
	}, nil
}

func decodeEntry(rec songRecord) (*index.Entry, error) {
	var contour []float64
	if err := json.Unmarshal(rec.Contour, &contour); err != nil {
		return nil, fmt.Errorf("contour: %w", err)
	}
	var intervals []float64
	if len(rec.Intervals) > 0 {
		if err := json.Unmarshal(rec.Intervals, &intervals); err != nil {
			return nil, fmt.Errorf("intervals: %w", err)
		}
	}
	var notes []float64
	if len(rec.Notes) > 0 {
		if err := json.Unmarshal(rec.Notes, &notes); err != nil {
			return nil, fmt.Errorf("notes: %w", err)
		}
	}
	var boundaries []windowBoundary
	if err := json.Unmarshal(rec.Windows, &boundaries); err != nil {
		return nil, fmt.Errorf("windows: %w", err)
	}

	windows := make([]index.Window, len(boundaries))
	for i, b := range boundaries {
		if b.StartFrame < 0 || b.StartFrame+b.Frames > len(contour) {
			return nil, fmt.Errorf("window %d out of contour bounds", i)
		}
		windows[i] = index.Window{
			SongID:       rec.SongID,
			StartFrame:   b.StartFrame,
			StartSeconds: b.StartSeconds,
			Values:       melody.NormalizedContour(contour[b.StartFrame : b.StartFrame+b.Frames]),
		}
	}

	return &index.Entry{
		SongID:    rec.SongID,
		Title:     rec.Title,
		Tempo:     rec.Tempo,
		Contour:   melody.NormalizedContour(contour),
		Intervals: melody.IntervalContour(intervals),
		Notes:     melody.IntervalContour(notes),
		Windows:   windows,
	}, nil
}
