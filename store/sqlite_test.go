package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RyanBlaney/sonido-hum/index"
	"github.com/RyanBlaney/sonido-hum/melody"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	st, err := Open(filepath.Join(t.TempDir(), "cache.sqlite3"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

// cachedEntry builds an entry whose windows re-slice its contour, matching
// what an index build produces
func cachedEntry(id, title string, tempo float64) *index.Entry {
	contour := melody.NormalizedContour{0, 1, 2, 3, 2, 1, 0, -1}
	return &index.Entry{
		SongID:    id,
		Title:     title,
		Tempo:     tempo,
		Contour:   contour,
		Intervals: melody.IntervalContour{1, 1, 1, -1, -1, -1, -1},
		Notes:     melody.IntervalContour{2, -3},
		Windows: []index.Window{
			{SongID: id, StartFrame: 0, StartSeconds: 0, Values: contour[0:4]},
			{SongID: id, StartFrame: 4, StartSeconds: 4, Values: contour[4:8]},
		},
	}
}

func TestStoreRoundTrip(t *testing.T) {
	t.Run("save then load restores the entries", func(t *testing.T) {
		st := openTestStore(t)

		saved := index.NewSnapshot("v1|test", []*index.Entry{
			cachedEntry("a", "Song A", 120),
			cachedEntry("b", "Song B", 90),
		}, nil)
		require.NoError(t, st.SaveSnapshot(saved))

		loaded, err := st.LoadSnapshot("v1|test")
		require.NoError(t, err)
		require.NotNil(t, loaded)

		assert.Equal(t, 2, loaded.Len())
		for _, want := range saved.All() {
			got, ok := loaded.Get(want.SongID)
			require.True(t, ok, want.SongID)
			assert.Equal(t, want.Title, got.Title)
			assert.Equal(t, want.Tempo, got.Tempo)
			assert.Equal(t, want.Contour, got.Contour)
			assert.Equal(t, want.Intervals, got.Intervals)
			assert.Equal(t, want.Notes, got.Notes)
			require.Len(t, got.Windows, len(want.Windows))
			for i := range want.Windows {
				assert.Equal(t, want.Windows[i].StartFrame, got.Windows[i].StartFrame)
				assert.Equal(t, want.Windows[i].StartSeconds, got.Windows[i].StartSeconds)
				assert.Equal(t, want.Windows[i].Values, got.Windows[i].Values)
			}
		}
	})

	t.Run("entry without intervals round-trips", func(t *testing.T) {
		st := openTestStore(t)

		entry := cachedEntry("a", "Song A", 0)
		entry.Intervals = nil
		require.NoError(t, st.SaveSnapshot(index.NewSnapshot("v1|test", []*index.Entry{entry}, nil)))

		loaded, err := st.LoadSnapshot("v1|test")
		require.NoError(t, err)
		require.NotNil(t, loaded)

		got, ok := loaded.Get("a")
		require.True(t, ok)
		assert.Empty(t, got.Intervals)
	})

	t.Run("empty cache loads as nil", func(t *testing.T) {
		st := openTestStore(t)

		loaded, err := st.LoadSnapshot("v1|test")
		require.NoError(t, err)
		assert.Nil(t, loaded)
	})

	t.Run("version mismatch forces a rebuild", func(t *testing.T) {
		st := openTestStore(t)

		saved := index.NewSnapshot("v1|old-params", []*index.Entry{
			cachedEntry("a", "Song A", 120),
		}, nil)
		require.NoError(t, st.SaveSnapshot(saved))

		loaded, err := st.LoadSnapshot("v1|new-params")
		require.NoError(t, err)
		assert.Nil(t, loaded)
	})

	t.Run("save replaces the previous cache", func(t *testing.T) {
		st := openTestStore(t)

		require.NoError(t, st.SaveSnapshot(index.NewSnapshot("v1|old", []*index.Entry{
			cachedEntry("a", "Song A", 120),
		}, nil)))
		require.NoError(t, st.SaveSnapshot(index.NewSnapshot("v1|new", []*index.Entry{
			cachedEntry("b", "Song B", 90),
		}, nil)))

		old, err := st.LoadSnapshot("v1|old")
		require.NoError(t, err)
		assert.Nil(t, old)

		current, err := st.LoadSnapshot("v1|new")
		require.NoError(t, err)
		require.NotNil(t, current)
		assert.Equal(t, 1, current.Len())
	})

	t.Run("saving nil is an error", func(t *testing.T) {
		st := openTestStore(t)
		assert.Error(t, st.SaveSnapshot(nil))
	})

	t.Run("close is idempotent on nil store", func(t *testing.T) {
		var st *Store
		assert.NoError(t, st.Close())
	})
}
