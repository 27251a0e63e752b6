package stats

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func melodyWave(n int, period float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 4 * math.Sin(2*math.Pi*float64(i)/period)
	}
	return out
}

// stretch repeats every sample, simulating a hum at half tempo
func stretch(s []float64) []float64 {
	out := make([]float64, 0, 2*len(s))
	for _, v := range s {
		out = append(out, v, v)
	}
	return out
}

func TestNewFastDTW(t *testing.T) {
	t.Run("clamps radius below one", func(t *testing.T) {
		assert.Equal(t, 1, NewFastDTW(EuclideanDistance, 0).Radius())
		assert.Equal(t, 1, NewFastDTW(EuclideanDistance, -5).Radius())
	})
}

func TestFastDTWAlign(t *testing.T) {
	ctx := context.Background()
	fast := NewFastDTW(EuclideanDistance, 5)

	t.Run("identical sequences align at zero cost", func(t *testing.T) {
		seq := melodyWave(240, 31)

		result, err := fast.Align(ctx, seq, seq)
		require.NoError(t, err)

		assert.InDelta(t, 0, result.Distance, 1e-9)
		assert.InDelta(t, 0, result.Normalized, 1e-9)
		assert.Equal(t, len(seq), result.QueryLength)
		assert.Equal(t, len(seq), result.RefLength)
	})

	t.Run("tolerates a tempo stretch", func(t *testing.T) {
		query := melodyWave(120, 27)
		slower := stretch(query)

		result, err := fast.Align(ctx, query, slower)
		require.NoError(t, err)

		// Every query sample has an exact counterpart in the stretched
		// reference, so a good approximate alignment stays near zero
		assert.Less(t, result.Normalized, 0.25)
	})

	t.Run("never beats the exact optimum", func(t *testing.T) {
		exact := NewDTW(EuclideanDistance)
		a := melodyWave(150, 23)
		b := melodyWave(163, 29)

		approx, err := fast.Align(ctx, a, b)
		require.NoError(t, err)
		optimal, err := exact.Align(ctx, a, b)
		require.NoError(t, err)

		assert.GreaterOrEqual(t, approx.Distance, optimal.Distance-1e-9)
	})

	t.Run("separates matching from non-matching melodies", func(t *testing.T) {
		query := melodyWave(100, 25)
		same := melodyWave(100, 25)
		other := melodyWave(100, 7)

		matching, err := fast.Align(ctx, query, same)
		require.NoError(t, err)
		different, err := fast.Align(ctx, query, other)
		require.NoError(t, err)

		assert.Less(t, matching.Normalized, different.Normalized)
	})

	t.Run("path covers full resolution endpoints", func(t *testing.T) {
		a := melodyWave(90, 13)
		b := melodyWave(110, 17)

		result, err := fast.Align(ctx, a, b)
		require.NoError(t, err)

		last := result.Path[len(result.Path)-1]
		assert.Equal(t, 0, result.Path[0].QueryIndex)
		assert.Equal(t, 0, result.Path[0].RefIndex)
		assert.Equal(t, len(a)-1, last.QueryIndex)
		assert.Equal(t, len(b)-1, last.RefIndex)
	})

	t.Run("empty input is an error", func(t *testing.T) {
		_, err := fast.Align(ctx, nil, melodyWave(10, 5))
		assert.ErrorIs(t, err, ErrEmptySequence)
	})

	t.Run("short sequences use the exact solver", func(t *testing.T) {
		a := []float64{0, 1, 2}
		b := []float64{0, 1, 2}

		result, err := fast.Align(ctx, a, b)
		require.NoError(t, err)
		assert.InDelta(t, 0, result.Distance, 1e-12)
	})
}

func TestHalve(t *testing.T) {
	t.Run("averages adjacent pairs", func(t *testing.T) {
		assert.Equal(t, []float64{1, 5}, halve([]float64{0, 2, 4, 6}))
	})

	t.Run("keeps an odd trailing sample", func(t *testing.T) {
		assert.Equal(t, []float64{1, 9}, halve([]float64{0, 2, 9}))
	})
}

func TestExpandPathBand(t *testing.T) {
	t.Run("band is monotone and connected", func(t *testing.T) {
		path := []AlignPoint{{0, 0, 0}, {1, 1, 0}, {2, 1, 0}, {3, 2, 0}}
		band := expandPath(path, 8, 6, 1)

		for i := 1; i <= 8; i++ {
			require.LessOrEqual(t, band.lo[i], band.hi[i], "row %d empty", i)
			require.GreaterOrEqual(t, band.lo[i], 1)
			require.LessOrEqual(t, band.hi[i], 6)
			if i > 1 {
				assert.GreaterOrEqual(t, band.lo[i], band.lo[i-1], "row %d lower edge regressed", i)
				assert.LessOrEqual(t, band.lo[i], band.hi[i-1]+1, "row %d disconnected", i)
				assert.GreaterOrEqual(t, band.hi[i], band.hi[i-1], "row %d upper edge regressed", i)
			}
		}
	})

	t.Run("band admits both corners", func(t *testing.T) {
		path := []AlignPoint{{0, 0, 0}, {1, 1, 0}}
		band := expandPath(path, 4, 4, 1)

		assert.Equal(t, 1, band.lo[1])
		assert.Equal(t, 4, band.hi[4])
	})
}
