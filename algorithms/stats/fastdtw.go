package stats

import (
	"context"
	"math"
)

// FastDTW computes an approximate DTW alignment in near-linear time and
// space using multi-resolution projection.
//
// References:
//   - Salvador, S., Chan, P. (2007). "FastDTW: Toward Accurate Dynamic
//     Time Warping in Linear Time and Space"
//
// Both sequences are recursively halved until a base case small enough for
// exact DTW, the base case is solved exactly, and each level back up
// re-solves only inside a band of the given radius around the projection
// of the coarser level's path. Larger radii trade time for accuracy; the
// realized path is tracked at every level so the final result carries the
// full-resolution alignment.
type FastDTW struct {
	exact   *DTW
	radius  int
	minSize int
}

// NewFastDTW creates a multi-resolution DTW aligner with the given search
// radius. A radius below 1 is clamped to 1.
func NewFastDTW(metric DistanceMetric, radius int) *FastDTW {
	if radius < 1 {
		radius = 1
	}
	return &FastDTW{
		exact:   NewDTW(metric),
		radius:  radius,
		minSize: radius + 2,
	}
}

// Radius returns the configured refinement radius
func (f *FastDTW) Radius() int {
	return f.radius
}

// Align computes the approximate DTW alignment between query and reference.
// Identical sequences yield distance 0; empty input is an error, never a
// silent zero distance.
func (f *FastDTW) Align(ctx context.Context, query, reference []float64) (*DTWResult, error) {
	if len(query) == 0 || len(reference) == 0 {
		return nil, ErrEmptySequence
	}
	return f.align(ctx, query, reference)
}

func (f *FastDTW) align(ctx context.Context, x, y []float64) (*DTWResult, error) {
	if len(x) <= f.minSize || len(y) <= f.minSize {
		return f.exact.Align(ctx, x, y)
	}

	coarse, err := f.align(ctx, halve(x), halve(y))
	if err != nil {
		return nil, err
	}

	band := expandPath(coarse.Path, len(x), len(y), f.radius)
	return f.exact.alignBand(ctx, x, y, band)
}

// halve downsamples a sequence by averaging adjacent pairs. An odd trailing
// sample is kept as its own coarse sample so the tail stays covered.
func halve(s []float64) []float64 {
	out := make([]float64, 0, (len(s)+1)/2)
	for i := 0; i+1 < len(s); i += 2 {
		out = append(out, (s[i]+s[i+1])/2)
	}
	if len(s)%2 == 1 {
		out = append(out, s[len(s)-1])
	}
	return out
}

// expandPath projects a coarse alignment path onto the next resolution
// (each coarse cell covers a 2x2 block of fine cells), inflates it by
// radius cells in both directions, and converts the marked region into
// per-row column bounds forming a connected monotone band.
func expandPath(path []AlignPoint, n, m, radius int) *searchBand {
	lo := make([]int, n+1)
	hi := make([]int, n+1)
	for i := 1; i <= n; i++ {
		lo[i] = math.MaxInt
		hi[i] = math.MinInt
	}

	mark := func(i, j int) {
		i = min(max(i, 1), n)
		j = min(max(j, 1), m)
		if j < lo[i] {
			lo[i] = j
		}
		if j > hi[i] {
			hi[i] = j
		}
	}

	for _, p := range path {
		// Fine cells (2qi+1, 2qi+2) x (2ri+1, 2ri+2), 1-based, inflated
		// by the radius on every side
		for di := -radius; di <= radius+1; di++ {
			fi := 2*p.QueryIndex + 1 + di
			mark(fi, 2*p.RefIndex+1-radius)
			mark(fi, 2*p.RefIndex+2+radius)
		}
	}

	// The path must be able to anchor at both corners
	mark(1, 1)
	mark(n, m)

	for i := 1; i <= n; i++ {
		// Rows the projection skipped inherit the previous row's span
		if lo[i] > hi[i] {
			if i == 1 {
				lo[i], hi[i] = 1, 1
			} else {
				lo[i], hi[i] = lo[i-1], hi[i-1]
			}
		}
		if i == 1 {
			continue
		}
		// Cells below the previous row's lower edge are unreachable by a
		// monotone path; a gap above its upper edge would disconnect the
		// band
		if lo[i] < lo[i-1] {
			lo[i] = lo[i-1]
		}
		if lo[i] > hi[i-1]+1 {
			lo[i] = hi[i-1] + 1
		}
		if hi[i] < hi[i-1] {
			hi[i] = hi[i-1]
		}
	}

	return &searchBand{lo: lo, hi: hi}
}
