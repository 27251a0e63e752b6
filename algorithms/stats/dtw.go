package stats

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// How often the cost-matrix fill polls the context, in rows.
const ctxPollRows = 16

// ErrEmptySequence is returned when either input sequence has no samples.
// An empty contour is a malformed input, never a silent zero distance.
var ErrEmptySequence = errors.New("empty sequence")

// DTW performs exact dynamic time warping alignment between two scalar
// sequences, optionally restricted to a search band.
//
// The recurrence uses the standard symmetric step pattern: each cell (i,j)
// extends the cheapest of (i-1,j), (i,j-1), (i-1,j-1), so the total cost of
// a path is the sum of the pointwise distances of every cell it visits.
type DTW struct {
	pointDist PointDistance
	metric    DistanceMetric
}

// DTWResult contains DTW alignment results
type DTWResult struct {
	Distance    float64      `json:"distance"`     // Total path cost
	Normalized  float64      `json:"normalized"`   // Distance / (len(Path)+1)
	Path        []AlignPoint `json:"path"`         // Optimal alignment path
	QueryLength int          `json:"query_length"` // Length of query sequence
	RefLength   int          `json:"ref_length"`   // Length of reference sequence
}

// AlignPoint represents a point in the alignment path
type AlignPoint struct {
	QueryIndex int     `json:"query_index"` // Index in query sequence
	RefIndex   int     `json:"ref_index"`   // Index in reference sequence
	Cost       float64 `json:"cost"`        // Local cost at this point
}

// NewDTW creates an exact DTW aligner for the given metric
func NewDTW(metric DistanceMetric) *DTW {
	return &DTW{
		pointDist: GetPointDistance(metric),
		metric:    metric,
	}
}

// Align performs unconstrained DTW alignment between two sequences.
// The context is polled during the matrix fill; a cancelled or expired
// context aborts with the context's error.
func (d *DTW) Align(ctx context.Context, query, reference []float64) (*DTWResult, error) {
	if len(query) == 0 || len(reference) == 0 {
		return nil, ErrEmptySequence
	}
	return d.alignBand(ctx, query, reference, fullBand(len(query), len(reference)))
}

// searchBand restricts the DTW cost matrix to per-row column ranges.
// Rows and columns are 1-based like the padded cost matrix; lo and hi are
// inclusive and must describe a connected monotone region.
type searchBand struct {
	lo, hi []int // indexed by query row 1..n; index 0 unused
}

// fullBand covers the whole n x m cost matrix
func fullBand(n, m int) *searchBand {
	lo := make([]int, n+1)
	hi := make([]int, n+1)
	for i := 1; i <= n; i++ {
		lo[i] = 1
		hi[i] = m
	}
	return &searchBand{lo: lo, hi: hi}
}

// cells returns the number of cells the band admits
func (b *searchBand) cells() int {
	total := 0
	for i := 1; i < len(b.lo); i++ {
		total += b.hi[i] - b.lo[i] + 1
	}
	return total
}

// alignBand fills the cost matrix inside the band and backtracks the
// cheapest monotone path. Storage is proportional to the band, not n*m.
func (d *DTW) alignBand(ctx context.Context, query, reference []float64, band *searchBand) (*DTWResult, error) {
	n := len(query)
	m := len(reference)

	rows := make([][]float64, n+1)
	for i := 1; i <= n; i++ {
		rows[i] = make([]float64, band.hi[i]-band.lo[i]+1)
	}

	// cost reads a cell of the padded matrix: (0,0) is the start anchor,
	// everything else outside the band is unreachable
	cost := func(i, j int) float64 {
		if i == 0 && j == 0 {
			return 0
		}
		if i <= 0 || j <= 0 || i > n || j > m {
			return math.Inf(1)
		}
		if j < band.lo[i] || j > band.hi[i] {
			return math.Inf(1)
		}
		return rows[i][j-band.lo[i]]
	}

	for i := 1; i <= n; i++ {
		if ctx != nil && i%ctxPollRows == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		for j := band.lo[i]; j <= band.hi[i]; j++ {
			prev := math.Min(cost(i-1, j-1), math.Min(cost(i-1, j), cost(i, j-1)))
			if math.IsInf(prev, 1) {
				rows[i][j-band.lo[i]] = math.Inf(1)
				continue
			}
			rows[i][j-band.lo[i]] = d.pointDist(query[i-1], reference[j-1]) + prev
		}
	}

	total := cost(n, m)
	if math.IsInf(total, 1) {
		return nil, fmt.Errorf("no alignment path within search band (%d x %d, %d cells)", n, m, band.cells())
	}

	path := d.backtrack(query, reference, band, cost)

	return &DTWResult{
		Distance:    total,
		Normalized:  total / float64(len(path)+1),
		Path:        path,
		QueryLength: n,
		RefLength:   m,
	}, nil
}

// backtrack recovers the realized alignment path from (n,m) to (1,1).
// Ties prefer the diagonal, then the query axis, for determinism.
func (d *DTW) backtrack(query, reference []float64, band *searchBand, cost func(i, j int) float64) []AlignPoint {
	n := len(query)
	m := len(reference)

	reversed := make([]AlignPoint, 0, n+m)
	i, j := n, m

	for {
		reversed = append(reversed, AlignPoint{
			QueryIndex: i - 1,
			RefIndex:   j - 1,
			Cost:       d.pointDist(query[i-1], reference[j-1]),
		})

		if i == 1 && j == 1 {
			break
		}

		diag := cost(i-1, j-1)
		up := cost(i-1, j)
		left := cost(i, j-1)

		switch {
		case i > 1 && j > 1 && diag <= up && diag <= left:
			i, j = i-1, j-1
		case i > 1 && up <= left:
			i--
		default:
			j--
		}
	}

	// Reverse into chronological order
	path := make([]AlignPoint, len(reversed))
	for k, p := range reversed {
		path[len(reversed)-1-k] = p
	}
	return path
}
