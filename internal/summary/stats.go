package summary

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/hivdb/susc-match/internal/susc"
)

// FoldStats describes the fold changes of a group. Each fold counts as many
// times as its result's cumulative count; results without a fold are skipped.
type FoldStats struct {
	N      int // Weighted sample size
	Mean   float64
	StdDev float64 // Sample standard deviation
	Min    float64
	Q1     float64
	Median float64
	Q3     float64
	Max    float64
}

// computeFoldStats builds weighted statistics over the sample in which each
// fold is repeated cumulativeCount times.
func computeFoldStats(items []*susc.Match) FoldStats {
	var folds, weights []float64
	n := 0
	for _, m := range items {
		if m.Fold == nil || m.CumulativeCount <= 0 {
			continue
		}
		folds = append(folds, *m.Fold)
		weights = append(weights, float64(m.CumulativeCount))
		n += m.CumulativeCount
	}
	if n == 0 {
		return FoldStats{}
	}
	stat.SortWeighted(folds, weights)

	fs := FoldStats{
		N:      n,
		Mean:   stat.Mean(folds, weights),
		Min:    floats.Min(folds),
		Max:    floats.Max(folds),
		Q1:     percentile(0.25, folds, weights, n),
		Median: percentile(0.5, folds, weights, n),
		Q3:     percentile(0.75, folds, weights, n),
	}
	if n > 1 {
		fs.StdDev = stat.StdDev(folds, weights)
	}
	return fs
}

// percentile estimates the p-quantile of the repeated sample at position
// p*(n+1), interpolating between its neighbours and clamping to the extremes.
// folds must be sorted.
func percentile(p float64, folds, weights []float64, n int) float64 {
	pos := p * float64(n+1)
	switch {
	case pos < 1:
		return folds[0]
	case pos >= float64(n):
		return folds[len(folds)-1]
	}
	k := math.Floor(pos)
	lower := nthRepeated(folds, weights, int(k))
	upper := nthRepeated(folds, weights, int(k)+1)
	return lower + (pos-k)*(upper-lower)
}

// nthRepeated returns the k-th (1-based) value of the repeated sample.
func nthRepeated(folds, weights []float64, k int) float64 {
	seen := 0.0
	for i, w := range weights {
		seen += w
		if float64(k) <= seen {
			return folds[i]
		}
	}
	return folds[len(folds)-1]
}
