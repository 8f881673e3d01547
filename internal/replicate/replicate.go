// Package replicate repeats a stochastic run under consecutive seeds and
// aggregates the per-step occupancy fractions into mean and standard
// deviation series, smoothing out single-trajectory noise.
package replicate

import (
	"fmt"
	"slices"

	"gonum.org/v1/gonum/stat"

	"github.com/fdbesanto2/EcoVirtual/internal/occupancy"
)

// Runner produces one replicate's occupancy series for a seed.
type Runner func(seed int64) (*occupancy.Series, error)

// Batch holds the aggregated outcome of a replicate set.
type Batch struct {
	Replicates int
	BaseSeed   int64
	Mean       *occupancy.Series
	Std        *occupancy.Series
}

// Run executes runner for seeds base, base+1, ..., base+n-1 and aggregates
// the resulting series step by step. Every replicate must produce an
// identically shaped series. The standard deviation is the sample standard
// deviation across replicates; with a single replicate it is zero.
func Run(runner Runner, n int, base int64) (*Batch, error) {
	if n < 1 {
		return nil, fmt.Errorf("replicate count must be at least 1, got %d", n)
	}
	series := make([]*occupancy.Series, n)
	for i := range series {
		seed := base + int64(i)
		s, err := runner(seed)
		if err != nil {
			return nil, fmt.Errorf("replicate %d (seed %d): %w", i+1, seed, err)
		}
		series[i] = s
	}
	first := series[0]
	for i, s := range series[1:] {
		if s.Steps() != first.Steps() || !slices.Equal(s.Labels, first.Labels) {
			return nil, fmt.Errorf("replicate %d shape %dx%d does not match %dx%d",
				i+2, s.Steps(), len(s.Labels), first.Steps(), len(first.Labels))
		}
	}

	mean := occupancy.NewSeries(first.Labels, first.Steps())
	std := occupancy.NewSeries(first.Labels, first.Steps())
	sample := make([]float64, n)
	for t := 0; t < first.Steps(); t++ {
		meanRow := make([]float64, len(first.Labels))
		stdRow := make([]float64, len(first.Labels))
		for c := range first.Labels {
			for i, s := range series {
				sample[i] = s.Rows[t][c]
			}
			if n == 1 {
				meanRow[c] = sample[0]
			} else {
				meanRow[c], stdRow[c] = stat.MeanStdDev(sample, nil)
			}
		}
		mean.Record(meanRow)
		std.Record(stdRow)
	}
	return &Batch{Replicates: n, BaseSeed: base, Mean: mean, Std: std}, nil
}
