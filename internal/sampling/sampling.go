// Package sampling provides the seeded categorical sampling and probability
// bookkeeping shared by the simulation engines. Every engine owns a single
// rand.Rand and consumes it in cell-index order, so a fixed seed reproduces
// a run exactly.
package sampling

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// Validation sentinels. Engines wrap these with the offending values so
// callers can discriminate failures with errors.Is.
var (
	// ErrProbabilityMass reports a probability vector that must sum to 1
	// but does not.
	ErrProbabilityMass = errors.New("probability mass does not sum to 1")

	// ErrInitialDistribution reports invalid initial fractions or
	// proportions.
	ErrInitialDistribution = errors.New("invalid initial distribution")
)

// Distribution is a categorical distribution over outcomes 0..K-1, sampled
// proportionally to a non-negative weight vector. Weights need not sum to 1:
// when a clamped vector has lost mass, sampling stays proportional to
// whatever mass remains rather than redistributing the dropped share.
type Distribution struct {
	cum []float64
}

// NewDistribution builds a distribution from weights. Negative weights are
// clamped to zero and counted; the count is returned so callers can surface
// clamping as a warning. The clamped vector must retain positive total mass.
func NewDistribution(weights []float64) (Distribution, int, error) {
	if len(weights) == 0 {
		return Distribution{}, 0, errors.New("empty weight vector")
	}
	clamped := 0
	cum := make([]float64, len(weights))
	total := 0.0
	for i, w := range weights {
		if w < 0 {
			w = 0
			clamped++
		}
		total += w
		cum[i] = total
	}
	if total <= 0 {
		return Distribution{}, clamped, fmt.Errorf("weight vector %v has no positive mass", weights)
	}
	return Distribution{cum: cum}, clamped, nil
}

// K returns the number of outcomes.
func (d Distribution) K() int { return len(d.cum) }

// Prob returns the effective probability of outcome i after normalization.
func (d Distribution) Prob(i int) float64 {
	w := d.cum[i]
	if i > 0 {
		w -= d.cum[i-1]
	}
	return w / d.cum[len(d.cum)-1]
}

// Draw samples one outcome. Outcomes with zero weight are never drawn.
func (d Distribution) Draw(rng *rand.Rand) int {
	u := rng.Float64() * d.cum[len(d.cum)-1]
	return sort.Search(len(d.cum), func(i int) bool { return d.cum[i] > u })
}

// Resample draws a successor state for every cell of prev, using the
// distribution indexed by the cell's current state, and writes the result
// into next. This is equivalent to resampling each state partition
// independently over its own probability vector; cells are visited in index
// order so runs stay reproducible. prev and next must have the same length.
func Resample(rng *rand.Rand, prev, next []uint8, dists []Distribution) {
	for i, s := range prev {
		next[i] = uint8(dists[s].Draw(rng))
	}
}

// Apportion splits n into integer counts proportional to props using
// largest-remainder rounding, so the counts sum to exactly n. Ties go to
// the lower index.
func Apportion(props []float64, n int) []int {
	counts := make([]int, len(props))
	type remainder struct {
		idx  int
		frac float64
	}
	rems := make([]remainder, len(props))
	assigned := 0
	for i, p := range props {
		exact := p * float64(n)
		whole := int(math.Floor(exact))
		counts[i] = whole
		assigned += whole
		rems[i] = remainder{idx: i, frac: exact - float64(whole)}
	}
	sort.Slice(rems, func(a, b int) bool {
		if rems[a].frac != rems[b].frac {
			return rems[a].frac > rems[b].frac
		}
		return rems[a].idx < rems[b].idx
	})
	for k := 0; assigned < n; k++ {
		counts[rems[k%len(rems)].idx]++
		assigned++
	}
	return counts
}
