// Initial landscape seeding: uniform categorical draws, exact-count random
// permutation, and noise-clustered placement. Clustering only shapes how
// the starting map looks; the mean-field dynamics never read positions.
package landscape

import (
	"fmt"
	"math/rand"
	"sort"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/fdbesanto2/EcoVirtual/internal/sampling"
)

// SeedCategorical fills g by drawing each patch's state independently from
// the categorical distribution given by weights (one weight per state code).
// Draws are made in cell-index order from rng.
func SeedCategorical(rng *rand.Rand, g *Grid, weights []float64) error {
	d, _, err := sampling.NewDistribution(weights)
	if err != nil {
		return fmt.Errorf("seeding landscape: %w", err)
	}
	cells := g.Cells()
	for i := range cells {
		cells[i] = uint8(d.Draw(rng))
	}
	return nil
}

// SeedCounts places exact per-state counts by a single random permutation
// of the landscape: counts[s] patches receive state s, remaining patches
// keep state 0.
func SeedCounts(rng *rand.Rand, g *Grid, counts []int) error {
	if err := checkCounts(g, counts, false); err != nil {
		return err
	}
	perm := rng.Perm(g.Patches())
	cells := g.Cells()
	for i := range cells {
		cells[i] = 0
	}
	idx := 0
	for s, c := range counts {
		for j := 0; j < c; j++ {
			cells[perm[idx]] = uint8(s)
			idx++
		}
	}
	return nil
}

// SeedClustered places exact per-state counts as contiguous cover: octave
// simplex noise orders the patches, and each state takes one quantile block
// of that ordering. counts must cover every patch. The layout is a pure
// function of seed, so no rng draws are consumed.
func SeedClustered(g *Grid, counts []int, seed int64, scale float64) error {
	if err := checkCounts(g, counts, true); err != nil {
		return err
	}
	if scale <= 0 {
		scale = 0.08
	}
	noise := opensimplex.NewNormalized(seed)

	n := g.Patches()
	type ranked struct {
		idx int
		v   float64
	}
	order := make([]ranked, n)
	for i := 0; i < n; i++ {
		r := i / g.Cols
		c := i % g.Cols
		order[i] = ranked{idx: i, v: octaveNoise(noise, float64(c), float64(r), 3, scale, 0.5)}
	}
	sort.Slice(order, func(a, b int) bool {
		if order[a].v != order[b].v {
			return order[a].v < order[b].v
		}
		return order[a].idx < order[b].idx
	})

	cells := g.Cells()
	pos := 0
	for s, c := range counts {
		for j := 0; j < c; j++ {
			cells[order[pos].idx] = uint8(s)
			pos++
		}
	}
	return nil
}

func checkCounts(g *Grid, counts []int, exact bool) error {
	if len(counts) > 256 {
		return fmt.Errorf("%d states exceed the byte-coded landscape: %w", len(counts), sampling.ErrInitialDistribution)
	}
	total := 0
	for s, c := range counts {
		if c < 0 {
			return fmt.Errorf("state %d count %d: %w", s, c, sampling.ErrInitialDistribution)
		}
		total += c
	}
	if total > g.Patches() || (exact && total != g.Patches()) {
		return fmt.Errorf("counts sum to %d on %d patches: %w", total, g.Patches(), sampling.ErrInitialDistribution)
	}
	return nil
}

// octaveNoise layers multiple noise frequencies; persistence controls how
// fast the higher octaves fade.
func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0
	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}
	return total / maxVal
}
