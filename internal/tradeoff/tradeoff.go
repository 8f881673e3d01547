// Package tradeoff implements the competition-colonization trade-off model.
// S species share a mean-field landscape under a strict competitive
// hierarchy: rank 1 is the strongest competitor and the weakest colonizer,
// and colonization ability rises steeply with rank. Scheduled disturbance
// pulses clear patches independently of the competition.
//
// Rank resolution order is the model's central invariant: within a step the
// ranks are processed from S down to 1, so the strongest species acts last
// and overwrites any claim a weaker species made in the same step.
package tradeoff

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"

	"github.com/fdbesanto2/EcoVirtual/internal/landscape"
	"github.com/fdbesanto2/EcoVirtual/internal/occupancy"
	"github.com/fdbesanto2/EcoVirtual/internal/sampling"
)

// Empty marks an unoccupied patch; occupied patches hold a species rank
// 1..S.
const Empty uint8 = 0

// Colonization probabilities are capped here to stay below certainty.
const maxColonization = 0.999

// Config holds the model parameters.
type Config struct {
	Rows    int   `json:"rows"`
	Cols    int   `json:"cols"`
	Species int   `json:"species"`
	Steps   int   `json:"steps"` // recorded steps, including the initial landscape
	Seed    int64 `json:"seed"`

	// InitOccupied is either one element (total occupied fraction, species
	// spread evenly among occupants) or Species elements (per-species
	// fractions placed exactly).
	InitOccupied []float64 `json:"init_occupied"`

	BestShare        float64 `json:"best_share"`        // equilibrium abundance of the rank-1 competitor, in (0,1)
	Mortality        float64 `json:"mortality"`         // per-step death probability for occupied patches
	DisturbFreq      float64 `json:"disturb_freq"`      // fraction of steps that are disturbance events
	DisturbIntensity float64 `json:"disturb_intensity"` // fraction of patches cleared per event
}

// DefaultConfig returns a moderate five-species community with no
// disturbance pulses.
func DefaultConfig() Config {
	return Config{
		Rows:         20,
		Cols:         20,
		Species:      5,
		Steps:        100,
		Seed:         1,
		InitOccupied: []float64{0.1},
		BestShare:    0.2,
		Mortality:    0.04,
	}
}

// Validate checks dimensions, rates, and the initial occupancy shape.
func (c Config) Validate() error {
	if c.Rows < 1 || c.Cols < 1 {
		return fmt.Errorf("landscape dimensions must be positive, got %dx%d", c.Rows, c.Cols)
	}
	if c.Steps < 1 {
		return fmt.Errorf("steps must be at least 1, got %d", c.Steps)
	}
	if c.Species < 1 || c.Species > 255 {
		return fmt.Errorf("species count %d outside 1..255", c.Species)
	}
	if c.BestShare <= 0 || c.BestShare >= 1 {
		return fmt.Errorf("best competitor share %v outside (0,1)", c.BestShare)
	}
	if c.Mortality < 0 || c.Mortality > 1 {
		return fmt.Errorf("mortality %v outside [0,1]", c.Mortality)
	}
	if c.DisturbFreq < 0 || c.DisturbFreq > 1 {
		return fmt.Errorf("disturbance frequency %v outside [0,1]", c.DisturbFreq)
	}
	if c.DisturbIntensity < 0 || c.DisturbIntensity > 1 {
		return fmt.Errorf("disturbance intensity %v outside [0,1]", c.DisturbIntensity)
	}
	if n := len(c.InitOccupied); n != 1 && n != c.Species {
		return fmt.Errorf("initial occupancy has %d entries, want 1 or %d: %w",
			n, c.Species, sampling.ErrInitialDistribution)
	}
	for _, f := range c.InitOccupied {
		if f < 0 || f > 1 {
			return fmt.Errorf("initial occupancy %v outside [0,1]: %w", f, sampling.ErrInitialDistribution)
		}
	}
	return nil
}

// Colonization returns the per-rank colonization abilities, indexed by rank
// (index 0 is unused). The trade-off curve ci = pe/(1-fsp1)^(2r-1) rises
// strictly with rank: weaker competitors colonize faster.
func (c Config) Colonization() []float64 {
	ci := make([]float64, c.Species+1)
	for r := 1; r <= c.Species; r++ {
		ci[r] = c.Mortality / math.Pow(1-c.BestShare, float64(2*r-1))
	}
	return ci
}

// DisturbanceSteps returns the 1-based steps carrying a disturbance pulse:
// round(freq*steps) events spread evenly after step 1. Nil when frequency
// or intensity is zero.
func (c Config) DisturbanceSteps() []int {
	if c.DisturbFreq <= 0 || c.DisturbIntensity <= 0 {
		return nil
	}
	k := int(math.Round(c.DisturbFreq * float64(c.Steps)))
	if k < 1 {
		return nil
	}
	span := float64(c.Steps - 1)
	steps := make([]int, 0, k)
	for j := 1; j <= k; j++ {
		s := 1 + int(math.Round(float64(j)*span/float64(k)))
		if len(steps) == 0 || steps[len(steps)-1] != s {
			steps = append(steps, s)
		}
	}
	return steps
}

// Model advances one landscape through the trade-off dynamics. Only the
// aggregated occupancy series is retained; species identity beyond rank
// carries no spatial meaning here.
type Model struct {
	cfg        Config
	rng        *rand.Rand
	grid       *landscape.Grid
	prevCounts []int // per-rank patch counts after the previous step
	ci         []float64
	disturb    map[int]bool
	series     *occupancy.Series
	clamps     int
}

// Result bundles a completed run.
type Result struct {
	Config       Config
	Series       *occupancy.Series
	Disturbances []int
	Clamps       int // colonization probabilities capped at 0.999
}

// New validates cfg, places the initial community, and records it as step 1.
// Validation failures return before any grid allocation or randomness.
func New(cfg Config) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("tradeoff config: %w", err)
	}
	grid, err := landscape.New(cfg.Rows, cfg.Cols)
	if err != nil {
		return nil, err
	}
	m := &Model{
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
		grid:    grid,
		ci:      cfg.Colonization(),
		disturb: make(map[int]bool),
		series:  occupancy.NewSeries(speciesLabels(cfg.Species), cfg.Steps),
	}
	for _, s := range cfg.DisturbanceSteps() {
		m.disturb[s] = true
	}

	counts, err := cfg.initialCounts(grid.Patches())
	if err != nil {
		return nil, err
	}
	if err := landscape.SeedCounts(m.rng, grid, counts); err != nil {
		return nil, err
	}
	m.prevCounts = grid.Counts(cfg.Species + 1)
	m.recordRow()
	return m, nil
}

// initialCounts translates InitOccupied into exact per-rank patch counts,
// index 0 left zero for empty.
func (c Config) initialCounts(patches int) ([]int, error) {
	counts := make([]int, c.Species+1)
	if len(c.InitOccupied) == 1 {
		// Scalar form: occupants spread round-robin so every species
		// holds at least one patch whenever the community fits.
		occupied := int(math.Round(c.InitOccupied[0] * float64(patches)))
		base := occupied / c.Species
		extra := occupied % c.Species
		for r := 1; r <= c.Species; r++ {
			counts[r] = base
			if r <= extra {
				counts[r]++
			}
		}
		return counts, nil
	}
	total := 0
	for r := 1; r <= c.Species; r++ {
		counts[r] = int(math.Round(c.InitOccupied[r-1] * float64(patches)))
		total += counts[r]
	}
	if total > patches {
		return nil, fmt.Errorf("initial fractions place %d patches on a %d-patch landscape: %w",
			total, patches, sampling.ErrInitialDistribution)
	}
	return counts, nil
}

func speciesLabels(s int) []string {
	labels := make([]string, s)
	for r := 1; r <= s; r++ {
		labels[r-1] = fmt.Sprintf("species %d", r)
	}
	return labels
}

func (m *Model) recordRow() {
	fr := make([]float64, m.cfg.Species)
	n := float64(m.grid.Patches())
	for r := 1; r <= m.cfg.Species; r++ {
		fr[r-1] = float64(m.prevCounts[r]) / n
	}
	m.series.Record(fr)
}

// Step advances the landscape one timestep. Colonization pressure comes
// from the previous step's occupancy fractions; the grid itself is the
// same-step buffer the ranks fight over, weakest rank first.
func (m *Model) Step() {
	n := m.grid.Patches()
	nf := float64(n)
	cells := m.grid.Cells()

	for rs := m.cfg.Species; rs >= 1; rs-- {
		pi := m.ci[rs] * float64(m.prevCounts[rs]) / nf
		if pi > maxColonization {
			pi = maxColonization
			m.clamps++
		}
		m.resolveRank(uint8(rs), pi)
	}

	if m.disturb[m.series.Steps()+1] {
		cleared := int(math.Round(m.cfg.DisturbIntensity * nf))
		for _, i := range m.rng.Perm(n)[:cleared] {
			cells[i] = Empty
		}
	}

	m.prevCounts = m.grid.Counts(m.cfg.Species + 1)
	m.recordRow()
}

// resolveRank applies one rank's turn on the mutation buffer: mortality
// over the patches it holds, then colonization of every eligible target.
// Eligible targets are empty patches and strictly weaker holders, including
// claims weaker ranks made earlier in the same step. Draws are consumed in
// cell-index order, mortality before colonization.
func (m *Model) resolveRank(rank uint8, pi float64) {
	cells := m.grid.Cells()
	for i, s := range cells {
		if s == rank && m.rng.Float64() < m.cfg.Mortality {
			cells[i] = Empty
		}
	}
	if pi <= 0 {
		return
	}
	for i, s := range cells {
		if (s == Empty || s > rank) && m.rng.Float64() < pi {
			cells[i] = rank
		}
	}
}

// Run advances through the configured horizon and returns the result.
func (m *Model) Run() *Result {
	for m.series.Steps() < m.cfg.Steps {
		m.Step()
	}
	if m.clamps > 0 {
		slog.Warn("colonization probabilities capped",
			"model", "tradeoff", "events", m.clamps, "cap", maxColonization)
	}
	return &Result{
		Config:       m.cfg,
		Series:       m.series,
		Disturbances: m.cfg.DisturbanceSteps(),
		Clamps:       m.clamps,
	}
}
