// Package niche implements the five-state successional niche model: early
// and late species colonize a mean-field patch landscape, late cover closes
// into a resistant stage by competitive exclusion, and disturbance reopens
// occupied patches. Transition probabilities derive from the previous
// step's global state counts only.
package niche

import (
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/fdbesanto2/EcoVirtual/internal/landscape"
	"github.com/fdbesanto2/EcoVirtual/internal/occupancy"
	"github.com/fdbesanto2/EcoVirtual/internal/sampling"
)

// State is a patch's successional condition.
type State uint8

const (
	Free        State = iota // unoccupied
	Early                    // early-successional species alone
	Susceptible              // late species present, still open to invasion
	Mixed                    // early and late species together
	Resistant                // late species, closed to invasion
)

// NumStates is the size of the model's state space.
const NumStates = 5

// Labels names the states in code order, for series columns and display.
var Labels = []string{"free", "early", "susceptible", "mixed", "resistant"}

func (s State) String() string {
	if int(s) < len(Labels) {
		return Labels[s]
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Config holds the model parameters. All rates are per step.
type Config struct {
	Rows  int   `json:"rows"`
	Cols  int   `json:"cols"`
	Steps int   `json:"steps"` // recorded steps, including the initial landscape
	Seed  int64 `json:"seed"`

	LateColonization  float64 `json:"late_colonization"`  // late species, sourced from susceptible+mixed+resistant cover
	EarlyColonization float64 `json:"early_colonization"` // early species, sourced from early+mixed cover
	Exclusion         float64 `json:"exclusion"`          // susceptible and mixed patches close into resistant
	Disturbance       float64 `json:"disturbance"`        // occupied patches revert to free

	InitEarly       float64 `json:"init_early"`
	InitSusceptible float64 `json:"init_susceptible"`
	InitMixed       float64 `json:"init_mixed"`
	InitResistant   float64 `json:"init_resistant"`

	Clustered  bool    `json:"clustered,omitempty"`   // contiguous initial cover instead of uniform placement
	NoiseScale float64 `json:"noise_scale,omitempty"` // base noise frequency for clustered seeding
}

// DefaultConfig mirrors the classic classroom parameterization of the model.
func DefaultConfig() Config {
	return Config{
		Rows:              20,
		Cols:              20,
		Steps:             50,
		Seed:              1,
		LateColonization:  0.2,
		EarlyColonization: 0.8,
		Exclusion:         0.5,
		Disturbance:       0.04,
		InitEarly:         0.08,
		InitSusceptible:   0.02,
	}
}

// Validate checks dimensions, rate ranges, and the initial fractions.
func (c Config) Validate() error {
	if c.Rows < 1 || c.Cols < 1 {
		return fmt.Errorf("landscape dimensions must be positive, got %dx%d", c.Rows, c.Cols)
	}
	if c.Steps < 1 {
		return fmt.Errorf("steps must be at least 1, got %d", c.Steps)
	}
	if c.LateColonization < 0 || c.EarlyColonization < 0 {
		return fmt.Errorf("colonization rates must be non-negative, got %v and %v",
			c.LateColonization, c.EarlyColonization)
	}
	if c.Exclusion < 0 || c.Exclusion > 1 {
		return fmt.Errorf("exclusion rate %v outside [0,1]", c.Exclusion)
	}
	if c.Disturbance < 0 || c.Disturbance > 1 {
		return fmt.Errorf("disturbance rate %v outside [0,1]", c.Disturbance)
	}
	for _, f := range []float64{c.InitEarly, c.InitSusceptible, c.InitMixed, c.InitResistant} {
		if f < 0 || f > 1 {
			return fmt.Errorf("initial fraction %v outside [0,1]: %w", f, sampling.ErrInitialDistribution)
		}
	}
	occupied := c.InitEarly + c.InitSusceptible + c.InitMixed + c.InitResistant
	if occupied > 1 {
		return fmt.Errorf("initial fractions sum to %v, free fraction would be negative: %w",
			occupied, sampling.ErrInitialDistribution)
	}
	return nil
}

func (c Config) initialWeights() []float64 {
	occupied := c.InitEarly + c.InitSusceptible + c.InitMixed + c.InitResistant
	return []float64{1 - occupied, c.InitEarly, c.InitSusceptible, c.InitMixed, c.InitResistant}
}

// Model advances one landscape through the successional dynamics.
type Model struct {
	cfg     Config
	rng     *rand.Rand
	grid    *landscape.Grid
	scratch *landscape.Grid
	history *landscape.History
	series  *occupancy.Series
	clamps  int
}

// Result bundles a completed run. History and Series are read-only once
// returned.
type Result struct {
	Config  Config
	History *landscape.History
	Series  *occupancy.Series
	Clamps  int // transition weights clamped to keep them non-negative
}

// New validates cfg, seeds the initial landscape, and records it as step 1.
// Validation failures return before any grid allocation or randomness.
func New(cfg Config) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("niche config: %w", err)
	}
	grid, err := landscape.New(cfg.Rows, cfg.Cols)
	if err != nil {
		return nil, err
	}
	m := &Model{
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
		grid:    grid,
		scratch: grid.Clone(),
		history: landscape.NewHistory(cfg.Rows, cfg.Cols, cfg.Steps),
		series:  occupancy.NewSeries(Labels, cfg.Steps),
	}
	weights := cfg.initialWeights()
	if cfg.Clustered {
		counts := sampling.Apportion(weights, grid.Patches())
		if err := landscape.SeedClustered(grid, counts, cfg.Seed, cfg.NoiseScale); err != nil {
			return nil, err
		}
	} else if err := landscape.SeedCategorical(m.rng, grid, weights); err != nil {
		return nil, err
	}
	m.record()
	return m, nil
}

func (m *Model) record() {
	m.history.Record(m.grid)
	m.series.RecordCounts(m.grid.Counts(NumStates), m.grid.Patches())
}

// Step advances the landscape one timestep. Each patch is resampled exactly
// once from the probability vector of its current state. Stay probabilities
// can go negative when rate sums exceed 1; they are clamped to zero without
// renormalizing, dropping the excess mass.
func (m *Model) Step() error {
	counts := m.grid.Counts(NumStates)
	n := float64(m.grid.Patches())
	pcol1 := m.cfg.LateColonization * float64(counts[Susceptible]+counts[Mixed]+counts[Resistant]) / n
	pcol2 := m.cfg.EarlyColonization * float64(counts[Early]+counts[Mixed]) / n
	dst := m.cfg.Disturbance
	ec := m.cfg.Exclusion

	var vecs [NumStates][NumStates]float64
	vecs[Free][Free] = 1 - pcol1 - pcol2
	vecs[Free][Early] = pcol2
	vecs[Free][Susceptible] = pcol1

	vecs[Early][Free] = dst
	vecs[Early][Early] = 1 - (dst + pcol1)
	vecs[Early][Mixed] = pcol1

	vecs[Susceptible][Free] = dst
	vecs[Susceptible][Susceptible] = 1 - (dst + pcol2 + ec)
	vecs[Susceptible][Mixed] = pcol2
	vecs[Susceptible][Resistant] = ec

	vecs[Mixed][Free] = dst
	vecs[Mixed][Mixed] = 1 - (dst + ec)
	vecs[Mixed][Resistant] = ec

	vecs[Resistant][Free] = dst
	vecs[Resistant][Resistant] = 1 - dst

	var dists [NumStates]sampling.Distribution
	for s := range vecs {
		d, clamped, err := sampling.NewDistribution(vecs[s][:])
		if err != nil {
			return fmt.Errorf("%s transition weights: %w", State(s), err)
		}
		m.clamps += clamped
		dists[s] = d
	}

	sampling.Resample(m.rng, m.grid.Cells(), m.scratch.Cells(), dists[:])
	m.grid, m.scratch = m.scratch, m.grid
	m.record()
	return nil
}

// Run advances through the configured horizon and returns the result. The
// model must not be stepped again afterwards.
func (m *Model) Run() (*Result, error) {
	for m.series.Steps() < m.cfg.Steps {
		if err := m.Step(); err != nil {
			return nil, err
		}
	}
	if m.clamps > 0 {
		slog.Warn("transition weights clamped; rate sums exceed 1",
			"model", "niche", "events", m.clamps)
	}
	return &Result{Config: m.cfg, History: m.history, Series: m.series, Clamps: m.clamps}, nil
}
