// Package markov implements the generic stage-structured succession model:
// patches move between N stages according to a user-supplied transition
// matrix, with rows indexing the destination stage and columns the source.
// Because the matrix is fixed, the per-stage sampling distributions are
// built once up front; the run itself is the same partition-and-resample
// loop the other engines use. The dominant eigenvector of the matrix gives
// the theoretical stable stage distribution, exposed alongside the
// simulated series.
package markov

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/fdbesanto2/EcoVirtual/internal/landscape"
	"github.com/fdbesanto2/EcoVirtual/internal/occupancy"
	"github.com/fdbesanto2/EcoVirtual/internal/sampling"
)

// sumTolerance bounds how far a column or proportion sum may drift from 1.
const sumTolerance = 1e-9

// Config holds the model parameters.
type Config struct {
	Rows  int   `json:"rows"`
	Cols  int   `json:"cols"`
	Steps int   `json:"steps"` // recorded steps, including the initial landscape
	Seed  int64 `json:"seed"`

	// Transition[i][j] is the probability that a patch in stage j moves to
	// stage i next step (rows = destination, columns = source). Every column
	// must sum to 1, so no patch area is lost.
	Transition [][]float64 `json:"transition"`

	// InitProp holds the initial stage proportions; its length must equal
	// the matrix dimension and it must sum to 1.
	InitProp []float64 `json:"init_prop"`

	Clustered  bool    `json:"clustered,omitempty"`   // contiguous initial cover instead of uniform placement
	NoiseScale float64 `json:"noise_scale,omitempty"` // base noise frequency for clustered seeding
}

// DefaultConfig describes a small three-stage succession: pioneers give way
// to an intermediate stage, which closes into a persistent late stage.
func DefaultConfig() Config {
	return Config{
		Rows:  20,
		Cols:  20,
		Steps: 40,
		Seed:  1,
		Transition: [][]float64{
			{0.50, 0.10, 0.05},
			{0.40, 0.60, 0.15},
			{0.10, 0.30, 0.80},
		},
		InitProp: []float64{0.8, 0.15, 0.05},
	}
}

// Stages returns the matrix dimension.
func (c Config) Stages() int { return len(c.Transition) }

// Validate checks the matrix shape, its column sums, and the initial
// proportions. It runs before any grid allocation or randomness.
func (c Config) Validate() error {
	if c.Rows < 1 || c.Cols < 1 {
		return fmt.Errorf("landscape dimensions must be positive, got %dx%d", c.Rows, c.Cols)
	}
	if c.Steps < 1 {
		return fmt.Errorf("steps must be at least 1, got %d", c.Steps)
	}
	n := len(c.Transition)
	if n < 1 || n > 255 {
		return fmt.Errorf("transition matrix dimension %d outside 1..255", n)
	}
	for i, row := range c.Transition {
		if len(row) != n {
			return fmt.Errorf("transition matrix is not square: row %d has %d entries, want %d",
				i+1, len(row), n)
		}
	}
	col := make([]float64, n)
	for j := 0; j < n; j++ {
		for i := 0; i < n; i++ {
			p := c.Transition[i][j]
			if p < 0 {
				return fmt.Errorf("transition[%d][%d] = %v is negative: %w",
					i+1, j+1, p, sampling.ErrProbabilityMass)
			}
			col[i] = p
		}
		if s := floats.Sum(col); math.Abs(s-1) > sumTolerance {
			return fmt.Errorf("transition column %d sums to %v, want 1: %w",
				j+1, s, sampling.ErrProbabilityMass)
		}
	}
	if len(c.InitProp) != n {
		return fmt.Errorf("initial proportions have %d entries for %d stages: %w",
			len(c.InitProp), n, sampling.ErrInitialDistribution)
	}
	for i, p := range c.InitProp {
		if p < 0 || p > 1 {
			return fmt.Errorf("initial proportion %v for stage %d outside [0,1]: %w",
				p, i+1, sampling.ErrInitialDistribution)
		}
	}
	if s := floats.Sum(c.InitProp); math.Abs(s-1) > sumTolerance {
		return fmt.Errorf("initial proportions sum to %v, want 1: %w", s, sampling.ErrInitialDistribution)
	}
	return nil
}

// StableStage returns the theoretical equilibrium patch counts on a
// landscape of the given size: the eigenvector of the dominant eigenvalue
// (largest real part), real parts normalized to sum 1 and scaled by the
// patch count. For a valid non-negative column-stochastic matrix the
// entries are non-negative and sum to patches.
func (c Config) StableStage(patches int) ([]float64, error) {
	n := len(c.Transition)
	data := make([]float64, 0, n*n)
	for i := 0; i < n; i++ {
		data = append(data, c.Transition[i]...)
	}
	var eig mat.Eigen
	if ok := eig.Factorize(mat.NewDense(n, n, data), mat.EigenRight); !ok {
		return nil, fmt.Errorf("eigendecomposition of the transition matrix failed")
	}
	values := eig.Values(nil)
	dominant := 0
	for i, v := range values {
		if real(v) > real(values[dominant]) {
			dominant = i
		}
	}
	var vectors mat.CDense
	eig.VectorsTo(&vectors)
	stage := make([]float64, n)
	for i := 0; i < n; i++ {
		stage[i] = real(vectors.At(i, dominant))
	}
	total := floats.Sum(stage)
	if math.Abs(total) < sumTolerance {
		return nil, fmt.Errorf("dominant eigenvector of the transition matrix has no mass")
	}
	floats.Scale(float64(patches)/total, stage)
	return stage, nil
}

// Model advances one landscape through the stage transitions.
type Model struct {
	cfg     Config
	rng     *rand.Rand
	grid    *landscape.Grid
	scratch *landscape.Grid
	dists   []sampling.Distribution
	stable  []float64
	history *landscape.History
	series  *occupancy.Series
}

// Result bundles a completed run. History and Series are read-only once
// returned; StableStage holds the matrix's theoretical equilibrium counts.
type Result struct {
	Config      Config
	History     *landscape.History
	Series      *occupancy.Series
	StableStage []float64
}

// New validates cfg, places the initial stages, and records them as step 1.
// Validation failures return before any grid allocation or randomness.
func New(cfg Config) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("markov config: %w", err)
	}
	stable, err := cfg.StableStage(cfg.Rows * cfg.Cols)
	if err != nil {
		return nil, fmt.Errorf("markov config: %w", err)
	}
	grid, err := landscape.New(cfg.Rows, cfg.Cols)
	if err != nil {
		return nil, err
	}

	n := cfg.Stages()
	dists := make([]sampling.Distribution, n)
	weights := make([]float64, n)
	for j := 0; j < n; j++ {
		for i := 0; i < n; i++ {
			weights[i] = cfg.Transition[i][j]
		}
		d, _, err := sampling.NewDistribution(weights)
		if err != nil {
			return nil, fmt.Errorf("stage %d transition weights: %w", j+1, err)
		}
		dists[j] = d
	}

	m := &Model{
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
		grid:    grid,
		scratch: grid.Clone(),
		dists:   dists,
		stable:  stable,
		history: landscape.NewHistory(cfg.Rows, cfg.Cols, cfg.Steps),
		series:  occupancy.NewSeries(stageLabels(n), cfg.Steps),
	}
	counts := sampling.Apportion(cfg.InitProp, grid.Patches())
	if cfg.Clustered {
		if err := landscape.SeedClustered(grid, counts, cfg.Seed, cfg.NoiseScale); err != nil {
			return nil, err
		}
	} else if err := landscape.SeedCounts(m.rng, grid, counts); err != nil {
		return nil, err
	}
	m.record()
	return m, nil
}

func stageLabels(n int) []string {
	labels := make([]string, n)
	for i := range labels {
		labels[i] = fmt.Sprintf("stage %d", i+1)
	}
	return labels
}

func (m *Model) record() {
	m.history.Record(m.grid)
	m.series.RecordCounts(m.grid.Counts(m.cfg.Stages()), m.grid.Patches())
}

// Step advances the landscape one timestep: every patch in stage j draws
// its next stage from column j of the transition matrix.
func (m *Model) Step() {
	sampling.Resample(m.rng, m.grid.Cells(), m.scratch.Cells(), m.dists)
	m.grid, m.scratch = m.scratch, m.grid
	m.record()
}

// Run advances through the configured horizon and returns the result. The
// model must not be stepped again afterwards.
func (m *Model) Run() *Result {
	for m.series.Steps() < m.cfg.Steps {
		m.Step()
	}
	return &Result{
		Config:      m.cfg,
		History:     m.history,
		Series:      m.series,
		StableStage: m.stable,
	}
}
