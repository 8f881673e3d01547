// Package landscape holds the patch lattice the simulation engines run on:
// a fixed rows x cols grid of byte-coded states, per-run snapshot history,
// and the initial seeding strategies. State codes are model-specific; the
// grid only stores and counts them.
package landscape

import "fmt"

// Grid is a rows x cols landscape of patches in row-major order. Each patch
// holds exactly one state code at a time.
type Grid struct {
	Rows int
	Cols int

	cells []uint8
}

// New creates a zeroed grid.
func New(rows, cols int) (*Grid, error) {
	if rows < 1 || cols < 1 {
		return nil, fmt.Errorf("landscape dimensions must be positive, got %dx%d", rows, cols)
	}
	return &Grid{Rows: rows, Cols: cols, cells: make([]uint8, rows*cols)}, nil
}

// Patches returns the total patch count N.
func (g *Grid) Patches() int { return len(g.cells) }

// Cells returns the backing slice in row-major order. Engines mutate it in
// place between snapshots.
func (g *Grid) Cells() []uint8 { return g.cells }

// At returns the state of the patch at row r, column c.
func (g *Grid) At(r, c int) uint8 { return g.cells[r*g.Cols+c] }

// Set writes the state of the patch at row r, column c.
func (g *Grid) Set(r, c int, state uint8) { g.cells[r*g.Cols+c] = state }

// Clone returns an independent copy.
func (g *Grid) Clone() *Grid {
	cells := make([]uint8, len(g.cells))
	copy(cells, g.cells)
	return &Grid{Rows: g.Rows, Cols: g.Cols, cells: cells}
}

// Counts tallies patches per state code 0..states-1. A cell whose code is
// outside that range is a programming error and panics.
func (g *Grid) Counts(states int) []int {
	counts := make([]int, states)
	for _, s := range g.cells {
		counts[s]++
	}
	return counts
}

func (g *Grid) String() string {
	return fmt.Sprintf("Grid(%dx%d, %d patches)", g.Rows, g.Cols, g.Patches())
}
