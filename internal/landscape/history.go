package landscape

// History is the full spatial record of a run: one snapshot per recorded
// step. The backing storage for the whole horizon is allocated up front;
// the engine fills it one step at a time and callers treat it as read-only
// once the run completes.
type History struct {
	Rows int
	Cols int

	backing []uint8
	snaps   [][]uint8
}

// NewHistory preallocates room for steps snapshots of a rows x cols grid.
func NewHistory(rows, cols, steps int) *History {
	n := rows * cols
	return &History{
		Rows:    rows,
		Cols:    cols,
		backing: make([]uint8, n*steps),
		snaps:   make([][]uint8, 0, steps),
	}
}

// Record appends a snapshot of g. Snapshots beyond the preallocated horizon
// grow the backing store, but engines never exceed it.
func (h *History) Record(g *Grid) {
	n := g.Patches()
	at := len(h.snaps) * n
	var snap []uint8
	if at+n <= len(h.backing) {
		snap = h.backing[at : at+n : at+n]
	} else {
		snap = make([]uint8, n)
	}
	copy(snap, g.Cells())
	h.snaps = append(h.snaps, snap)
}

// Steps returns the number of recorded snapshots.
func (h *History) Steps() int { return len(h.snaps) }

// At returns the snapshot for the given step index (0-based, step 0 is the
// initial landscape). The returned slice must not be modified.
func (h *History) At(step int) []uint8 { return h.snaps[step] }

// CountsAt tallies the snapshot at step into per-state counts.
func (h *History) CountsAt(step, states int) []int {
	counts := make([]int, states)
	for _, s := range h.snaps[step] {
		counts[s]++
	}
	return counts
}
