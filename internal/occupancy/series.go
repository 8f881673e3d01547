// Package occupancy defines the per-step state-fraction time series every
// engine emits. Row t is the landscape-wide distribution observed at step
// t+1; this table is the primary artifact charting tools consume.
package occupancy

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// Series is a step-by-step table of occupancy fractions, one column per
// state or species.
type Series struct {
	Labels []string    `json:"labels"`
	Rows   [][]float64 `json:"rows"`
}

// NewSeries preallocates a series for the given horizon. Rows are appended
// in step order via Record or RecordCounts.
func NewSeries(labels []string, steps int) *Series {
	return &Series{Labels: labels, Rows: make([][]float64, 0, steps)}
}

// RecordCounts appends a row of fractions computed from integer counts out
// of total patches.
func (s *Series) RecordCounts(counts []int, total int) {
	row := make([]float64, len(counts))
	for i, c := range counts {
		row[i] = float64(c) / float64(total)
	}
	s.Rows = append(s.Rows, row)
}

// Record appends a copy of the given fraction row.
func (s *Series) Record(fractions []float64) {
	row := make([]float64, len(fractions))
	copy(row, fractions)
	s.Rows = append(s.Rows, row)
}

// Steps returns the number of recorded steps.
func (s *Series) Steps() int { return len(s.Rows) }

// Final returns the last recorded row, or nil if nothing was recorded.
func (s *Series) Final() []float64 {
	if len(s.Rows) == 0 {
		return nil
	}
	return s.Rows[len(s.Rows)-1]
}

// Column returns one category's trajectory across all steps.
func (s *Series) Column(cat int) []float64 {
	col := make([]float64, len(s.Rows))
	for t, row := range s.Rows {
		col[t] = row[cat]
	}
	return col
}

// WriteCSV writes the series with a 1-based step column followed by one
// column per label.
func (s *Series) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	header := make([]string, 0, len(s.Labels)+1)
	header = append(header, "step")
	header = append(header, s.Labels...)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("writing series header: %w", err)
	}
	rec := make([]string, len(s.Labels)+1)
	for t, row := range s.Rows {
		rec[0] = strconv.Itoa(t + 1)
		for i, f := range row {
			rec[i+1] = strconv.FormatFloat(f, 'g', -1, 64)
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("writing series row %d: %w", t+1, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
