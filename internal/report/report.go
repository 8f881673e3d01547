// Package report turns completed simulations into portable run records and
// on-disk artifacts: a per-run directory holding config.json, occupancy.csv,
// and summary.json, plus a run_index.json the browse tools read. It also
// owns the model-name dispatch shared by the CLI and the simulate endpoint.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fdbesanto2/EcoVirtual/internal/occupancy"
)

const indexFile = "run_index.json"

// Run is the portable record of one completed simulation.
type Run struct {
	ID        string          `json:"id"`
	Model     string          `json:"model"`
	CreatedAt time.Time       `json:"created_at"`
	Rows      int             `json:"rows"`
	Cols      int             `json:"cols"`
	Steps     int             `json:"steps"`
	Seed      int64           `json:"seed"`
	ElapsedMS int64           `json:"elapsed_ms"`
	Config    json.RawMessage `json:"config"`
	Summary   Summary         `json:"summary"`

	// Series carries the occupancy table; it is archived separately from
	// the record row and never inlined in record JSON.
	Series *occupancy.Series `json:"-"`
}

// Summary is the run digest written to summary.json and the archive.
type Summary struct {
	FinalFractions   map[string]float64 `json:"final_fractions"`
	ClampEvents      int                `json:"clamp_events"`
	DisturbanceSteps []int              `json:"disturbance_steps,omitempty"`
	StableStage      []float64          `json:"stable_stage,omitempty"`
}

// IndexEntry is one line of the artifact directory's run index.
type IndexEntry struct {
	ID           string `json:"id"`
	Model        string `json:"model"`
	Dir          string `json:"dir"`
	Steps        int    `json:"steps"`
	Seed         int64  `json:"seed"`
	CreatedAtUTC string `json:"created_at_utc"`
}

// Write lays down the run's artifact directory under baseDir, a
// <model>-<id> directory holding config.json, summary.json, and
// occupancy.csv, and appends the run to the index. Returns the run directory.
func Write(baseDir string, run *Run) (string, error) {
	if run.ID == "" {
		return "", fmt.Errorf("run id is required")
	}
	dir := filepath.Join(baseDir, run.Model+"-"+run.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(dir, "config.json"), run.Config); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(dir, "summary.json"), run.Summary); err != nil {
		return "", err
	}
	if err := WriteSeriesCSV(filepath.Join(dir, "occupancy.csv"), run.Series); err != nil {
		return "", err
	}
	entry := IndexEntry{
		ID:           run.ID,
		Model:        run.Model,
		Dir:          filepath.Base(dir),
		Steps:        run.Steps,
		Seed:         run.Seed,
		CreatedAtUTC: run.CreatedAt.UTC().Format(time.RFC3339),
	}
	if err := AppendIndex(baseDir, entry); err != nil {
		return "", err
	}
	return dir, nil
}

// WriteSeriesCSV writes one occupancy series to path.
func WriteSeriesCSV(path string, s *occupancy.Series) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := s.WriteCSV(file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// AppendIndex adds an entry to baseDir's run index, replacing any entry
// that already carries the same run id.
func AppendIndex(baseDir string, entry IndexEntry) error {
	if entry.ID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}
	index, err := ListIndex(baseDir)
	if err != nil {
		return err
	}
	for i := range index {
		if index[i].ID == entry.ID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, indexFile), index)
		}
	}
	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, indexFile), index)
}

// ListIndex returns the run index sorted newest first. A missing index file
// reads as empty.
func ListIndex(baseDir string) ([]IndexEntry, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, indexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return []IndexEntry{}, nil
		}
		return nil, err
	}
	var entries []IndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", indexFile, err)
	}
	type indexed struct {
		entry IndexEntry
		pos   int
	}
	order := make([]indexed, len(entries))
	for i, e := range entries {
		order[i] = indexed{entry: e, pos: i}
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i].entry.CreatedAtUTC == order[j].entry.CreatedAtUTC {
			// Later appended entries win ties.
			return order[i].pos > order[j].pos
		}
		return order[i].entry.CreatedAtUTC > order[j].entry.CreatedAtUTC
	})
	sorted := make([]IndexEntry, len(order))
	for i, item := range order {
		sorted[i] = item.entry
	}
	return sorted, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}
