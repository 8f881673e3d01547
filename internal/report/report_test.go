package report

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/fdbesanto2/EcoVirtual/internal/sampling"
)

const smallNiche = `{"rows": 6, "cols": 6, "steps": 10, "seed": 5}`

func TestExecuteNiche(t *testing.T) {
	run, err := Execute(ModelNiche, json.RawMessage(smallNiche))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if run.ID == "" {
		t.Fatal("run has no id")
	}
	if run.Model != ModelNiche || run.Rows != 6 || run.Cols != 6 || run.Steps != 10 || run.Seed != 5 {
		t.Fatalf("record = %s %dx%d steps=%d seed=%d", run.Model, run.Rows, run.Cols, run.Steps, run.Seed)
	}
	if run.Series.Steps() != 10 {
		t.Fatalf("series has %d steps, want 10", run.Series.Steps())
	}
	if len(run.Summary.FinalFractions) != 5 {
		t.Fatalf("final fractions %v, want 5 states", run.Summary.FinalFractions)
	}
	var cfg map[string]any
	if err := json.Unmarshal(run.Config, &cfg); err != nil {
		t.Fatalf("record config is not JSON: %v", err)
	}
	if cfg["rows"] != float64(6) {
		t.Fatalf("recorded config rows = %v, want 6", cfg["rows"])
	}
}

func TestExecuteTradeoff(t *testing.T) {
	raw := json.RawMessage(`{
		"rows": 6, "cols": 6, "species": 3, "steps": 12, "seed": 2,
		"init_occupied": [0.3], "best_share": 0.3, "mortality": 0.1,
		"disturb_freq": 0.25, "disturb_intensity": 0.5
	}`)
	run, err := Execute(ModelTradeoff, raw)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(run.Summary.FinalFractions) != 3 {
		t.Fatalf("final fractions %v, want 3 species", run.Summary.FinalFractions)
	}
	if len(run.Summary.DisturbanceSteps) != 3 {
		t.Fatalf("disturbance steps %v, want 3 events", run.Summary.DisturbanceSteps)
	}
}

func TestExecuteMarkov(t *testing.T) {
	run, err := Execute(ModelMarkov, json.RawMessage(`{"rows": 5, "cols": 5, "steps": 8, "seed": 9}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(run.Summary.StableStage) != 3 {
		t.Fatalf("stable stage %v, want 3 stages", run.Summary.StableStage)
	}
	total := 0.0
	for _, v := range run.Summary.StableStage {
		total += v
	}
	if total < 24.9 || total > 25.1 {
		t.Fatalf("stable stage sums to %v on 25 patches", total)
	}
}

func TestExecuteDefaultsOnNilConfig(t *testing.T) {
	for _, model := range Models {
		run, err := Execute(model, nil)
		if err != nil {
			t.Fatalf("Execute(%s, nil): %v", model, err)
		}
		if run.Series.Steps() != run.Steps {
			t.Fatalf("%s: series has %d steps, record says %d", model, run.Series.Steps(), run.Steps)
		}
	}
}

func TestExecuteDeterministicSeries(t *testing.T) {
	a, err := Execute(ModelNiche, json.RawMessage(smallNiche))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	b, err := Execute(ModelNiche, json.RawMessage(smallNiche))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if a.ID == b.ID {
		t.Fatal("two runs share an id")
	}
	for step := range a.Series.Rows {
		if !slices.Equal(a.Series.Rows[step], b.Series.Rows[step]) {
			t.Fatalf("series diverge at step %d under identical configs", step)
		}
	}
}

func TestExecuteUnknownModel(t *testing.T) {
	if _, err := Execute("lotka", nil); err == nil || !strings.Contains(err.Error(), "unknown model") {
		t.Fatalf("err = %v, want unknown model", err)
	}
}

func TestExecuteRejectsUnknownField(t *testing.T) {
	_, err := Execute(ModelNiche, json.RawMessage(`{"rows": 5, "colns": 5}`))
	if err == nil {
		t.Fatal("Execute accepted a misspelled config field")
	}
}

func TestExecutePropagatesValidation(t *testing.T) {
	raw := json.RawMessage(`{
		"transition": [[0.5, 0.5], [0.4, 0.5]],
		"init_prop": [0.5, 0.5]
	}`)
	if _, err := Execute(ModelMarkov, raw); !errors.Is(err, sampling.ErrProbabilityMass) {
		t.Fatalf("err = %v, want ErrProbabilityMass", err)
	}
}

func TestDims(t *testing.T) {
	rows, cols, steps, err := Dims(ModelNiche, json.RawMessage(`{"rows": 30, "steps": 99}`))
	if err != nil {
		t.Fatalf("Dims: %v", err)
	}
	if rows != 30 || cols != 20 || steps != 99 {
		t.Fatalf("dims = %dx%d steps=%d, want 30x20 steps=99", rows, cols, steps)
	}
	if _, _, _, err := Dims("lotka", nil); err == nil {
		t.Fatal("Dims accepted an unknown model")
	}
}

func TestWriteArtifacts(t *testing.T) {
	base := t.TempDir()
	run, err := Execute(ModelNiche, json.RawMessage(smallNiche))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	dir, err := Write(base, run)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if filepath.Dir(dir) != base || filepath.Base(dir) != "niche-"+run.ID {
		t.Fatalf("run dir = %s", dir)
	}
	for _, name := range []string{"config.json", "summary.json", "occupancy.csv"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("missing artifact %s: %v", name, err)
		}
	}

	data, err := os.ReadFile(filepath.Join(dir, "summary.json"))
	if err != nil {
		t.Fatalf("reading summary: %v", err)
	}
	var summary Summary
	if err := json.Unmarshal(data, &summary); err != nil {
		t.Fatalf("summary is not JSON: %v", err)
	}
	if len(summary.FinalFractions) != 5 {
		t.Fatalf("summary fractions %v", summary.FinalFractions)
	}

	csv, err := os.ReadFile(filepath.Join(dir, "occupancy.csv"))
	if err != nil {
		t.Fatalf("reading csv: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(csv)), "\n")
	if len(lines) != run.Steps+1 {
		t.Fatalf("csv has %d lines, want %d", len(lines), run.Steps+1)
	}
	if lines[0] != "step,free,early,susceptible,mixed,resistant" {
		t.Fatalf("csv header = %q", lines[0])
	}

	index, err := ListIndex(base)
	if err != nil {
		t.Fatalf("ListIndex: %v", err)
	}
	if len(index) != 1 || index[0].ID != run.ID || index[0].Dir != filepath.Base(dir) {
		t.Fatalf("index = %+v", index)
	}
}

func TestWriteRequiresID(t *testing.T) {
	run, err := Execute(ModelNiche, json.RawMessage(smallNiche))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	run.ID = ""
	if _, err := Write(t.TempDir(), run); err == nil {
		t.Fatal("Write accepted a run without an id")
	}
}

func TestIndexReplacesSameID(t *testing.T) {
	base := t.TempDir()
	entry := IndexEntry{ID: "a", Model: ModelNiche, Dir: "niche-a", Steps: 10, CreatedAtUTC: "2026-01-02T00:00:00Z"}
	if err := AppendIndex(base, entry); err != nil {
		t.Fatalf("AppendIndex: %v", err)
	}
	older := IndexEntry{ID: "b", Model: ModelMarkov, Dir: "markov-b", Steps: 5, CreatedAtUTC: "2026-01-01T00:00:00Z"}
	if err := AppendIndex(base, older); err != nil {
		t.Fatalf("AppendIndex: %v", err)
	}
	entry.Steps = 20
	if err := AppendIndex(base, entry); err != nil {
		t.Fatalf("AppendIndex: %v", err)
	}
	index, err := ListIndex(base)
	if err != nil {
		t.Fatalf("ListIndex: %v", err)
	}
	if len(index) != 2 {
		t.Fatalf("index has %d entries, want 2", len(index))
	}
	if index[0].ID != "a" || index[0].Steps != 20 {
		t.Fatalf("newest entry = %+v, want updated a", index[0])
	}
	if index[1].ID != "b" {
		t.Fatalf("oldest entry = %+v, want b", index[1])
	}
}

func TestListIndexMissingFile(t *testing.T) {
	index, err := ListIndex(t.TempDir())
	if err != nil {
		t.Fatalf("ListIndex: %v", err)
	}
	if len(index) != 0 {
		t.Fatalf("index = %+v, want empty", index)
	}
}
