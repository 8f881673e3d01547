package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/fdbesanto2/EcoVirtual/internal/occupancy"
	"github.com/fdbesanto2/EcoVirtual/internal/report"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testRun(id string, createdAt time.Time) *report.Run {
	s := occupancy.NewSeries([]string{"free", "occupied"}, 3)
	s.Record([]float64{0.75, 0.25})
	s.Record([]float64{0.5, 0.5})
	s.Record([]float64{0.25, 0.75})
	return &report.Run{
		ID:        id,
		Model:     report.ModelNiche,
		CreatedAt: createdAt,
		Rows:      4,
		Cols:      5,
		Steps:     3,
		Seed:      42,
		ElapsedMS: 7,
		Config:    json.RawMessage(`{"rows":4,"cols":5,"steps":3,"seed":42}`),
		Summary: report.Summary{
			FinalFractions: map[string]float64{"free": 0.25, "occupied": 0.75},
			ClampEvents:    2,
		},
		Series: s,
	}
}

func TestSaveAndGetRun(t *testing.T) {
	db := openTestDB(t)
	run := testRun("run-a", time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	if err := db.SaveRun(run); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	got, err := db.GetRun("run-a")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Model != report.ModelNiche {
		t.Errorf("model = %q, want %q", got.Model, report.ModelNiche)
	}
	if got.GridRows != 4 || got.GridCols != 5 || got.Steps != 3 {
		t.Errorf("dims = %dx%d steps %d, want 4x5 steps 3", got.GridRows, got.GridCols, got.Steps)
	}
	if got.Seed != 42 || got.ClampEvents != 2 {
		t.Errorf("seed = %d clamp = %d, want 42 and 2", got.Seed, got.ClampEvents)
	}
	if got.CreatedAt != "2024-03-01T12:00:00Z" {
		t.Errorf("created_at = %q, want RFC3339 UTC", got.CreatedAt)
	}

	var cfg struct {
		Rows int `json:"rows"`
	}
	if err := json.Unmarshal(got.Config, &cfg); err != nil {
		t.Fatalf("config did not round-trip as JSON: %v", err)
	}
	if cfg.Rows != 4 {
		t.Errorf("config rows = %d, want 4", cfg.Rows)
	}
	var sum report.Summary
	if err := json.Unmarshal(got.Summary, &sum); err != nil {
		t.Fatalf("summary did not round-trip as JSON: %v", err)
	}
	if sum.FinalFractions["occupied"] != 0.75 {
		t.Errorf("summary occupied = %v, want 0.75", sum.FinalFractions["occupied"])
	}
}

func TestGetSeriesRoundTrip(t *testing.T) {
	db := openTestDB(t)
	run := testRun("run-b", time.Now())
	if err := db.SaveRun(run); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	got, err := db.GetSeries("run-b")
	if err != nil {
		t.Fatalf("GetSeries: %v", err)
	}
	if len(got.Labels) != 2 || got.Labels[0] != "free" || got.Labels[1] != "occupied" {
		t.Fatalf("labels = %v", got.Labels)
	}
	if got.Steps() != 3 {
		t.Fatalf("steps = %d, want 3", got.Steps())
	}
	for ti, row := range run.Series.Rows {
		for c, want := range row {
			if got.Rows[ti][c] != want {
				t.Errorf("row %d col %d = %v, want %v", ti, c, got.Rows[ti][c], want)
			}
		}
	}
}

func TestSaveRunReplacesExisting(t *testing.T) {
	db := openTestDB(t)
	run := testRun("run-c", time.Now())
	if err := db.SaveRun(run); err != nil {
		t.Fatalf("first SaveRun: %v", err)
	}

	run.Seed = 99
	run.Series = occupancy.NewSeries([]string{"free", "occupied"}, 2)
	run.Series.Record([]float64{1, 0})
	run.Series.Record([]float64{0, 1})
	run.Steps = 2
	if err := db.SaveRun(run); err != nil {
		t.Fatalf("second SaveRun: %v", err)
	}

	n, err := db.CountRuns()
	if err != nil {
		t.Fatalf("CountRuns: %v", err)
	}
	if n != 1 {
		t.Errorf("run count = %d, want 1", n)
	}
	got, err := db.GetRun("run-c")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Seed != 99 || got.Steps != 2 {
		t.Errorf("record not replaced: seed %d steps %d", got.Seed, got.Steps)
	}
	series, err := db.GetSeries("run-c")
	if err != nil {
		t.Fatalf("GetSeries: %v", err)
	}
	if series.Steps() != 2 {
		t.Errorf("series steps = %d, want 2 after replace", series.Steps())
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	db := openTestDB(t)
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "mid", "new"} {
		run := testRun(id, base.Add(time.Duration(i)*time.Hour))
		if err := db.SaveRun(run); err != nil {
			t.Fatalf("SaveRun %s: %v", id, err)
		}
	}

	rows, err := db.ListRuns(10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(rows))
	}
	if rows[0].ID != "new" || rows[2].ID != "old" {
		t.Errorf("order = [%s %s %s], want newest first", rows[0].ID, rows[1].ID, rows[2].ID)
	}

	limited, err := db.ListRuns(2)
	if err != nil {
		t.Fatalf("ListRuns limited: %v", err)
	}
	if len(limited) != 2 || limited[0].ID != "new" {
		t.Errorf("limit 2 returned %d rows, first %q", len(limited), limited[0].ID)
	}
}

func TestMissingRunSurfacesNoRows(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.GetRun("ghost"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("GetRun error = %v, want sql.ErrNoRows", err)
	}
	if _, err := db.GetSeries("ghost"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("GetSeries error = %v, want sql.ErrNoRows", err)
	}
}

func TestSaveRunRejectsEmptySeries(t *testing.T) {
	db := openTestDB(t)
	run := testRun("run-d", time.Now())
	run.Series = nil
	if err := db.SaveRun(run); err == nil {
		t.Fatal("expected error for run without series")
	}
}

func TestMetaRoundTrip(t *testing.T) {
	db := openTestDB(t)

	version, err := db.GetMeta("schema_version")
	if err != nil {
		t.Fatalf("GetMeta schema_version: %v", err)
	}
	if version != schemaVersion {
		t.Errorf("schema_version = %q, want %q", version, schemaVersion)
	}

	if err := db.SaveMeta("last_model", "markov"); err != nil {
		t.Fatalf("SaveMeta: %v", err)
	}
	if err := db.SaveMeta("last_model", "niche"); err != nil {
		t.Fatalf("SaveMeta overwrite: %v", err)
	}
	got, err := db.GetMeta("last_model")
	if err != nil {
		t.Fatalf("GetMeta: %v", err)
	}
	if got != "niche" {
		t.Errorf("last_model = %q, want %q", got, "niche")
	}
}

func TestArchiveExecutedRun(t *testing.T) {
	db := openTestDB(t)
	run, err := report.Execute(report.ModelMarkov, json.RawMessage(`{"rows": 5, "cols": 5, "steps": 8, "seed": 3}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if err := db.SaveRun(run); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	series, err := db.GetSeries(run.ID)
	if err != nil {
		t.Fatalf("GetSeries: %v", err)
	}
	if series.Steps() != run.Series.Steps() {
		t.Errorf("archived %d steps, want %d", series.Steps(), run.Series.Steps())
	}
	got, err := db.GetRun(run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	var sum report.Summary
	if err := json.Unmarshal(got.Summary, &sum); err != nil {
		t.Fatalf("summary JSON: %v", err)
	}
	if len(sum.StableStage) != 3 {
		t.Errorf("stable stage has %d entries, want 3", len(sum.StableStage))
	}
}
