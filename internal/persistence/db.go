// Package persistence archives completed runs in SQLite: one row per run
// record plus the full occupancy table, queryable by run id. Only finished
// runs are written; an in-progress simulation never touches the archive.
package persistence

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/fdbesanto2/EcoVirtual/internal/occupancy"
	"github.com/fdbesanto2/EcoVirtual/internal/report"
)

const schemaVersion = "1"

// DB wraps a SQLite connection for the run archive.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates an archive database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if err := db.SaveMeta("schema_version", schemaVersion); err != nil {
		conn.Close()
		return nil, fmt.Errorf("save schema version: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		model TEXT NOT NULL,
		created_at TEXT NOT NULL,
		grid_rows INTEGER NOT NULL,
		grid_cols INTEGER NOT NULL,
		steps INTEGER NOT NULL,
		seed INTEGER NOT NULL,
		elapsed_ms INTEGER NOT NULL,
		clamp_events INTEGER NOT NULL,
		config_json TEXT NOT NULL,
		summary_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS occupancy (
		run_id TEXT NOT NULL,
		step INTEGER NOT NULL,
		category INTEGER NOT NULL,
		label TEXT NOT NULL,
		fraction REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS archive_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_occupancy_run ON occupancy(run_id, step, category);
	CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// RunRow is the archive's view of a run record.
type RunRow struct {
	ID          string          `db:"id" json:"id"`
	Model       string          `db:"model" json:"model"`
	CreatedAt   string          `db:"created_at" json:"created_at"`
	GridRows    int             `db:"grid_rows" json:"rows"`
	GridCols    int             `db:"grid_cols" json:"cols"`
	Steps       int             `db:"steps" json:"steps"`
	Seed        int64           `db:"seed" json:"seed"`
	ElapsedMS   int64           `db:"elapsed_ms" json:"elapsed_ms"`
	ClampEvents int             `db:"clamp_events" json:"clamp_events"`
	Config      json.RawMessage `db:"config_json" json:"config"`
	Summary     json.RawMessage `db:"summary_json" json:"summary"`
}

// SaveRun writes a completed run and its occupancy table to the archive
// (full replace for that run id).
func (db *DB) SaveRun(run *report.Run) error {
	if run.Series == nil || run.Series.Steps() == 0 {
		return fmt.Errorf("run %s has no occupancy series", run.ID)
	}
	summaryJSON, err := json.Marshal(run.Summary)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM occupancy WHERE run_id = ?", run.ID); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM runs WHERE id = ?", run.ID); err != nil {
		return err
	}

	_, err = tx.Exec(`INSERT INTO runs
		(id, model, created_at, grid_rows, grid_cols, steps, seed, elapsed_ms,
		 clamp_events, config_json, summary_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Model, run.CreatedAt.UTC().Format(time.RFC3339),
		run.Rows, run.Cols, run.Steps, run.Seed, run.ElapsedMS,
		run.Summary.ClampEvents, string(run.Config), string(summaryJSON),
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}

	stmt, err := tx.Preparex(
		"INSERT INTO occupancy (run_id, step, category, label, fraction) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for t, row := range run.Series.Rows {
		for c, f := range row {
			if _, err := stmt.Exec(run.ID, t+1, c, run.Series.Labels[c], f); err != nil {
				return fmt.Errorf("insert occupancy step %d: %w", t+1, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	slog.Info("run archived", "id", run.ID, "model", run.Model, "steps", run.Steps)
	return nil
}

// ListRuns returns up to limit run records, newest first.
func (db *DB) ListRuns(limit int) ([]RunRow, error) {
	var rows []RunRow
	err := db.conn.Select(&rows, `SELECT id, model, created_at, grid_rows, grid_cols,
		steps, seed, elapsed_ms, clamp_events, config_json, summary_json
		FROM runs ORDER BY created_at DESC, id LIMIT ?`, limit)
	return rows, err
}

// GetRun returns one run record. Missing ids surface sql.ErrNoRows.
func (db *DB) GetRun(id string) (*RunRow, error) {
	var row RunRow
	err := db.conn.Get(&row, `SELECT id, model, created_at, grid_rows, grid_cols,
		steps, seed, elapsed_ms, clamp_events, config_json, summary_json
		FROM runs WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// GetSeries reconstructs a run's occupancy series from the archive.
// Missing ids surface sql.ErrNoRows.
func (db *DB) GetSeries(id string) (*occupancy.Series, error) {
	type occRow struct {
		Step     int     `db:"step"`
		Category int     `db:"category"`
		Label    string  `db:"label"`
		Fraction float64 `db:"fraction"`
	}
	var rows []occRow
	err := db.conn.Select(&rows,
		"SELECT step, category, label, fraction FROM occupancy WHERE run_id = ? ORDER BY step, category", id)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no occupancy rows for run %s: %w", id, sql.ErrNoRows)
	}

	categories := 0
	for _, r := range rows {
		if r.Step != rows[0].Step {
			break
		}
		categories++
	}
	labels := make([]string, categories)
	for c := 0; c < categories; c++ {
		labels[c] = rows[c].Label
	}
	steps := len(rows) / categories

	s := occupancy.NewSeries(labels, steps)
	row := make([]float64, categories)
	for t := 0; t < steps; t++ {
		for c := 0; c < categories; c++ {
			row[c] = rows[t*categories+c].Fraction
		}
		s.Record(row)
	}
	return s, nil
}

// CountRuns returns the number of archived runs.
func (db *DB) CountRuns() (int, error) {
	var n int
	err := db.conn.Get(&n, "SELECT COUNT(*) FROM runs")
	return n, err
}

// SaveMeta stores a key-value pair in archive metadata.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO archive_meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM archive_meta WHERE key = ?", key)
	return value, err
}
