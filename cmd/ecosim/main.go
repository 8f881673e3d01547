// Command ecosim runs one landscape model end to end: seed, step, write
// artifacts, optionally archive the run.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fdbesanto2/EcoVirtual/internal/occupancy"
	"github.com/fdbesanto2/EcoVirtual/internal/persistence"
	"github.com/fdbesanto2/EcoVirtual/internal/replicate"
	"github.com/fdbesanto2/EcoVirtual/internal/report"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	model := flag.String("model", report.ModelNiche, "model to run: niche|tradeoff|markov")
	configPath := flag.String("config", "", "JSON config file (required for custom markov matrices)")
	outDir := flag.String("out", "runs", "artifact output directory")
	dbPath := flag.String("db", "", "optional SQLite archive path")
	replicates := flag.Int("replicates", 1, "replicate count; seeds run seed, seed+1, ...")
	rows := flag.Int("rows", 0, "grid rows (overrides config)")
	cols := flag.Int("cols", 0, "grid cols (overrides config)")
	steps := flag.Int("steps", 0, "simulation steps (overrides config)")
	seed := flag.Int64("seed", 0, "rng seed (overrides config)")
	flag.Parse()

	setFlags := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })

	raw, err := buildConfig(*configPath, setFlags, map[string]any{
		"rows":  *rows,
		"cols":  *cols,
		"steps": *steps,
		"seed":  *seed,
	})
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}

	if *replicates < 1 {
		slog.Error("replicates must be >= 1", "replicates", *replicates)
		os.Exit(1)
	}

	run, err := report.Execute(*model, raw)
	if err != nil {
		slog.Error("run failed", "model", *model, "error", err)
		os.Exit(1)
	}
	slog.Info("run complete",
		"model", run.Model, "id", run.ID,
		"grid", fmt.Sprintf("%dx%d", run.Rows, run.Cols),
		"steps", run.Steps, "seed", run.Seed,
		"clamp_events", run.Summary.ClampEvents,
		"elapsed_ms", run.ElapsedMS,
	)

	dir, err := report.Write(*outDir, run)
	if err != nil {
		slog.Error("artifact write failed", "error", err)
		os.Exit(1)
	}

	if *replicates > 1 {
		runner := func(s int64) (*occupancy.Series, error) {
			rep, err := report.Execute(*model, withSeed(raw, s))
			if err != nil {
				return nil, err
			}
			return rep.Series, nil
		}
		batch, err := replicate.Run(runner, *replicates, run.Seed)
		if err != nil {
			slog.Error("replicate batch failed", "error", err)
			os.Exit(1)
		}
		if err := report.WriteSeriesCSV(filepath.Join(dir, "occupancy_mean.csv"), batch.Mean); err != nil {
			slog.Error("mean csv write failed", "error", err)
			os.Exit(1)
		}
		if err := report.WriteSeriesCSV(filepath.Join(dir, "occupancy_std.csv"), batch.Std); err != nil {
			slog.Error("std csv write failed", "error", err)
			os.Exit(1)
		}
		slog.Info("replicate batch complete", "replicates", batch.Replicates, "base_seed", batch.BaseSeed)
	}

	if *dbPath != "" {
		if dir := filepath.Dir(*dbPath); dir != "." {
			os.MkdirAll(dir, 0755)
		}
		db, err := persistence.Open(*dbPath)
		if err != nil {
			slog.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		if err := db.SaveRun(run); err != nil {
			slog.Error("archive failed", "error", err)
			db.Close()
			os.Exit(1)
		}
		db.Close()
	}

	fmt.Printf("\n%s run %s: %d steps on %dx%d patches (seed %d)\n",
		run.Model, run.ID, run.Steps, run.Rows, run.Cols, run.Seed)
	fmt.Println("Final occupancy:")
	for _, label := range run.Series.Labels {
		fmt.Printf("  %-14s %.4f\n", label, run.Summary.FinalFractions[label])
	}
	if len(run.Summary.DisturbanceSteps) > 0 {
		fmt.Printf("Disturbance events at steps %v\n", run.Summary.DisturbanceSteps)
	}
	if len(run.Summary.StableStage) > 0 {
		fmt.Print("Stable stage (patches): ")
		for i, v := range run.Summary.StableStage {
			if i > 0 {
				fmt.Print(", ")
			}
			fmt.Printf("%.2f", v)
		}
		fmt.Println()
	}
	fmt.Printf("Artifacts: %s\n", dir)
}

// buildConfig loads the optional JSON config file and lays explicitly set
// flag values on top. A nil result means run on model defaults.
func buildConfig(path string, setFlags map[string]bool, overrides map[string]any) (json.RawMessage, error) {
	cfg := make(map[string]any)
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	for name, value := range overrides {
		if setFlags[name] {
			cfg[name] = value
		}
	}
	if len(cfg) == 0 {
		return nil, nil
	}
	return json.Marshal(cfg)
}

// withSeed returns the config with its seed replaced, for replicate runs.
func withSeed(raw json.RawMessage, seed int64) json.RawMessage {
	cfg := make(map[string]any)
	if len(raw) > 0 {
		json.Unmarshal(raw, &cfg)
	}
	cfg["seed"] = seed
	out, _ := json.Marshal(cfg)
	return out
}
