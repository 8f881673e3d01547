// Model-name dispatch: the CLI and the simulate endpoint both hand a model
// name plus a JSON config fragment to Execute and get a finished run back.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fdbesanto2/EcoVirtual/internal/markov"
	"github.com/fdbesanto2/EcoVirtual/internal/niche"
	"github.com/fdbesanto2/EcoVirtual/internal/occupancy"
	"github.com/fdbesanto2/EcoVirtual/internal/tradeoff"
)

// Model names accepted by Execute.
const (
	ModelNiche    = "niche"
	ModelTradeoff = "tradeoff"
	ModelMarkov   = "markov"
)

// Models lists the dispatchable model names.
var Models = []string{ModelNiche, ModelTradeoff, ModelMarkov}

// Execute runs the named model and returns its completed record. raw is
// decoded over the model's default config, so callers supply only the
// fields they change; nil raw runs the defaults unchanged. Unknown config
// fields are rejected rather than silently dropped.
func Execute(model string, raw json.RawMessage) (*Run, error) {
	started := time.Now()
	switch model {
	case ModelNiche:
		cfg, err := nicheConfig(raw)
		if err != nil {
			return nil, err
		}
		m, err := niche.New(cfg)
		if err != nil {
			return nil, err
		}
		res, err := m.Run()
		if err != nil {
			return nil, err
		}
		return newRun(model, started, cfg.Rows, cfg.Cols, cfg.Steps, cfg.Seed, cfg, res.Series, Summary{
			FinalFractions: finalFractions(res.Series),
			ClampEvents:    res.Clamps,
		})
	case ModelTradeoff:
		cfg, err := tradeoffConfig(raw)
		if err != nil {
			return nil, err
		}
		m, err := tradeoff.New(cfg)
		if err != nil {
			return nil, err
		}
		res := m.Run()
		return newRun(model, started, cfg.Rows, cfg.Cols, cfg.Steps, cfg.Seed, cfg, res.Series, Summary{
			FinalFractions:   finalFractions(res.Series),
			ClampEvents:      res.Clamps,
			DisturbanceSteps: res.Disturbances,
		})
	case ModelMarkov:
		cfg, err := markovConfig(raw)
		if err != nil {
			return nil, err
		}
		m, err := markov.New(cfg)
		if err != nil {
			return nil, err
		}
		res := m.Run()
		return newRun(model, started, cfg.Rows, cfg.Cols, cfg.Steps, cfg.Seed, cfg, res.Series, Summary{
			FinalFractions: finalFractions(res.Series),
			StableStage:    res.StableStage,
		})
	default:
		return nil, fmt.Errorf("unknown model %q (models: %s)", model, strings.Join(Models, ", "))
	}
}

// Dims reports the landscape dimensions and horizon the given config would
// run with, without running anything. Callers use it to budget work before
// committing to a synchronous run.
func Dims(model string, raw json.RawMessage) (rows, cols, steps int, err error) {
	switch model {
	case ModelNiche:
		cfg, err := nicheConfig(raw)
		if err != nil {
			return 0, 0, 0, err
		}
		return cfg.Rows, cfg.Cols, cfg.Steps, nil
	case ModelTradeoff:
		cfg, err := tradeoffConfig(raw)
		if err != nil {
			return 0, 0, 0, err
		}
		return cfg.Rows, cfg.Cols, cfg.Steps, nil
	case ModelMarkov:
		cfg, err := markovConfig(raw)
		if err != nil {
			return 0, 0, 0, err
		}
		return cfg.Rows, cfg.Cols, cfg.Steps, nil
	default:
		return 0, 0, 0, fmt.Errorf("unknown model %q (models: %s)", model, strings.Join(Models, ", "))
	}
}

func nicheConfig(raw json.RawMessage) (niche.Config, error) {
	cfg := niche.DefaultConfig()
	err := decode(raw, &cfg)
	return cfg, err
}

func tradeoffConfig(raw json.RawMessage) (tradeoff.Config, error) {
	cfg := tradeoff.DefaultConfig()
	err := decode(raw, &cfg)
	return cfg, err
}

func markovConfig(raw json.RawMessage) (markov.Config, error) {
	cfg := markov.DefaultConfig()
	err := decode(raw, &cfg)
	return cfg, err
}

func decode(raw json.RawMessage, cfg any) error {
	if len(raw) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("decoding config: %w", err)
	}
	return nil
}

// newRun stamps the record with a fresh id and re-encodes the effective
// config, defaults included, so the archive captures the exact parameters.
func newRun(model string, started time.Time, rows, cols, steps int, seed int64, cfg any, series *occupancy.Series, summary Summary) (*Run, error) {
	encoded, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	return &Run{
		ID:        uuid.NewString(),
		Model:     model,
		CreatedAt: time.Now().UTC(),
		Rows:      rows,
		Cols:      cols,
		Steps:     steps,
		Seed:      seed,
		ElapsedMS: time.Since(started).Milliseconds(),
		Config:    encoded,
		Summary:   summary,
		Series:    series,
	}, nil
}

func finalFractions(s *occupancy.Series) map[string]float64 {
	final := s.Final()
	out := make(map[string]float64, len(final))
	for i, label := range s.Labels {
		out[label] = final[i]
	}
	return out
}
