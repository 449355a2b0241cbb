// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package sweep loads run parameter files and expands a sweep file into
// one run per (scoring mode, method) combination. Runs of one scoring
// mode share the output directory <base_dir>/<regular_score|modified_score>/.
package sweep

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.yaml.in/yaml/v3"

	"github.com/aartikrish/de-novo-antibiotics/pkg/types"
)

// Combination is one row of the sweep table.
type Combination struct {
	Scoring types.ScoringMode `yaml:"scoring"`
	Method  types.Method      `yaml:"method"`
}

// Sweep is the content of a sweep file.
type Sweep struct {
	// BaseDir is the parent of the per-scoring-mode output directories.
	// Defaults to Base.OutDir.
	BaseDir string          `yaml:"base_dir"`
	Base    types.RunConfig `yaml:"base"`
	Runs    []Combination   `yaml:"runs"`
}

// Entry is one expanded run.
type Entry struct {
	Label  string
	Config types.RunConfig
}

// Runner executes one run.
type Runner interface {
	Run(ctx context.Context, cfg types.RunConfig) (types.RunReport, error)
}

// LoadRunConfig reads a run parameter file. Unknown keys are an error.
func LoadRunConfig(path string) (types.RunConfig, error) {
	var cfg types.RunConfig
	if err := decodeFile(path, &cfg); err != nil {
		return types.RunConfig{}, err
	}
	return cfg, nil
}

// Load reads a sweep file. Unknown keys are an error.
func Load(path string) (Sweep, error) {
	var s Sweep
	if err := decodeFile(path, &s); err != nil {
		return Sweep{}, err
	}
	return s, nil
}

func decodeFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// Expand returns one Entry per combination, in table order. Each entry is
// the base configuration with the combination's scoring mode and method and
// the output directory of its scoring mode. An empty table runs the base
// configuration as is.
func (s Sweep) Expand() ([]Entry, error) {
	baseDir := s.BaseDir
	if baseDir == "" {
		baseDir = s.Base.OutDir
	}
	if baseDir == "" {
		return nil, &types.ParamError{Param: "base_dir", Value: baseDir, Reason: "must not be empty"}
	}

	runs := s.Runs
	if len(runs) == 0 {
		runs = []Combination{{Scoring: s.Base.ScoringMode(), Method: s.Base.Method}}
	}

	seen := make(map[Combination]bool, len(runs))
	entries := make([]Entry, 0, len(runs))
	for i, c := range runs {
		field := fmt.Sprintf("runs[%d]", i)
		switch c.Scoring {
		case types.ScoreRegular, types.ScoreModified:
		default:
			return nil, &types.ParamError{Param: field + ".scoring", Value: c.Scoring, Reason: "must be regular or modified"}
		}
		switch c.Method {
		case types.MethodGrow, types.MethodMutate:
		default:
			return nil, &types.ParamError{Param: field + ".method", Value: c.Method, Reason: "must be grow or mutate"}
		}
		if seen[c] {
			return nil, &types.ParamError{Param: field, Value: c, Reason: "duplicate combination"}
		}
		seen[c] = true

		cfg := s.Base.WithDefaults()
		cfg.RegularScore = c.Scoring == types.ScoreRegular
		cfg.Method = c.Method
		cfg.OutDir = filepath.Join(baseDir, c.Scoring.Label())
		entries = append(entries, Entry{
			Label:  c.Scoring.Label() + "/" + string(c.Method),
			Config: cfg,
		})
	}
	return entries, nil
}

// Run executes the entries one after the other. A failed run does not stop
// the sweep; cancellation does. Reports line up with the entries that were
// attempted and come back with the joined errors.
func Run(ctx context.Context, r Runner, entries []Entry, logger *zap.Logger) ([]types.RunReport, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("sweep")

	var (
		reports []types.RunReport
		errs    []error
	)
	for i, e := range entries {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := os.MkdirAll(e.Config.OutDir, 0o755); err != nil {
			err = fmt.Errorf("%s: creating output directory: %w", e.Label, err)
			reports = append(reports, types.RunReport{Termination: types.TerminationFailed, Error: err.Error()})
			errs = append(errs, err)
			continue
		}
		logger.Info("starting run", zap.String("combination", e.Label), zap.Int("index", i+1), zap.Int("of", len(entries)))

		rep, err := r.Run(ctx, e.Config)
		reports = append(reports, rep)
		if err != nil {
			logger.Error("run failed", zap.String("combination", e.Label), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", e.Label, err))
			if rep.Termination == types.TerminationCancelled {
				break
			}
			continue
		}
		logger.Info("run done",
			zap.String("combination", e.Label),
			zap.String("run_id", rep.RunID),
			zap.String("termination", string(rep.Termination)),
			zap.Int("rounds", rep.Rounds),
		)
	}
	return reports, errors.Join(errs...)
}
