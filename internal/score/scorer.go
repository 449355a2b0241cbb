// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package score assigns a numeric score to candidate molecules with a
// trained activity model, optionally combined with weighted auxiliary
// predictors (modified scoring).
//
// Regular mode: Score = hit. Modified mode: Score = hit + sum(weight * aux)
// over the configured objective terms.
package score

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aartikrish/de-novo-antibiotics/pkg/types"
)

const defaultBatchSize = 256

// Cache stores predictions across rounds and runs, keyed by model key and
// SMILES. Only rows with every column numeric are stored.
type Cache interface {
	CachedScores(modelKey string, smiles []string) (map[string]map[string]float64, error)
	StoreScores(modelKey string, rows map[string]map[string]float64) error
}

// Config configures a Scorer.
type Config struct {
	Mode      types.ScoringMode
	ModelPath string
	HitColumn string
	Objective []types.ObjectiveTerm
	Workers   int
	BatchSize int
}

// ConfigFrom extracts the scoring configuration of a run.
func ConfigFrom(rc types.RunConfig) Config {
	return Config{
		Mode:      rc.ScoringMode(),
		ModelPath: rc.ModelPath,
		HitColumn: rc.HitColumn,
		Objective: rc.Objective,
		Workers:   rc.Workers,
		BatchSize: rc.BatchSize,
	}
}

// Scorer scores molecules. Models are acquired once, on the first Load or
// Score call, and shared by all later calls until Close.
type Scorer struct {
	cfg    Config
	open   Opener
	cache  Cache
	logger *zap.Logger

	once    sync.Once
	loadErr error
	models  map[string]Model
}

// New creates a Scorer. cache may be nil.
func New(cfg Config, open Opener, cache Cache, logger *zap.Logger) *Scorer {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scorer{cfg: cfg, open: open, cache: cache, logger: logger.Named("score")}
}

// Load acquires the hit model and, in modified mode, every auxiliary model.
// Errors are sticky: a failed load fails every later call.
func (s *Scorer) Load() error {
	s.once.Do(func() {
		s.models = make(map[string]Model)
		paths := []string{s.cfg.ModelPath}
		if s.cfg.Mode == types.ScoreModified {
			for _, t := range s.cfg.Objective {
				paths = append(paths, t.ModelPath)
			}
		}
		for _, p := range paths {
			if _, ok := s.models[p]; ok {
				continue
			}
			m, err := s.open(p)
			if err != nil {
				s.loadErr = err
				return
			}
			s.models[p] = m
			s.logger.Info("model loaded", zap.String("path", p), zap.String("key", m.Key()))
		}
	})
	return s.loadErr
}

// Close releases every loaded model.
func (s *Scorer) Close() error {
	var errs []error
	for _, m := range s.models {
		if err := m.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Score returns the scored molecules sorted by descending score. Duplicate
// inputs are scored once. Molecules without a numeric prediction for a
// required column are dropped with a warning. A missing column is a
// *ScoreColumnError.
func (s *Scorer) Score(ctx context.Context, mols []types.Molecule) ([]types.ScoredMolecule, error) {
	if err := s.Load(); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(mols))
	var smiles []string
	for _, m := range mols {
		if !seen[m.SMILES] {
			seen[m.SMILES] = true
			smiles = append(smiles, m.SMILES)
		}
	}
	if len(smiles) == 0 {
		return nil, nil
	}

	hit, err := s.predict(ctx, s.cfg.ModelPath, smiles)
	if err != nil {
		return nil, err
	}
	if err := s.checkColumn(hit, s.cfg.ModelPath, s.cfg.HitColumn); err != nil {
		return nil, err
	}

	var terms []Predictions
	if s.cfg.Mode == types.ScoreModified {
		byPath := map[string]Predictions{s.cfg.ModelPath: hit}
		for _, t := range s.cfg.Objective {
			p, ok := byPath[t.ModelPath]
			if !ok {
				if p, err = s.predict(ctx, t.ModelPath, smiles); err != nil {
					return nil, err
				}
				byPath[t.ModelPath] = p
			}
			if err := s.checkColumn(p, t.ModelPath, t.Column); err != nil {
				return nil, err
			}
			terms = append(terms, p)
		}
	}

	out := make([]types.ScoredMolecule, 0, len(smiles))
	for _, smi := range smiles {
		raw, ok := hit.Values[smi][s.cfg.HitColumn]
		if !ok {
			s.logger.Warn("no prediction, dropping molecule", zap.String("smiles", smi), zap.String("column", s.cfg.HitColumn))
			continue
		}
		sm := types.ScoredMolecule{Molecule: types.Mol(smi), Raw: raw, Score: raw}
		if s.cfg.Mode == types.ScoreModified && !s.combine(&sm, terms) {
			continue
		}
		out = append(out, sm)
	}

	types.SortByScore(out)
	return out, nil
}

// combine adds the weighted auxiliary terms to sm. It reports false when a
// term has no value for the molecule.
func (s *Scorer) combine(sm *types.ScoredMolecule, terms []Predictions) bool {
	sm.Aux = make(map[string]float64, len(s.cfg.Objective))
	for i, t := range s.cfg.Objective {
		v, ok := terms[i].Values[sm.SMILES][t.Column]
		if !ok {
			s.logger.Warn("no auxiliary prediction, dropping molecule",
				zap.String("smiles", sm.SMILES), zap.String("term", t.Name), zap.String("column", t.Column))
			return false
		}
		sm.Aux[t.Name] = v
		sm.Score += t.Weight * v
	}
	return true
}

func (s *Scorer) checkColumn(p Predictions, path, column string) error {
	if p.HasColumn(column) {
		return nil
	}
	return &ScoreColumnError{Column: column, Model: path, Present: p.Columns}
}

// predict runs one model over smiles in concurrent batches, serving what it
// can from the cache.
func (s *Scorer) predict(ctx context.Context, path string, smiles []string) (Predictions, error) {
	m := s.models[path]
	var merged Predictions

	todo := smiles
	if s.cache != nil {
		cached, err := s.cache.CachedScores(m.Key(), smiles)
		if err != nil {
			s.logger.Warn("score cache lookup failed", zap.Error(err))
		} else if len(cached) > 0 {
			merged.merge(fromRows(cached))
			todo = todo[:0:0]
			for _, smi := range smiles {
				if _, ok := cached[smi]; !ok {
					todo = append(todo, smi)
				}
			}
		}
	}

	var batches [][]string
	for start := 0; start < len(todo); start += s.cfg.BatchSize {
		batches = append(batches, todo[start:min(start+s.cfg.BatchSize, len(todo))])
	}
	results := make([]Predictions, len(batches))
	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(s.cfg.Workers)
	for i, batch := range batches {
		eg.Go(func() error {
			p, err := m.Predict(ectx, batch)
			if err != nil {
				return fmt.Errorf("scoring with %s: %w", path, err)
			}
			results[i] = p
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return Predictions{}, err
	}

	fresh := Predictions{}
	for _, p := range results {
		fresh.merge(p)
	}
	merged.merge(fresh)

	if s.cache != nil && len(fresh.Values) > 0 {
		if err := s.cache.StoreScores(m.Key(), completeRows(fresh)); err != nil {
			s.logger.Warn("score cache store failed", zap.Error(err))
		}
	}
	return merged, nil
}

// fromRows rebuilds Predictions from cached rows.
func fromRows(rows map[string]map[string]float64) Predictions {
	p := Predictions{Values: rows}
	seen := make(map[string]bool)
	for _, row := range rows {
		for col := range row {
			if !seen[col] {
				seen[col] = true
				p.Columns = append(p.Columns, col)
			}
		}
	}
	slices.Sort(p.Columns)
	return p
}

// completeRows returns the rows that have a value for every column.
func completeRows(p Predictions) map[string]map[string]float64 {
	out := make(map[string]map[string]float64, len(p.Values))
	for smi, row := range p.Values {
		if len(row) == len(p.Columns) && len(row) > 0 {
			out[smi] = row
		}
	}
	return out
}
