// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package filter removes candidates that match structural-alert catalogs
// (PAINS, Brenk). Matching runs in the chemistry engine; verdicts are cached
// per catalog and SMILES for the lifetime of a Filter, so molecules seen in
// earlier rounds are not re-evaluated.
package filter

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aartikrish/de-novo-antibiotics/internal/crem"
	"github.com/aartikrish/de-novo-antibiotics/pkg/types"
)

const defaultBatchSize = 256

// Engine evaluates structural alerts.
type Engine interface {
	Alerts(ctx context.Context, smiles []string, catalogs []types.Catalog) ([]crem.Verdict, error)
}

// Stats describes one Apply call.
type Stats struct {
	Input  int
	Passed int
	// Rejected counts molecules that matched each catalog. A molecule
	// matching both catalogs is counted under both.
	Rejected map[types.Catalog]int
	// Cached counts molecules whose verdicts were all cached.
	Cached int
}

// Filter applies a filter policy through the engine.
type Filter struct {
	engine    Engine
	workers   int
	batchSize int
	logger    *zap.Logger

	mu    sync.Mutex
	cache map[types.Catalog]map[string]bool
}

// New creates a Filter.
func New(engine Engine, workers, batchSize int, logger *zap.Logger) *Filter {
	if workers <= 0 {
		workers = 1
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Filter{
		engine:    engine,
		workers:   workers,
		batchSize: batchSize,
		logger:    logger.Named("filter"),
		cache:     make(map[types.Catalog]map[string]bool),
	}
}

// Apply returns the molecules that match no rule of the catalogs the policy
// names, preserving input order. FilterNone returns a copy of mols without
// consulting the engine.
func (f *Filter) Apply(ctx context.Context, mols []types.Molecule, policy types.FilterPolicy) ([]types.Molecule, Stats, error) {
	stats := Stats{Input: len(mols), Rejected: make(map[types.Catalog]int)}
	if !policy.Valid() {
		return nil, stats, fmt.Errorf("unknown filter policy %q", policy)
	}
	catalogs := policy.Catalogs()
	if len(catalogs) == 0 {
		out := append([]types.Molecule(nil), mols...)
		stats.Passed = len(out)
		return out, stats, nil
	}

	missing := f.uncached(mols, catalogs)
	stats.Cached = countCached(mols, missing)
	if err := f.evaluate(ctx, missing, catalogs); err != nil {
		return nil, stats, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.Molecule, 0, len(mols))
	for _, m := range mols {
		pass := true
		for _, c := range catalogs {
			if !f.cache[c][m.SMILES] {
				stats.Rejected[c]++
				pass = false
			}
		}
		if pass {
			out = append(out, m)
		}
	}
	stats.Passed = len(out)

	f.logger.Debug("filter applied",
		zap.String("policy", string(policy)),
		zap.Int("input", stats.Input),
		zap.Int("passed", stats.Passed),
		zap.Int("cached", stats.Cached),
	)
	return out, stats, nil
}

// uncached returns the distinct SMILES lacking a verdict for any catalog.
func (f *Filter) uncached(mols []types.Molecule, catalogs []types.Catalog) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, m := range mols {
		if seen[m.SMILES] {
			continue
		}
		seen[m.SMILES] = true
		for _, c := range catalogs {
			if _, ok := f.cache[c][m.SMILES]; !ok {
				out = append(out, m.SMILES)
				break
			}
		}
	}
	return out
}

func countCached(mols []types.Molecule, missing []string) int {
	skip := make(map[string]bool, len(missing))
	for _, s := range missing {
		skip[s] = true
	}
	n := 0
	for _, m := range mols {
		if !skip[m.SMILES] {
			n++
		}
	}
	return n
}

// evaluate asks the engine for verdicts in batches and stores them.
func (f *Filter) evaluate(ctx context.Context, smiles []string, catalogs []types.Catalog) error {
	if len(smiles) == 0 {
		return nil
	}
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(f.workers)
	for start := 0; start < len(smiles); start += f.batchSize {
		batch := smiles[start:min(start+f.batchSize, len(smiles))]
		eg.Go(func() error {
			verdicts, err := f.engine.Alerts(ctx, batch, catalogs)
			if err != nil {
				return fmt.Errorf("structural alerts: %w", err)
			}
			f.store(verdicts, catalogs)
			return nil
		})
	}
	return eg.Wait()
}

func (f *Filter) store(verdicts []crem.Verdict, catalogs []types.Catalog) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range verdicts {
		for _, c := range catalogs {
			if f.cache[c] == nil {
				f.cache[c] = make(map[string]bool)
			}
			pass := v.Passes(c)
			f.cache[c][v.SMILES] = pass
			if !pass {
				f.logger.Debug("alert matched",
					zap.String("smiles", v.SMILES),
					zap.String("catalog", string(c)),
					zap.Strings("rules", v.Alerts[c]),
				)
			}
		}
	}
}
