// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package generate derives candidate molecules from a seed set by fragment
// growth or mutation through the chemistry engine.
//
// Radius fallback: every seed is first tried at the first radius of the
// configured list. Seeds that yield no acceptable product are retried at
// the next radius, and so on. The first radius that yields at least one
// acceptable product is final for that seed. Seeds that exhaust the list
// contribute nothing.
package generate

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aartikrish/de-novo-antibiotics/internal/chem"
	"github.com/aartikrish/de-novo-antibiotics/internal/crem"
	"github.com/aartikrish/de-novo-antibiotics/pkg/types"
)

const defaultBatchSize = 64

// Engine is the part of the chemistry engine the generator needs.
type Engine interface {
	Grow(ctx context.Context, req crem.GrowRequest) ([]crem.Products, error)
	Mutate(ctx context.Context, req crem.MutateRequest) ([]crem.Products, error)
}

// Stats counts what happened to the seeds and products of one call.
type Stats struct {
	Seeds int
	// Raw is the number of products the engine returned, before checks.
	Raw int
	// Malformed counts products that failed the lexical SMILES scan.
	Malformed int
	// OutOfWindow counts products outside the heavy-atom window.
	OutOfWindow int
	// Radii maps a radius to the number of seeds resolved at it.
	Radii map[int]int
	// Exhausted counts seeds with no acceptable product at any radius.
	Exhausted int
}

// Generator fans engine calls out over a bounded number of workers.
type Generator struct {
	engine    Engine
	workers   int
	batchSize int
	logger    *zap.Logger
}

// New creates a Generator. workers and batchSize fall back to 1 and 64.
func New(engine Engine, workers, batchSize int, logger *zap.Logger) *Generator {
	if workers <= 0 {
		workers = 1
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{engine: engine, workers: workers, batchSize: batchSize, logger: logger.Named("generate")}
}

// seedInfo is a pending seed with its heavy-atom count.
type seedInfo struct {
	smiles string
	heavy  int
}

// Generate returns the distinct products of all seeds, sorted by SMILES and
// excluding the seeds themselves. An empty result with a nil error means no
// seed produced a viable candidate. seeds is not modified.
func (g *Generator) Generate(ctx context.Context, seeds []types.Molecule, params types.GenerationParams) ([]types.Molecule, Stats, error) {
	stats := Stats{Radii: make(map[int]int)}

	if params.Method != types.MethodGrow && params.Method != types.MethodMutate {
		return nil, stats, fmt.Errorf("unknown generation method %q", params.Method)
	}
	if len(params.Radii) == 0 {
		return nil, stats, fmt.Errorf("no environment radius configured")
	}

	seedSet := make(map[string]bool, len(seeds))
	var pending []seedInfo
	for _, s := range seeds {
		if seedSet[s.SMILES] {
			continue
		}
		seedSet[s.SMILES] = true
		heavy, err := chem.HeavyAtoms(s.SMILES)
		if err != nil {
			g.logger.Warn("skipping malformed seed", zap.String("smiles", s.SMILES), zap.Error(err))
			continue
		}
		pending = append(pending, seedInfo{smiles: s.SMILES, heavy: heavy})
	}
	slices.SortFunc(pending, func(a, b seedInfo) int { return strings.Compare(a.smiles, b.smiles) })
	stats.Seeds = len(pending)

	lo, hi := params.Bounds()
	found := make(map[string]bool)

	for _, radius := range params.Radii {
		if len(pending) == 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, stats, err
		}

		byseed, err := g.fanOut(ctx, pending, radius, params)
		if err != nil {
			return nil, stats, err
		}

		var next []seedInfo
		for _, seed := range pending {
			p := byseed[seed.smiles]
			if p.Err != "" {
				g.logger.Warn("engine rejected seed",
					zap.String("smiles", seed.smiles), zap.Int("radius", radius), zap.String("reason", p.Err))
			}
			kept := 0
			for _, prod := range p.Products {
				stats.Raw++
				heavy, err := chem.HeavyAtoms(prod)
				if err != nil {
					stats.Malformed++
					continue
				}
				if d := heavy - seed.heavy; d < lo || d > hi {
					stats.OutOfWindow++
					continue
				}
				if seedSet[prod] {
					continue
				}
				found[prod] = true
				kept++
			}
			if kept == 0 {
				next = append(next, seed)
				continue
			}
			stats.Radii[radius]++
		}

		g.logger.Debug("radius pass",
			zap.String("method", string(params.Method)),
			zap.Int("radius", radius),
			zap.Int("seeds", len(pending)),
			zap.Int("unresolved", len(next)),
		)
		pending = next
	}
	stats.Exhausted = len(pending)

	out := make([]types.Molecule, 0, len(found))
	for s := range found {
		out = append(out, types.Mol(s))
	}
	slices.SortFunc(out, func(a, b types.Molecule) int { return strings.Compare(a.SMILES, b.SMILES) })
	return out, stats, nil
}

// fanOut splits the seeds into batches and runs them concurrently at one
// radius. The result is keyed by seed, so completion order does not matter.
func (g *Generator) fanOut(ctx context.Context, seeds []seedInfo, radius int, params types.GenerationParams) (map[string]crem.Products, error) {
	var batches [][]string
	for start := 0; start < len(seeds); start += g.batchSize {
		end := min(start+g.batchSize, len(seeds))
		batch := make([]string, 0, end-start)
		for _, s := range seeds[start:end] {
			batch = append(batch, s.smiles)
		}
		batches = append(batches, batch)
	}

	results := make([][]crem.Products, len(batches))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.workers)
	for i, batch := range batches {
		eg.Go(func() error {
			var (
				res []crem.Products
				err error
			)
			switch params.Method {
			case types.MethodGrow:
				res, err = g.engine.Grow(ctx, crem.GrowRequest{
					Seeds: batch, Radius: radius,
					MinAtoms: params.MinAtoms, MaxAtoms: params.MaxAtoms,
					FragmentDB: params.FragmentDB,
				})
			case types.MethodMutate:
				res, err = g.engine.Mutate(ctx, crem.MutateRequest{
					Seeds: batch, Radius: radius,
					MinInc: params.MinInc, MaxInc: params.MaxInc,
					FragmentDB: params.FragmentDB,
				})
			}
			if err != nil {
				return fmt.Errorf("%s at radius %d: %w", params.Method, radius, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	byseed := make(map[string]crem.Products, len(seeds))
	for _, res := range results {
		for _, p := range res {
			byseed[p.Seed] = p
		}
	}
	return byseed, nil
}
