// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pipeline runs the iterative design loop:
//
//	Init -> Generating -> Filtering -> Scoring -> Selecting -> (Generating | Done)
//
// Round 1 grows or mutates the canonical seed fragment; every later round
// starts from the previous round's selection. Each round is persisted to
// the run directory, the ledger, and the metrics snapshot before the next
// one starts.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aartikrish/de-novo-antibiotics/internal/artifact"
	"github.com/aartikrish/de-novo-antibiotics/internal/chem"
	"github.com/aartikrish/de-novo-antibiotics/internal/crem"
	"github.com/aartikrish/de-novo-antibiotics/internal/filter"
	"github.com/aartikrish/de-novo-antibiotics/internal/generate"
	"github.com/aartikrish/de-novo-antibiotics/internal/metrics"
	"github.com/aartikrish/de-novo-antibiotics/internal/score"
	"github.com/aartikrish/de-novo-antibiotics/internal/selection"
	"github.com/aartikrish/de-novo-antibiotics/pkg/types"
)

// State is a step of the design loop.
type State int

const (
	StateInit State = iota
	StateGenerating
	StateFiltering
	StateScoring
	StateSelecting
	StateDone
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateGenerating:
		return "generating"
	case StateFiltering:
		return "filtering"
	case StateScoring:
		return "scoring"
	case StateSelecting:
		return "selecting"
	case StateDone:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Engine is the chemistry engine the loop drives.
type Engine interface {
	Canonicalize(ctx context.Context, smiles []string) ([]crem.Canonical, error)
	generate.Engine
	filter.Engine
}

// Ledger records runs and rounds across the output directory.
type Ledger interface {
	BeginRun(ctx context.Context, runID, dir string, cfg types.RunConfig, seed int64, started time.Time) error
	RecordRound(ctx context.Context, runID string, rec types.RoundRecord, scored []types.ScoredMolecule) error
	FinishRun(ctx context.Context, rep types.RunReport) error
}

// Deps are the collaborators of a Pipeline.
type Deps struct {
	Engine Engine
	Open   score.Opener

	// Ledger and Cache are optional.
	Ledger Ledger
	Cache  score.Cache

	Logger *zap.Logger

	// Now and NewRunID default to time.Now and uuid.NewString.
	Now      func() time.Time
	NewRunID func() string
}

// Pipeline runs design loops. A Pipeline may run several configurations
// one after the other; each Run is independent.
type Pipeline struct {
	deps   Deps
	logger *zap.Logger
}

// New creates a Pipeline.
func New(d Deps) *Pipeline {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.NewRunID == nil {
		d.NewRunID = uuid.NewString
	}
	return &Pipeline{deps: d, logger: d.Logger.Named("pipeline")}
}

// Run executes one design loop. Early exhaustion is a normal result with a
// nil error. A cancelled ctx yields TerminationCancelled and ctx.Err();
// rounds persisted before cancellation stay on disk.
func (p *Pipeline) Run(ctx context.Context, cfg types.RunConfig) (types.RunReport, error) {
	started := p.deps.Now()
	cfg = cfg.WithDefaults()

	r, err := p.init(ctx, cfg, started)
	if err != nil {
		term, err := stopped(ctx, err)
		if r == nil {
			p.logger.Error("run not started", zap.Error(err))
			return types.RunReport{
				Termination: term,
				Error:       err.Error(),
				Started:     started,
				Finished:    p.deps.Now(),
			}, err
		}
		return r.finish(ctx, term, err)
	}

	seeds := []types.Molecule{types.Mol(r.fragment)}
	for round := 1; round <= cfg.NumIters; round++ {
		if err := ctx.Err(); err != nil {
			return r.finish(ctx, types.TerminationCancelled, err)
		}
		next, err := r.round(ctx, round, seeds)
		if err != nil {
			term, err := stopped(ctx, err)
			return r.finish(ctx, term, err)
		}
		if len(next) == 0 {
			return r.finish(ctx, types.TerminationExhausted, nil)
		}
		seeds = next
	}
	return r.finish(ctx, types.TerminationCompleted, nil)
}

// run is the state of one Run call.
type run struct {
	p      *Pipeline
	cfg    types.RunConfig
	logger *zap.Logger

	id       string
	dir      *artifact.RunDir
	rng      *rand.Rand
	rec      *metrics.Recorder
	gen      *generate.Generator
	filt     *filter.Filter
	scorer   *score.Scorer
	ledgered bool

	fragment string
	rounds   int
	best     []types.ScoredMolecule
	report   types.RunReport
}

// init validates the configuration and seeds, creates the run directory,
// loads the models, and scores the reference molecule. A nil run with an
// error means nothing was written.
func (p *Pipeline) init(ctx context.Context, cfg types.RunConfig, started time.Time) (*run, error) {
	p.logger.Info("state", zap.Stringer("state", StateInit))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	frag, mol, err := p.canonicalSeeds(ctx, cfg)
	if err != nil {
		return nil, err
	}

	id := p.deps.NewRunID()
	dir, err := artifact.Init(cfg.OutDir, id)
	if err != nil {
		return nil, err
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Int63()
	}
	rec := metrics.New(id)
	engine := &meteredEngine{Engine: p.deps.Engine, rec: rec}
	logger := p.logger.With(zap.String("run_id", id))

	r := &run{
		p:        p,
		cfg:      cfg,
		logger:   logger,
		id:       id,
		dir:      dir,
		rng:      rand.New(rand.NewSource(seed)),
		rec:      rec,
		gen:      generate.New(engine, cfg.Workers, cfg.BatchSize, p.deps.Logger),
		filt:     filter.New(engine, cfg.Workers, cfg.BatchSize, p.deps.Logger),
		scorer:   score.New(score.ConfigFrom(cfg), p.deps.Open, p.deps.Cache, p.deps.Logger),
		fragment: frag,
		report:   types.RunReport{RunID: id, Dir: dir.Path(), Started: started},
	}
	logger.Info("run initialized",
		zap.String("dir", dir.Path()),
		zap.Int64("seed", seed),
		zap.String("fragment", frag),
		zap.String("scoring", string(cfg.ScoringMode())),
	)

	if err := r.scorer.Load(); err != nil {
		return r, err
	}
	ref, err := r.scorer.Score(ctx, []types.Molecule{types.Mol(mol)})
	if err != nil {
		return r, fmt.Errorf("scoring reference molecule: %w", err)
	}
	if len(ref) > 0 {
		r.report.Reference = &ref[0]
		logger.Info("reference scored", zap.String("smiles", mol), zap.Float64("score", ref[0].Score))
	} else {
		logger.Warn("reference molecule has no prediction", zap.String("smiles", mol))
	}

	err = dir.WriteRun(artifact.RunHeader{
		RunID:      id,
		Started:    started,
		Seed:       seed,
		Fragment:   frag,
		Molecule:   mol,
		Reference:  r.report.Reference,
		Parameters: cfg,
	})
	if err != nil {
		return r, err
	}

	if p.deps.Ledger != nil {
		if err := p.deps.Ledger.BeginRun(ctx, id, dir.Path(), cfg, seed, started); err != nil {
			return r, fmt.Errorf("recording run: %w", err)
		}
		r.ledgered = true
	}
	return r, nil
}

// canonicalSeeds checks both seeds lexically, canonicalizes them, and
// verifies that the engine is idempotent on its own output.
func (p *Pipeline) canonicalSeeds(ctx context.Context, cfg types.RunConfig) (frag, mol string, err error) {
	params := []string{"orig_frag_smi", "orig_mol_smi"}
	inputs := []string{cfg.OrigFragSMILES, cfg.OrigMolSMILES}
	for i, s := range inputs {
		if err := chem.Validate(s); err != nil {
			return "", "", &types.ParamError{Param: params[i], Value: s, Reason: err.Error()}
		}
	}

	canon, err := p.deps.Engine.Canonicalize(ctx, inputs)
	if err != nil {
		return "", "", fmt.Errorf("canonicalizing seeds: %w", err)
	}
	if len(canon) != len(inputs) {
		return "", "", fmt.Errorf("canonicalizing seeds: engine returned %d results for %d inputs", len(canon), len(inputs))
	}
	out := make([]string, len(canon))
	for i, c := range canon {
		if c.Err != "" {
			return "", "", &types.ParamError{Param: params[i], Value: inputs[i], Reason: c.Err}
		}
		out[i] = c.SMILES
	}

	again, err := p.deps.Engine.Canonicalize(ctx, out)
	if err != nil {
		return "", "", fmt.Errorf("canonicalizing seeds: %w", err)
	}
	if len(again) != len(out) {
		return "", "", fmt.Errorf("canonicalizing seeds: engine returned %d results for %d inputs", len(again), len(out))
	}
	for i, c := range again {
		if c.Err != "" || c.SMILES != out[i] {
			return "", "", fmt.Errorf("engine canonicalization is not idempotent for %s: %q became %q", params[i], out[i], c.SMILES)
		}
	}
	return out[0], out[1], nil
}

// round runs one generate, filter, score, select cycle and persists it.
// It returns the next seeds; none means the search is exhausted.
func (r *run) round(ctx context.Context, n int, seeds []types.Molecule) ([]types.Molecule, error) {
	rec := types.RoundRecord{Round: n, Started: r.p.deps.Now()}
	rec.Counts.Seeds = len(seeds)

	r.enter(StateGenerating, n)
	start := time.Now()
	cands, gstats, err := r.gen.Generate(ctx, seeds, r.cfg.GenerationParams())
	if err != nil {
		return nil, fmt.Errorf("round %d: %w", n, err)
	}
	r.rec.ObserveStage(metrics.StageGenerate, time.Since(start))
	r.rec.AddMolecules(metrics.StageGenerate, len(cands))
	r.rec.AddRadii(gstats.Radii)
	rec.Counts.Generated = len(cands)
	rec.Radii = gstats.Radii
	if len(cands) == 0 {
		r.logger.Info("no candidates generated", zap.Int("round", n), zap.Int("seeds", len(seeds)))
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.enter(StateFiltering, n)
	start = time.Now()
	kept, fstats, err := r.filt.Apply(ctx, cands, r.cfg.CpdFilter)
	if err != nil {
		return nil, fmt.Errorf("round %d: %w", n, err)
	}
	r.rec.ObserveStage(metrics.StageFilter, time.Since(start))
	r.rec.AddMolecules(metrics.StageFilter, len(kept))
	rec.Counts.Filtered = len(kept)
	r.logger.Debug("filtered", zap.Int("round", n), zap.Int("passed", fstats.Passed), zap.Int("cached", fstats.Cached))
	if len(kept) == 0 {
		r.logger.Info("no candidates passed the filter", zap.Int("round", n), zap.Int("generated", len(cands)))
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.enter(StateScoring, n)
	start = time.Now()
	scored, err := r.scorer.Score(ctx, kept)
	if err != nil {
		return nil, fmt.Errorf("round %d: %w", n, err)
	}
	r.rec.ObserveStage(metrics.StageScore, time.Since(start))
	r.rec.AddMolecules(metrics.StageScore, len(scored))
	rec.Counts.Scored = len(scored)
	if len(scored) == 0 {
		r.logger.Info("no candidates were scored", zap.Int("round", n))
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.enter(StateSelecting, n)
	start = time.Now()
	sel := selection.Select(scored, r.cfg.NumTopToGet, r.cfg.NumRandomToGet, r.rng)
	r.rec.ObserveStage(metrics.StageSelect, time.Since(start))
	r.rec.AddMolecules(metrics.StageSelect, sel.Len())
	rec.Counts.Selected = sel.Len()
	rec.Selected = sel
	rec.Summary = artifact.Summarize(scored)
	rec.Finished = r.p.deps.Now()

	if err := r.persist(ctx, rec, scored); err != nil {
		return nil, fmt.Errorf("round %d: %w", n, err)
	}
	r.rounds = n
	r.keepBest(sel.Top)
	r.logger.Info("round complete",
		zap.Int("round", n),
		zap.Int("generated", rec.Counts.Generated),
		zap.Int("filtered", rec.Counts.Filtered),
		zap.Int("scored", rec.Counts.Scored),
		zap.Int("selected", rec.Counts.Selected),
		zap.Float64("best", rec.Summary.Max),
	)
	return sel.Molecules(), nil
}

func (r *run) persist(ctx context.Context, rec types.RoundRecord, scored []types.ScoredMolecule) error {
	if err := r.dir.WritePredictions(rec.Round, r.cfg.HitColumn, r.termNames(), scored); err != nil {
		return err
	}
	if err := r.dir.WriteRound(rec); err != nil {
		return err
	}
	if r.ledgered {
		if err := r.p.deps.Ledger.RecordRound(ctx, r.id, rec, scored); err != nil {
			return fmt.Errorf("recording round: %w", err)
		}
	}
	r.rec.RoundCompleted(rec.Summary.Max)
	return r.rec.WriteFile(r.dir.MetricsPath())
}

func (r *run) termNames() []string {
	if r.cfg.ScoringMode() != types.ScoreModified {
		return nil
	}
	names := make([]string, len(r.cfg.Objective))
	for i, t := range r.cfg.Objective {
		names[i] = t.Name
	}
	return names
}

// keepBest merges top into the best molecules seen so far, keeping
// num_top_to_get of them.
func (r *run) keepBest(top []types.ScoredMolecule) {
	best := selection.Dedupe(append(r.best, top...))
	types.SortByScore(best)
	r.best = best[:min(len(best), r.cfg.NumTopToGet)]
}

func (r *run) enter(s State, round int) {
	r.logger.Debug("state", zap.Stringer("state", s), zap.Int("round", round))
}

// finish releases the models, writes summary.yaml, and closes the ledger
// entry. Persistence outlives cancellation of ctx.
func (r *run) finish(ctx context.Context, term types.Termination, cause error) (types.RunReport, error) {
	r.enter(StateDone, r.rounds)
	if err := r.scorer.Close(); err != nil {
		r.logger.Warn("closing models", zap.Error(err))
	}
	rep := r.report
	rep.Rounds = r.rounds
	rep.Termination = term
	rep.Best = r.best
	rep.Finished = r.p.deps.Now()
	if cause != nil {
		rep.Error = cause.Error()
	}

	var errs []error
	if cause != nil {
		errs = append(errs, cause)
	}
	if err := r.dir.WriteSummary(rep); err != nil {
		errs = append(errs, err)
	}
	if r.ledgered {
		if err := r.p.deps.Ledger.FinishRun(context.WithoutCancel(ctx), rep); err != nil {
			errs = append(errs, fmt.Errorf("recording run end: %w", err))
		}
	}
	if err := r.rec.WriteFile(r.dir.MetricsPath()); err != nil {
		errs = append(errs, err)
	}

	fields := []zap.Field{
		zap.String("termination", string(term)),
		zap.Int("rounds", rep.Rounds),
		zap.Duration("took", rep.Finished.Sub(rep.Started)),
	}
	if len(rep.Best) > 0 {
		fields = append(fields, zap.String("best", rep.Best[0].SMILES), zap.Float64("best_score", rep.Best[0].Score))
	}
	if cause != nil {
		r.logger.Error("run stopped", append(fields, zap.Error(cause))...)
	} else {
		r.logger.Info("run finished", fields...)
	}
	return rep, errors.Join(errs...)
}

// stopped classifies a run error. Once ctx is done the run counts as
// cancelled and reports ctx.Err(), whatever the stage returned.
func stopped(ctx context.Context, err error) (types.Termination, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return types.TerminationCancelled, ctxErr
	}
	return types.TerminationFailed, err
}
