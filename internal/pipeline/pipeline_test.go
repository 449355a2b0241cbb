// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aartikrish/de-novo-antibiotics/internal/artifact"
	"github.com/aartikrish/de-novo-antibiotics/internal/crem"
	"github.com/aartikrish/de-novo-antibiotics/internal/crem/cremtest"
	"github.com/aartikrish/de-novo-antibiotics/internal/ledger"
	"github.com/aartikrish/de-novo-antibiotics/internal/score"
	"github.com/aartikrish/de-novo-antibiotics/pkg/types"
)

const seedSMILES = "O=C(NC1CC2CCC1O2)Nc3cccc(F)c3"

// growEngine grows every seed by one of a fixed set of suffixes at the
// first radius, and flags sulfur as PAINS and bromine as Brenk.
type growEngine struct {
	*cremtest.Engine
}

var suffixes = []string{"C", "N", "O", "S", "CC", "Br"}

func (e growEngine) Grow(_ context.Context, req crem.GrowRequest) ([]crem.Products, error) {
	out := make([]crem.Products, len(req.Seeds))
	for i, s := range req.Seeds {
		out[i] = crem.Products{Seed: s}
		for _, suf := range suffixes {
			out[i].Products = append(out[i].Products, s+suf)
		}
	}
	return out, nil
}

func (e growEngine) Alerts(_ context.Context, smiles []string, catalogs []types.Catalog) ([]crem.Verdict, error) {
	out := make([]crem.Verdict, len(smiles))
	for i, s := range smiles {
		v := crem.Verdict{SMILES: s, Alerts: map[types.Catalog][]string{}}
		for _, c := range catalogs {
			if c == types.CatalogPAINS && strings.Contains(s, "S") {
				v.Alerts[c] = []string{"thiol"}
			}
			if c == types.CatalogBrenk && strings.Contains(s, "Br") {
				v.Alerts[c] = []string{"alkyl_halide"}
			}
		}
		out[i] = v
	}
	return out, nil
}

// fnModel predicts every input with fn. onPredict, when set, runs before
// each prediction with the 1-based call number.
type fnModel struct {
	key       string
	columns   []string
	fn        func(smiles string) map[string]float64
	onPredict func(call int)

	mu    sync.Mutex
	calls int
}

func (m *fnModel) Key() string { return m.key }

func (m *fnModel) Predict(_ context.Context, smiles []string) (score.Predictions, error) {
	m.mu.Lock()
	m.calls++
	call := m.calls
	m.mu.Unlock()
	if m.onPredict != nil {
		m.onPredict(call)
	}
	p := score.Predictions{Columns: m.columns, Values: map[string]map[string]float64{}}
	for _, s := range smiles {
		p.Values[s] = m.fn(s)
	}
	return p, nil
}

func (m *fnModel) Close() error { return nil }

func activityModel() *fnModel {
	return &fnModel{
		key:     "sa",
		columns: []string{"ACTIVITY"},
		fn: func(s string) map[string]float64 {
			return map[string]float64{"ACTIVITY": 0.1*float64(strings.Count(s, "N")) + 0.001*float64(len(s))}
		},
	}
}

func toxModel() *fnModel {
	return &fnModel{
		key:     "tox",
		columns: []string{"TOX"},
		fn: func(s string) map[string]float64 {
			return map[string]float64{"TOX": 0.1 * float64(strings.Count(s, "O"))}
		},
	}
}

func opener(models map[string]score.Model) score.Opener {
	return func(path string) (score.Model, error) {
		m, ok := models[path]
		if !ok {
			return nil, &score.ModelLoadError{Path: path, Reason: "no such file or directory"}
		}
		return m, nil
	}
}

func baseConfig(outDir string) types.RunConfig {
	return types.RunConfig{
		OutDir:         outDir,
		OrigFragSMILES: seedSMILES,
		OrigMolSMILES:  seedSMILES,
		MinAtomRange:   []int{0},
		MaxAtomRange:   []int{6},
		RadiusRange:    []int{3, 2},
		NumIters:       10,
		Method:         types.MethodGrow,
		NumTopToGet:    20,
		NumRandomToGet: 10,
		CpdFilter:      types.FilterBoth,
		ModelPath:      "models/sa",
		HitColumn:      "ACTIVITY",
		Objective: []types.ObjectiveTerm{
			{Name: "toxicity", ModelPath: "models/tox", Column: "TOX", Weight: -0.5},
		},
		Seed:      7,
		Workers:   4,
		BatchSize: 16,
	}
}

func runIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("run-%d", n)
	}
}

func TestRunEndToEnd(t *testing.T) {
	out := t.TempDir()
	l, err := ledger.Open(out)
	require.NoError(t, err)
	defer l.Close()

	p := New(Deps{
		Engine:   growEngine{cremtest.New()},
		Open:     opener(map[string]score.Model{"models/sa": activityModel(), "models/tox": toxModel()}),
		Ledger:   l,
		Cache:    l,
		NewRunID: runIDs(),
	})
	rep, err := p.Run(context.Background(), baseConfig(out))
	require.NoError(t, err)

	assert.Equal(t, types.TerminationCompleted, rep.Termination)
	assert.Equal(t, 10, rep.Rounds)
	assert.Equal(t, "run-1", rep.RunID)
	require.NotNil(t, rep.Reference)
	assert.Equal(t, seedSMILES, rep.Reference.SMILES)
	require.NotEmpty(t, rep.Best)
	assert.LessOrEqual(t, len(rep.Best), 20)

	dir := artifact.Open(rep.Dir)
	header, err := dir.ReadRun()
	require.NoError(t, err)
	assert.Equal(t, int64(7), header.Seed)
	assert.Equal(t, seedSMILES, header.Fragment)

	for n := 1; n <= 10; n++ {
		rec, err := dir.ReadRound(n)
		require.NoError(t, err, "round %d", n)
		assert.LessOrEqual(t, rec.Selected.Len(), 30)
		assert.Equal(t, rec.Counts.Selected, rec.Selected.Len())
		assert.Equal(t, map[int]int{3: rec.Counts.Seeds}, rec.Radii)
		for _, m := range append(rec.Selected.Top, rec.Selected.Random...) {
			assert.NotContains(t, m.SMILES, "S")
			assert.NotContains(t, m.SMILES, "Br")
		}
		for i := 1; i < len(rec.Selected.Top); i++ {
			assert.GreaterOrEqual(t, rec.Selected.Top[i-1].Score, rec.Selected.Top[i].Score)
		}

		rows := readCSV(t, filepath.Join(rep.Dir, artifact.PredictionsFile(n)))
		assert.Equal(t, []string{"smiles", "ACTIVITY", "toxicity", "score"}, rows[0])
		assert.Len(t, rows, rec.Counts.Scored+1)
		for _, row := range rows[1:] {
			assert.NotContains(t, row[0], "S")
			assert.NotContains(t, row[0], "Br")
		}
	}

	for _, name := range []string{"summary.yaml", "metrics.prom"} {
		_, err := os.Stat(filepath.Join(rep.Dir, name))
		assert.NoError(t, err, name)
	}

	runs, err := l.Runs(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 10, runs[0].Rounds)
	assert.Equal(t, "completed", runs[0].Termination)
}

func TestRunIsReproducible(t *testing.T) {
	selected := func() []types.Selection {
		out := t.TempDir()
		p := New(Deps{
			Engine: growEngine{cremtest.New()},
			Open:   opener(map[string]score.Model{"models/sa": activityModel(), "models/tox": toxModel()}),
		})
		cfg := baseConfig(out)
		cfg.NumIters = 3
		rep, err := p.Run(context.Background(), cfg)
		require.NoError(t, err)
		var sels []types.Selection
		for n := 1; n <= rep.Rounds; n++ {
			rec, err := artifact.Open(rep.Dir).ReadRound(n)
			require.NoError(t, err)
			sels = append(sels, rec.Selected)
		}
		return sels
	}
	assert.Equal(t, selected(), selected())
}

func TestRunRadiusFallback(t *testing.T) {
	eng := cremtest.New()
	eng.Grown[cremtest.Key{Seed: "CCO", Radius: 2}] = []string{"CCOC", "CCON"}

	cfg := baseConfig(t.TempDir())
	cfg.OrigFragSMILES, cfg.OrigMolSMILES = "CCO", "CCOCC"
	cfg.NumIters = 1
	cfg.CpdFilter = types.FilterNone
	cfg.RegularScore = true

	p := New(Deps{Engine: eng, Open: opener(map[string]score.Model{"models/sa": activityModel()})})
	rep, err := p.Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, types.TerminationCompleted, rep.Termination)

	rec, err := artifact.Open(rep.Dir).ReadRound(1)
	require.NoError(t, err)
	assert.Equal(t, map[int]int{2: 1}, rec.Radii)
	assert.Equal(t, 2, rec.Counts.Generated)

	var radii []int
	for _, c := range eng.Calls() {
		if c.Op == "grow" {
			radii = append(radii, c.Radius)
		}
	}
	assert.Equal(t, []int{3, 2}, radii)
}

func TestRunExhausted(t *testing.T) {
	out := t.TempDir()
	l, err := ledger.Open(out)
	require.NoError(t, err)
	defer l.Close()

	cfg := baseConfig(out)
	cfg.RegularScore = true
	p := New(Deps{Engine: cremtest.New(), Open: opener(map[string]score.Model{"models/sa": activityModel()}), Ledger: l})
	rep, err := p.Run(context.Background(), cfg)
	require.NoError(t, err, "exhaustion is a normal result")
	assert.Equal(t, types.TerminationExhausted, rep.Termination)
	assert.Zero(t, rep.Rounds)

	_, err = os.Stat(filepath.Join(rep.Dir, artifact.ResultsFile(1)))
	assert.ErrorIs(t, err, fs.ErrNotExist)
	_, err = os.Stat(filepath.Join(rep.Dir, "summary.yaml"))
	assert.NoError(t, err)

	runs, err := l.Runs(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "exhausted", runs[0].Termination)
}

func TestRunEverythingFiltered(t *testing.T) {
	eng := cremtest.New()
	eng.Grown[cremtest.Key{Seed: "CCO", Radius: 3}] = []string{"CCOS"}
	eng.Flag(types.CatalogPAINS, "CCOS", "thiol")

	cfg := baseConfig(t.TempDir())
	cfg.OrigFragSMILES, cfg.OrigMolSMILES = "CCO", "CCOCC"
	cfg.RegularScore = true

	p := New(Deps{Engine: eng, Open: opener(map[string]score.Model{"models/sa": activityModel()})})
	rep, err := p.Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, types.TerminationExhausted, rep.Termination)
	assert.Zero(t, rep.Rounds)
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	model := activityModel()
	// Call 1 scores the reference, call 2 round 1, call 3 round 2.
	model.onPredict = func(call int) {
		if call == 3 {
			cancel()
		}
	}
	cfg := baseConfig(t.TempDir())
	cfg.RegularScore = true

	p := New(Deps{Engine: growEngine{cremtest.New()}, Open: opener(map[string]score.Model{"models/sa": model})})
	rep, err := p.Run(ctx, cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, types.TerminationCancelled, rep.Termination)
	assert.Equal(t, 1, rep.Rounds)

	_, err = os.Stat(filepath.Join(rep.Dir, artifact.ResultsFile(1)))
	assert.NoError(t, err, "persisted rounds survive cancellation")
	_, err = os.Stat(filepath.Join(rep.Dir, artifact.ResultsFile(2)))
	assert.ErrorIs(t, err, fs.ErrNotExist)
	_, err = os.Stat(filepath.Join(rep.Dir, "summary.yaml"))
	assert.NoError(t, err)
}

func TestRunInvalidSeeds(t *testing.T) {
	eng := cremtest.New()
	eng.Invalid["C(C)(C)(C)(C)C"] = true

	tests := []struct {
		name      string
		frag, mol string
		param     string
	}{
		{name: "unclosed ring", frag: "C1CC", mol: "CCO", param: "orig_frag_smi"},
		{name: "unknown atom", frag: "CCO", mol: "CCQ", param: "orig_mol_smi"},
		{name: "engine rejects", frag: "CCO", mol: "C(C)(C)(C)(C)C", param: "orig_mol_smi"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := filepath.Join(t.TempDir(), "out")
			cfg := baseConfig(out)
			cfg.OrigFragSMILES, cfg.OrigMolSMILES = tt.frag, tt.mol

			p := New(Deps{Engine: eng, Open: opener(nil)})
			rep, err := p.Run(context.Background(), cfg)

			var pe *types.ParamError
			require.True(t, errors.As(err, &pe), "got %v", err)
			assert.Equal(t, tt.param, pe.Param)
			assert.Equal(t, types.TerminationFailed, rep.Termination)
			_, statErr := os.Stat(out)
			assert.ErrorIs(t, statErr, fs.ErrNotExist, "nothing is written for invalid seeds")
		})
	}
}

func TestRunInvalidConfig(t *testing.T) {
	cfg := baseConfig(t.TempDir())
	cfg.NumIters = 0
	p := New(Deps{Engine: cremtest.New(), Open: opener(nil)})
	_, err := p.Run(context.Background(), cfg)

	var pe *types.ParamError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "num_iters", pe.Param)
}

func TestRunCanonicalizationNotIdempotent(t *testing.T) {
	eng := cremtest.New()
	eng.Canon["OCC"] = "CCO"
	eng.Canon["CCO"] = "OCC"

	cfg := baseConfig(t.TempDir())
	cfg.OrigFragSMILES, cfg.OrigMolSMILES = "OCC", "CCN"
	p := New(Deps{Engine: eng, Open: opener(nil)})
	_, err := p.Run(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not idempotent")
}

// shortEngine drops the last canonicalization result.
type shortEngine struct {
	*cremtest.Engine
}

func (e shortEngine) Canonicalize(ctx context.Context, smiles []string) ([]crem.Canonical, error) {
	out, err := e.Engine.Canonicalize(ctx, smiles)
	if err != nil || len(out) == 0 {
		return out, err
	}
	return out[:len(out)-1], nil
}

func TestRunShortCanonicalization(t *testing.T) {
	dir := t.TempDir()
	p := New(Deps{Engine: shortEngine{cremtest.New()}, Open: opener(nil)})
	rep, err := p.Run(context.Background(), baseConfig(dir))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "returned 1 results for 2 inputs")
	assert.Equal(t, types.TerminationFailed, rep.Termination)
	assert.Empty(t, rep.RunID, "nothing is written before the seeds are canonical")
}

func TestRunModelLoadError(t *testing.T) {
	cfg := baseConfig(t.TempDir())
	p := New(Deps{
		Engine: growEngine{cremtest.New()},
		Open:   opener(map[string]score.Model{"models/sa": activityModel()}),
		Now:    func() time.Time { return time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC) },
	})
	rep, err := p.Run(context.Background(), cfg)

	var le *score.ModelLoadError
	require.True(t, errors.As(err, &le), "got %v", err)
	assert.Equal(t, "models/tox", le.Path)
	assert.Equal(t, types.TerminationFailed, rep.Termination)
	assert.Zero(t, rep.Rounds)
	_, err = os.Stat(filepath.Join(rep.Dir, "summary.yaml"))
	assert.NoError(t, err)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "generating", StateGenerating.String())
	assert.Equal(t, "done", StateDone.String())
	assert.Equal(t, "state(42)", State(42).String())
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}
