// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package score

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aartikrish/de-novo-antibiotics/pkg/types"
)

// tableModel predicts from a fixed table. Missing SMILES get no row.
type tableModel struct {
	key     string
	columns []string
	rows    map[string]map[string]float64
	fail    error

	mu     sync.Mutex
	calls  int
	inputs int
	closed bool
}

func (m *tableModel) Key() string { return m.key }

func (m *tableModel) Predict(_ context.Context, smiles []string) (Predictions, error) {
	m.mu.Lock()
	m.calls++
	m.inputs += len(smiles)
	m.mu.Unlock()
	if m.fail != nil {
		return Predictions{}, m.fail
	}
	p := Predictions{Columns: m.columns, Values: map[string]map[string]float64{}}
	for _, s := range smiles {
		if row, ok := m.rows[s]; ok {
			p.Values[s] = row
		}
	}
	return p, nil
}

func (m *tableModel) Close() error {
	m.closed = true
	return nil
}

func openerFor(models map[string]Model) (Opener, *int) {
	opened := 0
	return func(path string) (Model, error) {
		m, ok := models[path]
		if !ok {
			return nil, &ModelLoadError{Path: path, Reason: "directory contains no .pt checkpoint"}
		}
		opened++
		return m, nil
	}, &opened
}

var activity = &tableModel{
	key:     "activity",
	columns: []string{"ACTIVITY"},
	rows: map[string]map[string]float64{
		"CCO":  {"ACTIVITY": 0.2},
		"CCN":  {"ACTIVITY": 0.9},
		"CCCl": {"ACTIVITY": 0.5},
		"CCBr": {},
	},
}

func mols(smiles ...string) []types.Molecule {
	out := make([]types.Molecule, len(smiles))
	for i, s := range smiles {
		out[i] = types.Mol(s)
	}
	return out
}

func TestScoreRegular(t *testing.T) {
	open, _ := openerFor(map[string]Model{"models/sa": activity})
	s := New(Config{Mode: types.ScoreRegular, ModelPath: "models/sa", HitColumn: "ACTIVITY", BatchSize: 2, Workers: 2}, open, nil, nil)

	got, err := s.Score(context.Background(), mols("CCO", "CCN", "CCCl", "CCBr", "CCI", "CCO"))
	require.NoError(t, err)

	require.Len(t, got, 3, "CCBr has a non-numeric value and CCI no row")
	assert.Equal(t, "CCN", got[0].SMILES)
	assert.Equal(t, "CCCl", got[1].SMILES)
	assert.Equal(t, "CCO", got[2].SMILES)
	for _, sm := range got {
		assert.Equal(t, sm.Raw, sm.Score)
		assert.Nil(t, sm.Aux)
	}
}

func TestScoreModified(t *testing.T) {
	tox := &tableModel{
		key:     "tox",
		columns: []string{"TOX", "SA"},
		rows: map[string]map[string]float64{
			"CCO":  {"TOX": 0.1, "SA": 0.9},
			"CCN":  {"TOX": 0.8, "SA": 0.5},
			"CCCl": {"TOX": 0.3},
		},
	}
	open, opened := openerFor(map[string]Model{"models/sa": activity, "models/tox": tox})
	cfg := Config{
		Mode:      types.ScoreModified,
		ModelPath: "models/sa",
		HitColumn: "ACTIVITY",
		Objective: []types.ObjectiveTerm{
			{Name: "toxicity", ModelPath: "models/tox", Column: "TOX", Weight: -1},
			{Name: "synthesizability", ModelPath: "models/tox", Column: "SA", Weight: 0.5},
		},
	}
	s := New(cfg, open, nil, nil)

	got, err := s.Score(context.Background(), mols("CCO", "CCN", "CCCl"))
	require.NoError(t, err)
	assert.Equal(t, 2, *opened, "shared model path is opened once")

	require.Len(t, got, 2, "CCCl has no SA prediction")
	// CCO: 0.2 - 0.1 + 0.45 = 0.55; CCN: 0.9 - 0.8 + 0.25 = 0.35
	assert.Equal(t, "CCO", got[0].SMILES)
	assert.InDelta(t, 0.55, got[0].Score, 1e-9)
	assert.InDelta(t, 0.2, got[0].Raw, 1e-9)
	assert.Equal(t, map[string]float64{"toxicity": 0.1, "synthesizability": 0.9}, got[0].Aux)
	assert.InDelta(t, 0.35, got[1].Score, 1e-9)
}

func TestScoreColumnMissing(t *testing.T) {
	open, _ := openerFor(map[string]Model{"models/sa": activity})
	s := New(Config{Mode: types.ScoreRegular, ModelPath: "models/sa", HitColumn: "MIC"}, open, nil, nil)

	_, err := s.Score(context.Background(), mols("CCO"))
	var colErr *ScoreColumnError
	require.ErrorAs(t, err, &colErr)
	assert.Equal(t, "MIC", colErr.Column)
	assert.Equal(t, []string{"ACTIVITY"}, colErr.Present)
	assert.Contains(t, err.Error(), "ACTIVITY")
}

func TestScoreLoadErrorIsSticky(t *testing.T) {
	open, _ := openerFor(map[string]Model{})
	s := New(Config{Mode: types.ScoreRegular, ModelPath: "models/missing", HitColumn: "ACTIVITY"}, open, nil, nil)

	var loadErr *ModelLoadError
	require.ErrorAs(t, s.Load(), &loadErr)
	assert.Equal(t, "models/missing", loadErr.Path)

	_, err := s.Score(context.Background(), mols("CCO"))
	assert.ErrorAs(t, err, &loadErr)
}

func TestScorePredictFailure(t *testing.T) {
	broken := &tableModel{key: "broken", fail: errors.New("exit status 1")}
	open, _ := openerFor(map[string]Model{"m": broken})
	s := New(Config{Mode: types.ScoreRegular, ModelPath: "m", HitColumn: "ACTIVITY"}, open, nil, nil)

	_, err := s.Score(context.Background(), mols("CCO"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exit status 1")
}

func TestScoreEmptyInput(t *testing.T) {
	m := &tableModel{key: "m", columns: []string{"ACTIVITY"}}
	open, _ := openerFor(map[string]Model{"m": m})
	s := New(Config{Mode: types.ScoreRegular, ModelPath: "m", HitColumn: "ACTIVITY"}, open, nil, nil)

	got, err := s.Score(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Zero(t, m.calls)

	require.NoError(t, s.Close())
	assert.True(t, m.closed)
}

// mapCache is an in-memory Cache.
type mapCache struct {
	rows map[string]map[string]map[string]float64
}

func (c *mapCache) CachedScores(key string, smiles []string) (map[string]map[string]float64, error) {
	out := map[string]map[string]float64{}
	for _, s := range smiles {
		if row, ok := c.rows[key][s]; ok {
			out[s] = row
		}
	}
	return out, nil
}

func (c *mapCache) StoreScores(key string, rows map[string]map[string]float64) error {
	if c.rows[key] == nil {
		c.rows[key] = map[string]map[string]float64{}
	}
	for s, row := range rows {
		c.rows[key][s] = row
	}
	return nil
}

func TestScoreUsesCache(t *testing.T) {
	m := &tableModel{
		key:     "activity",
		columns: []string{"ACTIVITY"},
		rows: map[string]map[string]float64{
			"CCO": {"ACTIVITY": 0.2},
			"CCN": {"ACTIVITY": 0.9},
			"CCS": {},
		},
	}
	open, _ := openerFor(map[string]Model{"m": m})
	cache := &mapCache{rows: map[string]map[string]map[string]float64{}}
	cfg := Config{Mode: types.ScoreRegular, ModelPath: "m", HitColumn: "ACTIVITY"}

	_, err := New(cfg, open, cache, nil).Score(context.Background(), mols("CCO", "CCS"))
	require.NoError(t, err)
	assert.Equal(t, 2, m.inputs)
	assert.Len(t, cache.rows["activity"], 1, "incomplete rows are not cached")

	got, err := New(cfg, open, cache, nil).Score(context.Background(), mols("CCO", "CCN"))
	require.NoError(t, err)
	assert.Equal(t, 3, m.inputs, "only CCN reaches the model")
	require.Len(t, got, 2)
	assert.Equal(t, "CCN", got[0].SMILES)
	assert.Equal(t, "CCO", got[1].SMILES)
}

func TestConfigFrom(t *testing.T) {
	rc := types.RunConfig{RegularScore: true, ModelPath: "m", HitColumn: "ACTIVITY", Workers: 3, BatchSize: 10}
	cfg := ConfigFrom(rc)
	assert.Equal(t, types.ScoreRegular, cfg.Mode)
	assert.Equal(t, "ACTIVITY", cfg.HitColumn)
	assert.Equal(t, 3, cfg.Workers)
}
