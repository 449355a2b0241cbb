// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() RunConfig {
	return RunConfig{
		OutDir:         "out",
		OrigFragSMILES: "O=C(NC1CC2CCC1O2)Nc3cccc(F)c3",
		OrigMolSMILES:  "O=C(NC1CC2CCC1O2)Nc3cccc(F)c3",
		MinAtomRange:   []int{0},
		MaxAtomRange:   []int{6},
		RadiusRange:    []int{3, 2},
		MinIncRange:    []int{-2},
		MaxIncRange:    []int{2},
		NumIters:       10,
		Method:         MethodGrow,
		RegularScore:   true,
		NumTopToGet:    20,
		NumRandomToGet: 10,
		CpdFilter:      FilterBoth,
		ModelPath:      "models/s_aureus",
		HitColumn:      "ACTIVITY",
	}
}

func toxTerm(name string) ObjectiveTerm {
	return ObjectiveTerm{Name: name, ModelPath: "models/tox", Column: "TOX", Weight: -0.5}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *RunConfig)
		wantParam string
	}{
		{"valid grow", func(c *RunConfig) {}, ""},
		{"valid mutate", func(c *RunConfig) { c.Method = MethodMutate }, ""},
		{"valid modified", func(c *RunConfig) {
			c.RegularScore = false
			c.Objective = []ObjectiveTerm{toxTerm("toxicity")}
		}, ""},
		{"mutate with zero upper increment", func(c *RunConfig) {
			c.Method = MethodMutate
			c.MinIncRange, c.MaxIncRange = []int{-2}, []int{0}
		}, ""},
		{"empty out dir", func(c *RunConfig) { c.OutDir = " " }, "out_dir"},
		{"empty fragment", func(c *RunConfig) { c.OrigFragSMILES = "" }, "orig_frag_smi"},
		{"empty molecule", func(c *RunConfig) { c.OrigMolSMILES = "" }, "orig_mol_smi"},
		{"zero iterations", func(c *RunConfig) { c.NumIters = 0 }, "num_iters"},
		{"zero top", func(c *RunConfig) { c.NumTopToGet = 0 }, "num_top_to_get"},
		{"negative random", func(c *RunConfig) { c.NumRandomToGet = -1 }, "num_random_to_get"},
		{"no radius", func(c *RunConfig) { c.RadiusRange = nil }, "radius_range"},
		{"negative radius", func(c *RunConfig) { c.RadiusRange = []int{3, -1} }, "radius_range"},
		{"grow lower above upper", func(c *RunConfig) { c.MinAtomRange = []int{8} }, "min_atom_range"},
		{"grow negative atoms", func(c *RunConfig) { c.MinAtomRange = []int{-1} }, "min_atom_range"},
		{"grow empty min", func(c *RunConfig) { c.MinAtomRange = nil }, "min_atom_range"},
		{"grow empty max", func(c *RunConfig) { c.MaxAtomRange = nil }, "max_atom_range"},
		{"mutate empty min", func(c *RunConfig) {
			c.Method = MethodMutate
			c.MinIncRange = nil
		}, "min_inc_range"},
		{"mutate empty max", func(c *RunConfig) {
			c.Method = MethodMutate
			c.MaxIncRange = []int{}
		}, "max_inc_range"},
		{"mutate lower above upper", func(c *RunConfig) {
			c.Method = MethodMutate
			c.MinIncRange, c.MaxIncRange = []int{3}, []int{1}
		}, "min_inc_range"},
		{"unknown method", func(c *RunConfig) { c.Method = "link" }, "method"},
		{"unknown filter", func(c *RunConfig) { c.CpdFilter = "lilly" }, "cpd_filter"},
		{"no model", func(c *RunConfig) { c.ModelPath = "" }, "model_path"},
		{"no hit column", func(c *RunConfig) { c.HitColumn = "" }, "hit_column"},
		{"modified without terms", func(c *RunConfig) { c.RegularScore = false }, "objective"},
		{"term missing column", func(c *RunConfig) {
			c.RegularScore = false
			term := toxTerm("toxicity")
			term.Column = ""
			c.Objective = []ObjectiveTerm{term}
		}, "objective[0]"},
		{"duplicate term", func(c *RunConfig) {
			c.RegularScore = false
			c.Objective = []ObjectiveTerm{toxTerm("toxicity"), toxTerm("toxicity")}
		}, "objective[1].name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantParam == "" {
				assert.NoError(t, err)
				return
			}
			var pe *ParamError
			require.True(t, errors.As(err, &pe), "got %v", err)
			assert.Equal(t, tt.wantParam, pe.Param)
			assert.Contains(t, err.Error(), "invalid "+tt.wantParam+"=")
		})
	}
}

func TestValidateReportsValue(t *testing.T) {
	cfg := validConfig()
	cfg.NumIters = -3
	err := cfg.Validate()
	var pe *ParamError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, -3, pe.Value)
	assert.Equal(t, "invalid num_iters=-3: must be positive", err.Error())
}

func TestGenerationParamsReducesRanges(t *testing.T) {
	cfg := validConfig()
	cfg.MinAtomRange = []int{2, 0, 1}
	cfg.MaxAtomRange = []int{4, 8, 6}
	cfg.MinIncRange = []int{-1, -3}
	cfg.MaxIncRange = []int{0, 2, 1}
	cfg.FragmentDB = "db/replacements.db"

	g := cfg.GenerationParams()
	assert.Equal(t, 0, g.MinAtoms)
	assert.Equal(t, 8, g.MaxAtoms)
	assert.Equal(t, -3, g.MinInc)
	assert.Equal(t, 2, g.MaxInc)
	assert.Equal(t, []int{3, 2}, g.Radii)
	assert.Equal(t, "db/replacements.db", g.FragmentDB)

	g.Radii[0] = 9
	assert.Equal(t, 3, cfg.RadiusRange[0], "radii are copied")
}

func TestBounds(t *testing.T) {
	g := GenerationParams{MinAtoms: 0, MaxAtoms: 6, MinInc: -2, MaxInc: 2}

	tests := []struct {
		method Method
		lo, hi int
	}{
		{MethodGrow, 0, 6},
		{MethodMutate, -2, 2},
	}
	for _, tt := range tests {
		t.Run(string(tt.method), func(t *testing.T) {
			g.Method = tt.method
			lo, hi := g.Bounds()
			assert.Equal(t, tt.lo, lo)
			assert.Equal(t, tt.hi, hi)
		})
	}
}

func TestWithDefaults(t *testing.T) {
	cfg := validConfig()
	got := cfg.WithDefaults()
	assert.Positive(t, got.Workers)
	assert.Equal(t, defaultBatchSize, got.BatchSize)

	got.RadiusRange[0] = 1
	assert.Equal(t, 3, cfg.RadiusRange[0], "defaults must not share slices with the caller")

	cfg.Workers, cfg.BatchSize = 2, 16
	got = cfg.WithDefaults()
	assert.Equal(t, 2, got.Workers)
	assert.Equal(t, 16, got.BatchSize)
}

func TestScoringMode(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, ScoreRegular, cfg.ScoringMode())
	assert.Equal(t, "regular_score", cfg.ScoringMode().Label())
	cfg.RegularScore = false
	assert.Equal(t, ScoreModified, cfg.ScoringMode())
	assert.Equal(t, "modified_score", cfg.ScoringMode().Label())
}

func TestFilterPolicyCatalogs(t *testing.T) {
	tests := map[FilterPolicy][]Catalog{
		FilterNone:  nil,
		FilterPAINS: {CatalogPAINS},
		FilterBrenk: {CatalogBrenk},
		FilterBoth:  {CatalogPAINS, CatalogBrenk},
	}
	for p, want := range tests {
		assert.True(t, p.Valid(), p)
		assert.Equal(t, want, p.Catalogs(), p)
	}
	assert.False(t, FilterPolicy("lilly").Valid())
}
