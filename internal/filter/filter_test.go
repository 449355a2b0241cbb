// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package filter

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aartikrish/de-novo-antibiotics/internal/crem/cremtest"
	"github.com/aartikrish/de-novo-antibiotics/pkg/types"
)

var candidates = []types.Molecule{
	types.Mol("CCO"),
	types.Mol("O=C1C=CC(=O)C=C1"),
	types.Mol("CC(=O)Cl"),
	types.Mol("c1ccccc1N=Nc1ccccc1"),
	types.Mol("CCN"),
}

func flaggedEngine() *cremtest.Engine {
	eng := cremtest.New()
	eng.Flag(types.CatalogPAINS, "O=C1C=CC(=O)C=C1", "quinone_A")
	eng.Flag(types.CatalogPAINS, "c1ccccc1N=Nc1ccccc1", "azo_A")
	eng.Flag(types.CatalogBrenk, "CC(=O)Cl", "acyl_halide")
	eng.Flag(types.CatalogBrenk, "c1ccccc1N=Nc1ccccc1", "azo_group")
	return eng
}

func smilesOf(mols []types.Molecule) []string {
	out := make([]string, len(mols))
	for i, m := range mols {
		out[i] = m.SMILES
	}
	return out
}

func TestApplyPolicies(t *testing.T) {
	tests := []struct {
		policy types.FilterPolicy
		want   []string
	}{
		{types.FilterNone, []string{"CCO", "O=C1C=CC(=O)C=C1", "CC(=O)Cl", "c1ccccc1N=Nc1ccccc1", "CCN"}},
		{types.FilterPAINS, []string{"CCO", "CC(=O)Cl", "CCN"}},
		{types.FilterBrenk, []string{"CCO", "O=C1C=CC(=O)C=C1", "CCN"}},
		{types.FilterBoth, []string{"CCO", "CCN"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			f := New(flaggedEngine(), 2, 2, nil)
			got, stats, err := f.Apply(context.Background(), candidates, tt.policy)
			require.NoError(t, err)
			assert.Equal(t, tt.want, smilesOf(got))
			assert.Equal(t, len(candidates), stats.Input)
			assert.Equal(t, len(tt.want), stats.Passed)
		})
	}
}

func TestApplyBothIsIntersection(t *testing.T) {
	f := New(flaggedEngine(), 1, 0, nil)
	ctx := context.Background()
	pains, _, err := f.Apply(ctx, candidates, types.FilterPAINS)
	require.NoError(t, err)
	brenk, _, err := f.Apply(ctx, candidates, types.FilterBrenk)
	require.NoError(t, err)
	both, stats, err := f.Apply(ctx, candidates, types.FilterBoth)
	require.NoError(t, err)

	for _, m := range both {
		assert.Contains(t, pains, m)
		assert.Contains(t, brenk, m)
	}
	assert.Equal(t, 2, stats.Rejected[types.CatalogPAINS])
	assert.Equal(t, 2, stats.Rejected[types.CatalogBrenk])
}

func TestApplyNoneSkipsEngine(t *testing.T) {
	eng := flaggedEngine()
	got, _, err := New(eng, 1, 0, nil).Apply(context.Background(), candidates, types.FilterNone)
	require.NoError(t, err)
	assert.Equal(t, candidates, got)
	assert.Empty(t, eng.Calls())

	got[0] = types.Mol("C")
	assert.Equal(t, "CCO", candidates[0].SMILES, "result must not alias the input")
}

func TestApplyCachesVerdicts(t *testing.T) {
	eng := flaggedEngine()
	f := New(eng, 1, 0, nil)
	ctx := context.Background()

	_, _, err := f.Apply(ctx, candidates, types.FilterBoth)
	require.NoError(t, err)
	require.Equal(t, 1, eng.CallCount("alerts"))

	_, stats, err := f.Apply(ctx, candidates[:3], types.FilterPAINS)
	require.NoError(t, err)
	assert.Equal(t, 1, eng.CallCount("alerts"), "cached verdicts must not reach the engine")
	assert.Equal(t, 3, stats.Cached)

	_, _, err = f.Apply(ctx, []types.Molecule{types.Mol("CCO"), types.Mol("CCCl")}, types.FilterPAINS)
	require.NoError(t, err)
	calls := eng.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, 1, calls[1].Inputs)
}

func TestApplyErrors(t *testing.T) {
	_, _, err := New(cremtest.New(), 1, 0, nil).Apply(context.Background(), candidates, "lilly")
	assert.Error(t, err)

	eng := cremtest.New()
	eng.Fail = errors.New("engine crashed")
	_, _, err = New(eng, 1, 0, nil).Apply(context.Background(), candidates, types.FilterPAINS)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine crashed")
}
