// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package selection picks the molecules carried into the next round: the
// best-scoring candidates (exploitation) plus a uniform random sample of
// the rest (exploration).
package selection

import (
	"math/rand"
	"sort"

	"github.com/aartikrish/de-novo-antibiotics/pkg/types"
)

// Select returns the numTop highest-scoring molecules and numRandom molecules
// drawn without replacement from the remainder. When the remainder holds at
// most numRandom molecules, all of it is returned. Duplicate SMILES are
// collapsed first, keeping the highest score. Both lists are in score order.
// The result depends only on the input set and the state of rng; a nil rng
// behaves like one seeded with 1.
func Select(scored []types.ScoredMolecule, numTop, numRandom int, rng *rand.Rand) types.Selection {
	ranked := Dedupe(scored)
	types.SortByScore(ranked)

	numTop = clamp(numTop, len(ranked))
	sel := types.Selection{Top: ranked[:numTop:numTop]}
	rest := ranked[numTop:]

	numRandom = clamp(numRandom, len(rest))
	if numRandom == len(rest) {
		sel.Random = rest
		return sel
	}
	if numRandom == 0 {
		return sel
	}

	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	picks := rng.Perm(len(rest))[:numRandom]
	sort.Ints(picks)
	sel.Random = make([]types.ScoredMolecule, numRandom)
	for i, p := range picks {
		sel.Random[i] = rest[p]
	}
	return sel
}

// Dedupe returns scored with one entry per SMILES, keeping the entry with
// the highest score. The input is not modified.
func Dedupe(scored []types.ScoredMolecule) []types.ScoredMolecule {
	index := make(map[string]int, len(scored))
	out := make([]types.ScoredMolecule, 0, len(scored))
	for _, m := range scored {
		i, ok := index[m.SMILES]
		if !ok {
			index[m.SMILES] = len(out)
			out = append(out, m)
			continue
		}
		if m.Score > out[i].Score {
			out[i] = m
		}
	}
	return out
}

func clamp(n, limit int) int {
	return max(0, min(n, limit))
}
