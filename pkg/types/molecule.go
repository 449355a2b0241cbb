// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types holds the records shared by every pipeline stage: molecules,
// scored candidates, run parameters, and the per-round and per-run reports.
package types

import "sort"

// Molecule is a chemical structure identified by its canonical SMILES.
// Fragments use the same representation. A Molecule is a value; stages copy
// it and never modify it in place.
type Molecule struct {
	SMILES string `json:"smiles" yaml:"smiles"`
}

// Mol is shorthand for constructing a Molecule from a SMILES string.
func Mol(smiles string) Molecule {
	return Molecule{SMILES: smiles}
}

func (m Molecule) String() string { return m.SMILES }

// ScoredMolecule pairs a molecule with the model output it received.
type ScoredMolecule struct {
	Molecule `yaml:",inline"`

	// Raw is the model output read from the hit column.
	Raw float64 `json:"raw" yaml:"raw"`

	// Score is the value used for selection. Equal to Raw in regular mode.
	Score float64 `json:"score" yaml:"score"`

	// Aux holds auxiliary predictor outputs keyed by objective term name.
	// Empty in regular mode.
	Aux map[string]float64 `json:"aux,omitempty" yaml:"aux,omitempty"`
}

// Less orders scored molecules by descending score, breaking ties by
// ascending SMILES so the order is total and deterministic.
func Less(a, b ScoredMolecule) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.SMILES < b.SMILES
}

// SortByScore sorts a candidate set in place using Less.
func SortByScore(set []ScoredMolecule) {
	sort.SliceStable(set, func(i, j int) bool { return Less(set[i], set[j]) })
}

// SelectionOrigin records why a molecule was kept for the next round.
type SelectionOrigin string

const (
	OriginTop    SelectionOrigin = "top"
	OriginRandom SelectionOrigin = "random"
)

// Selection is the subset of a round's candidates carried into the next
// round: the best-scoring molecules plus a random sample of the rest.
type Selection struct {
	Top    []ScoredMolecule `json:"top" yaml:"top"`
	Random []ScoredMolecule `json:"random" yaml:"random"`
}

// Len returns the number of selected molecules.
func (s Selection) Len() int {
	return len(s.Top) + len(s.Random)
}

// Molecules returns the selected molecules, top picks first.
func (s Selection) Molecules() []Molecule {
	out := make([]Molecule, 0, s.Len())
	for _, m := range s.Top {
		out = append(out, m.Molecule)
	}
	for _, m := range s.Random {
		out = append(out, m.Molecule)
	}
	return out
}

// Origin reports whether smiles was a top or random pick. The second return
// value is false when the molecule was not selected.
func (s Selection) Origin(smiles string) (SelectionOrigin, bool) {
	for _, m := range s.Top {
		if m.SMILES == smiles {
			return OriginTop, true
		}
	}
	for _, m := range s.Random {
		if m.SMILES == smiles {
			return OriginRandom, true
		}
	}
	return "", false
}
