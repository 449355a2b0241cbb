// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"fmt"
	"runtime"
	"slices"
	"strings"
)

// Method selects how candidates are derived from a seed.
type Method string

const (
	// MethodGrow attaches fragments in place of hydrogens on the seed.
	MethodGrow Method = "grow"
	// MethodMutate replaces fragments, changing the heavy-atom count.
	MethodMutate Method = "mutate"
)

// ScoringMode selects the scoring function applied to surviving candidates.
type ScoringMode string

const (
	// ScoreRegular uses the raw model output from the hit column.
	ScoreRegular ScoringMode = "regular"
	// ScoreModified combines the raw output with weighted auxiliary predictors.
	ScoreModified ScoringMode = "modified"
)

// Label returns the directory label the original workflow used for a mode:
// "regular_score" or "modified_score".
func (m ScoringMode) Label() string {
	return string(m) + "_score"
}

// FilterPolicy selects which structural-alert catalogs reject candidates.
type FilterPolicy string

const (
	FilterNone  FilterPolicy = "none"
	FilterPAINS FilterPolicy = "pains"
	FilterBrenk FilterPolicy = "brenk"
	FilterBoth  FilterPolicy = "both"
)

// Catalog names an alert rule set known to the chemistry engine.
type Catalog string

const (
	CatalogPAINS Catalog = "pains"
	CatalogBrenk Catalog = "brenk"
)

// Catalogs returns the alert catalogs a policy requires a molecule to pass.
func (p FilterPolicy) Catalogs() []Catalog {
	switch p {
	case FilterPAINS:
		return []Catalog{CatalogPAINS}
	case FilterBrenk:
		return []Catalog{CatalogBrenk}
	case FilterBoth:
		return []Catalog{CatalogPAINS, CatalogBrenk}
	default:
		return nil
	}
}

// Valid reports whether p is one of the known policies.
func (p FilterPolicy) Valid() bool {
	switch p {
	case FilterNone, FilterPAINS, FilterBrenk, FilterBoth:
		return true
	}
	return false
}

// GenerationParams is the structural configuration handed to the generator.
// Grow reads MinAtoms/MaxAtoms; mutate reads MinInc/MaxInc. Radii is the
// ordered list of environment radii, strictest first.
type GenerationParams struct {
	Method     Method `json:"method" yaml:"method"`
	MinAtoms   int    `json:"min_atoms" yaml:"min_atoms"`
	MaxAtoms   int    `json:"max_atoms" yaml:"max_atoms"`
	MinInc     int    `json:"min_inc" yaml:"min_inc"`
	MaxInc     int    `json:"max_inc" yaml:"max_inc"`
	Radii      []int  `json:"radii" yaml:"radii"`
	FragmentDB string `json:"fragment_db,omitempty" yaml:"fragment_db,omitempty"`
}

// Bounds returns the heavy-atom window active for the method: added atoms
// for grow, heavy-atom increment for mutate.
func (g GenerationParams) Bounds() (lo, hi int) {
	if g.Method == MethodMutate {
		return g.MinInc, g.MaxInc
	}
	return g.MinAtoms, g.MaxAtoms
}

// ObjectiveTerm is one auxiliary predictor folded into the modified score:
// Score = hit + sum(Weight * prediction[Column]) over all terms.
type ObjectiveTerm struct {
	// Name labels the term in reports (e.g. "synthesizability").
	Name string `json:"name" yaml:"name"`

	// ModelPath is a checkpoint directory or an http(s) inference URL.
	ModelPath string `json:"model_path" yaml:"model_path"`

	// Column is the prediction column read from the auxiliary model.
	Column string `json:"column" yaml:"column"`

	// Weight multiplies the column value; negative weights are penalties.
	Weight float64 `json:"weight" yaml:"weight"`
}

const (
	defaultBatchSize = 256
)

// RunConfig is the complete parameter set of one pipeline run. The yaml
// names match the run_crem keyword arguments. A RunConfig is built by the
// caller, validated once, and not modified while the run is in progress.
type RunConfig struct {
	// OutDir is the output directory; each run writes into its own
	// subdirectory named by run id.
	OutDir string `json:"out_dir" yaml:"out_dir"`

	// OrigFragSMILES is the fragment the first round grows or mutates.
	OrigFragSMILES string `json:"orig_frag_smi" yaml:"orig_frag_smi"`

	// OrigMolSMILES is the reference molecule, scored once as a baseline.
	OrigMolSMILES string `json:"orig_mol_smi" yaml:"orig_mol_smi"`

	MaxAtomRange []int `json:"max_atom_range" yaml:"max_atom_range"`
	MinAtomRange []int `json:"min_atom_range" yaml:"min_atom_range"`

	// RadiusRange lists environment radii in fallback order.
	RadiusRange []int `json:"radius_range" yaml:"radius_range"`

	MinIncRange []int `json:"min_inc_range" yaml:"min_inc_range"`
	MaxIncRange []int `json:"max_inc_range" yaml:"max_inc_range"`

	NumIters int    `json:"num_iters" yaml:"num_iters"`
	Method   Method `json:"method" yaml:"method"`

	// RegularScore selects regular mode when true, modified mode when false.
	RegularScore bool `json:"regular_score" yaml:"regular_score"`

	NumTopToGet    int `json:"num_top_to_get" yaml:"num_top_to_get"`
	NumRandomToGet int `json:"num_random_to_get" yaml:"num_random_to_get"`

	CpdFilter FilterPolicy `json:"cpd_filter" yaml:"cpd_filter"`
	ModelPath string       `json:"model_path" yaml:"model_path"`
	HitColumn string       `json:"hit_column" yaml:"hit_column"`

	// FragmentDB is the replacement database path handed to the engine.
	// Empty uses the engine image's bundled database.
	FragmentDB string `json:"fragment_db,omitempty" yaml:"fragment_db,omitempty"`

	// Objective lists the auxiliary terms of the modified score.
	Objective []ObjectiveTerm `json:"objective,omitempty" yaml:"objective,omitempty"`

	// Seed seeds random selection. Zero draws a seed at startup; the drawn
	// value is recorded in run.yaml.
	Seed int64 `json:"seed,omitempty" yaml:"seed,omitempty"`

	// Workers bounds parallel engine and model calls within a round.
	Workers int `json:"workers,omitempty" yaml:"workers,omitempty"`

	// BatchSize is the number of molecules per engine or model call.
	BatchSize int `json:"batch_size,omitempty" yaml:"batch_size,omitempty"`
}

// ScoringMode maps the RegularScore flag to a ScoringMode.
func (c RunConfig) ScoringMode() ScoringMode {
	if c.RegularScore {
		return ScoreRegular
	}
	return ScoreModified
}

// WithDefaults returns a copy of c with Workers and BatchSize filled in
// when unset. Other fields are never defaulted.
func (c RunConfig) WithDefaults() RunConfig {
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	c.MaxAtomRange = slices.Clone(c.MaxAtomRange)
	c.MinAtomRange = slices.Clone(c.MinAtomRange)
	c.RadiusRange = slices.Clone(c.RadiusRange)
	c.MinIncRange = slices.Clone(c.MinIncRange)
	c.MaxIncRange = slices.Clone(c.MaxIncRange)
	c.Objective = slices.Clone(c.Objective)
	return c
}

// GenerationParams reduces the range lists to the generator's parameters.
// Each bound list describes a closed interval: the lower bound is the
// minimum of the min list and the upper bound the maximum of the max list.
func (c RunConfig) GenerationParams() GenerationParams {
	g := GenerationParams{
		Method:     c.Method,
		Radii:      slices.Clone(c.RadiusRange),
		FragmentDB: c.FragmentDB,
	}
	if len(c.MinAtomRange) > 0 {
		g.MinAtoms = slices.Min(c.MinAtomRange)
	}
	if len(c.MaxAtomRange) > 0 {
		g.MaxAtoms = slices.Max(c.MaxAtomRange)
	}
	if len(c.MinIncRange) > 0 {
		g.MinInc = slices.Min(c.MinIncRange)
	}
	if len(c.MaxIncRange) > 0 {
		g.MaxInc = slices.Max(c.MaxIncRange)
	}
	return g
}

// Validate checks every parameter and returns a *ParamError for the first
// invalid one. SMILES strings are only checked for presence here; lexical
// validation and canonicalization happen when the run starts.
func (c RunConfig) Validate() error {
	if strings.TrimSpace(c.OutDir) == "" {
		return paramErr("out_dir", c.OutDir, "must not be empty")
	}
	if strings.TrimSpace(c.OrigFragSMILES) == "" {
		return paramErr("orig_frag_smi", c.OrigFragSMILES, "must not be empty")
	}
	if strings.TrimSpace(c.OrigMolSMILES) == "" {
		return paramErr("orig_mol_smi", c.OrigMolSMILES, "must not be empty")
	}
	if c.NumIters <= 0 {
		return paramErr("num_iters", c.NumIters, "must be positive")
	}
	if c.NumTopToGet <= 0 {
		return paramErr("num_top_to_get", c.NumTopToGet, "must be positive")
	}
	if c.NumRandomToGet < 0 {
		return paramErr("num_random_to_get", c.NumRandomToGet, "must not be negative")
	}
	if len(c.RadiusRange) == 0 {
		return paramErr("radius_range", c.RadiusRange, "must list at least one radius")
	}
	for _, r := range c.RadiusRange {
		if r < 0 {
			return paramErr("radius_range", c.RadiusRange, "radius %d is negative", r)
		}
	}

	switch c.Method {
	case MethodGrow:
		if err := checkInterval("min_atom_range", c.MinAtomRange, "max_atom_range", c.MaxAtomRange); err != nil {
			return err
		}
		if slices.Min(c.MinAtomRange) < 0 {
			return paramErr("min_atom_range", c.MinAtomRange, "atom counts must not be negative")
		}
	case MethodMutate:
		if err := checkInterval("min_inc_range", c.MinIncRange, "max_inc_range", c.MaxIncRange); err != nil {
			return err
		}
	default:
		return paramErr("method", c.Method, "must be %q or %q", MethodGrow, MethodMutate)
	}

	if !c.CpdFilter.Valid() {
		return paramErr("cpd_filter", c.CpdFilter, "must be one of none, pains, brenk, both")
	}
	if strings.TrimSpace(c.ModelPath) == "" {
		return paramErr("model_path", c.ModelPath, "must not be empty")
	}
	if strings.TrimSpace(c.HitColumn) == "" {
		return paramErr("hit_column", c.HitColumn, "must not be empty")
	}

	if !c.RegularScore {
		if len(c.Objective) == 0 {
			return paramErr("objective", "[]", "modified scoring needs at least one objective term")
		}
		seen := make(map[string]bool, len(c.Objective))
		for i, t := range c.Objective {
			field := fmt.Sprintf("objective[%d]", i)
			if t.Name == "" || t.ModelPath == "" || t.Column == "" {
				return paramErr(field, t, "name, model_path and column are required")
			}
			if seen[t.Name] {
				return paramErr(field+".name", t.Name, "duplicate term name")
			}
			seen[t.Name] = true
		}
	}
	return nil
}

func checkInterval(minName string, minList []int, maxName string, maxList []int) error {
	if len(minList) == 0 {
		return paramErr(minName, minList, "must not be empty")
	}
	if len(maxList) == 0 {
		return paramErr(maxName, maxList, "must not be empty")
	}
	lo, hi := slices.Min(minList), slices.Max(maxList)
	if lo > hi {
		return paramErr(minName, minList, "lower bound %d exceeds %s upper bound %d", lo, maxName, hi)
	}
	return nil
}
