// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package cremtest provides an in-memory chemistry engine for tests. It
// answers from lookup tables instead of running a container.
package cremtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/aartikrish/de-novo-antibiotics/internal/crem"
	"github.com/aartikrish/de-novo-antibiotics/pkg/types"
)

// Key addresses a product table entry.
type Key struct {
	Seed   string
	Radius int
}

// Call records one engine request.
type Call struct {
	Op     string
	Inputs int
	Radius int
}

// Engine is a table-driven fake of crem.ContainerEngine. It is safe for
// concurrent use. Unknown inputs canonicalize to themselves and have no
// products and no alerts.
type Engine struct {
	// Canon maps an input SMILES to its canonical form.
	Canon map[string]string
	// Invalid lists inputs the engine refuses to parse.
	Invalid map[string]bool
	// Grown and Mutated map (seed, radius) to products.
	Grown   map[Key][]string
	Mutated map[Key][]string
	// Rules maps catalog -> SMILES -> matched rule names.
	Rules map[types.Catalog]map[string][]string
	// Fail, when set, is returned by every call.
	Fail error

	mu    sync.Mutex
	calls []Call
}

// New returns an empty fake engine.
func New() *Engine {
	return &Engine{
		Canon:   map[string]string{},
		Invalid: map[string]bool{},
		Grown:   map[Key][]string{},
		Mutated: map[Key][]string{},
		Rules:   map[types.Catalog]map[string][]string{},
	}
}

// Flag marks smiles as matching rule in catalog.
func (e *Engine) Flag(c types.Catalog, smiles, rule string) {
	if e.Rules[c] == nil {
		e.Rules[c] = map[string][]string{}
	}
	e.Rules[c][smiles] = append(e.Rules[c][smiles], rule)
}

// Calls returns a copy of the recorded calls.
func (e *Engine) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Call(nil), e.calls...)
}

// CallCount returns the number of calls made with op.
func (e *Engine) CallCount(op string) int {
	n := 0
	for _, c := range e.Calls() {
		if c.Op == op {
			n++
		}
	}
	return n
}

func (e *Engine) record(op string, inputs, radius int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, Call{Op: op, Inputs: inputs, Radius: radius})
	return e.Fail
}

func (e *Engine) Canonicalize(_ context.Context, smiles []string) ([]crem.Canonical, error) {
	if err := e.record("canonicalize", len(smiles), 0); err != nil {
		return nil, err
	}
	out := make([]crem.Canonical, len(smiles))
	for i, s := range smiles {
		switch {
		case e.Invalid[s]:
			out[i] = crem.Canonical{Input: s, Err: fmt.Sprintf("cannot parse %s", s)}
		case e.Canon[s] != "":
			out[i] = crem.Canonical{Input: s, SMILES: e.Canon[s]}
		default:
			out[i] = crem.Canonical{Input: s, SMILES: s}
		}
	}
	return out, nil
}

func (e *Engine) Grow(_ context.Context, req crem.GrowRequest) ([]crem.Products, error) {
	if err := e.record("grow", len(req.Seeds), req.Radius); err != nil {
		return nil, err
	}
	return lookup(e.Grown, req.Seeds, req.Radius), nil
}

func (e *Engine) Mutate(_ context.Context, req crem.MutateRequest) ([]crem.Products, error) {
	if err := e.record("mutate", len(req.Seeds), req.Radius); err != nil {
		return nil, err
	}
	return lookup(e.Mutated, req.Seeds, req.Radius), nil
}

func (e *Engine) Alerts(_ context.Context, smiles []string, catalogs []types.Catalog) ([]crem.Verdict, error) {
	if err := e.record("alerts", len(smiles), 0); err != nil {
		return nil, err
	}
	out := make([]crem.Verdict, len(smiles))
	for i, s := range smiles {
		v := crem.Verdict{SMILES: s, Alerts: map[types.Catalog][]string{}}
		for _, c := range catalogs {
			if rules := e.Rules[c][s]; len(rules) > 0 {
				v.Alerts[c] = rules
			}
		}
		out[i] = v
	}
	return out, nil
}

func lookup(table map[Key][]string, seeds []string, radius int) []crem.Products {
	out := make([]crem.Products, len(seeds))
	for i, s := range seeds {
		out[i] = crem.Products{Seed: s, Products: append([]string(nil), table[Key{Seed: s, Radius: radius}]...)}
	}
	return out
}
