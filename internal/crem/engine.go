// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package crem is the client for the fragment-replacement chemistry engine.
// The engine (CReM on top of RDKit) runs as a container image and answers
// four operations: canonicalize, grow, mutate, and structural alerts.
package crem

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/aartikrish/de-novo-antibiotics/internal/container"
	"github.com/aartikrish/de-novo-antibiotics/pkg/types"
)

const (
	// DefaultImage is the engine image used when none is configured.
	DefaultImage = "crem-engine:latest"

	dbMountDir = "/db"
)

// Canonical is the engine's answer for one input SMILES.
type Canonical struct {
	Input  string
	SMILES string
	// Err is non-empty when the engine could not parse Input.
	Err string
}

// Products lists the molecules the engine derived from one seed.
type Products struct {
	Seed     string
	Products []string
	Err      string
}

// Verdict lists the alert rules one molecule matched, per catalog.
type Verdict struct {
	SMILES string
	Alerts map[types.Catalog][]string
}

// Passes reports whether the molecule matched no rule of the given catalog.
func (v Verdict) Passes(c types.Catalog) bool {
	return len(v.Alerts[c]) == 0
}

// GrowRequest asks the engine to grow each seed at one radius.
type GrowRequest struct {
	Seeds      []string
	Radius     int
	MinAtoms   int
	MaxAtoms   int
	FragmentDB string
}

// MutateRequest asks the engine to mutate each seed at one radius.
type MutateRequest struct {
	Seeds      []string
	Radius     int
	MinInc     int
	MaxInc     int
	FragmentDB string
}

// Config configures a ContainerEngine.
type Config struct {
	// Image is the engine image; DefaultImage when empty.
	Image string

	// Env is forwarded into the engine container (toolkit licenses).
	Env map[string]string
}

// ContainerEngine runs engine operations in a container image. Each call
// starts one short-lived container, so callers batch their inputs.
type ContainerEngine struct {
	runtime container.Runtime
	image   string
	env     map[string]string
	logger  *zap.Logger
}

// NewContainerEngine creates an engine backed by the given runtime. It
// verifies that the engine image exists locally before returning.
func NewContainerEngine(rt container.Runtime, cfg Config, logger *zap.Logger) (*ContainerEngine, error) {
	image := cfg.Image
	if image == "" {
		image = DefaultImage
	}
	if err := rt.ImageExists(image); err != nil {
		return nil, fmt.Errorf("engine image not available in %s: %w", rt.Name(), err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContainerEngine{
		runtime: rt,
		image:   image,
		env:     cfg.Env,
		logger:  logger.Named("crem"),
	}, nil
}

// Canonicalize returns the canonical SMILES of each input, in input order.
// Unparsable inputs are reported per item through Canonical.Err.
func (e *ContainerEngine) Canonicalize(ctx context.Context, smiles []string) ([]Canonical, error) {
	res, err := e.call(ctx, request{Op: opCanonicalize, SMILES: smiles}, "")
	if err != nil {
		return nil, err
	}
	out := make([]Canonical, len(res))
	for i, r := range res {
		out[i] = Canonical{Input: smiles[i], SMILES: r.Canonical, Err: r.Error}
	}
	return out, nil
}

// Grow returns the grown products of each seed, in seed order.
func (e *ContainerEngine) Grow(ctx context.Context, req GrowRequest) ([]Products, error) {
	res, err := e.call(ctx, request{
		Op:       opGrow,
		SMILES:   req.Seeds,
		Radius:   req.Radius,
		MinAtoms: req.MinAtoms,
		MaxAtoms: req.MaxAtoms,
	}, req.FragmentDB)
	if err != nil {
		return nil, err
	}
	return products(req.Seeds, res), nil
}

// Mutate returns the mutated products of each seed, in seed order.
func (e *ContainerEngine) Mutate(ctx context.Context, req MutateRequest) ([]Products, error) {
	res, err := e.call(ctx, request{
		Op:     opMutate,
		SMILES: req.Seeds,
		Radius: req.Radius,
		MinInc: req.MinInc,
		MaxInc: req.MaxInc,
	}, req.FragmentDB)
	if err != nil {
		return nil, err
	}
	return products(req.Seeds, res), nil
}

// Alerts evaluates each molecule against the given catalogs.
func (e *ContainerEngine) Alerts(ctx context.Context, smiles []string, catalogs []types.Catalog) ([]Verdict, error) {
	names := make([]string, len(catalogs))
	for i, c := range catalogs {
		names[i] = string(c)
	}
	res, err := e.call(ctx, request{Op: opAlerts, SMILES: smiles, Catalogs: names}, "")
	if err != nil {
		return nil, err
	}
	out := make([]Verdict, len(res))
	for i, r := range res {
		if r.Error != "" {
			return nil, fmt.Errorf("alerts for %s: %s", smiles[i], r.Error)
		}
		v := Verdict{SMILES: smiles[i], Alerts: make(map[types.Catalog][]string, len(r.Alerts))}
		for name, rules := range r.Alerts {
			v.Alerts[types.Catalog(name)] = rules
		}
		out[i] = v
	}
	return out, nil
}

func products(seeds []string, res []result) []Products {
	out := make([]Products, len(res))
	for i, r := range res {
		out[i] = Products{Seed: seeds[i], Products: r.Products, Err: r.Error}
	}
	return out
}

// call runs one request through the engine container and checks that the
// response has one result per input, in order.
func (e *ContainerEngine) call(ctx context.Context, req request, fragmentDB string) ([]result, error) {
	if len(req.SMILES) == 0 {
		return nil, nil
	}
	start := time.Now()

	spec := container.RunSpec{Image: e.image, Env: e.env}
	if fragmentDB != "" {
		spec.Mounts = []container.Mount{{Source: filepath.Dir(fragmentDB), Target: dbMountDir, ReadOnly: true}}
		req.DB = dbMountDir + "/" + filepath.Base(fragmentDB)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding %s request: %w", req.Op, err)
	}

	var out bytes.Buffer
	if err := e.runtime.Run(ctx, spec, bytes.NewReader(payload), &out); err != nil {
		return nil, fmt.Errorf("engine %s: %w", req.Op, err)
	}

	var resp response
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("decoding engine %s response: %w", req.Op, err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("engine %s: %s", req.Op, resp.Error)
	}
	if len(resp.Results) != len(req.SMILES) {
		return nil, fmt.Errorf("engine %s returned %d results for %d inputs", req.Op, len(resp.Results), len(req.SMILES))
	}
	for i, r := range resp.Results {
		if r.SMILES != req.SMILES[i] {
			return nil, fmt.Errorf("engine %s result %d is for %q, want %q", req.Op, i, r.SMILES, req.SMILES[i])
		}
	}

	e.logger.Debug("engine call",
		zap.String("op", req.Op),
		zap.Int("inputs", len(req.SMILES)),
		zap.Int("radius", req.Radius),
		zap.Duration("took", time.Since(start)),
	)
	return resp.Results, nil
}
