// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"context"
	"time"

	"github.com/aartikrish/de-novo-antibiotics/internal/crem"
	"github.com/aartikrish/de-novo-antibiotics/internal/metrics"
	"github.com/aartikrish/de-novo-antibiotics/pkg/types"
)

// meteredEngine counts and times the engine calls of one run.
type meteredEngine struct {
	Engine
	rec *metrics.Recorder
}

func (m *meteredEngine) Canonicalize(ctx context.Context, smiles []string) ([]crem.Canonical, error) {
	start := time.Now()
	out, err := m.Engine.Canonicalize(ctx, smiles)
	m.rec.ObserveEngine("canonicalize", time.Since(start), err)
	return out, err
}

func (m *meteredEngine) Grow(ctx context.Context, req crem.GrowRequest) ([]crem.Products, error) {
	start := time.Now()
	out, err := m.Engine.Grow(ctx, req)
	m.rec.ObserveEngine("grow", time.Since(start), err)
	return out, err
}

func (m *meteredEngine) Mutate(ctx context.Context, req crem.MutateRequest) ([]crem.Products, error) {
	start := time.Now()
	out, err := m.Engine.Mutate(ctx, req)
	m.rec.ObserveEngine("mutate", time.Since(start), err)
	return out, err
}

func (m *meteredEngine) Alerts(ctx context.Context, smiles []string, catalogs []types.Catalog) ([]crem.Verdict, error) {
	start := time.Now()
	out, err := m.Engine.Alerts(ctx, smiles, catalogs)
	m.rec.ObserveEngine("alerts", time.Since(start), err)
	return out, err
}
