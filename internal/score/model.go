// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package score

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/aartikrish/de-novo-antibiotics/internal/container"
)

// Predictions is one model's output for a batch of molecules. Values holds
// the numeric cells of each returned row; a non-numeric cell is absent.
type Predictions struct {
	Columns []string
	Values  map[string]map[string]float64
}

// HasColumn reports whether the model produced column name.
func (p Predictions) HasColumn(name string) bool {
	for _, c := range p.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// merge folds q into p. Columns keep first-seen order.
func (p *Predictions) merge(q Predictions) {
	if p.Values == nil {
		p.Values = make(map[string]map[string]float64, len(q.Values))
	}
	for _, c := range q.Columns {
		if !p.HasColumn(c) {
			p.Columns = append(p.Columns, c)
		}
	}
	for smi, row := range q.Values {
		p.Values[smi] = row
	}
}

// Model is a trained property predictor.
type Model interface {
	// Key identifies the model for score caching.
	Key() string
	// Predict returns predictions for the given SMILES.
	Predict(ctx context.Context, smiles []string) (Predictions, error)
	Close() error
}

// ModelLoadError reports a model that cannot be loaded from Path.
type ModelLoadError struct {
	Path   string
	Reason string
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("loading model %s: %s", e.Path, e.Reason)
}

// ScoreColumnError reports a column the model output does not contain.
type ScoreColumnError struct {
	Column  string
	Model   string
	Present []string
}

func (e *ScoreColumnError) Error() string {
	return fmt.Sprintf("model %s has no column %q (columns: %s)", e.Model, e.Column, strings.Join(e.Present, ", "))
}

// Options configures how Open acquires models.
type Options struct {
	// Runtime runs checkpoint directories. Required for local models.
	Runtime container.Runtime
	// Image is the predictor image; DefaultImage when empty.
	Image string
	// Env is forwarded into the predictor container.
	Env map[string]string

	// Client is used for http(s) models; http.DefaultClient when nil.
	Client *http.Client
	// Token, when set, is sent as a bearer token to http(s) models.
	Token string

	Logger *zap.Logger
}

// Opener acquires a model from a path or URL.
type Opener func(path string) (Model, error)

// NewOpener returns an Opener bound to opts.
func NewOpener(opts Options) Opener {
	return func(path string) (Model, error) { return Open(path, opts) }
}

// Open acquires the model at path. An http(s) URL selects a remote
// inference server; anything else is a local checkpoint directory or .pt
// file run in the predictor container.
func Open(path string, opts Options) (Model, error) {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return newHTTPModel(path, opts)
	}
	if opts.Runtime == nil {
		return nil, &ModelLoadError{Path: path, Reason: "no container runtime for local model"}
	}
	return newContainerModel(path, opts)
}

// parsePredictions reads prediction CSV. Lines before the header row (the
// first record with a "smiles" field) are skipped, so tool banners on
// stdout do not break parsing.
func parsePredictions(r io.Reader) (Predictions, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	smiCol := -1
	var header []string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return Predictions{}, errors.New("prediction output has no header with a smiles column")
		}
		if err != nil {
			return Predictions{}, fmt.Errorf("reading prediction header: %w", err)
		}
		for i, f := range rec {
			if strings.EqualFold(strings.TrimSpace(f), "smiles") {
				smiCol = i
				break
			}
		}
		if smiCol >= 0 {
			header = rec
			break
		}
	}

	p := Predictions{Values: make(map[string]map[string]float64)}
	for i, h := range header {
		if i != smiCol {
			p.Columns = append(p.Columns, strings.TrimSpace(h))
		}
	}

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Predictions{}, fmt.Errorf("reading predictions: %w", err)
		}
		if smiCol >= len(rec) {
			continue
		}
		smi := strings.TrimSpace(rec[smiCol])
		if smi == "" {
			continue
		}
		row := make(map[string]float64)
		for i, cell := range rec {
			if i == smiCol || i >= len(header) {
				continue
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
			if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			row[strings.TrimSpace(header[i])] = v
		}
		p.Values[smi] = row
	}
	return p, nil
}
