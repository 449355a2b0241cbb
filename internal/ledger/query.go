// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/aartikrish/de-novo-antibiotics/pkg/types"
)

// RunInfo is one row of the runs table.
type RunInfo struct {
	ID          string            `json:"id" yaml:"id"`
	Started     time.Time         `json:"started" yaml:"started"`
	Finished    time.Time         `json:"finished,omitempty" yaml:"finished,omitempty"`
	Dir         string            `json:"dir" yaml:"dir"`
	Method      types.Method      `json:"method" yaml:"method"`
	Scoring     types.ScoringMode `json:"scoring" yaml:"scoring"`
	Filter      string            `json:"filter" yaml:"filter"`
	Seed        int64             `json:"seed" yaml:"seed"`
	Rounds      int               `json:"rounds" yaml:"rounds"`
	Termination string            `json:"termination,omitempty" yaml:"termination,omitempty"`
	Error       string            `json:"error,omitempty" yaml:"error,omitempty"`
}

// RoundInfo is one row of the rounds table.
type RoundInfo struct {
	Round     int       `json:"round" yaml:"round"`
	Seeds     int       `json:"seeds" yaml:"seeds"`
	Generated int       `json:"generated" yaml:"generated"`
	Filtered  int       `json:"filtered" yaml:"filtered"`
	Scored    int       `json:"scored" yaml:"scored"`
	Selected  int       `json:"selected" yaml:"selected"`
	Best      float64   `json:"best" yaml:"best"`
	Mean      float64   `json:"mean" yaml:"mean"`
	Median    float64   `json:"median" yaml:"median"`
	Started   time.Time `json:"started" yaml:"started"`
	Finished  time.Time `json:"finished" yaml:"finished"`
}

// MoleculeInfo is a scored molecule with the round it was scored in.
type MoleculeInfo struct {
	types.ScoredMolecule `yaml:",inline"`
	RunID                string `json:"run_id" yaml:"run_id"`
	Round                int    `json:"round" yaml:"round"`
	Origin               string `json:"origin,omitempty" yaml:"origin,omitempty"`
}

// Runs lists every run, newest first.
func (l *Ledger) Runs(ctx context.Context) ([]RunInfo, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, started, finished, dir, method, scoring, filter, seed, rounds, termination, error
		 FROM runs ORDER BY started DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var out []RunInfo
	for rows.Next() {
		var (
			r                                         RunInfo
			started, finished                         sql.NullString
			dir, method, scoring, filter, term, errst sql.NullString
			seed                                      sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &started, &finished, &dir, &method, &scoring, &filter, &seed, &r.Rounds, &term, &errst); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		r.Started = parseTime(started)
		r.Finished = parseTime(finished)
		r.Dir = dir.String
		r.Method = types.Method(method.String)
		r.Scoring = types.ScoringMode(scoring.String)
		r.Filter = filter.String
		r.Seed = seed.Int64
		r.Termination = term.String
		r.Error = errst.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// Rounds lists the rounds of a run in order.
func (l *Ledger) Rounds(ctx context.Context, runID string) ([]RoundInfo, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT round, seeds, generated, filtered, scored, selected, best, mean, median, started, finished
		 FROM rounds WHERE run_id = ? ORDER BY round`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying rounds: %w", err)
	}
	defer rows.Close()

	var out []RoundInfo
	for rows.Next() {
		var (
			r                 RoundInfo
			started, finished sql.NullString
		)
		if err := rows.Scan(&r.Round, &r.Seeds, &r.Generated, &r.Filtered, &r.Scored, &r.Selected,
			&r.Best, &r.Mean, &r.Median, &started, &finished); err != nil {
			return nil, fmt.Errorf("scanning round: %w", err)
		}
		r.Started = parseTime(started)
		r.Finished = parseTime(finished)
		out = append(out, r)
	}
	return out, rows.Err()
}

// TopMolecules returns the best-scoring distinct molecules of a run. Each
// molecule appears once, with the round of its best score.
func (l *Ledger) TopMolecules(ctx context.Context, runID string, limit int) ([]MoleculeInfo, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT smiles, MAX(score) AS best, raw, aux, round, origin
		 FROM molecules WHERE run_id = ?
		 GROUP BY smiles
		 ORDER BY best DESC, smiles
		 LIMIT ?`, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying molecules: %w", err)
	}
	defer rows.Close()

	var out []MoleculeInfo
	for rows.Next() {
		var (
			m           MoleculeInfo
			aux, origin sql.NullString
		)
		if err := rows.Scan(&m.SMILES, &m.Score, &m.Raw, &aux, &m.Round, &origin); err != nil {
			return nil, fmt.Errorf("scanning molecule: %w", err)
		}
		if aux.Valid && aux.String != "" {
			json.Unmarshal([]byte(aux.String), &m.Aux)
		}
		m.RunID = runID
		m.Origin = origin.String
		out = append(out, m)
	}
	return out, rows.Err()
}

// ExportRun is one run with its rounds and best molecules.
type ExportRun struct {
	RunInfo `yaml:",inline"`
	History []RoundInfo    `json:"history" yaml:"history"`
	Top     []MoleculeInfo `json:"top" yaml:"top"`
}

const exportTop = 50

// ExportYAML writes every run with its rounds and best molecules to path.
func (l *Ledger) ExportYAML(ctx context.Context, path string) error {
	runs, err := l.exportRuns(ctx)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(runs)
	if err != nil {
		return fmt.Errorf("marshaling YAML: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ExportJSON writes the same content as ExportYAML in JSON.
func (l *Ledger) ExportJSON(ctx context.Context, path string) error {
	runs, err := l.exportRuns(ctx)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(runs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func (l *Ledger) exportRuns(ctx context.Context) ([]ExportRun, error) {
	runs, err := l.Runs(ctx)
	if err != nil {
		return nil, fmt.Errorf("querying for export: %w", err)
	}
	out := make([]ExportRun, len(runs))
	for i, r := range runs {
		out[i].RunInfo = r
		if out[i].History, err = l.Rounds(ctx, r.ID); err != nil {
			return nil, err
		}
		if out[i].Top, err = l.TopMolecules(ctx, r.ID, exportTop); err != nil {
			return nil, err
		}
	}
	return out, nil
}
