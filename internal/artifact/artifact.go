// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package artifact writes the per-run output directory:
//
//	<out_dir>/<run_id>/
//	  run.yaml                    run id, seed, parameters, reference score
//	  round_001_predictions.csv   every scored candidate of the round
//	  round_001_results.yaml      counts, score summary, selection
//	  summary.yaml                the final run report
//	  metrics.prom                Prometheus text snapshot
//
// Every file except metrics.prom is created exclusively; a persisted file
// is never overwritten.
package artifact

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/montanaflynn/stats"
	"go.yaml.in/yaml/v3"

	"github.com/aartikrish/de-novo-antibiotics/pkg/types"
)

const (
	runFile     = "run.yaml"
	summaryFile = "summary.yaml"
	metricsFile = "metrics.prom"
)

// ErrExists is returned when an artifact would overwrite an existing file.
var ErrExists = errors.New("artifact already exists")

// RunHeader is the content of run.yaml.
type RunHeader struct {
	RunID      string                `yaml:"run_id"`
	Started    time.Time             `yaml:"started"`
	Seed       int64                 `yaml:"seed"`
	Fragment   string                `yaml:"canonical_fragment"`
	Molecule   string                `yaml:"canonical_molecule"`
	Reference  *types.ScoredMolecule `yaml:"reference,omitempty"`
	Parameters types.RunConfig       `yaml:"parameters"`
}

// RunDir is an initialized run directory.
type RunDir struct {
	path string
}

// Init creates <outDir>/<runID>. outDir is created when absent; the run
// directory itself must not exist yet.
func Init(outDir, runID string) (*RunDir, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory %s: %w", outDir, err)
	}
	path := filepath.Join(outDir, runID)
	if err := os.Mkdir(path, 0o755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("run directory %s: %w", path, ErrExists)
		}
		return nil, fmt.Errorf("creating run directory: %w", err)
	}
	return &RunDir{path: path}, nil
}

// Open returns the RunDir at path without creating anything.
func Open(path string) *RunDir {
	return &RunDir{path: path}
}

// Path returns the run directory.
func (d *RunDir) Path() string { return d.path }

// MetricsPath returns the path of the metrics snapshot.
func (d *RunDir) MetricsPath() string { return filepath.Join(d.path, metricsFile) }

// PredictionsFile returns the file name of a round's predictions.
func PredictionsFile(round int) string {
	return fmt.Sprintf("round_%03d_predictions.csv", round)
}

// ResultsFile returns the file name of a round's results.
func ResultsFile(round int) string {
	return fmt.Sprintf("round_%03d_results.yaml", round)
}

// WriteRun writes run.yaml.
func (d *RunDir) WriteRun(h RunHeader) error {
	return d.writeYAML(runFile, h)
}

// WriteRound writes round_NNN_results.yaml.
func (d *RunDir) WriteRound(rec types.RoundRecord) error {
	return d.writeYAML(ResultsFile(rec.Round), rec)
}

// WriteSummary writes summary.yaml.
func (d *RunDir) WriteSummary(rep types.RunReport) error {
	return d.writeYAML(summaryFile, rep)
}

// WritePredictions writes round_NNN_predictions.csv with the columns
// smiles, <hitColumn>, one column per auxiliary term, score. Rows keep the
// order of scored.
func (d *RunDir) WritePredictions(round int, hitColumn string, terms []string, scored []types.ScoredMolecule) error {
	f, err := d.create(PredictionsFile(round))
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)

	header := append([]string{"smiles", hitColumn}, terms...)
	header = append(header, "score")
	w.Write(header)
	for _, m := range scored {
		row := make([]string, 0, len(header))
		row = append(row, m.SMILES, formatFloat(m.Raw))
		for _, t := range terms {
			row = append(row, formatFloat(m.Aux[t]))
		}
		row = append(row, formatFloat(m.Score))
		w.Write(row)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", PredictionsFile(round), err)
	}
	return f.Close()
}

// ReadRound loads a persisted round_NNN_results.yaml.
func (d *RunDir) ReadRound(round int) (types.RoundRecord, error) {
	var rec types.RoundRecord
	data, err := os.ReadFile(filepath.Join(d.path, ResultsFile(round)))
	if err != nil {
		return rec, err
	}
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("parsing %s: %w", ResultsFile(round), err)
	}
	return rec, nil
}

// ReadRun loads run.yaml.
func (d *RunDir) ReadRun() (RunHeader, error) {
	var h RunHeader
	data, err := os.ReadFile(filepath.Join(d.path, runFile))
	if err != nil {
		return h, err
	}
	if err := yaml.Unmarshal(data, &h); err != nil {
		return h, fmt.Errorf("parsing %s: %w", runFile, err)
	}
	return h, nil
}

func (d *RunDir) writeYAML(name string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", name, err)
	}
	f, err := d.create(name)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return f.Close()
}

func (d *RunDir) create(name string) (*os.File, error) {
	f, err := os.OpenFile(filepath.Join(d.path, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("%s: %w", name, ErrExists)
		}
		return nil, fmt.Errorf("creating %s: %w", name, err)
	}
	return f, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Summarize describes the score distribution of a candidate set. An empty
// set yields the zero summary.
func Summarize(scored []types.ScoredMolecule) types.ScoreSummary {
	if len(scored) == 0 {
		return types.ScoreSummary{}
	}
	data := make(stats.Float64Data, len(scored))
	for i, m := range scored {
		data[i] = m.Score
	}
	var s types.ScoreSummary
	s.Min, _ = data.Min()
	s.Max, _ = data.Max()
	s.Mean, _ = data.Mean()
	s.Median, _ = data.Median()
	s.StdDev, _ = data.StandardDeviation()
	s.P90, _ = data.Percentile(90)
	return s
}
