// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package metrics collects per-run Prometheus metrics and snapshots them to
// a text-format file in the run directory after every round.
package metrics

import (
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "denovo"

// Stage names used as label values.
const (
	StageGenerate = "generate"
	StageFilter   = "filter"
	StageScore    = "score"
	StageSelect   = "select"
)

var durationBuckets = []float64{.1, .5, 1, 5, 10, 30, 60, 120, 300, 600, 1800}

// Recorder holds the metrics of one run in its own registry.
type Recorder struct {
	reg *prometheus.Registry

	molecules      *prometheus.CounterVec
	rounds         prometheus.Counter
	radii          *prometheus.CounterVec
	engineCalls    *prometheus.CounterVec
	engineDuration *prometheus.HistogramVec
	stageDuration  *prometheus.HistogramVec
	bestScore      prometheus.Gauge

	mu   sync.Mutex
	best float64
}

// New creates a Recorder whose metrics carry the run id as a constant label.
func New(runID string) *Recorder {
	labels := prometheus.Labels{"run_id": runID}
	r := &Recorder{
		reg: prometheus.NewRegistry(),
		molecules: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "molecules_total",
			Help:        "Molecules leaving each stage.",
			ConstLabels: labels,
		}, []string{"stage"}),
		rounds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "rounds_completed_total",
			Help:        "Rounds persisted.",
			ConstLabels: labels,
		}),
		radii: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "seeds_resolved_total",
			Help:        "Seeds that produced candidates, by environment radius.",
			ConstLabels: labels,
		}, []string{"radius"}),
		engineCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "engine_calls_total",
			Help:        "Chemistry engine calls by operation and outcome.",
			ConstLabels: labels,
		}, []string{"op", "outcome"}),
		engineDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "engine_call_duration_seconds",
			Help:        "Chemistry engine call duration.",
			Buckets:     durationBuckets,
			ConstLabels: labels,
		}, []string{"op"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "stage_duration_seconds",
			Help:        "Duration of each pipeline stage.",
			Buckets:     durationBuckets,
			ConstLabels: labels,
		}, []string{"stage"}),
		bestScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "best_score",
			Help:        "Best candidate score seen so far.",
			ConstLabels: labels,
		}),
		best: math.Inf(-1),
	}
	r.reg.MustRegister(r.molecules, r.rounds, r.radii, r.engineCalls, r.engineDuration, r.stageDuration, r.bestScore)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.reg }

// ObserveEngine records the outcome and duration of one engine call.
func (r *Recorder) ObserveEngine(op string, took time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.engineCalls.WithLabelValues(op, outcome).Inc()
	r.engineDuration.WithLabelValues(op).Observe(took.Seconds())
}

// ObserveStage records the duration of one stage.
func (r *Recorder) ObserveStage(stage string, took time.Duration) {
	r.stageDuration.WithLabelValues(stage).Observe(took.Seconds())
}

// AddMolecules counts molecules leaving a stage.
func (r *Recorder) AddMolecules(stage string, n int) {
	r.molecules.WithLabelValues(stage).Add(float64(n))
}

// AddRadii counts seeds resolved per radius.
func (r *Recorder) AddRadii(radii map[int]int) {
	for radius, n := range radii {
		r.radii.WithLabelValues(strconv.Itoa(radius)).Add(float64(n))
	}
}

// RoundCompleted counts a persisted round and raises the best-score gauge
// when best improves on it.
func (r *Recorder) RoundCompleted(best float64) {
	r.rounds.Inc()
	r.mu.Lock()
	defer r.mu.Unlock()
	if best > r.best {
		r.best = best
		r.bestScore.Set(best)
	}
}

// WriteFile writes the registry in Prometheus text format to path.
func (r *Recorder) WriteFile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.reg); err != nil {
		return fmt.Errorf("writing metrics: %w", err)
	}
	return nil
}
