// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// Termination explains why a run stopped.
type Termination string

const (
	// TerminationCompleted means every requested round ran.
	TerminationCompleted Termination = "completed"
	// TerminationExhausted means a round produced no viable candidates.
	TerminationExhausted Termination = "exhausted"
	// TerminationCancelled means the caller cancelled the context.
	TerminationCancelled Termination = "cancelled"
	// TerminationFailed means a fatal error stopped the run.
	TerminationFailed Termination = "failed"
)

// RoundCounts tallies molecules through the stages of one round.
type RoundCounts struct {
	Seeds     int `json:"seeds" yaml:"seeds"`
	Generated int `json:"generated" yaml:"generated"`
	Filtered  int `json:"filtered" yaml:"filtered"`
	Scored    int `json:"scored" yaml:"scored"`
	Selected  int `json:"selected" yaml:"selected"`
}

// ScoreSummary describes the score distribution of a round.
type ScoreSummary struct {
	Min    float64 `json:"min" yaml:"min"`
	Max    float64 `json:"max" yaml:"max"`
	Mean   float64 `json:"mean" yaml:"mean"`
	Median float64 `json:"median" yaml:"median"`
	StdDev float64 `json:"stddev" yaml:"stddev"`
	P90    float64 `json:"p90" yaml:"p90"`
}

// RoundRecord is what a completed round persists.
type RoundRecord struct {
	Round    int          `json:"round" yaml:"round"`
	Counts   RoundCounts  `json:"counts" yaml:"counts"`
	Summary  ScoreSummary `json:"summary" yaml:"summary"`
	Radii    map[int]int  `json:"radii,omitempty" yaml:"radii,omitempty"`
	Selected Selection    `json:"selected" yaml:"selected"`
	Started  time.Time    `json:"started" yaml:"started"`
	Finished time.Time    `json:"finished" yaml:"finished"`
}

// RunReport summarizes a finished run.
type RunReport struct {
	RunID       string           `json:"run_id" yaml:"run_id"`
	Dir         string           `json:"dir" yaml:"dir"`
	Rounds      int              `json:"rounds" yaml:"rounds"`
	Termination Termination      `json:"termination" yaml:"termination"`
	Reference   *ScoredMolecule  `json:"reference,omitempty" yaml:"reference,omitempty"`
	Best        []ScoredMolecule `json:"best" yaml:"best"`
	Error       string           `json:"error,omitempty" yaml:"error,omitempty"`
	Started     time.Time        `json:"started" yaml:"started"`
	Finished    time.Time        `json:"finished" yaml:"finished"`
}
