// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package ledger records runs, rounds, and scored molecules in a SQLite
// database shared by all runs under one output directory. It also caches
// model predictions so molecules already scored by a model are not sent to
// it again.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/aartikrish/de-novo-antibiotics/pkg/types"
)

// DBFile is the ledger file name inside the output directory.
const DBFile = "ledger.db"

// maxVars bounds the placeholders of one IN query.
const maxVars = 500

// Ledger manages the ledger database.
type Ledger struct {
	db   *sql.DB
	path string
}

// Open opens or creates dir/ledger.db and its schema.
func Open(dir string) (*Ledger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating ledger directory: %w", err)
	}

	path := filepath.Join(dir, DBFile)
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	l := &Ledger{db: db, path: path}
	if err := l.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return l, nil
}

// Path returns the database file path.
func (l *Ledger) Path() string { return l.path }

// Close releases the database connection.
func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started TEXT NOT NULL,
			finished TEXT,
			dir TEXT,
			method TEXT,
			scoring TEXT,
			filter TEXT,
			seed INTEGER,
			params TEXT,
			rounds INTEGER NOT NULL DEFAULT 0,
			termination TEXT,
			error TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS rounds (
			run_id TEXT NOT NULL REFERENCES runs(id),
			round INTEGER NOT NULL,
			seeds INTEGER,
			generated INTEGER,
			filtered INTEGER,
			scored INTEGER,
			selected INTEGER,
			best REAL,
			mean REAL,
			median REAL,
			started TEXT,
			finished TEXT,
			PRIMARY KEY (run_id, round)
		)`,
		`CREATE TABLE IF NOT EXISTS molecules (
			run_id TEXT NOT NULL,
			round INTEGER NOT NULL,
			smiles TEXT NOT NULL,
			raw REAL,
			score REAL,
			aux TEXT,
			origin TEXT,
			PRIMARY KEY (run_id, round, smiles),
			FOREIGN KEY (run_id, round) REFERENCES rounds(run_id, round)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_molecules_score ON molecules(run_id, score DESC)`,
		`CREATE TABLE IF NOT EXISTS predictions (
			model_key TEXT NOT NULL,
			smiles TEXT NOT NULL,
			vals TEXT NOT NULL,
			created TEXT,
			PRIMARY KEY (model_key, smiles)
		)`,
	}
	for _, stmt := range statements {
		if _, err := l.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// BeginRun records the start of a run.
func (l *Ledger) BeginRun(ctx context.Context, runID, dir string, cfg types.RunConfig, seed int64, started time.Time) error {
	params, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding parameters: %w", err)
	}
	_, err = l.db.ExecContext(ctx,
		`INSERT INTO runs (id, started, dir, method, scoring, filter, seed, params)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, formatTime(started), dir, string(cfg.Method), string(cfg.ScoringMode()),
		string(cfg.CpdFilter), seed, string(params),
	)
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", runID, err)
	}
	return nil
}

// RecordRound stores a completed round and every scored candidate of it in
// one transaction.
func (l *Ledger) RecordRound(ctx context.Context, runID string, rec types.RoundRecord, scored []types.ScoredMolecule) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO rounds (run_id, round, seeds, generated, filtered, scored, selected, best, mean, median, started, finished)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, rec.Round, rec.Counts.Seeds, rec.Counts.Generated, rec.Counts.Filtered,
		rec.Counts.Scored, rec.Counts.Selected, rec.Summary.Max, rec.Summary.Mean, rec.Summary.Median,
		formatTime(rec.Started), formatTime(rec.Finished),
	)
	if err != nil {
		return fmt.Errorf("inserting round %d: %w", rec.Round, err)
	}

	origins := make(map[string]types.SelectionOrigin, rec.Selected.Len())
	for _, m := range rec.Selected.Top {
		origins[m.SMILES] = types.OriginTop
	}
	for _, m := range rec.Selected.Random {
		origins[m.SMILES] = types.OriginRandom
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO molecules (run_id, round, smiles, raw, score, aux, origin)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, m := range scored {
		var aux any
		if len(m.Aux) > 0 {
			b, _ := json.Marshal(m.Aux)
			aux = string(b)
		}
		if _, err := stmt.ExecContext(ctx, runID, rec.Round, m.SMILES, m.Raw, m.Score, aux, string(origins[m.SMILES])); err != nil {
			return fmt.Errorf("inserting molecule %s: %w", m.SMILES, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE runs SET rounds = ? WHERE id = ?`, rec.Round, runID); err != nil {
		return fmt.Errorf("updating run %s: %w", runID, err)
	}
	return tx.Commit()
}

// FinishRun records how a run ended.
func (l *Ledger) FinishRun(ctx context.Context, rep types.RunReport) error {
	res, err := l.db.ExecContext(ctx,
		`UPDATE runs SET finished = ?, rounds = ?, termination = ?, error = ? WHERE id = ?`,
		formatTime(rep.Finished), rep.Rounds, string(rep.Termination), rep.Error, rep.RunID,
	)
	if err != nil {
		return fmt.Errorf("finishing run %s: %w", rep.RunID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finishing run %s: no such run", rep.RunID)
	}
	return nil
}

// CachedScores returns the cached prediction rows of modelKey for the given
// SMILES. SMILES without a cached row are absent from the result.
func (l *Ledger) CachedScores(modelKey string, smiles []string) (map[string]map[string]float64, error) {
	out := make(map[string]map[string]float64)
	for start := 0; start < len(smiles); start += maxVars {
		chunk := smiles[start:min(start+maxVars, len(smiles))]
		args := make([]any, 0, len(chunk)+1)
		args = append(args, modelKey)
		for _, s := range chunk {
			args = append(args, s)
		}
		q := `SELECT smiles, vals FROM predictions WHERE model_key = ? AND smiles IN (?` +
			strings.Repeat(",?", len(chunk)-1) + `)`
		rows, err := l.db.Query(q, args...)
		if err != nil {
			return nil, fmt.Errorf("querying prediction cache: %w", err)
		}
		for rows.Next() {
			var smi, vals string
			if err := rows.Scan(&smi, &vals); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scanning prediction: %w", err)
			}
			row := make(map[string]float64)
			if err := json.Unmarshal([]byte(vals), &row); err != nil {
				continue
			}
			out[smi] = row
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// StoreScores caches prediction rows of modelKey.
func (l *Ledger) StoreScores(modelKey string, rows map[string]map[string]float64) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := l.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO predictions (model_key, smiles, vals, created) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	now := formatTime(time.Now())
	for smi, row := range rows {
		vals, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("encoding prediction for %s: %w", smi, err)
		}
		if _, err := stmt.Exec(modelKey, smi, string(vals), now); err != nil {
			return fmt.Errorf("caching prediction for %s: %w", smi, err)
		}
	}
	return tx.Commit()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return time.Time{}
	}
	return t
}
