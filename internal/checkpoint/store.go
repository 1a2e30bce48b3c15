// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package checkpoint persists recovery progress so an interrupted batch can
// resume without repeating lookups. It records runs, per-candidate outcomes,
// individual phase attempts, and daily quota usage in SQLite.
package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/doi-recovery/pkg/types"
)

// ErrLocked is returned when another process holds the checkpoint.
var ErrLocked = errors.New("checkpoint is in use by another process")

const (
	dayFormat = "2006-01-02"

	// timeLayout always writes nine fractional digits so stored timestamps
	// sort lexically in time order. RFC3339Nano drops trailing zeros.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// Store manages the checkpoint SQLite database. A Store holds an exclusive
// file lock for its lifetime so two batches never share one checkpoint.
type Store struct {
	db   *sql.DB
	lock *flock.Flock
	path string
}

// Open opens or creates the checkpoint at path and takes its lock.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating checkpoint directory: %w", err)
		}
	}

	lock := flock.New(path + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire checkpoint lock: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db, lock: lock, path: path}
	if err := s.createSchema(); err != nil {
		db.Close()
		_ = lock.Unlock()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close releases the database connection and the lock.
func (s *Store) Close() error {
	err := s.db.Close()
	if uerr := s.lock.Unlock(); err == nil {
		err = uerr
	}
	return err
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			finished_at TEXT,
			status TEXT NOT NULL,
			summary TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS candidates (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			status TEXT NOT NULL,
			reason TEXT,
			doi TEXT,
			phase TEXT,
			confidence REAL,
			breakdown TEXT,
			best_confidence REAL,
			error TEXT,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_candidates_status ON candidates(status)`,
		`CREATE TABLE IF NOT EXISTS phase_attempts (
			candidate_id TEXT NOT NULL,
			phase TEXT NOT NULL,
			run_id TEXT NOT NULL,
			result TEXT NOT NULL,
			confidence REAL,
			doi TEXT,
			breakdown TEXT,
			error TEXT,
			attempted_at TEXT NOT NULL,
			PRIMARY KEY (candidate_id, phase)
		)`,
		`CREATE TABLE IF NOT EXISTS quota_usage (
			day TEXT PRIMARY KEY,
			used INTEGER NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// BeginRun records the start of a batch.
func (s *Store) BeginRun(ctx context.Context, runID string, started time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, status) VALUES (?, ?, 'running')
		 ON CONFLICT(id) DO UPDATE SET started_at=excluded.started_at, status='running'`,
		runID, started.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("recording run start: %w", err)
	}
	return nil
}

// FinishRun records the end of a batch with its final status and summary.
func (s *Store) FinishRun(ctx context.Context, runID, status string, finished time.Time, summary any) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encoding run summary: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, status = ?, summary = ? WHERE id = ?`,
		finished.UTC().Format(timeLayout), status, string(data), runID,
	)
	if err != nil {
		return fmt.Errorf("recording run end: %w", err)
	}
	return nil
}

// RecordAttempt persists one phase attempt. A phase already recorded for
// the candidate is left untouched.
func (s *Store) RecordAttempt(ctx context.Context, runID, candidateID string, a types.PhaseAttempt) error {
	breakdown, err := encodeBreakdown(a.Breakdown)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO phase_attempts (candidate_id, phase, run_id, result, confidence, doi, breakdown, error, attempted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(candidate_id, phase) DO NOTHING`,
		candidateID, string(a.Phase), runID, string(a.Result), a.Confidence,
		a.DOI, breakdown, a.Error, a.AttemptedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("recording %s attempt for %s: %w", a.Phase, candidateID, err)
	}
	return nil
}

// Attempts returns the recorded phase attempts for a candidate in the order
// they were made.
func (s *Store) Attempts(ctx context.Context, candidateID string) ([]types.PhaseAttempt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT phase, result, confidence, doi, breakdown, error, attempted_at
		 FROM phase_attempts WHERE candidate_id = ? ORDER BY attempted_at, rowid`,
		candidateID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying attempts: %w", err)
	}
	defer rows.Close()

	var out []types.PhaseAttempt
	for rows.Next() {
		var (
			a                          types.PhaseAttempt
			phase, result, attemptedAt string
			doi, breakdown, errText    sql.NullString
			confidence                 sql.NullFloat64
		)
		if err := rows.Scan(&phase, &result, &confidence, &doi, &breakdown, &errText, &attemptedAt); err != nil {
			return nil, fmt.Errorf("scanning attempt: %w", err)
		}
		a.Phase = types.PhaseID(phase)
		a.Result = types.AttemptResult(result)
		a.Confidence = confidence.Float64
		a.DOI = doi.String
		a.Error = errText.String
		a.Breakdown = decodeBreakdown(breakdown.String)
		a.AttemptedAt, _ = time.Parse(time.RFC3339Nano, attemptedAt)
		out = append(out, a)
	}
	return out, rows.Err()
}

// RecordOutcome stores the latest outcome for a candidate.
func (s *Store) RecordOutcome(ctx context.Context, runID string, o types.RecoveryOutcome) error {
	breakdown, err := encodeBreakdown(o.Breakdown)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO candidates (id, run_id, status, reason, doi, phase, confidence, breakdown, best_confidence, error, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			run_id=excluded.run_id, status=excluded.status, reason=excluded.reason,
			doi=excluded.doi, phase=excluded.phase, confidence=excluded.confidence,
			breakdown=excluded.breakdown, best_confidence=excluded.best_confidence,
			error=excluded.error, updated_at=excluded.updated_at`,
		o.CandidateID, runID, string(o.Status), string(o.Reason), o.DOI, string(o.Phase),
		o.Confidence, breakdown, o.BestConfidence, o.Error,
		time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("recording outcome for %s: %w", o.CandidateID, err)
	}
	return nil
}

// Outcome returns the stored outcome for a candidate together with its
// attempts. The boolean is false when nothing is stored.
func (s *Store) Outcome(ctx context.Context, candidateID string) (types.RecoveryOutcome, bool, error) {
	var (
		o                                     types.RecoveryOutcome
		status                                string
		reason, doi, phase, breakdown, errTxt sql.NullString
		confidence, best                      sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT status, reason, doi, phase, confidence, breakdown, best_confidence, error
		 FROM candidates WHERE id = ?`, candidateID,
	).Scan(&status, &reason, &doi, &phase, &confidence, &breakdown, &best, &errTxt)
	if errors.Is(err, sql.ErrNoRows) {
		return types.RecoveryOutcome{}, false, nil
	}
	if err != nil {
		return types.RecoveryOutcome{}, false, fmt.Errorf("querying outcome: %w", err)
	}

	o.CandidateID = candidateID
	o.Status = types.OutcomeStatus(status)
	o.Reason = types.FailureReason(reason.String)
	o.DOI = doi.String
	o.Phase = types.PhaseID(phase.String)
	o.Confidence = confidence.Float64
	o.Breakdown = decodeBreakdown(breakdown.String)
	o.BestConfidence = best.Float64
	o.Error = errTxt.String

	o.Attempts, err = s.Attempts(ctx, candidateID)
	if err != nil {
		return types.RecoveryOutcome{}, false, err
	}
	return o, true, nil
}

// LoadQuota returns the calls recorded against day.
func (s *Store) LoadQuota(ctx context.Context, day time.Time) (int, error) {
	var used int
	err := s.db.QueryRowContext(ctx,
		`SELECT used FROM quota_usage WHERE day = ?`, day.UTC().Format(dayFormat),
	).Scan(&used)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("querying quota usage: %w", err)
	}
	return used, nil
}

// SaveQuota records the calls used on day. Usage never decreases.
func (s *Store) SaveQuota(ctx context.Context, day time.Time, used int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO quota_usage (day, used) VALUES (?, ?)
		 ON CONFLICT(day) DO UPDATE SET used=MAX(used, excluded.used)`,
		day.UTC().Format(dayFormat), used,
	)
	if err != nil {
		return fmt.Errorf("saving quota usage: %w", err)
	}
	return nil
}

// ResetFailed forgets candidates whose last outcome was failed, together
// with their attempts, so the next run tries them again. It returns the
// number of candidates reset.
func (s *Store) ResetFailed(ctx context.Context) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM phase_attempts WHERE candidate_id IN
			(SELECT id FROM candidates WHERE status = ?)`, string(types.StatusFailed),
	); err != nil {
		return 0, fmt.Errorf("deleting failed attempts: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`DELETE FROM candidates WHERE status = ?`, string(types.StatusFailed))
	if err != nil {
		return 0, fmt.Errorf("deleting failed candidates: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), tx.Commit()
}

func encodeBreakdown(b *types.ConfidenceBreakdown) (sql.NullString, error) {
	if b == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(b)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encoding breakdown: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func decodeBreakdown(s string) *types.ConfidenceBreakdown {
	if s == "" {
		return nil
	}
	var b types.ConfidenceBreakdown
	if err := json.Unmarshal([]byte(s), &b); err != nil {
		return nil
	}
	return &b
}
