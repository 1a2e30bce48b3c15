// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package checkpoint

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pdiddy/doi-recovery/pkg/types"
)

// Run describes one recorded batch.
type Run struct {
	ID         string    `json:"id" yaml:"id"`
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
	Status     string    `json:"status" yaml:"status"`
}

// Summary aggregates everything the checkpoint knows.
type Summary struct {
	// ByCategory counts candidates per report category ("recovered" or a
	// failure reason).
	ByCategory map[string]int `json:"by_category" yaml:"by_category"`

	// ByPhase counts recovered candidates per attributing phase.
	ByPhase map[types.PhaseID]int `json:"by_phase" yaml:"by_phase"`

	Candidates int  `json:"candidates" yaml:"candidates"`
	Attempts   int  `json:"attempts" yaml:"attempts"`
	QuotaToday int  `json:"quota_today" yaml:"quota_today"`
	LastRun    *Run `json:"last_run,omitempty" yaml:"last_run,omitempty"`
}

// Status summarizes the checkpoint contents.
func (s *Store) Status(ctx context.Context) (Summary, error) {
	sum := Summary{
		ByCategory: map[string]int{},
		ByPhase:    map[types.PhaseID]int{},
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COALESCE(reason, ''), COALESCE(phase, ''), count(*)
		 FROM candidates GROUP BY status, reason, phase`)
	if err != nil {
		return Summary{}, fmt.Errorf("querying candidate counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status, reason, phase string
		var n int
		if err := rows.Scan(&status, &reason, &phase, &n); err != nil {
			return Summary{}, fmt.Errorf("scanning candidate counts: %w", err)
		}
		o := types.RecoveryOutcome{Status: types.OutcomeStatus(status), Reason: types.FailureReason(reason)}
		sum.ByCategory[o.Category()] += n
		if o.Status == types.StatusRecovered {
			sum.ByPhase[types.PhaseID(phase)] += n
		}
		sum.Candidates += n
	}
	if err := rows.Err(); err != nil {
		return Summary{}, err
	}

	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM phase_attempts`).Scan(&sum.Attempts); err != nil {
		return Summary{}, fmt.Errorf("counting attempts: %w", err)
	}

	sum.QuotaToday, err = s.LoadQuota(ctx, time.Now())
	if err != nil {
		return Summary{}, err
	}

	runs, err := s.Runs(ctx, 1)
	if err != nil {
		return Summary{}, err
	}
	if len(runs) > 0 {
		sum.LastRun = &runs[0]
	}
	return sum, nil
}

// Runs returns up to limit runs, newest first.
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, status FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r        Run
			started  string
			finished sql.NullString
		)
		if err := rows.Scan(&r.ID, &started, &finished, &r.Status); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		if finished.Valid {
			r.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished.String)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
