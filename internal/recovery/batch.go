// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package recovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/doi-recovery/internal/crossref"
	"github.com/pdiddy/doi-recovery/pkg/types"
)

// Run statuses recorded in the checkpoint.
const (
	RunCompleted   = "completed"
	RunRateLimited = "rate_limited"
	RunCancelled   = "cancelled"
	RunFailed      = "failed"
)

// StatsProvider is implemented by lookup clients that count their traffic.
type StatsProvider interface {
	Stats() types.ClientStats
}

// Batch drives many candidates through a Pipeline with a fixed worker pool.
type Batch struct {
	rc       *RunContext
	pipeline *Pipeline
	store    Checkpoint
	stats    StatsProvider
	workers  int
	progress io.Writer
}

// BatchOption configures a Batch.
type BatchOption func(*Batch)

// WithProgress writes one line per resolved candidate to w.
func WithProgress(w io.Writer) BatchOption {
	return func(b *Batch) { b.progress = w }
}

// WithStats attaches client traffic counters to the report.
func WithStats(s StatsProvider) BatchOption {
	return func(b *Batch) { b.stats = s }
}

// WithBatchCheckpoint records the run and its quota usage in store. It
// should be the same store the pipeline uses.
func WithBatchCheckpoint(store Checkpoint) BatchOption {
	return func(b *Batch) { b.store = store }
}

// NewBatch creates a batch runner. The pool size comes from rc.Config.Workers.
func NewBatch(rc *RunContext, pipeline *Pipeline, opts ...BatchOption) *Batch {
	b := &Batch{
		rc:       rc,
		pipeline: pipeline,
		workers:  rc.Config.Workers,
		progress: io.Discard,
	}
	if b.workers <= 0 {
		b.workers = 1
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type job struct {
	idx int
	rec types.CandidateRecord
}

// Run processes candidates and returns a report accounting for every one of
// them. When the rate limit is hit or ctx is cancelled, dispatch stops,
// in-flight candidates finish their current phase, and every candidate not
// resolved is reported Deferred. The returned error then wraps
// crossref.ErrRateLimited or the context error.
func (b *Batch) Run(ctx context.Context, candidates []types.CandidateRecord) (*Report, error) {
	persistCtx := context.WithoutCancel(ctx)
	log := b.rc.Logger

	if b.store != nil {
		if err := b.store.BeginRun(persistCtx, b.rc.ID, b.rc.Started); err != nil {
			return nil, err
		}
	}
	log.Info("batch started", "candidates", len(candidates), "workers", b.workers)

	outcomes := make([]types.RecoveryOutcome, len(candidates))
	resolved := make([]bool, len(candidates))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan job, 2*b.workers)

	g.Go(func() error {
		defer close(jobs)
		for i, c := range candidates {
			select {
			case <-gctx.Done():
				return nil
			case jobs <- job{idx: i, rec: c}:
			}
		}
		return nil
	})

	for w := 0; w < b.workers; w++ {
		g.Go(func() error {
			for j := range jobs {
				if gctx.Err() != nil {
					continue
				}
				o, err := b.pipeline.Recover(gctx, j.rec)
				if o.CandidateID != "" {
					mu.Lock()
					outcomes[j.idx] = o
					resolved[j.idx] = true
					fmt.Fprintf(b.progress, "%-10s %s %s\n", o.Status, o.CandidateID, o.DOI)
					mu.Unlock()
				}
				b.saveQuota(persistCtx)
				if err != nil {
					return err
				}
			}
			return nil
		})
	}

	runErr := g.Wait()

	unresolved := 0
	for i, c := range candidates {
		if resolved[i] {
			continue
		}
		unresolved++
		o, err := b.pipeline.Defer(persistCtx, c)
		if err != nil {
			log.Warn("recording deferral failed", "candidate", c.ID, "error", err)
			o = deferred(c.ID, attemptState{})
		}
		outcomes[i] = o
	}
	if runErr == nil && unresolved > 0 {
		// Workers stop quietly on cancellation; surface why work is missing.
		runErr = ctx.Err()
	}

	report := NewReport(b.rc.ID, outcomes)
	report.StartedAt = b.rc.Started
	report.FinishedAt = time.Now().UTC()
	if b.rc.Gate != nil {
		report.Quota = b.rc.Gate.Snapshot()
	}
	if b.stats != nil {
		report.Client = b.stats.Stats()
	}

	status := RunCompleted
	switch {
	case runErr == nil:
	case errors.Is(runErr, crossref.ErrRateLimited):
		status = RunRateLimited
		report.Halted = "rate limit reached"
	case errors.Is(runErr, context.Canceled), errors.Is(runErr, context.DeadlineExceeded):
		status = RunCancelled
		report.Halted = "cancelled"
	default:
		status = RunFailed
		report.Halted = runErr.Error()
	}

	b.saveQuota(persistCtx)
	if b.store != nil {
		if err := b.store.FinishRun(persistCtx, b.rc.ID, status, report.FinishedAt, report.Counts); err != nil {
			log.Warn("recording run end failed", "error", err)
		}
	}
	log.Info("batch finished", "status", status, "recovered", report.Counts[CategoryRecovered])
	return report, runErr
}

func (b *Batch) saveQuota(ctx context.Context) {
	if b.store == nil || b.rc.Gate == nil {
		return
	}
	q := b.rc.Gate.Snapshot()
	if err := b.store.SaveQuota(ctx, q.Day, q.UsedToday); err != nil {
		b.rc.Logger.Warn("saving quota usage failed", "error", err)
	}
}
