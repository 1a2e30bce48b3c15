// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pdiddy/doi-recovery/internal/crossref"
	"github.com/pdiddy/doi-recovery/internal/phase"
	"github.com/pdiddy/doi-recovery/internal/score"
	"github.com/pdiddy/doi-recovery/pkg/types"
)

// Lookuper performs one lookup against the metadata service.
type Lookuper interface {
	Lookup(ctx context.Context, q types.LookupQuery) (types.LookupResult, error)
}

// Checkpoint persists progress between runs. *checkpoint.Store implements it.
type Checkpoint interface {
	Outcome(ctx context.Context, candidateID string) (types.RecoveryOutcome, bool, error)
	Attempts(ctx context.Context, candidateID string) ([]types.PhaseAttempt, error)
	RecordAttempt(ctx context.Context, runID, candidateID string, a types.PhaseAttempt) error
	RecordOutcome(ctx context.Context, runID string, o types.RecoveryOutcome) error
	BeginRun(ctx context.Context, runID string, started time.Time) error
	FinishRun(ctx context.Context, runID, status string, finished time.Time, summary any) error
	SaveQuota(ctx context.Context, day time.Time, used int) error
}

// Pipeline recovers one candidate at a time. It is safe for concurrent use
// by the batch workers.
type Pipeline struct {
	rc     *RunContext
	client Lookuper
	phases []phase.Phase
	scorer *score.Scorer
	store  Checkpoint
	now    func() time.Time
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithPhases replaces the default phase list.
func WithPhases(phases ...phase.Phase) PipelineOption {
	return func(p *Pipeline) { p.phases = phases }
}

// WithCheckpoint enables persistence and resumption.
func WithCheckpoint(store Checkpoint) PipelineOption {
	return func(p *Pipeline) { p.store = store }
}

// WithClock sets the clock used to stamp attempts.
func WithClock(now func() time.Time) PipelineOption {
	return func(p *Pipeline) { p.now = now }
}

// NewPipeline creates a pipeline with the default phases for rc.Config.
func NewPipeline(rc *RunContext, client Lookuper, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		rc:     rc,
		client: client,
		phases: phase.Default(rc.Config),
		scorer: score.New(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// attemptState accumulates one candidate's progress through its phases.
type attemptState struct {
	attempts   []types.PhaseAttempt
	best       float64
	conclusive bool
	lastErr    string
}

func (s *attemptState) add(a types.PhaseAttempt) {
	s.attempts = append(s.attempts, a)
	if a.Result == types.AttemptFailed {
		s.lastErr = a.Error
		return
	}
	s.conclusive = true
	if a.Confidence > s.best {
		s.best = a.Confidence
	}
}

// Recover runs c through its eligible phases and returns its outcome.
//
// A stored terminal outcome is returned without any lookup. Phases already
// recorded for c are not repeated. The returned error is non-nil only when
// the batch must stop: the rate limit was hit (wraps crossref.ErrRateLimited),
// ctx was cancelled, or the checkpoint could not be written. In the first
// two cases the outcome is Deferred.
func (p *Pipeline) Recover(ctx context.Context, c types.CandidateRecord) (types.RecoveryOutcome, error) {
	// Persistence outlives cancellation so finished work is never lost.
	persistCtx := context.WithoutCancel(ctx)
	log := p.rc.Logger.With("candidate", c.ID)

	done := map[types.PhaseID]types.PhaseAttempt{}
	if p.store != nil {
		stored, found, err := p.store.Outcome(persistCtx, c.ID)
		if err != nil {
			return types.RecoveryOutcome{}, fmt.Errorf("reading checkpoint for %s: %w", c.ID, err)
		}
		if found && stored.Status.Terminal() {
			log.Debug("already resolved", "status", stored.Status)
			return stored, nil
		}
		attempts, err := p.store.Attempts(persistCtx, c.ID)
		if err != nil {
			return types.RecoveryOutcome{}, fmt.Errorf("reading attempts for %s: %w", c.ID, err)
		}
		for _, a := range attempts {
			done[a.Phase] = a
		}
	}

	eligible := phase.Eligible(p.phases, c)
	if len(eligible) == 0 {
		o := types.RecoveryOutcome{
			CandidateID: c.ID,
			Status:      types.StatusExhausted,
			Reason:      types.ReasonNoEligiblePhase,
		}
		return o, p.finish(persistCtx, o)
	}

	var st attemptState
	for _, ph := range eligible {
		if a, ok := done[ph.ID()]; ok {
			st.add(a)
			if a.Result == types.AttemptAccepted {
				o := recovered(c.ID, a, st.attempts)
				return o, p.finish(persistCtx, o)
			}
			continue
		}

		if err := ctx.Err(); err != nil {
			o := deferred(c.ID, st)
			if ferr := p.finish(persistCtx, o); ferr != nil {
				return o, ferr
			}
			return o, err
		}

		a, err := p.attempt(ctx, ph, c)
		if err != nil {
			log.Warn("rate limited, deferring", "phase", ph.ID(), "error", err)
			o := deferred(c.ID, st)
			o.Error = err.Error()
			if ferr := p.finish(persistCtx, o); ferr != nil {
				return o, ferr
			}
			return o, err
		}

		if p.store != nil {
			if err := p.store.RecordAttempt(persistCtx, p.rc.ID, c.ID, a); err != nil {
				return types.RecoveryOutcome{}, err
			}
		}
		st.add(a)
		log.Debug("phase attempted", "phase", a.Phase, "result", a.Result, "confidence", a.Confidence)

		if a.Result == types.AttemptAccepted {
			log.Info("recovered", "phase", a.Phase, "doi", a.DOI, "confidence", a.Confidence)
			o := recovered(c.ID, a, st.attempts)
			return o, p.finish(persistCtx, o)
		}
	}

	o := types.RecoveryOutcome{
		CandidateID:    c.ID,
		Status:         types.StatusExhausted,
		Reason:         types.ReasonExhausted,
		BestConfidence: st.best,
		Attempts:       st.attempts,
	}
	if !st.conclusive {
		o.Status = types.StatusFailed
		o.Reason = types.ReasonClientFailure
		o.Error = st.lastErr
	}
	return o, p.finish(persistCtx, o)
}

// attempt runs a single phase. It returns an error only for a rate limit;
// every other failure is folded into the attempt result.
func (p *Pipeline) attempt(ctx context.Context, ph phase.Phase, c types.CandidateRecord) (types.PhaseAttempt, error) {
	a := types.PhaseAttempt{Phase: ph.ID(), AttemptedAt: p.now().UTC()}

	// An in-flight lookup runs to completion even if the batch is cancelled.
	res, err := p.client.Lookup(context.WithoutCancel(ctx), ph.Query(c))
	switch {
	case errors.Is(err, crossref.ErrRateLimited):
		return a, err
	case errors.Is(err, crossref.ErrMalformedResponse):
		a.Result = types.AttemptRejected
		a.Error = err.Error()
		return a, nil
	case err != nil:
		a.Result = types.AttemptFailed
		a.Error = err.Error()
		return a, nil
	}

	idx, b := ph.Select(c, res.Works, p.scorer)
	if idx < 0 {
		a.Result = types.AttemptRejected
		return a, nil
	}
	a.Confidence = b.Composite
	a.DOI = res.Works[idx].DOI
	a.Breakdown = &b
	if score.Accepts(b.Composite, ph.Threshold()) {
		a.Result = types.AttemptAccepted
	} else {
		a.Result = types.AttemptRejected
	}
	return a, nil
}

// Defer marks a candidate that was never dispatched. A stored terminal
// outcome is returned instead so the report stays accurate.
func (p *Pipeline) Defer(ctx context.Context, c types.CandidateRecord) (types.RecoveryOutcome, error) {
	persistCtx := context.WithoutCancel(ctx)
	var st attemptState
	if p.store != nil {
		stored, found, err := p.store.Outcome(persistCtx, c.ID)
		if err != nil {
			return types.RecoveryOutcome{}, err
		}
		if found && stored.Status.Terminal() {
			return stored, nil
		}
		attempts, err := p.store.Attempts(persistCtx, c.ID)
		if err != nil {
			return types.RecoveryOutcome{}, err
		}
		for _, a := range attempts {
			st.add(a)
		}
	}
	o := deferred(c.ID, st)
	return o, p.finish(persistCtx, o)
}

func (p *Pipeline) finish(ctx context.Context, o types.RecoveryOutcome) error {
	if p.store == nil {
		return nil
	}
	return p.store.RecordOutcome(ctx, p.rc.ID, o)
}

func recovered(id string, a types.PhaseAttempt, attempts []types.PhaseAttempt) types.RecoveryOutcome {
	return types.RecoveryOutcome{
		CandidateID:    id,
		Status:         types.StatusRecovered,
		DOI:            a.DOI,
		Phase:          a.Phase,
		Confidence:     a.Confidence,
		Breakdown:      a.Breakdown,
		BestConfidence: a.Confidence,
		Attempts:       attempts,
	}
}

func deferred(id string, st attemptState) types.RecoveryOutcome {
	return types.RecoveryOutcome{
		CandidateID:    id,
		Status:         types.StatusDeferred,
		Reason:         types.ReasonDeferred,
		BestConfidence: st.best,
		Attempts:       st.attempts,
	}
}
