// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package recovery

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/doi-recovery/internal/checkpoint"
	"github.com/pdiddy/doi-recovery/internal/crossref"
	"github.com/pdiddy/doi-recovery/internal/httputil"
	"github.com/pdiddy/doi-recovery/internal/phase"
	"github.com/pdiddy/doi-recovery/internal/ratelimit"
	"github.com/pdiddy/doi-recovery/pkg/types"
)

// --- test helpers ---

type fakeLookup struct {
	mu      sync.Mutex
	calls   []types.LookupQuery
	respond func(q types.LookupQuery) (types.LookupResult, error)
}

func (f *fakeLookup) Lookup(_ context.Context, q types.LookupQuery) (types.LookupResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, q)
	f.mu.Unlock()
	if f.respond == nil {
		return types.LookupResult{}, nil
	}
	return f.respond(q)
}

func (f *fakeLookup) kinds() []types.QueryKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.QueryKind, len(f.calls))
	for i, q := range f.calls {
		out[i] = q.Kind
	}
	return out
}

func testRecoveryConfig() types.RecoveryConfig {
	cfg := types.DefaultRecoveryConfig()
	cfg.Contact = "ops@example.org"
	cfg.CacheTTL = 0
	return cfg
}

func testRunContext() *RunContext {
	return NewRunContext(testRecoveryConfig(), nil, nil)
}

func testCheckpoint(t *testing.T) *checkpoint.Store {
	t.Helper()
	s, err := checkpoint.Open(filepath.Join(t.TempDir(), "checkpoint.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

const dropletTitle = "Microfluidic droplet generation using flow focusing geometry for cell encapsulation"

func dropletCandidate() types.CandidateRecord {
	return types.CandidateRecord{
		ID:         "2-s2.0-0001",
		Title:      dropletTitle,
		Year:       2007,
		Authors:    []string{"Smith, J.", "Garcia, M."},
		Venue:      "Lab on a Chip",
		Volume:     "7",
		Issue:      "3",
		PageStart:  "201",
		PageEnd:    "209",
		ExternalID: "12345678",
	}
}

func dropletWork(title string) types.Work {
	return types.Work{
		DOI:          "10.1039/b612345a",
		Title:        title,
		Year:         2007,
		Authors:      []string{"Smith, J.", "García, M."},
		Venue:        "Lab on a Chip",
		VenueAliases: []string{"Lab Chip"},
		Volume:       "7",
		Issue:        "3",
		Page:         "201-209",
	}
}

func result(works ...types.Work) types.LookupResult {
	return types.LookupResult{Works: works}
}

// --- pipeline ---

func TestRecover_NoEligiblePhase(t *testing.T) {
	fake := &fakeLookup{}
	p := NewPipeline(testRunContext(), fake)

	o, err := p.Recover(context.Background(), types.CandidateRecord{ID: "bare", Title: "Editorial", Venue: "Nature"})
	require.NoError(t, err)
	assert.Equal(t, types.StatusExhausted, o.Status)
	assert.Equal(t, types.ReasonNoEligiblePhase, o.Reason)
	assert.Empty(t, fake.calls)
}

func TestRecover_PhasesRunInFixedOrder(t *testing.T) {
	fake := &fakeLookup{}
	p := NewPipeline(testRunContext(), fake)

	o, err := p.Recover(context.Background(), dropletCandidate())
	require.NoError(t, err)

	assert.Equal(t, []types.QueryKind{types.QueryIdentifier, types.QueryVenue, types.QueryTitle}, fake.kinds())
	assert.Equal(t, types.StatusExhausted, o.Status)
	assert.Equal(t, types.ReasonExhausted, o.Reason)
	require.Len(t, o.Attempts, 3)
	for _, a := range o.Attempts {
		assert.Equal(t, types.AttemptRejected, a.Result)
	}
}

func TestRecover_IdentifierScenario(t *testing.T) {
	fake := &fakeLookup{respond: func(q types.LookupQuery) (types.LookupResult, error) {
		if q.Kind == types.QueryIdentifier && q.ExternalID == "12345678" {
			return result(dropletWork(dropletTitle)), nil
		}
		return types.LookupResult{}, nil
	}}
	p := NewPipeline(testRunContext(), fake)

	o, err := p.Recover(context.Background(), dropletCandidate())
	require.NoError(t, err)

	assert.Equal(t, types.StatusRecovered, o.Status)
	assert.Equal(t, types.PhaseIdentifier, o.Phase)
	assert.Equal(t, "10.1039/b612345a", o.DOI)
	assert.GreaterOrEqual(t, o.Confidence, 0.8)
	require.NotNil(t, o.Breakdown)
	assert.Equal(t, o.Confidence, o.Breakdown.Composite)
	assert.Len(t, fake.calls, 1, "later phases are not tried after acceptance")
}

func TestRecover_LabOnAChipBoundary(t *testing.T) {
	candidate := dropletCandidate()
	candidate.ExternalID = ""

	tests := []struct {
		name       string
		title      string
		wantStatus types.OutcomeStatus
		wantScore  float64
	}{
		{
			name:       "title similarity 0.3 is rejected",
			title:      "Microfluidic droplet generation via electrowetting on dielectric arrays with integration",
			wantStatus: types.StatusExhausted,
			wantScore:  0.72,
		},
		{
			name:       "title similarity 0.5 is recovered",
			title:      "Microfluidic droplet generation using flow via electrowetting on dielectric arrays",
			wantStatus: types.StatusRecovered,
			wantScore:  0.8,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeLookup{respond: func(q types.LookupQuery) (types.LookupResult, error) {
				if q.Kind == types.QueryVenue {
					return result(dropletWork(tt.title)), nil
				}
				return types.LookupResult{}, nil
			}}
			p := NewPipeline(testRunContext(), fake)

			o, err := p.Recover(context.Background(), candidate)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, o.Status)
			require.NotEmpty(t, o.Attempts)
			assert.Equal(t, types.PhaseVenue, o.Attempts[0].Phase)
			assert.InDelta(t, tt.wantScore, o.Attempts[0].Confidence, 1e-9)
			assert.InDelta(t, tt.wantScore, o.BestConfidence, 1e-9)
			if tt.wantStatus == types.StatusRecovered {
				assert.Equal(t, types.PhaseVenue, o.Phase)
				assert.Len(t, fake.calls, 1)
			} else {
				assert.Equal(t, types.AttemptRejected, o.Attempts[0].Result)
				assert.Len(t, fake.calls, 2)
			}
		})
	}
}

func TestRecover_ClientFailureMovesToNextPhase(t *testing.T) {
	fake := &fakeLookup{respond: func(q types.LookupQuery) (types.LookupResult, error) {
		switch q.Kind {
		case types.QueryIdentifier:
			return types.LookupResult{}, &httputil.ExhaustedError{Attempts: 3, Err: fmt.Errorf("%w: HTTP 503", crossref.ErrServiceError)}
		case types.QueryVenue:
			return result(dropletWork(dropletTitle)), nil
		}
		return types.LookupResult{}, nil
	}}
	p := NewPipeline(testRunContext(), fake)

	o, err := p.Recover(context.Background(), dropletCandidate())
	require.NoError(t, err)
	assert.Equal(t, types.StatusRecovered, o.Status)
	assert.Equal(t, types.PhaseVenue, o.Phase)
	require.Len(t, o.Attempts, 2)
	assert.Equal(t, types.AttemptFailed, o.Attempts[0].Result)
	assert.Contains(t, o.Attempts[0].Error, "HTTP 503")
}

func TestRecover_AllClientFailures(t *testing.T) {
	fake := &fakeLookup{respond: func(types.LookupQuery) (types.LookupResult, error) {
		return types.LookupResult{}, &httputil.ExhaustedError{Attempts: 3, Err: fmt.Errorf("%w: timeout", crossref.ErrTimeout)}
	}}
	p := NewPipeline(testRunContext(), fake)

	o, err := p.Recover(context.Background(), dropletCandidate())
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, o.Status)
	assert.Equal(t, types.ReasonClientFailure, o.Reason)
	assert.Contains(t, o.Error, "timeout")
	assert.Len(t, fake.calls, 3)
}

func TestRecover_MalformedResponseRejectsPhase(t *testing.T) {
	fake := &fakeLookup{respond: func(q types.LookupQuery) (types.LookupResult, error) {
		if q.Kind == types.QueryIdentifier {
			return types.LookupResult{}, fmt.Errorf("%w: bad json", crossref.ErrMalformedResponse)
		}
		return types.LookupResult{}, nil
	}}
	p := NewPipeline(testRunContext(), fake)

	o, err := p.Recover(context.Background(), dropletCandidate())
	require.NoError(t, err)
	assert.Equal(t, types.StatusExhausted, o.Status, "a malformed response is not a client failure")
	assert.Equal(t, types.AttemptRejected, o.Attempts[0].Result)
	assert.Len(t, fake.calls, 3)
}

func TestRecover_RateLimitedDefersWithoutRecordingPhase(t *testing.T) {
	store := testCheckpoint(t)
	fake := &fakeLookup{respond: func(q types.LookupQuery) (types.LookupResult, error) {
		if q.Kind == types.QueryVenue {
			return types.LookupResult{}, fmt.Errorf("%w: %w", crossref.ErrRateLimited, ratelimit.ErrDailyLimit)
		}
		return types.LookupResult{}, nil
	}}
	p := NewPipeline(testRunContext(), fake, WithCheckpoint(store))

	c := dropletCandidate()
	o, err := p.Recover(context.Background(), c)
	assert.ErrorIs(t, err, crossref.ErrRateLimited)
	assert.Equal(t, types.StatusDeferred, o.Status)
	assert.Equal(t, types.ReasonDeferred, o.Reason)
	require.Len(t, o.Attempts, 1)

	attempts, err := store.Attempts(context.Background(), c.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, types.PhaseIdentifier, attempts[0].Phase)
}

func TestRecover_RerunIsIdempotent(t *testing.T) {
	store := testCheckpoint(t)
	fake := &fakeLookup{respond: func(q types.LookupQuery) (types.LookupResult, error) {
		if q.Kind == types.QueryTitle {
			return result(dropletWork(dropletTitle)), nil
		}
		return types.LookupResult{}, nil
	}}

	first, err := NewPipeline(testRunContext(), fake, WithCheckpoint(store)).Recover(context.Background(), dropletCandidate())
	require.NoError(t, err)
	require.Equal(t, types.StatusRecovered, first.Status)
	calls := len(fake.calls)

	second, err := NewPipeline(testRunContext(), fake, WithCheckpoint(store)).Recover(context.Background(), dropletCandidate())
	require.NoError(t, err)
	assert.Len(t, fake.calls, calls, "a resolved candidate costs no lookups")
	assert.Equal(t, first.DOI, second.DOI)
	assert.Equal(t, first.Phase, second.Phase)
	assert.InDelta(t, first.Confidence, second.Confidence, 1e-9)
	assert.Len(t, second.Attempts, len(first.Attempts))
}

func TestRecover_ResumeSkipsRecordedPhases(t *testing.T) {
	store := testCheckpoint(t)
	c := dropletCandidate()
	require.NoError(t, store.RecordAttempt(context.Background(), "earlier-run", c.ID, types.PhaseAttempt{
		Phase: types.PhaseIdentifier, Result: types.AttemptRejected, Confidence: 0.61, AttemptedAt: time.Now(),
	}))
	require.NoError(t, store.RecordOutcome(context.Background(), "earlier-run", types.RecoveryOutcome{
		CandidateID: c.ID, Status: types.StatusDeferred, Reason: types.ReasonDeferred,
	}))

	fake := &fakeLookup{}
	o, err := NewPipeline(testRunContext(), fake, WithCheckpoint(store)).Recover(context.Background(), c)
	require.NoError(t, err)

	assert.Equal(t, []types.QueryKind{types.QueryVenue, types.QueryTitle}, fake.kinds())
	assert.Equal(t, types.StatusExhausted, o.Status)
	assert.InDelta(t, 0.61, o.BestConfidence, 1e-9, "recorded confidence still counts")
	assert.Len(t, o.Attempts, 3)
}

func TestRecover_CustomPhasesAndClock(t *testing.T) {
	store := testCheckpoint(t)
	fixed := time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)
	fake := &fakeLookup{}
	p := NewPipeline(testRunContext(), fake,
		WithPhases(phase.NewVenue(0.75)),
		WithClock(func() time.Time { return fixed }),
		WithCheckpoint(store),
	)

	c := dropletCandidate()
	o, err := p.Recover(context.Background(), c)
	require.NoError(t, err)

	assert.Equal(t, []types.QueryKind{types.QueryVenue}, fake.kinds(), "only the configured phase runs")
	assert.Equal(t, types.StatusExhausted, o.Status)
	require.Len(t, o.Attempts, 1)
	assert.Equal(t, types.PhaseVenue, o.Attempts[0].Phase)
	assert.True(t, fixed.Equal(o.Attempts[0].AttemptedAt))

	attempts, err := store.Attempts(context.Background(), c.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.True(t, fixed.Equal(attempts[0].AttemptedAt), "the stored attempt carries the pipeline clock")

	o, err = p.Recover(context.Background(), types.CandidateRecord{ID: "pmid-only", ExternalID: "12345678"})
	require.NoError(t, err)
	assert.Equal(t, types.ReasonNoEligiblePhase, o.Reason, "phases outside the list are never consulted")
	assert.Len(t, fake.calls, 1)
}

func TestRecover_CancelledBetweenPhases(t *testing.T) {
	store := testCheckpoint(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fake := &fakeLookup{respond: func(types.LookupQuery) (types.LookupResult, error) {
		cancel()
		return types.LookupResult{}, nil
	}}
	c := dropletCandidate()
	o, err := NewPipeline(testRunContext(), fake, WithCheckpoint(store)).Recover(ctx, c)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, types.StatusDeferred, o.Status)
	assert.Len(t, fake.calls, 1, "the in-flight lookup completes and nothing new starts")
	require.Len(t, o.Attempts, 1)

	attempts, err := store.Attempts(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Len(t, attempts, 1, "the completed attempt is kept")
}

func TestDefer_KeepsTerminalOutcome(t *testing.T) {
	store := testCheckpoint(t)
	c := dropletCandidate()
	require.NoError(t, store.RecordOutcome(context.Background(), "r", types.RecoveryOutcome{
		CandidateID: c.ID, Status: types.StatusRecovered, DOI: "10.1/x", Phase: types.PhaseTitle,
	}))

	p := NewPipeline(testRunContext(), &fakeLookup{}, WithCheckpoint(store))
	o, err := p.Defer(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, types.StatusRecovered, o.Status)

	o, err = p.Defer(context.Background(), types.CandidateRecord{ID: "fresh"})
	require.NoError(t, err)
	assert.Equal(t, types.StatusDeferred, o.Status)
}
