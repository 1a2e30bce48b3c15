// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// PhaseID names a recovery phase.
type PhaseID string

const (
	PhaseIdentifier PhaseID = "identifier"
	PhaseVenue      PhaseID = "venue"
	PhaseTitle      PhaseID = "title"
)

// OutcomeStatus is the terminal state of one candidate within a run.
type OutcomeStatus string

const (
	StatusRecovered OutcomeStatus = "recovered"
	StatusExhausted OutcomeStatus = "exhausted"
	StatusFailed    OutcomeStatus = "failed"
	StatusDeferred  OutcomeStatus = "deferred"
)

// Terminal reports whether the status is final across runs. Deferred
// candidates are picked up again by the next run.
func (s OutcomeStatus) Terminal() bool {
	return s == StatusRecovered || s == StatusExhausted || s == StatusFailed
}

// FailureReason explains why a candidate was not recovered.
type FailureReason string

const (
	ReasonNone            FailureReason = ""
	ReasonNoEligiblePhase FailureReason = "no_eligible_phase"
	ReasonExhausted       FailureReason = "exhausted"
	ReasonClientFailure   FailureReason = "client_failure"
	ReasonDeferred        FailureReason = "deferred"
)

// AttemptResult is the result of a single phase attempt.
type AttemptResult string

const (
	AttemptAccepted AttemptResult = "accepted"
	AttemptRejected AttemptResult = "rejected"
	AttemptFailed   AttemptResult = "failed"
)

// ConfidenceBreakdown holds the named sub-scores and their weighted composite.
// All values are in [0, 1].
type ConfidenceBreakdown struct {
	YearMatch       float64 `json:"year_match" yaml:"year_match"`
	TitleSimilarity float64 `json:"title_similarity" yaml:"title_similarity"`
	AuthorOverlap   float64 `json:"author_overlap" yaml:"author_overlap"`
	VenueMatch      float64 `json:"venue_match" yaml:"venue_match"`
	Composite       float64 `json:"composite" yaml:"composite"`
}

// PhaseAttempt records one phase tried for a candidate.
type PhaseAttempt struct {
	Phase       PhaseID              `json:"phase" yaml:"phase"`
	Result      AttemptResult        `json:"result" yaml:"result"`
	Confidence  float64              `json:"confidence" yaml:"confidence"`
	DOI         string               `json:"doi,omitempty" yaml:"doi,omitempty"`
	Breakdown   *ConfidenceBreakdown `json:"breakdown,omitempty" yaml:"breakdown,omitempty"`
	Error       string               `json:"error,omitempty" yaml:"error,omitempty"`
	AttemptedAt time.Time            `json:"attempted_at" yaml:"attempted_at"`
}

// RecoveryOutcome is the result for one candidate. For recovered candidates
// DOI, Phase, Confidence and Breakdown carry the attribution.
type RecoveryOutcome struct {
	CandidateID    string               `json:"candidate_id" yaml:"candidate_id"`
	Status         OutcomeStatus        `json:"status" yaml:"status"`
	Reason         FailureReason        `json:"reason,omitempty" yaml:"reason,omitempty"`
	DOI            string               `json:"doi,omitempty" yaml:"doi,omitempty"`
	Phase          PhaseID              `json:"phase,omitempty" yaml:"phase,omitempty"`
	Confidence     float64              `json:"confidence,omitempty" yaml:"confidence,omitempty"`
	Breakdown      *ConfidenceBreakdown `json:"breakdown,omitempty" yaml:"breakdown,omitempty"`
	BestConfidence float64              `json:"best_confidence,omitempty" yaml:"best_confidence,omitempty"`
	Attempts       []PhaseAttempt       `json:"attempts,omitempty" yaml:"attempts,omitempty"`
	Error          string               `json:"error,omitempty" yaml:"error,omitempty"`
}

// Category returns the report bucket for the outcome: "recovered" or the
// failure reason.
func (o RecoveryOutcome) Category() string {
	if o.Status == StatusRecovered {
		return string(StatusRecovered)
	}
	return string(o.Reason)
}

// ConfidenceTier labels a confidence score using the fixed tiers
// high (>= 0.9), medium (>= 0.7), low (>= 0.5), and very_low.
func ConfidenceTier(score float64) string {
	switch {
	case score >= 0.9:
		return "high"
	case score >= 0.7:
		return "medium"
	case score >= 0.5:
		return "low"
	default:
		return "very_low"
	}
}

// ClientStats counts lookup traffic for one run.
type ClientStats struct {
	TotalRequests       int64 `json:"total_requests" yaml:"total_requests"`
	SuccessfulRequests  int64 `json:"successful_requests" yaml:"successful_requests"`
	FailedRequests      int64 `json:"failed_requests" yaml:"failed_requests"`
	RateLimitedRequests int64 `json:"rate_limited_requests" yaml:"rate_limited_requests"`
	CacheHits           int64 `json:"cache_hits" yaml:"cache_hits"`
}

// SuccessRate is the share of sent requests that succeeded.
func (s ClientStats) SuccessRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.SuccessfulRequests) / float64(s.TotalRequests)
}
