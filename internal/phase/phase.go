// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package phase defines the recovery strategies tried for each candidate,
// from strongest to weakest evidence. A phase decides whether it applies to
// a candidate, builds the lookup query, and picks the work to score.
package phase

import (
	"github.com/pdiddy/doi-recovery/internal/score"
	"github.com/pdiddy/doi-recovery/pkg/types"
)

// Phase is one recovery strategy.
type Phase interface {
	// ID names the phase for attribution and checkpointing.
	ID() types.PhaseID

	// Eligible reports whether the candidate carries the fields the phase needs.
	Eligible(c types.CandidateRecord) bool

	// Query builds the lookup request for an eligible candidate.
	Query(c types.CandidateRecord) types.LookupQuery

	// Threshold is the minimum composite confidence the phase accepts.
	Threshold() float64

	// Select picks the work to judge from a lookup result. It returns -1
	// when the result is empty.
	Select(c types.CandidateRecord, works []types.Work, s *score.Scorer) (int, types.ConfidenceBreakdown)
}

// Default returns the phases in the order they are tried.
func Default(cfg types.RecoveryConfig) []Phase {
	return []Phase{
		NewIdentifier(cfg.Thresholds.Identifier),
		NewVenue(cfg.Thresholds.Venue),
		NewTitle(cfg.Thresholds.Title, cfg.MinTitleLength, cfg.TitleRows),
	}
}

// Eligible filters phases down to those that apply to c, keeping order.
func Eligible(phases []Phase, c types.CandidateRecord) []Phase {
	var out []Phase
	for _, p := range phases {
		if p.Eligible(c) {
			out = append(out, p)
		}
	}
	return out
}

// bestOf is the Select used by phases that judge every returned work.
func bestOf(c types.CandidateRecord, works []types.Work, s *score.Scorer) (int, types.ConfidenceBreakdown) {
	return s.Best(c, works)
}
