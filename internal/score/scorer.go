// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package score computes the confidence that a looked-up work is the same
// publication as a candidate record. Scoring is pure and never fails.
package score

import (
	"github.com/pdiddy/doi-recovery/pkg/types"
)

// Weights sets how much each sub-score contributes to the composite. The
// weights sum to 1 so the composite stays in [0, 1].
type Weights struct {
	Title  float64
	Year   float64
	Author float64
	Venue  float64
}

// DefaultWeights favours title agreement, then year, authors, and venue.
var DefaultWeights = Weights{Title: 0.4, Year: 0.3, Author: 0.2, Venue: 0.1}

// tolerance absorbs floating-point error when comparing against thresholds.
const tolerance = 1e-9

// Scorer computes ConfidenceBreakdowns.
type Scorer struct {
	weights Weights
}

// New creates a Scorer with DefaultWeights.
func New() *Scorer {
	return &Scorer{weights: DefaultWeights}
}

// Score compares a candidate with one returned work.
func (s *Scorer) Score(c types.CandidateRecord, w types.Work) types.ConfidenceBreakdown {
	b := types.ConfidenceBreakdown{
		YearMatch:       YearMatch(c.Year, w.Year),
		TitleSimilarity: TitleSimilarity(c.Title, w.Title),
		AuthorOverlap:   AuthorOverlap(c.Authors, w.Authors),
		VenueMatch:      VenueMatch(c, w),
	}
	b.Composite = clamp(s.weights.Title*b.TitleSimilarity +
		s.weights.Year*b.YearMatch +
		s.weights.Author*b.AuthorOverlap +
		s.weights.Venue*b.VenueMatch)
	return b
}

// Best scores every work and returns the index and breakdown of the highest
// composite. It returns -1 for an empty list. Ties keep the earlier work.
func (s *Scorer) Best(c types.CandidateRecord, works []types.Work) (int, types.ConfidenceBreakdown) {
	best := -1
	var bestScore types.ConfidenceBreakdown
	for i, w := range works {
		b := s.Score(c, w)
		if best < 0 || b.Composite > bestScore.Composite+tolerance {
			best, bestScore = i, b
		}
	}
	return best, bestScore
}

// Accepts reports whether composite clears threshold.
func Accepts(composite, threshold float64) bool {
	return composite+tolerance >= threshold
}

// YearMatch is 1 when both years are known and equal.
func YearMatch(a, b int) float64 {
	if a > 0 && a == b {
		return 1
	}
	return 0
}

// TitleSimilarity is the Sørensen–Dice coefficient over normalized token
// sets; 0 when either title is empty.
func TitleSimilarity(a, b string) float64 {
	ta, tb := tokenSet(a), tokenSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	shared := 0
	for tok := range ta {
		if _, ok := tb[tok]; ok {
			shared++
		}
	}
	return clamp(2 * float64(shared) / float64(len(ta)+len(tb)))
}

// AuthorOverlap is the fraction of candidate surnames found among the
// work's surnames.
func AuthorOverlap(candidate, work []string) float64 {
	if len(candidate) == 0 || len(work) == 0 {
		return 0
	}
	have := make(map[string]struct{}, len(work))
	for _, a := range work {
		if s := normalizeSurname(types.Surname(a)); s != "" {
			have[s] = struct{}{}
		}
	}
	total, found := 0, 0
	for _, a := range candidate {
		s := normalizeSurname(types.Surname(a))
		if s == "" {
			continue
		}
		total++
		if _, ok := have[s]; ok {
			found++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(found) / float64(total)
}

// VenueMatch is 1 when venue name, volume and issue agree, 0.5 when only the
// name agrees, and 0 otherwise.
func VenueMatch(c types.CandidateRecord, w types.Work) float64 {
	name := normalizeVenue(c.Venue)
	if name == "" || !venueNamed(name, w) {
		return 0
	}
	vol, iss := normalizeNumber(c.Volume), normalizeNumber(c.Issue)
	if vol != "" && iss != "" &&
		vol == normalizeNumber(w.Volume) && iss == normalizeNumber(w.Issue) {
		return 1
	}
	return 0.5
}

func venueNamed(name string, w types.Work) bool {
	if name == normalizeVenue(w.Venue) {
		return true
	}
	for _, alias := range w.VenueAliases {
		if name == normalizeVenue(alias) {
			return true
		}
	}
	return false
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
