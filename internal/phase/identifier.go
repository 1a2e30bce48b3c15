// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package phase

import (
	"strings"

	"github.com/pdiddy/doi-recovery/internal/score"
	"github.com/pdiddy/doi-recovery/pkg/types"
)

// Identifier looks a candidate up by its PubMed ID.
type Identifier struct {
	threshold float64
}

// NewIdentifier creates the identifier phase.
func NewIdentifier(threshold float64) *Identifier {
	return &Identifier{threshold: threshold}
}

func (p *Identifier) ID() types.PhaseID  { return types.PhaseIdentifier }
func (p *Identifier) Threshold() float64 { return p.threshold }

// Eligible requires a non-empty external identifier.
func (p *Identifier) Eligible(c types.CandidateRecord) bool {
	return CleanPMID(c.ExternalID) != ""
}

func (p *Identifier) Query(c types.CandidateRecord) types.LookupQuery {
	return types.LookupQuery{
		Kind:       types.QueryIdentifier,
		ExternalID: CleanPMID(c.ExternalID),
		Rows:       1,
	}
}

func (p *Identifier) Select(c types.CandidateRecord, works []types.Work, s *score.Scorer) (int, types.ConfidenceBreakdown) {
	return bestOf(c, works, s)
}

// CleanPMID trims whitespace and a leading "PMID:" label.
func CleanPMID(id string) string {
	id = strings.TrimSpace(id)
	if len(id) >= 5 && strings.EqualFold(id[:5], "pmid:") {
		id = strings.TrimSpace(id[5:])
	}
	return id
}
