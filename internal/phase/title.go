// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package phase

import (
	"strings"
	"unicode/utf8"

	"github.com/pdiddy/doi-recovery/internal/score"
	"github.com/pdiddy/doi-recovery/pkg/types"
)

const (
	defaultMinTitleLength = 10
	defaultTitleRows      = 5
)

// Title searches free text on the title, narrowed by first author and year
// when known.
type Title struct {
	threshold float64
	minLength int
	rows      int
}

// NewTitle creates the fuzzy title phase. Titles must be longer than
// minLength runes; rows bounds the works screened.
func NewTitle(threshold float64, minLength, rows int) *Title {
	if minLength <= 0 {
		minLength = defaultMinTitleLength
	}
	if rows <= 0 {
		rows = defaultTitleRows
	}
	return &Title{threshold: threshold, minLength: minLength, rows: rows}
}

func (p *Title) ID() types.PhaseID  { return types.PhaseTitle }
func (p *Title) Threshold() float64 { return p.threshold }

func (p *Title) Eligible(c types.CandidateRecord) bool {
	return utf8.RuneCountInString(strings.TrimSpace(c.Title)) > p.minLength
}

func (p *Title) Query(c types.CandidateRecord) types.LookupQuery {
	return types.LookupQuery{
		Kind:   types.QueryTitle,
		Title:  strings.TrimSpace(c.Title),
		Author: c.FirstAuthorSurname(),
		Year:   c.Year,
		Rows:   p.rows,
	}
}

func (p *Title) Select(c types.CandidateRecord, works []types.Work, s *score.Scorer) (int, types.ConfidenceBreakdown) {
	return bestOf(c, works, s)
}
