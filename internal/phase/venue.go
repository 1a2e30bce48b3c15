// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package phase

import (
	"strings"

	"github.com/pdiddy/doi-recovery/internal/score"
	"github.com/pdiddy/doi-recovery/pkg/types"
)

const venueRows = 5

// Venue looks a candidate up by journal, volume, issue and first page.
type Venue struct {
	threshold float64
}

// NewVenue creates the structured venue phase.
func NewVenue(threshold float64) *Venue {
	return &Venue{threshold: threshold}
}

func (p *Venue) ID() types.PhaseID  { return types.PhaseVenue }
func (p *Venue) Threshold() float64 { return p.threshold }

// Eligible requires a venue name plus at least one of volume, issue or
// first page. A venue name alone is too weak to query on.
func (p *Venue) Eligible(c types.CandidateRecord) bool {
	if strings.TrimSpace(c.Venue) == "" {
		return false
	}
	return strings.TrimSpace(c.Volume) != "" ||
		strings.TrimSpace(c.Issue) != "" ||
		strings.TrimSpace(c.PageStart) != ""
}

func (p *Venue) Query(c types.CandidateRecord) types.LookupQuery {
	return types.LookupQuery{
		Kind:   types.QueryVenue,
		Venue:  strings.TrimSpace(c.Venue),
		Volume: strings.TrimSpace(c.Volume),
		Issue:  strings.TrimSpace(c.Issue),
		Page:   strings.TrimSpace(c.PageStart),
		Year:   c.Year,
		Rows:   venueRows,
	}
}

// Select prefers works whose first page matches the candidate's, then the
// best score among them. Without a page match every work is considered.
func (p *Venue) Select(c types.CandidateRecord, works []types.Work, s *score.Scorer) (int, types.ConfidenceBreakdown) {
	page := strings.TrimSpace(c.PageStart)
	if page != "" {
		var idx []int
		var matched []types.Work
		for i, w := range works {
			if firstPage(w.Page) == page {
				idx = append(idx, i)
				matched = append(matched, w)
			}
		}
		if len(matched) > 0 {
			j, b := s.Best(c, matched)
			return idx[j], b
		}
	}
	return bestOf(c, works, s)
}

// firstPage returns the start of a page range such as "201-209".
func firstPage(pages string) string {
	pages = strings.TrimSpace(pages)
	if i := strings.IndexAny(pages, "-–"); i >= 0 {
		return strings.TrimSpace(pages[:i])
	}
	return pages
}
