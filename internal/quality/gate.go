// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package quality screens incoming records before recovery. Records that
// already carry a DOI pass through, records missing a required field are
// excluded with a reason code, and the rest are offered to the pipeline.
package quality

import (
	"fmt"
	"strings"

	"github.com/pdiddy/doi-recovery/internal/phase"
	"github.com/pdiddy/doi-recovery/pkg/types"
)

// Reason codes.
const (
	MissingTitle      = "MISSING_TITLE"
	MissingAuthors    = "MISSING_AUTHORS"
	MissingYear       = "MISSING_YEAR"
	MissingVenue      = "MISSING_VENUE"
	NoRecoverableData = "NO_RECOVERABLE_DATA"
)

// Fields that may be required.
const (
	FieldTitle   = "title"
	FieldAuthors = "authors"
	FieldYear    = "year"
	FieldVenue   = "venue"
)

// DefaultRequire is the required field set when none is configured.
var DefaultRequire = []string{FieldTitle, FieldAuthors, FieldYear}

var checks = map[string]struct {
	reason  string
	missing func(types.CandidateRecord) bool
}{
	FieldTitle:   {MissingTitle, func(r types.CandidateRecord) bool { return strings.TrimSpace(r.Title) == "" }},
	FieldAuthors: {MissingAuthors, func(r types.CandidateRecord) bool { return len(r.Authors) == 0 }},
	FieldYear:    {MissingYear, func(r types.CandidateRecord) bool { return r.Year <= 0 }},
	FieldVenue:   {MissingVenue, func(r types.CandidateRecord) bool { return strings.TrimSpace(r.Venue) == "" }},
}

// Decision says what happens to a record.
type Decision string

const (
	Offer       Decision = "offer"
	PassThrough Decision = "pass_through"
	Exclude     Decision = "exclude"
)

// Verdict is the gate's ruling on one record.
type Verdict struct {
	Record   types.CandidateRecord
	Decision Decision
	Reasons  []string
}

// Result partitions a record set.
type Result struct {
	Candidates []types.CandidateRecord
	Identified []types.CandidateRecord
	Excluded   []Verdict

	// Flagged lists offered records no phase will accept. They still go to
	// the pipeline, which reports them as no_eligible_phase.
	Flagged []string
}

// ExcludedCounts tallies exclusions by reason code.
func (r Result) ExcludedCounts() map[string]int {
	counts := map[string]int{}
	for _, v := range r.Excluded {
		for _, reason := range v.Reasons {
			counts[reason]++
		}
	}
	return counts
}

// Gate applies a required-field policy.
type Gate struct {
	require []string
	phases  []phase.Phase
}

// New creates a gate. An empty require list means DefaultRequire. The
// phases decide which offered records get flagged; pass the same list the
// pipeline runs. With no phases the default set for the default recovery
// config is used.
func New(require []string, phases ...phase.Phase) (*Gate, error) {
	if len(require) == 0 {
		require = DefaultRequire
	}
	if len(phases) == 0 {
		phases = phase.Default(types.DefaultRecoveryConfig())
	}
	g := &Gate{phases: phases}
	seen := map[string]bool{}
	for _, f := range require {
		f = strings.ToLower(strings.TrimSpace(f))
		if _, ok := checks[f]; !ok {
			return nil, fmt.Errorf("unknown required field %q", f)
		}
		if !seen[f] {
			seen[f] = true
			g.require = append(g.require, f)
		}
	}
	return g, nil
}

// Check rules on a single record.
func (g *Gate) Check(r types.CandidateRecord) Verdict {
	if strings.TrimSpace(r.DOI) != "" {
		return Verdict{Record: r, Decision: PassThrough}
	}
	v := Verdict{Record: r, Decision: Offer}
	for _, f := range g.require {
		c := checks[f]
		if c.missing(r) {
			v.Reasons = append(v.Reasons, c.reason)
		}
	}
	if len(v.Reasons) > 0 {
		v.Decision = Exclude
		return v
	}
	if len(phase.Eligible(g.phases, r)) == 0 {
		v.Reasons = []string{NoRecoverableData}
	}
	return v
}

// Split runs every record through the gate, keeping input order within
// each group.
func (g *Gate) Split(records []types.CandidateRecord) Result {
	var res Result
	for _, r := range records {
		v := g.Check(r)
		switch v.Decision {
		case PassThrough:
			res.Identified = append(res.Identified, r)
		case Exclude:
			res.Excluded = append(res.Excluded, v)
		default:
			res.Candidates = append(res.Candidates, r)
			if len(v.Reasons) > 0 {
				res.Flagged = append(res.Flagged, r.ID)
			}
		}
	}
	return res
}
