// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"strconv"
	"strings"
	"time"
)

// QueryKind selects the search strategy a LookupQuery expresses.
type QueryKind string

const (
	QueryIdentifier QueryKind = "identifier"
	QueryVenue      QueryKind = "venue"
	QueryTitle      QueryKind = "title"
)

// LookupQuery is a phase-specific request built from a CandidateRecord. It
// exists only for the duration of one external call.
type LookupQuery struct {
	Kind       QueryKind
	ExternalID string
	Venue      string
	Volume     string
	Issue      string
	Page       string
	Year       int
	Title      string
	Author     string

	// Rows is the maximum number of works to request.
	Rows int
}

// Key returns a canonical representation of the query, stable across runs,
// suitable for use as a cache key.
func (q LookupQuery) Key() string {
	var b strings.Builder
	b.WriteString(string(q.Kind))
	for _, part := range []string{
		q.ExternalID, q.Venue, q.Volume, q.Issue, q.Page,
		strconv.Itoa(q.Year), q.Title, q.Author, strconv.Itoa(q.Rows),
	} {
		b.WriteByte('|')
		b.WriteString(strings.ToLower(strings.TrimSpace(part)))
	}
	return b.String()
}

// Work is one candidate metadata record as reported by the lookup service.
type Work struct {
	DOI   string `json:"doi" yaml:"doi"`
	Title string `json:"title" yaml:"title"`
	Year  int    `json:"year,omitempty" yaml:"year,omitempty"`

	// Authors are formatted "Family, G." to match candidate records.
	Authors []string `json:"authors,omitempty" yaml:"authors,omitempty"`

	Venue string `json:"venue,omitempty" yaml:"venue,omitempty"`

	// VenueAliases holds abbreviated container titles.
	VenueAliases []string `json:"venue_aliases,omitempty" yaml:"venue_aliases,omitempty"`

	Volume string `json:"volume,omitempty" yaml:"volume,omitempty"`
	Issue  string `json:"issue,omitempty" yaml:"issue,omitempty"`
	Page   string `json:"page,omitempty" yaml:"page,omitempty"`
}

// LookupResult is the normalized response of one lookup: zero or more works
// ordered as the service ranked them.
type LookupResult struct {
	Works []Work `json:"works" yaml:"works"`
}

// Empty reports whether the lookup matched nothing.
func (r LookupResult) Empty() bool {
	return len(r.Works) == 0
}

// QuotaState is a point-in-time view of the shared rate-limit counters.
type QuotaState struct {
	// InWindow counts calls issued in the trailing one-second window.
	InWindow int `json:"in_window" yaml:"in_window"`

	// UsedToday counts calls charged against the daily ceiling.
	UsedToday int `json:"used_today" yaml:"used_today"`

	DailyLimit int `json:"daily_limit" yaml:"daily_limit"`

	// Day is the UTC midnight the daily counter belongs to.
	Day time.Time `json:"day" yaml:"day"`
}

// Remaining returns the calls left before the daily ceiling.
func (q QuotaState) Remaining() int {
	if r := q.DailyLimit - q.UsedToday; r > 0 {
		return r
	}
	return 0
}
