// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines shared data structures for the doi-recovery engine.
// Implements: candidate records, lookup queries and results, recovery outcomes,
// and the batch configuration consumed by every stage.
package types

import "strings"

// CandidateRecord is a read-only view of one bibliographic entry that lacks a
// DOI. Any field may be empty. The recovery pipeline only reads it.
type CandidateRecord struct {
	// ID uniquely identifies the record within a batch (e.g. a Scopus EID).
	ID string `json:"id" yaml:"id"`

	// Title is the article title.
	Title string `json:"title,omitempty" yaml:"title,omitempty"`

	// Year is the publication year; 0 when unknown.
	Year int `json:"year,omitempty" yaml:"year,omitempty"`

	// Authors lists author names in source order, either "Family, G." or
	// "Given Family".
	Authors []string `json:"authors,omitempty" yaml:"authors,omitempty"`

	// Venue is the journal or proceedings name.
	Venue string `json:"venue,omitempty" yaml:"venue,omitempty"`

	Volume    string `json:"volume,omitempty" yaml:"volume,omitempty"`
	Issue     string `json:"issue,omitempty" yaml:"issue,omitempty"`
	PageStart string `json:"page_start,omitempty" yaml:"page_start,omitempty"`
	PageEnd   string `json:"page_end,omitempty" yaml:"page_end,omitempty"`

	// ExternalID is a cross-reference identifier such as a PubMed ID.
	ExternalID string `json:"external_id,omitempty" yaml:"external_id,omitempty"`

	// DOI is the persistent identifier. Empty for recovery candidates.
	DOI string `json:"doi,omitempty" yaml:"doi,omitempty"`
}

// FirstAuthorSurname returns the surname of the first listed author, or "".
func (c CandidateRecord) FirstAuthorSurname() string {
	if len(c.Authors) == 0 {
		return ""
	}
	return Surname(c.Authors[0])
}

// Surname extracts the family name from "Family, G." or "Given Family".
func Surname(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	if idx := strings.Index(name, ","); idx >= 0 {
		return strings.TrimSpace(name[:idx])
	}
	fields := strings.Fields(name)
	return fields[len(fields)-1]
}
