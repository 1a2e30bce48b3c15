// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package records reads candidate records from CSL-YAML or CSL-JSON files and
// writes them back enriched with recovered DOIs.
package records

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/doi-recovery/pkg/types"
)

// Item is a bibliographic entry in CSL (Citation Style Language) format.
// Fields the engine does not use are kept in Extra so a rewrite preserves
// them.
type Item struct {
	ID             string         `yaml:"id"`
	Type           string         `yaml:"type,omitempty"`
	Title          string         `yaml:"title,omitempty"`
	Author         []Name         `yaml:"author,omitempty"`
	Issued         *Date          `yaml:"issued,omitempty"`
	ContainerTitle string         `yaml:"container-title,omitempty"`
	Volume         string         `yaml:"volume,omitempty"`
	Issue          string         `yaml:"issue,omitempty"`
	Page           string         `yaml:"page,omitempty"`
	PMID           string         `yaml:"PMID,omitempty"`
	DOI            string         `yaml:"DOI,omitempty"`
	Note           string         `yaml:"note,omitempty"`
	Extra          map[string]any `yaml:",inline"`
}

// Name is a person's name in CSL format.
type Name struct {
	Family  string `yaml:"family,omitempty"`
	Given   string `yaml:"given,omitempty"`
	Literal string `yaml:"literal,omitempty"`
}

// Date is a CSL date. Only date-parts is interpreted.
type Date struct {
	DateParts [][]int `yaml:"date-parts,omitempty"`
	Raw       string  `yaml:"raw,omitempty"`
}

// String renders the name as "Family, Given".
func (n Name) String() string {
	switch {
	case n.Literal != "":
		return n.Literal
	case n.Given == "":
		return n.Family
	case n.Family == "":
		return n.Given
	}
	return n.Family + ", " + n.Given
}

// Read decodes a CSL list. CSL-JSON is accepted as well since JSON arrays
// decode as YAML.
func Read(r io.Reader) ([]Item, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var items []Item
	if err := yaml.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decoding CSL records: %w", err)
	}
	seen := make(map[string]bool, len(items))
	for i, it := range items {
		if strings.TrimSpace(it.ID) == "" {
			return nil, fmt.Errorf("record %d has no id", i+1)
		}
		if seen[it.ID] {
			return nil, fmt.Errorf("duplicate record id %q", it.ID)
		}
		seen[it.ID] = true
	}
	return items, nil
}

// ReadFile reads a CSL file from disk.
func ReadFile(path string) ([]Item, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening records: %w", err)
	}
	defer f.Close()
	items, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return items, nil
}

// Candidate converts an item into the engine's record.
func (it Item) Candidate() types.CandidateRecord {
	rec := types.CandidateRecord{
		ID:         it.ID,
		Title:      strings.TrimSpace(it.Title),
		Venue:      strings.TrimSpace(it.ContainerTitle),
		Volume:     strings.TrimSpace(it.Volume),
		Issue:      strings.TrimSpace(it.Issue),
		ExternalID: strings.TrimSpace(it.PMID),
		DOI:        strings.TrimSpace(it.DOI),
	}
	for _, a := range it.Author {
		if s := strings.TrimSpace(a.String()); s != "" {
			rec.Authors = append(rec.Authors, s)
		}
	}
	if it.Issued != nil && len(it.Issued.DateParts) > 0 && len(it.Issued.DateParts[0]) > 0 {
		rec.Year = it.Issued.DateParts[0][0]
	}
	rec.PageStart, rec.PageEnd = splitPages(it.Page)
	return rec
}

// Candidates converts every item.
func Candidates(items []Item) []types.CandidateRecord {
	out := make([]types.CandidateRecord, len(items))
	for i, it := range items {
		out[i] = it.Candidate()
	}
	return out
}

// splitPages splits "201-209" (hyphen or en dash) into its ends.
func splitPages(page string) (string, string) {
	page = strings.TrimSpace(page)
	if i := strings.IndexAny(page, "-–"); i >= 0 {
		_, size := utf8.DecodeRuneInString(page[i:])
		return strings.TrimSpace(page[:i]), strings.TrimSpace(page[i+size:])
	}
	return page, ""
}
