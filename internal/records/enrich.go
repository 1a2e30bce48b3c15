// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package records

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/doi-recovery/pkg/types"
)

// Enrich fills the DOI of every item whose outcome is Recovered and appends
// an attribution note. It returns the number of items changed. Items that
// already carry a DOI are left alone.
func Enrich(items []Item, outcomes []types.RecoveryOutcome) int {
	byID := make(map[string]types.RecoveryOutcome, len(outcomes))
	for _, o := range outcomes {
		if o.Status == types.StatusRecovered && o.DOI != "" {
			byID[o.CandidateID] = o
		}
	}
	n := 0
	for i := range items {
		o, ok := byID[items[i].ID]
		if !ok || items[i].DOI != "" {
			continue
		}
		items[i].DOI = o.DOI
		note := Attribution(o)
		if items[i].Note != "" {
			note = items[i].Note + "\n" + note
		}
		items[i].Note = note
		n++
	}
	return n
}

// Attribution describes how a DOI was recovered.
func Attribution(o types.RecoveryOutcome) string {
	return fmt.Sprintf("DOI recovered via CrossRef (%s phase, confidence %.2f, %s)",
		o.Phase, o.Confidence, types.ConfidenceTier(o.Confidence))
}

// Write encodes items as a CSL-YAML list.
func Write(w io.Writer, items []Item) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(items); err != nil {
		return err
	}
	return enc.Close()
}

// WriteFile writes items to path through a temporary file so a crash never
// leaves a truncated output.
func WriteFile(path string, items []Item) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".records-*.yaml")
	if err != nil {
		return fmt.Errorf("creating output: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := Write(tmp, items); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
