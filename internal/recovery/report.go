// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package recovery

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/doi-recovery/pkg/types"
)

// Report categories. Every outcome lands in exactly one.
const (
	CategoryRecovered       = "recovered"
	CategoryNoEligiblePhase = "no_eligible_phase"
	CategoryExhausted       = "exhausted"
	CategoryClientFailure   = "client_failure"
	CategoryDeferred        = "deferred"
)

// Categories lists the report categories in display order.
var Categories = []string{
	CategoryRecovered,
	CategoryNoEligiblePhase,
	CategoryExhausted,
	CategoryClientFailure,
	CategoryDeferred,
}

// Report summarizes one batch.
type Report struct {
	RunID      string    `json:"run_id" yaml:"run_id"`
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time `json:"finished_at" yaml:"finished_at"`
	Total      int       `json:"total" yaml:"total"`

	// Halted explains an early stop; empty when the batch completed.
	Halted string `json:"halted,omitempty" yaml:"halted,omitempty"`

	Counts  map[string]int        `json:"counts" yaml:"counts"`
	ByPhase map[types.PhaseID]int `json:"by_phase" yaml:"by_phase"`

	// Tiers counts recovered candidates per confidence tier.
	Tiers map[string]int `json:"tiers" yaml:"tiers"`

	// Excluded counts records the quality gate kept out, by reason code.
	Excluded map[string]int `json:"excluded,omitempty" yaml:"excluded,omitempty"`

	// Exclusions names each excluded record and its reasons, in input order.
	Exclusions []Exclusion `json:"exclusions,omitempty" yaml:"exclusions,omitempty"`

	// AlreadyIdentified counts records that arrived with a DOI.
	AlreadyIdentified int `json:"already_identified,omitempty" yaml:"already_identified,omitempty"`

	Quota    types.QuotaState        `json:"quota" yaml:"quota"`
	Client   types.ClientStats       `json:"client" yaml:"client"`
	Outcomes []types.RecoveryOutcome `json:"outcomes" yaml:"outcomes"`
}

// Exclusion is one record the quality gate kept out of the batch.
type Exclusion struct {
	ID      string   `json:"id" yaml:"id"`
	Reasons []string `json:"reasons" yaml:"reasons"`
}

// NewReport tallies outcomes.
func NewReport(runID string, outcomes []types.RecoveryOutcome) *Report {
	r := &Report{
		RunID:    runID,
		Total:    len(outcomes),
		Counts:   make(map[string]int, len(Categories)),
		ByPhase:  map[types.PhaseID]int{},
		Tiers:    map[string]int{},
		Outcomes: outcomes,
	}
	for _, c := range Categories {
		r.Counts[c] = 0
	}
	for _, o := range outcomes {
		r.Counts[o.Category()]++
		if o.Status == types.StatusRecovered {
			r.ByPhase[o.Phase]++
			r.Tiers[types.ConfidenceTier(o.Confidence)]++
		}
	}
	return r
}

// RecoveryRate is the share of candidates recovered.
func (r *Report) RecoveryRate() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Counts[CategoryRecovered]) / float64(r.Total)
}

// Write renders the report as "table", "json" or "yaml".
func (r *Report) Write(w io.Writer, format string) error {
	switch strings.ToLower(format) {
	case "", "table":
		return r.WriteTable(w)
	case "json":
		return r.WriteJSON(w)
	case "yaml":
		return r.WriteYAML(w)
	default:
		return fmt.Errorf("unsupported report format %q", format)
	}
}

// WriteJSON writes the full report, including every outcome, as JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteYAML writes the full report as YAML.
func (r *Report) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return err
	}
	return enc.Close()
}

// WriteTable writes the summary counts as text tables.
func (r *Report) WriteTable(w io.Writer) error {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleRounded)
	tw.SetTitle("Run " + r.RunID)
	tw.AppendHeader(table.Row{"Category", "Count", "Share"})
	for _, c := range Categories {
		tw.AppendRow(table.Row{c, r.Counts[c], percent(r.Counts[c], r.Total)})
	}
	tw.AppendFooter(table.Row{"total", r.Total, ""})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
	})
	tw.Render()

	if len(r.ByPhase) > 0 {
		pt := table.NewWriter()
		pt.SetOutputMirror(w)
		pt.SetStyle(table.StyleRounded)
		pt.AppendHeader(table.Row{"Phase", "Recovered"})
		for _, id := range []types.PhaseID{types.PhaseIdentifier, types.PhaseVenue, types.PhaseTitle} {
			if n, ok := r.ByPhase[id]; ok {
				pt.AppendRow(table.Row{id, n})
			}
		}
		pt.Render()
	}

	if len(r.Tiers) > 0 {
		tt := table.NewWriter()
		tt.SetOutputMirror(w)
		tt.SetStyle(table.StyleRounded)
		tt.AppendHeader(table.Row{"Confidence", "Recovered"})
		for _, tier := range []string{"high", "medium", "low", "very_low"} {
			if n, ok := r.Tiers[tier]; ok {
				tt.AppendRow(table.Row{tier, n})
			}
		}
		tt.Render()
	}

	if len(r.Excluded) > 0 {
		codes := make([]string, 0, len(r.Excluded))
		for code := range r.Excluded {
			codes = append(codes, code)
		}
		sort.Strings(codes)
		et := table.NewWriter()
		et.SetOutputMirror(w)
		et.SetStyle(table.StyleRounded)
		et.AppendHeader(table.Row{"Excluded", "Records"})
		for _, code := range codes {
			et.AppendRow(table.Row{code, r.Excluded[code]})
		}
		et.Render()
	}

	fmt.Fprintf(w, "requests: %d sent (%.1f%% ok), %d cached, %d failed, %d rate limited\n",
		r.Client.TotalRequests, 100*r.Client.SuccessRate(), r.Client.CacheHits,
		r.Client.FailedRequests, r.Client.RateLimitedRequests)
	fmt.Fprintf(w, "quota: %d of %d used today, %d remaining\n",
		r.Quota.UsedToday, r.Quota.DailyLimit, r.Quota.Remaining())
	if r.Halted != "" {
		fmt.Fprintf(w, "halted: %s (%d deferred; rerun to resume)\n", r.Halted, r.Counts[CategoryDeferred])
	}
	return nil
}

func percent(n, total int) string {
	if total == 0 {
		return "-"
	}
	return fmt.Sprintf("%.1f%%", 100*float64(n)/float64(total))
}
