// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/pdiddy/doi-recovery/internal/checkpoint"
	"github.com/pdiddy/doi-recovery/internal/recovery"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarize the checkpoint: outcomes, recent runs, quota used today",
	RunE:  runStatus,
}

type statusOutput struct {
	Checkpoint string             `json:"checkpoint"`
	Summary    checkpoint.Summary `json:"summary"`
	Runs       []checkpoint.Run   `json:"runs"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, _, err := setup()
	if err != nil {
		return err
	}
	store, err := checkpoint.Open(cfg.Recovery.Checkpoint)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	sum, err := store.Status(ctx)
	if err != nil {
		return err
	}
	limit, _ := cmd.Flags().GetInt("runs")
	runs, err := store.Runs(ctx, limit)
	if err != nil {
		return err
	}

	out := statusOutput{Checkpoint: store.Path(), Summary: sum, Runs: runs}
	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	renderStatus(os.Stdout, out, cfg.Recovery.DailyLimit)
	return nil
}

func renderStatus(w io.Writer, out statusOutput, dailyLimit int) {
	fmt.Fprintf(w, "Checkpoint: %s\n", out.Checkpoint)
	fmt.Fprintf(w, "Candidates: %d (%d phase attempts)\n", out.Summary.Candidates, out.Summary.Attempts)
	fmt.Fprintf(w, "Quota today: %d of %d\n", out.Summary.QuotaToday, dailyLimit)

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Category", "Candidates"})
	for _, c := range recovery.Categories {
		tw.AppendRow(table.Row{c, out.Summary.ByCategory[c]})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{{Number: 2, Align: text.AlignRight}})
	tw.Render()

	if len(out.Runs) == 0 {
		return
	}
	rt := table.NewWriter()
	rt.SetOutputMirror(w)
	rt.SetStyle(table.StyleRounded)
	rt.AppendHeader(table.Row{"Run", "Started", "Finished", "Status"})
	for _, r := range out.Runs {
		finished := "-"
		if !r.FinishedAt.IsZero() {
			finished = r.FinishedAt.Local().Format(time.DateTime)
		}
		rt.AppendRow(table.Row{r.ID, r.StartedAt.Local().Format(time.DateTime), finished, r.Status})
	}
	rt.Render()
}

func init() {
	statusCmd.Flags().Bool("json", false, "output as JSON")
	statusCmd.Flags().Int("runs", 5, "number of recent runs to list")

	rootCmd.AddCommand(statusCmd)
}
