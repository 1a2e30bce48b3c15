// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/doi-recovery/internal/checkpoint"
	"github.com/pdiddy/doi-recovery/internal/crossref"
	"github.com/pdiddy/doi-recovery/internal/phase"
	"github.com/pdiddy/doi-recovery/internal/quality"
	"github.com/pdiddy/doi-recovery/internal/ratelimit"
	"github.com/pdiddy/doi-recovery/internal/records"
	"github.com/pdiddy/doi-recovery/internal/recovery"
	"github.com/pdiddy/doi-recovery/pkg/types"
)

var recoverCmd = &cobra.Command{
	Use:   "recover <records.yaml>",
	Short: "Recover DOIs for the records in a CSL-YAML or CSL-JSON file",
	Long: `Recover screens the records through the quality gate, then looks up every
record that lacks a DOI. Records that already have a DOI are passed through.

The run stops early when the daily request ceiling is reached or on Ctrl-C.
Every attempt is checkpointed; run the same command again to resume.`,
	Args: cobra.ExactArgs(1),
	RunE: runRecover,
}

func runRecover(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	if workers, _ := cmd.Flags().GetInt("workers"); workers > 0 {
		cfg.Recovery.Workers = workers
	}
	if err := cfg.Recovery.Validate(); err != nil {
		if errors.Is(err, types.ErrMissingContact) || errors.Is(err, types.ErrInvalidContact) {
			return fmt.Errorf("%w: set recovery.contact, DOI_RECOVERY_RECOVERY_CONTACT, or .secrets/crossref-contact", err)
		}
		return err
	}

	items, err := records.ReadFile(args[0])
	if err != nil {
		return err
	}
	phases := phase.Default(cfg.Recovery)
	qg, err := quality.New(cfg.Quality.Require, phases...)
	if err != nil {
		return err
	}
	split := qg.Split(records.Candidates(items))
	for _, id := range split.Flagged {
		logger.Warn("record has no recoverable data", "candidate", id)
	}
	logger.Info("records screened",
		"offered", len(split.Candidates), "identified", len(split.Identified), "excluded", len(split.Excluded))

	store, err := checkpoint.Open(cfg.Recovery.Checkpoint)
	if err != nil {
		if errors.Is(err, checkpoint.ErrLocked) {
			return fmt.Errorf("%w: another recover run is using %s", err, cfg.Recovery.Checkpoint)
		}
		return err
	}
	defer store.Close()

	today := time.Now().UTC()
	used, err := store.LoadQuota(ctx, today)
	if err != nil {
		return err
	}
	gate := ratelimit.NewGate(ratelimit.Options{
		RequestsPerSecond: cfg.Recovery.RequestsPerSecond,
		DailyLimit:        cfg.Recovery.DailyLimit,
		UsedToday:         used,
		Day:               today,
	})
	if gate.Exhausted() {
		logger.Warn("daily request ceiling already reached, candidates will be deferred",
			"used", used, "limit", cfg.Recovery.DailyLimit)
	}
	client, err := crossref.New(cfg.Recovery, gate, crossref.WithLogger(logger))
	if err != nil {
		return err
	}

	format, _ := cmd.Flags().GetString("format")
	reportPath, _ := cmd.Flags().GetString("report")
	var progress io.Writer = os.Stdout
	if reportPath == "" && format != "table" {
		progress = os.Stderr
	}
	if quiet, _ := cmd.Flags().GetBool("quiet"); quiet {
		progress = io.Discard
	}

	rc := recovery.NewRunContext(cfg.Recovery, gate, logger)
	pipeline := recovery.NewPipeline(rc, client,
		recovery.WithPhases(phases...),
		recovery.WithCheckpoint(store),
	)
	batch := recovery.NewBatch(rc, pipeline,
		recovery.WithProgress(progress),
		recovery.WithStats(client),
		recovery.WithBatchCheckpoint(store),
	)

	report, runErr := batch.Run(ctx, split.Candidates)
	if report == nil {
		return runErr
	}
	addScreening(report, split)

	if err := writeReport(report, format, reportPath); err != nil {
		return err
	}
	if output, _ := cmd.Flags().GetString("output"); output != "" {
		if err := writeEnriched(output, items, report.Outcomes, logger); err != nil {
			return err
		}
	}

	if runErr != nil {
		deferred := report.Counts[recovery.CategoryDeferred]
		switch {
		case errors.Is(runErr, crossref.ErrRateLimited):
			return fmt.Errorf("%w; %d candidate(s) deferred, run the same command again to resume", runErr, deferred)
		case errors.Is(runErr, context.Canceled):
			return fmt.Errorf("interrupted; %d candidate(s) deferred, run the same command again to resume", deferred)
		}
		return runErr
	}
	return nil
}

func writeReport(report *recovery.Report, format, path string) error {
	if path == "" {
		return report.Write(os.Stdout, format)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating report: %w", err)
	}
	if err := report.Write(f, format); err != nil {
		f.Close()
		return fmt.Errorf("writing report: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "Report written to %s\n", path)
	return nil
}

func writeEnriched(path string, items []records.Item, outcomes []types.RecoveryOutcome, logger *slog.Logger) error {
	n := records.Enrich(items, outcomes)
	if err := records.WriteFile(path, items); err != nil {
		return err
	}
	logger.Info("enriched records written", "path", path, "filled", n)
	return nil
}

// setup loads configuration and builds the logger.
func setup() (types.Config, *slog.Logger, error) {
	v := viper.GetViper()
	logger, err := newLogger(types.LogConfig{Level: v.GetString("log.level"), Format: v.GetString("log.format")})
	if err != nil {
		return types.Config{}, nil, err
	}
	cfg, err := loadConfig(v, logger)
	if err != nil {
		return types.Config{}, nil, err
	}
	return cfg, logger, nil
}

func init() {
	recoverCmd.Flags().StringP("output", "o", "", "write the records, enriched with recovered DOIs, to this CSL-YAML file")
	recoverCmd.Flags().String("format", "table", "report format: table, json, yaml")
	recoverCmd.Flags().String("report", "", "write the report to this file instead of stdout")
	recoverCmd.Flags().Int("workers", 0, "worker pool size (overrides recovery.workers)")
	recoverCmd.Flags().BoolP("quiet", "q", false, "suppress per-candidate progress lines")

	rootCmd.AddCommand(recoverCmd)
}

// addScreening copies the quality gate's results onto the report so each
// excluded record can be traced by ID.
func addScreening(report *recovery.Report, split quality.Result) {
	report.Excluded = split.ExcludedCounts()
	report.AlreadyIdentified = len(split.Identified)
	for _, v := range split.Excluded {
		report.Exclusions = append(report.Exclusions, recovery.Exclusion{ID: v.Record.ID, Reasons: v.Reasons})
	}
}
