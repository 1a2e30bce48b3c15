// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pdiddy/doi-recovery/internal/checkpoint"
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Maintain the checkpoint database",
}

var checkpointResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget failed candidates so the next run tries them again",
	Long: `Reset removes candidates whose outcome was a client failure, together with
their recorded phase attempts. Recovered, exhausted and deferred candidates
are kept. Failed candidates are never retried automatically.`,
	RunE: runCheckpointReset,
}

func runCheckpointReset(cmd *cobra.Command, args []string) error {
	failed, _ := cmd.Flags().GetBool("failed")
	if !failed {
		return fmt.Errorf("nothing to reset: pass --failed")
	}
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	store, err := checkpoint.Open(cfg.Recovery.Checkpoint)
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := store.ResetFailed(cmd.Context())
	if err != nil {
		return err
	}
	logger.Info("failed candidates reset", "count", n)
	fmt.Printf("Reset %d failed candidate(s) in %s\n", n, store.Path())
	return nil
}

func init() {
	checkpointResetCmd.Flags().Bool("failed", false, "reset candidates that failed with client errors")
	checkpointCmd.AddCommand(checkpointResetCmd)
	rootCmd.AddCommand(checkpointCmd)
}
