// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the doi-recovery CLI.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/doi-recovery/internal/logging"
	"github.com/pdiddy/doi-recovery/internal/secrets"
	"github.com/pdiddy/doi-recovery/pkg/types"
)

// version is set at build time via ldflags.
var version = "dev"

// rootCmd is the base command for the doi-recovery CLI.
var rootCmd = &cobra.Command{
	Use:   "doi-recovery",
	Short: "Recover missing DOIs for bibliographic records",
	Long: `doi-recovery looks up CrossRef for records that lack a DOI. Each record is
tried against up to three phases (identifier, structured venue, fuzzy title)
and a DOI is only attached when the match clears the phase's confidence
threshold.

Progress is checkpointed in SQLite, so an interrupted or rate-limited run
resumes where it stopped when the same command is run again.`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./doi-recovery.yaml or ~/.config/doi-recovery/doi-recovery.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("checkpoint", "", "checkpoint database path")

	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("recovery.checkpoint", rootCmd.PersistentFlags().Lookup("checkpoint"))
}

func initConfig() {
	setDefaults(viper.GetViper())

	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("doi-recovery")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "doi-recovery"))
		}
	}

	viper.SetEnvPrefix("DOI_RECOVERY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// setDefaults registers every key so that environment variables and
// Unmarshal see the full tree even without a config file.
func setDefaults(v *viper.Viper) {
	d := types.DefaultRecoveryConfig()
	v.SetDefault("recovery.contact", d.Contact)
	v.SetDefault("recovery.user_agent", d.UserAgent)
	v.SetDefault("recovery.timeout", d.Timeout)
	v.SetDefault("recovery.base_url", d.BaseURL)
	v.SetDefault("recovery.requests_per_second", d.RequestsPerSecond)
	v.SetDefault("recovery.daily_limit", d.DailyLimit)
	v.SetDefault("recovery.max_retries", d.MaxRetries)
	v.SetDefault("recovery.retry_base_delay", d.RetryBaseDelay)
	v.SetDefault("recovery.retry_max_delay", d.RetryMaxDelay)
	v.SetDefault("recovery.workers", d.Workers)
	v.SetDefault("recovery.min_title_length", d.MinTitleLength)
	v.SetDefault("recovery.title_rows", d.TitleRows)
	v.SetDefault("recovery.cache_ttl", d.CacheTTL)
	v.SetDefault("recovery.thresholds.identifier", d.Thresholds.Identifier)
	v.SetDefault("recovery.thresholds.venue", d.Thresholds.Venue)
	v.SetDefault("recovery.thresholds.title", d.Thresholds.Title)
	v.SetDefault("recovery.checkpoint", d.Checkpoint)
	v.SetDefault("quality.require", []string{"title", "authors", "year"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "auto")
}

// loadConfig decodes the merged configuration. A missing contact falls back
// to the .secrets/ directory.
func loadConfig(v *viper.Viper, logger *slog.Logger) (types.Config, error) {
	var cfg types.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return types.Config{}, fmt.Errorf("decoding configuration: %w", err)
	}
	if cfg.Recovery.Contact == "" {
		s, err := secrets.Load(secrets.DefaultDir, logger)
		if err != nil {
			return types.Config{}, err
		}
		cfg.Recovery.Contact = s[secrets.CrossrefContact]
	}
	return cfg, nil
}

// newLogger builds the process logger from the log section.
func newLogger(cfg types.LogConfig) (*slog.Logger, error) {
	return logging.New(logging.Options{Level: cfg.Level, Format: cfg.Format})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
