// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// HTTPConfig holds shared HTTP settings used by components that make network requests.
type HTTPConfig struct {
	// Timeout bounds a single HTTP request, independent of batch cancellation.
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// UserAgent is the User-Agent product token (e.g. "doi-recovery/0.1").
	// The contact address is appended as "(mailto:...)".
	UserAgent string `json:"user_agent" yaml:"user_agent" mapstructure:"user_agent"`
}

// Thresholds holds the minimum composite confidence each phase accepts.
type Thresholds struct {
	Identifier float64 `json:"identifier" yaml:"identifier" mapstructure:"identifier"`
	Venue      float64 `json:"venue" yaml:"venue" mapstructure:"venue"`
	Title      float64 `json:"title" yaml:"title" mapstructure:"title"`
}

// RecoveryConfig holds settings for a recovery batch.
type RecoveryConfig struct {
	HTTPConfig `yaml:",inline" mapstructure:",squash"`

	// Contact is the polite-use contact address sent with every request.
	Contact string `json:"contact" yaml:"contact" mapstructure:"contact"`

	// BaseURL is the lookup service root (default https://api.crossref.org).
	BaseURL string `json:"base_url" yaml:"base_url" mapstructure:"base_url"`

	// RequestsPerSecond is the sliding-window ceiling (default 45).
	RequestsPerSecond int `json:"requests_per_second" yaml:"requests_per_second" mapstructure:"requests_per_second"`

	// DailyLimit is the per-UTC-day request ceiling (default 100000).
	DailyLimit int `json:"daily_limit" yaml:"daily_limit" mapstructure:"daily_limit"`

	// MaxRetries is the total number of attempts per lookup (default 3).
	MaxRetries int `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries"`

	RetryBaseDelay time.Duration `json:"retry_base_delay" yaml:"retry_base_delay" mapstructure:"retry_base_delay"`
	RetryMaxDelay  time.Duration `json:"retry_max_delay" yaml:"retry_max_delay" mapstructure:"retry_max_delay"`

	// Workers is the worker pool size (default 4).
	Workers int `json:"workers" yaml:"workers" mapstructure:"workers"`

	// MinTitleLength is the title length, in runes, a candidate must exceed
	// to be eligible for fuzzy title search (default 10).
	MinTitleLength int `json:"min_title_length" yaml:"min_title_length" mapstructure:"min_title_length"`

	// TitleRows is the number of works requested by fuzzy title search (default 5).
	TitleRows int `json:"title_rows" yaml:"title_rows" mapstructure:"title_rows"`

	// CacheTTL is how long lookup responses stay cached; 0 disables the cache.
	CacheTTL time.Duration `json:"cache_ttl" yaml:"cache_ttl" mapstructure:"cache_ttl"`

	Thresholds Thresholds `json:"thresholds" yaml:"thresholds" mapstructure:"thresholds"`

	// Checkpoint is the path of the SQLite checkpoint database.
	Checkpoint string `json:"checkpoint" yaml:"checkpoint" mapstructure:"checkpoint"`
}

// DefaultRecoveryConfig returns the configuration used when no file or
// environment override is present.
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		HTTPConfig: HTTPConfig{
			Timeout:   30 * time.Second,
			UserAgent: "doi-recovery/0.1",
		},
		BaseURL:           "https://api.crossref.org",
		RequestsPerSecond: 45,
		DailyLimit:        100000,
		MaxRetries:        3,
		RetryBaseDelay:    time.Second,
		RetryMaxDelay:     30 * time.Second,
		Workers:           4,
		MinTitleLength:    10,
		TitleRows:         5,
		CacheTTL:          24 * time.Hour,
		Thresholds: Thresholds{
			Identifier: 0.80,
			Venue:      0.75,
			Title:      0.65,
		},
		Checkpoint: "data/checkpoint.db",
	}
}

// Contact errors.
var (
	ErrMissingContact = errors.New("recovery contact is required")
	ErrInvalidContact = errors.New("recovery contact is not an email address")
)

// CheckContact validates a polite-use contact. The registry identifies
// callers by the mailto address, so it must look like local@domain.tld.
func CheckContact(contact string) error {
	contact = strings.TrimSpace(contact)
	if contact == "" {
		return ErrMissingContact
	}
	local, domain, ok := strings.Cut(contact, "@")
	if !ok || local == "" || strings.ContainsAny(contact, " \t<>\"(),;") || strings.Contains(domain, "@") {
		return fmt.Errorf("%w: %q", ErrInvalidContact, contact)
	}
	labels := strings.Split(domain, ".")
	if len(labels) < 2 {
		return fmt.Errorf("%w: %q", ErrInvalidContact, contact)
	}
	for _, l := range labels {
		if l == "" {
			return fmt.Errorf("%w: %q", ErrInvalidContact, contact)
		}
	}
	return nil
}

// Validate checks the configuration for values the engine cannot run with.
func (c RecoveryConfig) Validate() error {
	if err := CheckContact(c.Contact); err != nil {
		return err
	}
	if c.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests_per_second must be positive, got %d", c.RequestsPerSecond)
	}
	if c.DailyLimit <= 0 {
		return fmt.Errorf("daily_limit must be positive, got %d", c.DailyLimit)
	}
	if c.MaxRetries <= 0 {
		return fmt.Errorf("max_retries must be positive, got %d", c.MaxRetries)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	for name, v := range map[string]float64{
		"identifier": c.Thresholds.Identifier,
		"venue":      c.Thresholds.Venue,
		"title":      c.Thresholds.Title,
	} {
		if v <= 0 || v > 1 {
			return fmt.Errorf("threshold %s must be in (0, 1], got %v", name, v)
		}
	}
	return nil
}

// QualityConfig lists the fields a record must carry to be offered for recovery.
type QualityConfig struct {
	Require []string `json:"require" yaml:"require" mapstructure:"require"`
}

// LogConfig selects the structured log level and output format.
type LogConfig struct {
	Level  string `json:"level" yaml:"level" mapstructure:"level"`
	Format string `json:"format" yaml:"format" mapstructure:"format"`
}

// Config groups all sections of the doi-recovery configuration file.
type Config struct {
	Recovery RecoveryConfig `json:"recovery" yaml:"recovery" mapstructure:"recovery"`
	Quality  QualityConfig  `json:"quality" yaml:"quality" mapstructure:"quality"`
	Log      LogConfig      `json:"log" yaml:"log" mapstructure:"log"`
}
