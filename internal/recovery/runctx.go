// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package recovery runs candidate records through the ordered recovery
// phases, persists every attempt, and aggregates the batch into a report.
package recovery

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pdiddy/doi-recovery/internal/ratelimit"
	"github.com/pdiddy/doi-recovery/pkg/types"
)

// RunContext carries what every stage of one batch shares. Cancellation
// travels separately as a context.Context.
type RunContext struct {
	ID      string
	Started time.Time
	Config  types.RecoveryConfig
	Gate    *ratelimit.Gate
	Logger  *slog.Logger
}

// NewRunContext creates a run with a fresh ID. A nil logger discards output.
func NewRunContext(cfg types.RecoveryConfig, gate *ratelimit.Gate, logger *slog.Logger) *RunContext {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	id := uuid.NewString()
	return &RunContext{
		ID:      id,
		Started: time.Now().UTC(),
		Config:  cfg,
		Gate:    gate,
		Logger:  logger.With("run", id),
	}
}
