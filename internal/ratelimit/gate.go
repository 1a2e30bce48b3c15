// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/pdiddy/doi-recovery/pkg/types"
)

// Options configures a Gate.
type Options struct {
	// RequestsPerSecond is the sliding-window ceiling and pacing rate.
	RequestsPerSecond int

	// DailyLimit is the per-UTC-day ceiling.
	DailyLimit int

	// UsedToday and Day seed the daily counter from a previous run.
	UsedToday int
	Day       time.Time

	// DisablePacing turns off the minimum interval between calls, leaving
	// only the sliding window.
	DisablePacing bool

	Clock Clock
}

// Gate is the single admission point for network calls. Every successful
// Acquire corresponds to exactly one request on the wire.
type Gate struct {
	window *Window
	daily  *DailyQuota
	pacer  *rate.Limiter
}

// NewGate creates a gate from opts.
func NewGate(opts Options) *Gate {
	g := &Gate{
		window: NewWindow(opts.RequestsPerSecond, time.Second, opts.Clock),
		daily:  NewDailyQuota(opts.DailyLimit, opts.UsedToday, opts.Day, opts.Clock),
	}
	if !opts.DisablePacing && opts.RequestsPerSecond > 0 {
		g.pacer = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return g
}

// Acquire blocks until a call may be issued and charges it against the
// daily ceiling. Once the ceiling is reached it fails fast with
// ErrDailyLimit without waiting.
func (g *Gate) Acquire(ctx context.Context) error {
	if g.daily.Exhausted() {
		return ErrDailyLimit
	}
	if g.pacer != nil {
		if err := g.pacer.Wait(ctx); err != nil {
			return err
		}
	}
	if err := g.window.Wait(ctx); err != nil {
		return err
	}
	return g.daily.Reserve()
}

// Exhausted reports whether the daily ceiling has been reached.
func (g *Gate) Exhausted() bool {
	return g.daily.Exhausted()
}

// Snapshot returns the current counters.
func (g *Gate) Snapshot() types.QuotaState {
	used, day := g.daily.Snapshot()
	return types.QuotaState{
		InWindow:   g.window.InWindow(),
		UsedToday:  used,
		DailyLimit: g.daily.Limit(),
		Day:        day,
	}
}
