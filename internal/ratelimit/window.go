// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package ratelimit enforces the lookup service usage limits: a per-second
// sliding window, a per-UTC-day ceiling, and polite pacing between calls.
// All types are safe for concurrent use by the worker pool.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Clock returns the current time. Tests inject a fake.
type Clock func() time.Time

// minSleep keeps Wait from spinning when the window is nearly free.
const minSleep = 5 * time.Millisecond

// Window admits at most limit events in any trailing span.
type Window struct {
	mu     sync.Mutex
	limit  int
	span   time.Duration
	clk    Clock
	stamps []time.Time
}

// NewWindow creates a sliding window. A nil clock uses time.Now.
func NewWindow(limit int, span time.Duration, clk Clock) *Window {
	if clk == nil {
		clk = time.Now
	}
	if limit < 1 {
		limit = 1
	}
	return &Window{limit: limit, span: span, clk: clk, stamps: make([]time.Time, 0, limit)}
}

// evict drops stamps older than the trailing span. Callers hold mu.
func (w *Window) evict(now time.Time) {
	cutoff := now.Add(-w.span)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}

// TryAcquire records an event if the window has room. Otherwise it returns
// false and how long until the oldest event leaves the window.
func (w *Window) TryAcquire() (bool, time.Duration) {
	now := w.clk()
	w.mu.Lock()
	defer w.mu.Unlock()

	w.evict(now)
	if len(w.stamps) < w.limit {
		w.stamps = append(w.stamps, now)
		return true, 0
	}
	return false, w.stamps[0].Add(w.span).Sub(now)
}

// Wait blocks until the window has room and records the event, or returns
// ctx.Err() if the context ends first.
func (w *Window) Wait(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ok, wait := w.TryAcquire()
		if ok {
			return nil
		}
		if wait < minSleep {
			wait = minSleep
		}
		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
	}
}

// InWindow returns the number of events in the trailing span.
func (w *Window) InWindow() int {
	now := w.clk()
	w.mu.Lock()
	defer w.mu.Unlock()
	w.evict(now)
	return len(w.stamps)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
