// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ratelimit

import (
	"errors"
	"sync"
	"time"
)

// ErrDailyLimit is returned once the daily ceiling has been reached.
var ErrDailyLimit = errors.New("daily request limit reached")

// DailyQuota counts calls per UTC day against a fixed ceiling. The counter
// resets when the clock crosses UTC midnight.
type DailyQuota struct {
	mu    sync.Mutex
	limit int
	used  int
	day   time.Time
	clk   Clock
}

// NewDailyQuota creates a quota seeded with calls already used on day. A
// seed from an earlier day is discarded.
func NewDailyQuota(limit, used int, day time.Time, clk Clock) *DailyQuota {
	if clk == nil {
		clk = time.Now
	}
	q := &DailyQuota{limit: limit, clk: clk, day: utcDay(clk())}
	if utcDay(day).Equal(q.day) && used > 0 {
		q.used = used
	}
	return q
}

func utcDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// rollover resets the counter on a new UTC day. Callers hold mu.
func (q *DailyQuota) rollover() {
	if today := utcDay(q.clk()); today.After(q.day) {
		q.day = today
		q.used = 0
	}
}

// Reserve charges one call. It returns ErrDailyLimit without charging when
// the ceiling is already reached.
func (q *DailyQuota) Reserve() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rollover()
	if q.used >= q.limit {
		return ErrDailyLimit
	}
	q.used++
	return nil
}

// Exhausted reports whether the next Reserve would fail.
func (q *DailyQuota) Exhausted() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rollover()
	return q.used >= q.limit
}

// Snapshot returns the calls used on the current UTC day.
func (q *DailyQuota) Snapshot() (used int, day time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rollover()
	return q.used, q.day
}

// Limit returns the daily ceiling.
func (q *DailyQuota) Limit() int { return q.limit }
