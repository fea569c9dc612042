// Package quota tracks daily YouTube API usage on the client side so an
// upload that cannot finish within the day's budget is refused before
// any bytes move.
package quota

import (
	"fmt"
	"sync"
	"time"
)

// YouTube Data API costs: videos.insert charges 1600 units against a
// 10000-unit daily budget.
const (
	DefaultDailyLimit = 10000
	DefaultUploadCost = 1600
)

// ExceededError reports a refused upload together with the remaining
// allowance.
type ExceededError struct {
	Remaining int64
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("daily upload quota exceeded: %d units remaining", e.Remaining)
}

// Tracker is a process-wide daily usage counter. State resets on the
// first read after a UTC date rollover; all read-modify-write happens
// under one lock.
type Tracker struct {
	mu    sync.Mutex
	limit int64
	cost  int64
	day   string
	used  int64
	now   func() time.Time
}

// NewTracker creates a Tracker with the standard YouTube budget.
func NewTracker() *Tracker {
	return NewTrackerWithLimits(DefaultDailyLimit, DefaultUploadCost)
}

// NewTrackerWithLimits creates a Tracker with explicit budget figures.
func NewTrackerWithLimits(limit, cost int64) *Tracker {
	return &Tracker{limit: limit, cost: cost, now: time.Now}
}

// Check reports whether one more upload fits in today's budget.
func (t *Tracker) Check() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollover()
	if t.used+t.cost > t.limit {
		return &ExceededError{Remaining: t.limit - t.used}
	}
	return nil
}

// Record charges one upload against today's budget.
func (t *Tracker) Record() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollover()
	t.used += t.cost
}

// Remaining returns today's unspent allowance.
func (t *Tracker) Remaining() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollover()
	return t.limit - t.used
}

func (t *Tracker) rollover() {
	day := t.now().UTC().Format(time.DateOnly)
	if day != t.day {
		t.day = day
		t.used = 0
	}
}
