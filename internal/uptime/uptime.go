// Package uptime tracks how long the bot has been running and persists
// that figure periodically so a restart can report cumulative uptime
// across process lifetimes rather than resetting to zero.
package uptime

import (
	"context"
	"time"

	"github.com/MedTrebor/uniswapv2-arbitrage-bot/internal/store"
)

const storeKey = "uptime"

// Tracker accumulates elapsed wall-clock time across process restarts,
// persisting the running total to disk on an interval.
type Tracker struct {
	store        *store.Store
	startedAt    time.Time
	priorSeconds int64
}

// NewTracker loads any previously persisted uptime total from s and
// starts counting from now.
func NewTracker(s *store.Store, now time.Time) *Tracker {
	var prior int64
	_ = s.Load(storeKey, &prior)
	return &Tracker{store: s, startedAt: now, priorSeconds: prior}
}

// Seconds returns total uptime: whatever was persisted from prior runs
// plus elapsed time since this process started, measured against now.
func (t *Tracker) Seconds(now time.Time) int64 {
	return t.priorSeconds + int64(now.Sub(t.startedAt).Seconds())
}

// Persist writes the current total uptime to the store.
func (t *Tracker) Persist(now time.Time) error {
	return t.store.Save(storeKey, t.Seconds(now))
}

// Run persists uptime on every tick of interval until ctx is done, then
// does one final persist before returning.
func (t *Tracker) Run(ctx context.Context, interval time.Duration, now func() time.Time) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return t.Persist(now())
		case tick := <-ticker.C:
			if err := t.Persist(tick); err != nil {
				return err
			}
		}
	}
}
