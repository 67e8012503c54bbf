// Package blacklist implements the path blacklist state machine:
// unseen -> pre(1..threshold-1) -> blacklisted, with recovery on
// success and removal from the active path index once blacklisted.
package blacklist

import (
	"sync"

	"github.com/MedTrebor/uniswapv2-arbitrage-bot/pkg/types"
)

// Blacklist tracks each path's strike count and derived state.
type Blacklist struct {
	mu        sync.Mutex
	threshold int
	entries   map[string]*types.BlacklistEntry
}

// New builds a Blacklist that moves a path to Blacklisted once it
// accumulates threshold strikes (threshold must be >= 1).
func New(threshold int) *Blacklist {
	if threshold < 1 {
		threshold = 1
	}
	return &Blacklist{
		threshold: threshold,
		entries:   make(map[string]*types.BlacklistEntry),
	}
}

// RecordFailure increments pathKey's strike count and returns its state
// after the increment.
func (b *Blacklist) RecordFailure(pathKey string) types.BlacklistState {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[pathKey]
	if !ok {
		e = &types.BlacklistEntry{PathKey: pathKey}
		b.entries[pathKey] = e
	}
	e.Strikes++
	e.State = b.stateFor(e.Strikes)
	return e.State
}

// RecordSuccess decrements pathKey's strike count (never below zero) and
// returns its state afterward. A path that lived at Pre and then
// succeeds works its way back toward Unseen rather than being reset
// instantly, so a single lucky fill doesn't erase a real pattern of
// failures. Blacklisted is terminal: a success on a path that already
// crossed the threshold (an in-flight fill confirming late) leaves it
// blacklisted until an operator clears the persisted state.
func (b *Blacklist) RecordSuccess(pathKey string) types.BlacklistState {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[pathKey]
	if !ok {
		return types.Unseen
	}
	if e.State == types.Blacklisted {
		return types.Blacklisted
	}
	if e.Strikes > 0 {
		e.Strikes--
	}
	e.State = b.stateFor(e.Strikes)
	if e.Strikes == 0 {
		delete(b.entries, pathKey)
		return types.Unseen
	}
	return e.State
}

func (b *Blacklist) stateFor(strikes int) types.BlacklistState {
	switch {
	case strikes <= 0:
		return types.Unseen
	case strikes < b.threshold:
		return types.Pre
	default:
		return types.Blacklisted
	}
}

// State returns pathKey's current state without mutating it.
func (b *Blacklist) State(pathKey string) types.BlacklistState {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[pathKey]
	if !ok {
		return types.Unseen
	}
	return e.State
}

// IsBlacklisted is a convenience check used by the filter stage to drop
// candidates before they're even simulated.
func (b *Blacklist) IsBlacklisted(pathKey string) bool {
	return b.State(pathKey) == types.Blacklisted
}

// Blacklisted returns every path key currently in the Blacklisted state,
// so the driver can remove them from the active PathIndex.
func (b *Blacklist) Blacklisted() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for k, e := range b.entries {
		if e.State == types.Blacklisted {
			out = append(out, k)
		}
	}
	return out
}

// ApplyTo removes every currently-blacklisted path from idx, returning
// the keys removed.
func (b *Blacklist) ApplyTo(idx *types.PathIndex) []string {
	removed := b.Blacklisted()
	for _, k := range removed {
		idx.Remove(k)
	}
	return removed
}

// Entries returns a snapshot of every tracked path's strike state, for
// persistence.
func (b *Blacklist) Entries() map[string]types.BlacklistEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]types.BlacklistEntry, len(b.entries))
	for k, e := range b.entries {
		out[k] = *e
	}
	return out
}

// LoadEntries replaces the tracked state with entries, reconstructing
// each path's state from its strike count rather than trusting a
// possibly-stale persisted State field.
func (b *Blacklist) LoadEntries(entries map[string]types.BlacklistEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = make(map[string]*types.BlacklistEntry, len(entries))
	for k, e := range entries {
		cp := e
		cp.State = b.stateFor(cp.Strikes)
		b.entries[k] = &cp
	}
}
