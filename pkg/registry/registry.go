// Package registry holds the live pool set and applies Sync-event
// updates to it, the way a Uniswap V2 indexer keeps reserves current
// between full resyncs. It also owns the incremental discovery of new
// pools (fetch_new_pools) and the periodic reserves/fee resync
// (refresh_all) against a PoolSource.
package registry

import (
	"context"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/MedTrebor/uniswapv2-arbitrage-bot/pkg/types"
)

// Registry is the concurrency-safe store of every tracked pool.
type Registry struct {
	mu    sync.RWMutex
	pools map[common.Address]*types.Pool

	// factoryCounts is each factory's allPairsLength() as of the last
	// successful FetchNewPools call, the baseline fetch_new_pools diffs
	// against to find newly created pools.
	factoryCounts map[common.Address]uint64
}

// New builds an empty Registry.
func New() *Registry {
	return &Registry{
		pools:         make(map[common.Address]*types.Pool),
		factoryCounts: make(map[common.Address]uint64),
	}
}

// Snapshot returns a point-in-time copy of every tracked pool, safe for
// the caller to read without holding the registry lock.
func (r *Registry) Snapshot() []*types.Pool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*types.Pool, 0, len(r.pools))
	for _, p := range r.pools {
		cp := *p
		out = append(out, &cp)
	}
	return out
}

// Get returns the pool at addr, or nil if untracked.
func (r *Registry) Get(addr common.Address) *types.Pool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pools[addr]
	if !ok {
		return nil
	}
	cp := *p
	return &cp
}

// ReplaceAll swaps the entire tracked pool set, used when the driver
// broadcasts a fresh full resync to every worker.
func (r *Registry) ReplaceAll(pools []*types.Pool) {
	next := make(map[common.Address]*types.Pool, len(pools))
	for _, p := range pools {
		cp := *p
		next[p.Address] = &cp
	}
	r.mu.Lock()
	r.pools = next
	r.mu.Unlock()
}

// FetchNewPoolsStatic adds pools that aren't already tracked, ignoring
// ones the registry already has. Used by callers (tests, seed-from-store
// boot) that already have fully-resolved Pool values and don't need the
// live on-chain diff FetchNewPools performs.
func (r *Registry) FetchNewPoolsStatic(pools []*types.Pool) (added int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range pools {
		if _, exists := r.pools[p.Address]; exists {
			continue
		}
		cp := *p
		r.pools[p.Address] = &cp
		added++
	}
	return added
}

// ApplyEvents updates reserves for every pool present in updates,
// silently skipping pools the registry doesn't track (likely filtered
// out during a prior liquidity pass).
func (r *Registry) ApplyEvents(updates map[common.Address]*types.Pool) (applied int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for addr, upd := range updates {
		existing, ok := r.pools[addr]
		if !ok {
			continue
		}
		existing.Reserve0 = upd.Reserve0
		existing.Reserve1 = upd.Reserve1
		existing.UpdatedAtBlock = upd.UpdatedAtBlock
		applied++
	}
	return applied
}

// ApplySyncEvents folds a chronologically ordered list of pair Sync
// events into the registry: each known pool's reserves are overwritten
// by its latest event, unknown pools are dropped (they were either
// filtered out or belong to a factory the bot doesn't track). Returns
// the addresses of pools whose reserves actually changed.
func (r *Registry) ApplySyncEvents(events []types.SyncEvent) []common.Address {
	r.mu.Lock()
	defer r.mu.Unlock()

	changed := make(map[common.Address]bool)
	for _, e := range events {
		p, ok := r.pools[e.Pool]
		if !ok {
			continue
		}
		if p.Reserve0 != nil && p.Reserve0.Cmp(e.Reserve0) == 0 &&
			p.Reserve1 != nil && p.Reserve1.Cmp(e.Reserve1) == 0 {
			continue
		}
		p.Reserve0 = e.Reserve0
		p.Reserve1 = e.Reserve1
		p.UpdatedAtBlock = e.Block
		changed[e.Pool] = true
	}

	out := make([]common.Address, 0, len(changed))
	for addr := range changed {
		out = append(out, addr)
	}
	return out
}

// FilterByLiquidity returns the addresses of pools whose reserves (of
// whichever side is denominated in base, via reserveValue) fall below
// minLiquidity, so the caller can drop them from path enumeration.
//
// The excludeRecentPerFactory most-recently-created pools (by
// CreatedIndex) of each factory are always exempt: a brand new pool
// starts with no liquidity and would otherwise be immediately filtered
// out before it ever has a chance to fill up.
func (r *Registry) FilterByLiquidity(minLiquidity map[common.Address]uint64, reserveValue func(p *types.Pool) uint64, excludeRecentPerFactory int) []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()

	protected := make(map[common.Address]bool)
	if excludeRecentPerFactory > 0 {
		byFactory := make(map[common.Address][]*types.Pool)
		for _, p := range r.pools {
			byFactory[p.Factory] = append(byFactory[p.Factory], p)
		}
		for _, ps := range byFactory {
			sort.Slice(ps, func(i, j int) bool { return ps[i].CreatedIndex > ps[j].CreatedIndex })
			n := excludeRecentPerFactory
			if n > len(ps) {
				n = len(ps)
			}
			for i := 0; i < n; i++ {
				protected[ps[i].Address] = true
			}
		}
	}

	var thin []common.Address
	for addr, p := range r.pools {
		if protected[addr] {
			continue
		}
		min, ok := minLiquidity[addr]
		if !ok {
			continue
		}
		if reserveValue(p) < min {
			thin = append(thin, addr)
		}
	}
	return thin
}

// Remove drops pools (e.g. ones that failed the liquidity filter or
// went stale) from the tracked set.
func (r *Registry) Remove(addrs ...common.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range addrs {
		delete(r.pools, a)
	}
}

// Len returns the number of tracked pools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pools)
}

// FactoryCounts returns a snapshot of each factory's last-seen
// allPairsLength() baseline, for persistence across restarts.
func (r *Registry) FactoryCounts() map[common.Address]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[common.Address]uint64, len(r.factoryCounts))
	for k, v := range r.factoryCounts {
		out[k] = v
	}
	return out
}

// SetFactoryCounts restores factory baselines persisted from a prior
// run, so a restart resumes fetch_new_pools from where it left off
// instead of re-walking every factory's whole pool history.
func (r *Registry) SetFactoryCounts(counts map[common.Address]uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factoryCounts = make(map[common.Address]uint64, len(counts))
	for k, v := range counts {
		r.factoryCounts[k] = v
	}
}

// maxZeroAddressRetries bounds how many times FetchNewPools re-resolves
// a single index that came back as the zero address before giving up on
// it for this tick.
const maxZeroAddressRetries = 3

// FetchNewPools diffs each factory's current allPairsLength() against
// the count recorded at the end of the last successful call, resolves
// the newly created [old,new) index range in batched calls, and inserts
// zero-reserve Pool entries for everything that resolves cleanly.
//
// A batched AllPairsAt/Tokens/fee call that errors is halved and
// retried rather than failing the whole factory; an index that still
// resolves to the zero address after maxZeroAddressRetries is skipped.
// An AllPairsLength failure abandons the whole tick so the caller can
// retry on the next block rather than partially advance the baseline.
func (r *Registry) FetchNewPools(ctx context.Context, source PoolSource, factories []FactorySpec, maxBatchRetries int) (added int, err error) {
	for _, spec := range factories {
		n, fErr := r.fetchNewPoolsForFactory(ctx, source, spec, maxBatchRetries)
		if fErr != nil {
			return added, fErr
		}
		added += n
	}
	return added, nil
}

func (r *Registry) fetchNewPoolsForFactory(ctx context.Context, source PoolSource, spec FactorySpec, maxBatchRetries int) (added int, err error) {
	length, err := source.AllPairsLength(ctx, spec.Address)
	if err != nil {
		return 0, err
	}

	r.mu.RLock()
	old := r.factoryCounts[spec.Address]
	r.mu.RUnlock()
	if length <= old {
		return 0, nil
	}

	indices := make([]uint64, 0, length-old)
	for i := old; i < length; i++ {
		indices = append(indices, i)
	}

	addrs := resolveAllPairsAt(ctx, source, spec.Address, indices, maxBatchRetries)

	valid := make([]uint64, 0, len(indices))
	validAddrs := make([]common.Address, 0, len(indices))
	for i, addr := range addrs {
		if addr == (common.Address{}) {
			continue
		}
		valid = append(valid, indices[i])
		validAddrs = append(validAddrs, addr)
	}
	if len(validAddrs) == 0 {
		r.setFactoryCount(spec.Address, length)
		return 0, nil
	}

	tokens := batchResolveMap(ctx, validAddrs, maxBatchRetries, source.Tokens)
	fees := r.resolveFees(ctx, source, spec, validAddrs, maxBatchRetries)

	r.mu.Lock()
	for i, addr := range validAddrs {
		if _, exists := r.pools[addr]; exists {
			continue
		}
		pair, ok := tokens[addr]
		if !ok {
			continue
		}
		numerator, ok := fees[addr]
		if !ok {
			if spec.FeeKind == types.FeeFixed {
				numerator = spec.FixedFee
			} else {
				continue
			}
		}
		r.pools[addr] = &types.Pool{
			Address:      addr,
			Token0:       pair[0],
			Token1:       pair[1],
			Reserve0:     big.NewInt(0),
			Reserve1:     big.NewInt(0),
			Fee:          types.FeeSource{Kind: spec.FeeKind, Numerator: numerator, FactoryRef: spec.Address},
			Router:       spec.Router,
			Factory:      spec.Address,
			CreatedIndex: valid[i],
		}
		added++
	}
	r.mu.Unlock()

	r.setFactoryCount(spec.Address, length)
	return added, nil
}

func (r *Registry) resolveFees(ctx context.Context, source PoolSource, spec FactorySpec, pools []common.Address, maxBatchRetries int) map[common.Address]uint16 {
	switch spec.FeeKind {
	case types.FeeFromPool:
		return batchResolveMap(ctx, pools, maxBatchRetries, source.SwapFees)
	case types.FeeFromFactory:
		return batchResolveMap(ctx, pools, maxBatchRetries, func(ctx context.Context, batch []common.Address) (map[common.Address]uint16, error) {
			return source.FactoryPairFees(ctx, spec.Address, batch)
		})
	default:
		return nil
	}
}

func (r *Registry) setFactoryCount(factory common.Address, n uint64) {
	r.mu.Lock()
	r.factoryCounts[factory] = n
	r.mu.Unlock()
}

// RefreshAll re-fetches reserves (and, for dynamic-fee factories, the
// swap fee numerator) for every currently tracked pool in batched calls
// per factory, halving and retrying on a batch failure. blockNumber
// stamps every pool that's successfully refreshed.
func (r *Registry) RefreshAll(ctx context.Context, source PoolSource, factories []FactorySpec, blockNumber uint64, maxBatchRetries int) (updated int, err error) {
	specByFactory := make(map[common.Address]FactorySpec, len(factories))
	for _, spec := range factories {
		specByFactory[spec.Address] = spec
	}

	r.mu.RLock()
	byFactory := make(map[common.Address][]common.Address)
	for addr, p := range r.pools {
		byFactory[p.Factory] = append(byFactory[p.Factory], addr)
	}
	r.mu.RUnlock()

	for factory, pools := range byFactory {
		spec, ok := specByFactory[factory]
		if !ok {
			continue
		}
		reserves := batchResolveMap(ctx, pools, maxBatchRetries, source.Reserves)
		fees := r.resolveFees(ctx, source, spec, pools, maxBatchRetries)

		r.mu.Lock()
		for _, addr := range pools {
			p, ok := r.pools[addr]
			if !ok {
				continue
			}
			rr, ok := reserves[addr]
			if !ok {
				continue
			}
			p.Reserve0 = rr[0]
			p.Reserve1 = rr[1]
			p.UpdatedAtBlock = blockNumber
			if numerator, ok := fees[addr]; ok {
				p.Fee.Numerator = numerator
			}
			updated++
		}
		r.mu.Unlock()
	}
	return updated, nil
}

// resolveAllPairsAt resolves indices in one batched call, halving and
// retrying the batch on error. A single index that still errors after
// maxRetries resolves to the zero address (excluded by the caller).
func resolveAllPairsAt(ctx context.Context, source PoolSource, factory common.Address, indices []uint64, maxRetries int) []common.Address {
	if len(indices) == 0 {
		return nil
	}
	addrs, err := source.AllPairsAt(ctx, factory, indices)
	if err == nil {
		return addrs
	}
	if len(indices) == 1 {
		if maxRetries <= 0 {
			return []common.Address{{}}
		}
		return resolveAllPairsAt(ctx, source, factory, indices, maxRetries-1)
	}
	mid := len(indices) / 2
	left := resolveAllPairsAt(ctx, source, factory, indices[:mid], maxRetries)
	right := resolveAllPairsAt(ctx, source, factory, indices[mid:], maxRetries)
	return append(left, right...)
}

// batchResolveMap resolves addrs through call in one batch, halving and
// retrying on error. A single address that still errors after
// maxRetries is dropped from the result (a non-fatal skip).
func batchResolveMap[T any](ctx context.Context, addrs []common.Address, maxRetries int, call func(ctx context.Context, batch []common.Address) (map[common.Address]T, error)) map[common.Address]T {
	out := make(map[common.Address]T)
	var resolve func(batch []common.Address, retriesLeft int)
	resolve = func(batch []common.Address, retriesLeft int) {
		if len(batch) == 0 {
			return
		}
		res, err := call(ctx, batch)
		if err == nil {
			for k, v := range res {
				out[k] = v
			}
			return
		}
		if len(batch) == 1 {
			if retriesLeft <= 0 {
				return
			}
			resolve(batch, retriesLeft-1)
			return
		}
		mid := len(batch) / 2
		resolve(batch[:mid], retriesLeft)
		resolve(batch[mid:], retriesLeft)
	}
	resolve(addrs, maxRetries)
	return out
}
