package registry

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"

	"github.com/MedTrebor/uniswapv2-arbitrage-bot/pkg/types"
)

func pool(addr string, r0, r1 int64) *types.Pool {
	return &types.Pool{
		Address:  common.HexToAddress(addr),
		Token0:   common.HexToAddress("0x0000000000000000000000000000000000000001"),
		Token1:   common.HexToAddress("0x0000000000000000000000000000000000000002"),
		Reserve0: big.NewInt(r0),
		Reserve1: big.NewInt(r1),
	}
}

func TestReplaceAllAndSnapshotIsolation(t *testing.T) {
	r := New()
	p := pool("0x00000000000000000000000000000000000a01", 100, 200)
	r.ReplaceAll([]*types.Pool{p})

	snap := r.Snapshot()
	assert.Len(t, snap, 1)

	// mutating the snapshot must not affect the registry's internal state.
	snap[0].Reserve0 = big.NewInt(999)
	got := r.Get(p.Address)
	assert.Equal(t, int64(100), got.Reserve0.Int64())
}

func TestFetchNewPoolsStaticSkipsExisting(t *testing.T) {
	r := New()
	p1 := pool("0x00000000000000000000000000000000000a01", 1, 1)
	r.ReplaceAll([]*types.Pool{p1})

	p2 := pool("0x00000000000000000000000000000000000a02", 2, 2)
	added := r.FetchNewPoolsStatic([]*types.Pool{p1, p2})
	assert.Equal(t, 1, added)
	assert.Equal(t, 2, r.Len())
}

func TestApplyEventsSkipsUntrackedPools(t *testing.T) {
	r := New()
	p1 := pool("0x00000000000000000000000000000000000a01", 1, 1)
	r.ReplaceAll([]*types.Pool{p1})

	untracked := pool("0x00000000000000000000000000000000000a02", 5, 5)
	updated := pool("0x00000000000000000000000000000000000a01", 50, 60)

	applied := r.ApplyEvents(map[common.Address]*types.Pool{
		p1.Address:        updated,
		untracked.Address: untracked,
	})
	assert.Equal(t, 1, applied)
	assert.Equal(t, int64(50), r.Get(p1.Address).Reserve0.Int64())
}

func TestFilterByLiquidityAndRemove(t *testing.T) {
	r := New()
	thin := pool("0x00000000000000000000000000000000000a01", 10, 10)
	healthy := pool("0x00000000000000000000000000000000000a02", 100_000, 100_000)
	r.ReplaceAll([]*types.Pool{thin, healthy})

	minLiquidity := map[common.Address]uint64{
		thin.Address:    1000,
		healthy.Address: 1000,
	}
	reserveValue := func(p *types.Pool) uint64 { return p.Reserve0.Uint64() }

	flagged := r.FilterByLiquidity(minLiquidity, reserveValue, 0)
	assert.Equal(t, []common.Address{thin.Address}, flagged)

	r.Remove(flagged...)
	assert.Equal(t, 1, r.Len())
}

func TestFilterByLiquidityProtectsRecentlyCreatedPools(t *testing.T) {
	r := New()
	factory := common.HexToAddress("0x00000000000000000000000000000000000f01")

	old := pool("0x00000000000000000000000000000000000a01", 5, 5)
	old.Factory = factory
	old.CreatedIndex = 1

	fresh := pool("0x00000000000000000000000000000000000a02", 5, 5)
	fresh.Factory = factory
	fresh.CreatedIndex = 2

	r.ReplaceAll([]*types.Pool{old, fresh})

	minLiquidity := map[common.Address]uint64{
		old.Address:   1000,
		fresh.Address: 1000,
	}
	reserveValue := func(p *types.Pool) uint64 { return p.Reserve0.Uint64() }

	// excludeRecentPerFactory=1 protects only the most recently created
	// pool (fresh, CreatedIndex=2) even though it's just as thin as old.
	flagged := r.FilterByLiquidity(minLiquidity, reserveValue, 1)
	assert.Equal(t, []common.Address{old.Address}, flagged)
}

// fakePoolSource is an in-memory PoolSource stub for exercising
// FetchNewPools/RefreshAll's batching and diffing logic without a live
// chain.
type fakePoolSource struct {
	lengths map[common.Address]uint64
	addrAt  map[common.Address]map[uint64]common.Address
	tokens  map[common.Address][2]common.Address
	reserve map[common.Address][2]*big.Int
	fees    map[common.Address]uint16

	failAllPairsAtIndex map[uint64]bool
}

func (f *fakePoolSource) AllPairsLength(ctx context.Context, factory common.Address) (uint64, error) {
	return f.lengths[factory], nil
}

func (f *fakePoolSource) AllPairsAt(ctx context.Context, factory common.Address, indices []uint64) ([]common.Address, error) {
	for _, i := range indices {
		if f.failAllPairsAtIndex[i] {
			return nil, assert.AnError
		}
	}
	out := make([]common.Address, len(indices))
	for i, idx := range indices {
		out[i] = f.addrAt[factory][idx]
	}
	return out, nil
}

func (f *fakePoolSource) Tokens(ctx context.Context, pools []common.Address) (map[common.Address][2]common.Address, error) {
	out := make(map[common.Address][2]common.Address, len(pools))
	for _, p := range pools {
		out[p] = f.tokens[p]
	}
	return out, nil
}

func (f *fakePoolSource) Reserves(ctx context.Context, pools []common.Address) (map[common.Address][2]*big.Int, error) {
	out := make(map[common.Address][2]*big.Int, len(pools))
	for _, p := range pools {
		out[p] = f.reserve[p]
	}
	return out, nil
}

func (f *fakePoolSource) SwapFees(ctx context.Context, pools []common.Address) (map[common.Address]uint16, error) {
	out := make(map[common.Address]uint16, len(pools))
	for _, p := range pools {
		out[p] = f.fees[p]
	}
	return out, nil
}

func (f *fakePoolSource) FactoryPairFees(ctx context.Context, factory common.Address, pools []common.Address) (map[common.Address]uint16, error) {
	out := make(map[common.Address]uint16, len(pools))
	for _, p := range pools {
		out[p] = f.fees[p]
	}
	return out, nil
}

func TestFetchNewPoolsDiffsAgainstFactoryBaseline(t *testing.T) {
	factory := common.HexToAddress("0x00000000000000000000000000000000000f01")
	p0 := common.HexToAddress("0x00000000000000000000000000000000000a01")
	p1 := common.HexToAddress("0x00000000000000000000000000000000000a02")
	t0 := common.HexToAddress("0x0000000000000000000000000000000000aaaa")
	t1 := common.HexToAddress("0x0000000000000000000000000000000000bbbb")

	src := &fakePoolSource{
		lengths: map[common.Address]uint64{factory: 2},
		addrAt: map[common.Address]map[uint64]common.Address{
			factory: {0: p0, 1: p1},
		},
		tokens: map[common.Address][2]common.Address{
			p0: {t0, t1},
			p1: {t0, t1},
		},
	}

	r := New()
	spec := FactorySpec{Address: factory, FeeKind: types.FeeFixed, FixedFee: 9970}

	added, err := r.FetchNewPools(context.Background(), src, []FactorySpec{spec}, 1)
	assert.NoError(t, err)
	assert.Equal(t, 2, added)
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, uint64(1), r.Get(p1).CreatedIndex)

	// a second pass with a higher length finds only the newly appended pool.
	src.lengths[factory] = 3
	p2 := common.HexToAddress("0x00000000000000000000000000000000000a03")
	src.addrAt[factory][2] = p2
	src.tokens[p2] = [2]common.Address{t0, t1}

	added, err = r.FetchNewPools(context.Background(), src, []FactorySpec{spec}, 1)
	assert.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.Equal(t, 3, r.Len())
}

func TestFetchNewPoolsExcludesUnresolvableIndexAfterRetries(t *testing.T) {
	factory := common.HexToAddress("0x00000000000000000000000000000000000f01")
	p0 := common.HexToAddress("0x00000000000000000000000000000000000a01")
	t0 := common.HexToAddress("0x0000000000000000000000000000000000aaaa")
	t1 := common.HexToAddress("0x0000000000000000000000000000000000bbbb")

	src := &fakePoolSource{
		lengths:             map[common.Address]uint64{factory: 2},
		addrAt:              map[common.Address]map[uint64]common.Address{factory: {0: p0}},
		tokens:              map[common.Address][2]common.Address{p0: {t0, t1}},
		failAllPairsAtIndex: map[uint64]bool{1: true},
	}

	r := New()
	spec := FactorySpec{Address: factory, FeeKind: types.FeeFixed, FixedFee: 9970}

	added, err := r.FetchNewPools(context.Background(), src, []FactorySpec{spec}, 2)
	assert.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.Equal(t, 1, r.Len())
}

func TestRefreshAllUpdatesReservesAndFees(t *testing.T) {
	factory := common.HexToAddress("0x00000000000000000000000000000000000f01")
	p0 := pool("0x00000000000000000000000000000000000a01", 1, 1)
	p0.Factory = factory
	p0.Fee = types.FeeSource{Kind: types.FeeFromPool}

	r := New()
	r.ReplaceAll([]*types.Pool{p0})

	src := &fakePoolSource{
		reserve: map[common.Address][2]*big.Int{p0.Address: {big.NewInt(500), big.NewInt(600)}},
		fees:    map[common.Address]uint16{p0.Address: 9975},
	}
	spec := FactorySpec{Address: factory, FeeKind: types.FeeFromPool}

	updated, err := r.RefreshAll(context.Background(), src, []FactorySpec{spec}, 42, 1)
	assert.NoError(t, err)
	assert.Equal(t, 1, updated)

	got := r.Get(p0.Address)
	assert.Equal(t, int64(500), got.Reserve0.Int64())
	assert.Equal(t, int64(600), got.Reserve1.Int64())
	assert.Equal(t, uint64(42), got.UpdatedAtBlock)
	assert.Equal(t, uint16(9975), got.Fee.Numerator)
}

func TestFactoryCountsSnapshotAndRestore(t *testing.T) {
	r := New()
	factory := common.HexToAddress("0x00000000000000000000000000000000000f01")
	r.SetFactoryCounts(map[common.Address]uint64{factory: 7})

	got := r.FactoryCounts()
	assert.Equal(t, uint64(7), got[factory])

	r2 := New()
	r2.SetFactoryCounts(got)
	assert.Equal(t, uint64(7), r2.FactoryCounts()[factory])
}

func TestApplySyncEventsReturnsChangedPools(t *testing.T) {
	r := New()
	tracked := pool("0x00000000000000000000000000000000000a01", 100, 200)
	r.ReplaceAll([]*types.Pool{tracked})

	changed := r.ApplySyncEvents([]types.SyncEvent{
		// Unknown pool: dropped.
		{Pool: common.HexToAddress("0x00000000000000000000000000000000000a09"), Reserve0: big.NewInt(1), Reserve1: big.NewInt(2), Block: 10},
		// Tracked pool, stale intermediate state then the final one: the
		// last event wins and the pool counts as changed once.
		{Pool: tracked.Address, Reserve0: big.NewInt(150), Reserve1: big.NewInt(180), Block: 10},
		{Pool: tracked.Address, Reserve0: big.NewInt(160), Reserve1: big.NewInt(170), Block: 10},
	})

	assert.Equal(t, []common.Address{tracked.Address}, changed)
	got := r.Get(tracked.Address)
	assert.Equal(t, int64(160), got.Reserve0.Int64())
	assert.Equal(t, int64(170), got.Reserve1.Int64())
	assert.Equal(t, uint64(10), got.UpdatedAtBlock)
}

func TestApplySyncEventsSkipsNoOpUpdates(t *testing.T) {
	r := New()
	tracked := pool("0x00000000000000000000000000000000000a01", 100, 200)
	r.ReplaceAll([]*types.Pool{tracked})

	changed := r.ApplySyncEvents([]types.SyncEvent{
		{Pool: tracked.Address, Reserve0: big.NewInt(100), Reserve1: big.NewInt(200), Block: 11},
	})
	assert.Empty(t, changed)
}
