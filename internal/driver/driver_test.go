package driver

import (
	"context"
	"encoding/binary"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"

	"github.com/MedTrebor/uniswapv2-arbitrage-bot/pkg/batchvalidator"
	"github.com/MedTrebor/uniswapv2-arbitrage-bot/pkg/rpcfabric"
	"github.com/MedTrebor/uniswapv2-arbitrage-bot/pkg/types"
)

func testTokens() (common.Address, common.Address) {
	return common.HexToAddress("0x0000000000000000000000000000000000000001"),
		common.HexToAddress("0x0000000000000000000000000000000000000002")
}

func newTestDriver(t *testing.T) *Driver {
	t.Helper()
	tokenA, tokenB := testTokens()
	poolAB := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	reserves := map[common.Address][2]*big.Int{
		poolAB: {big.NewInt(100_000_000), big.NewInt(50_000_000)},
	}

	reserveOf := func(h types.Hop) (*big.Int, *big.Int, uint16) {
		r := reserves[h.Pool]
		if h.Zero {
			return r[0], r[1], 25
		}
		return r[1], r[0], 25
	}
	feeOf := func(common.Address) uint16 { return 25 }

	fabric := rpcfabric.New([]*rpcfabric.Node{{URL: "a"}}, nil)

	cfg := Config{
		WorkerCount:          1,
		MaxHops:              3,
		BlacklistAfter:       3,
		MaxBurners:           2,
		BaseGas:              150_000,
		NetworkGasPrice:      3_000_000_000,
		TierMidMultiplier:    2,
		TierHighMultiplier:   5,
		LowMultiplier:        big.NewRat(3, 10),
		MidMultiplier:        big.NewRat(5, 10),
		HighMultiplier:       big.NewRat(7, 10),
		LowGasPriceThreshold: big.NewInt(5_000_000_000),
		MidGasPriceThreshold: big.NewInt(10_000_000_000),
		MinGasPrice:          big.NewInt(1),
		AcceptThreshold:      1,
		MaxGasPrice:          big.NewInt(20_000_000_000),
		NativeToken:          tokenA,
		MaxBatchRetries:      2,
		BatchSize:            10,
		StoreDir:             t.TempDir(),
	}

	d, err := New(cfg, fabric, nil, nil, reserveOf, feeOf)
	assert.NoError(t, err)

	_ = tokenA
	_ = tokenB
	return d
}

func TestLoadPoolsBuildsPathIndex(t *testing.T) {
	d := newTestDriver(t)
	tokenA, tokenB := testTokens()
	poolAB := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	pools := []*types.Pool{
		{Address: poolAB, Token0: tokenA, Token1: tokenB, Reserve0: big.NewInt(100_000_000), Reserve1: big.NewInt(50_000_000)},
	}
	d.LoadPools(pools)

	assert.Equal(t, 1, d.Registry.Len())
}

func TestScanPathReturnsNilWithoutArbitrageOpportunity(t *testing.T) {
	d := newTestDriver(t)
	tokenA, tokenB := testTokens()
	poolAB := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	path := &types.Path{Hops: []types.Hop{
		{Pool: poolAB, TokenIn: tokenA, TokenOut: tokenB, Zero: true},
		{Pool: poolAB, TokenIn: tokenB, TokenOut: tokenA, Zero: false},
	}}

	candidate := d.scanPath(path)
	assert.Nil(t, candidate)
}

func TestRecordOutcomeBlacklistsAfterThreshold(t *testing.T) {
	d := newTestDriver(t)
	key := "path-key"

	for i := 0; i < d.cfg.BlacklistAfter; i++ {
		d.RecordOutcome(key, batchvalidator.Record{Status: batchvalidator.StatusReverted})
	}

	assert.True(t, d.Blacklist.IsBlacklisted(key))
}

func TestRecordOutcomeSuccessWalksBackStrikes(t *testing.T) {
	d := newTestDriver(t)
	key := "path-key"

	d.RecordOutcome(key, batchvalidator.Record{Status: batchvalidator.StatusReverted})
	d.RecordOutcome(key, batchvalidator.Record{Status: batchvalidator.StatusSucceeded})

	assert.False(t, d.Blacklist.IsBlacklisted(key))
}

func TestWeiPriceForDefaultsToOneWithoutPricePoller(t *testing.T) {
	d := newTestDriver(t)
	tokenB := common.HexToAddress("0x0000000000000000000000000000000000000002")

	price := d.weiPriceFor(tokenB)
	assert.Equal(t, big.NewRat(1, 1), price)
}

func TestWeiPriceForIsOneForNativeToken(t *testing.T) {
	d := newTestDriver(t)
	price := d.weiPriceFor(d.cfg.NativeToken)
	assert.Equal(t, big.NewRat(1, 1), price)
}

func TestSyncBlockIsNoOpWithoutPoolSource(t *testing.T) {
	d := newTestDriver(t)
	err := d.syncBlock(context.Background(), 1)
	assert.NoError(t, err)
}

func TestPackBatchCalldataRoundTripsLengths(t *testing.T) {
	calls := [][]byte{{0x01, 0x02}, {}, {0x03}}
	packed := packBatchCalldata(calls)

	offset := 0
	for _, c := range calls {
		length := binary.BigEndian.Uint32(packed[offset : offset+4])
		assert.Equal(t, uint32(len(c)), length)
		offset += 4
		assert.Equal(t, c, packed[offset:offset+len(c)])
		offset += len(c)
	}
	assert.Len(t, packed, offset)
}

func TestPersistStateRoundTripsThroughStore(t *testing.T) {
	d := newTestDriver(t)
	tokenA, tokenB := testTokens()
	poolAB := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	d.LoadPools([]*types.Pool{
		{Address: poolAB, Token0: tokenA, Token1: tokenB, Reserve0: big.NewInt(1), Reserve1: big.NewInt(2)},
	})
	d.RecordOutcome("path-key", batchvalidator.Record{Status: batchvalidator.StatusReverted})

	assert.NoError(t, d.PersistState())

	d2, err := New(d.cfg, rpcfabric.New([]*rpcfabric.Node{{URL: "a"}}, nil), nil, nil, nil, nil)
	assert.NoError(t, err)
	assert.Equal(t, 1, d2.Registry.Len())
	assert.True(t, d2.Blacklist.State("path-key") == types.Pre)
}

func TestTakeBurnersPopsPairsOnlyInRefundMode(t *testing.T) {
	d := newTestDriver(t)
	b1 := common.HexToAddress("0x000000000000000000000000000000000000b001")
	b2 := common.HexToAddress("0x000000000000000000000000000000000000b002")
	b3 := common.HexToAddress("0x000000000000000000000000000000000000b003")
	d.Burners.Push(b1, b2, b3)

	// Refund mode off: pool untouched.
	assert.Nil(t, d.takeBurners())
	assert.Len(t, d.Burners.Available, 3)

	d.cfg.BurnersEnabled = true
	taken := d.takeBurners()
	assert.Equal(t, []common.Address{b1, b2}, taken)

	// One left isn't a pair.
	assert.Nil(t, d.takeBurners())

	d.returnBurners(taken)
	assert.Len(t, d.Burners.Available, 3)
}

func TestPersistStateRoundTripsCursorAndBurners(t *testing.T) {
	d := newTestDriver(t)
	d.setCursor(4_321)
	burner := common.HexToAddress("0x000000000000000000000000000000000000b001")
	d.Burners.Push(burner)

	assert.NoError(t, d.PersistState())

	d2, err := New(d.cfg, rpcfabric.New([]*rpcfabric.Node{{URL: "a"}}, nil), nil, nil, nil, nil)
	assert.NoError(t, err)
	assert.Equal(t, uint64(4_321), d2.Cursor())
	assert.Equal(t, []common.Address{burner}, d2.Burners.Available)
}

func TestAdvanceBlockFallsBackToFullRefreshOnFirstBlock(t *testing.T) {
	d := newTestDriver(t)

	// No cursor yet: the incremental path can't know where to start, so
	// the tick runs the full refresh (a no-op without a pool source) and
	// plants the cursor for the next block.
	assert.NoError(t, d.advanceBlock(context.Background(), 100))
	assert.Equal(t, uint64(100), d.Cursor())
}
