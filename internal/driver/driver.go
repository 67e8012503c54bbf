// Package driver wires the whole arbitrage pipeline together: pool
// registry, path graph, profitability scan, blacklist, filter stage,
// batch validation and submission, run from a fixed-size worker pool
// against a pool of RPC endpoints. It replaces a single God-object
// strategy runner with a set of composable stages the orchestrator
// just schedules.
package driver

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/MedTrebor/uniswapv2-arbitrage-bot/internal/store"
	"github.com/MedTrebor/uniswapv2-arbitrage-bot/internal/uptime"
	"github.com/MedTrebor/uniswapv2-arbitrage-bot/pkg/batchvalidator"
	"github.com/MedTrebor/uniswapv2-arbitrage-bot/pkg/blacklist"
	"github.com/MedTrebor/uniswapv2-arbitrage-bot/pkg/codec"
	"github.com/MedTrebor/uniswapv2-arbitrage-bot/pkg/concurrency"
	"github.com/MedTrebor/uniswapv2-arbitrage-bot/pkg/contractclient"
	"github.com/MedTrebor/uniswapv2-arbitrage-bot/pkg/filterstage"
	"github.com/MedTrebor/uniswapv2-arbitrage-bot/pkg/pathgraph"
	"github.com/MedTrebor/uniswapv2-arbitrage-bot/pkg/priceposter"
	"github.com/MedTrebor/uniswapv2-arbitrage-bot/pkg/profitability"
	"github.com/MedTrebor/uniswapv2-arbitrage-bot/pkg/registry"
	"github.com/MedTrebor/uniswapv2-arbitrage-bot/pkg/rpcfabric"
	"github.com/MedTrebor/uniswapv2-arbitrage-bot/pkg/submission"
	"github.com/MedTrebor/uniswapv2-arbitrage-bot/pkg/txlistener"
	"github.com/MedTrebor/uniswapv2-arbitrage-bot/pkg/types"
	"github.com/MedTrebor/uniswapv2-arbitrage-bot/pkg/util"
)

// Config holds everything needed to assemble a Driver.
type Config struct {
	WorkerCount     int
	MaxHops         int
	BlacklistAfter  int
	MaxBurners      int
	BaseGas         uint64
	NetworkGasPrice int64

	// TierMidMultiplier/TierHighMultiplier classify a chosen gas price
	// against NetworkGasPrice (ClassifyGasPrice), purely for
	// observability via OnSubmit — they don't feed into the bid itself.
	TierMidMultiplier  int64
	TierHighMultiplier int64

	// LowMultiplier/MidMultiplier/HighMultiplier and the two thresholds
	// that gate escalating between them drive
	// profitability.OptimalGasPrice, the actual bid computation.
	LowMultiplier        *big.Rat
	MidMultiplier        *big.Rat
	HighMultiplier       *big.Rat
	LowGasPriceThreshold *big.Int
	MidGasPriceThreshold *big.Int
	MinGasPrice          *big.Int
	MaxGasPrice          *big.Int

	// AcceptThreshold is the estimation quorum's confirms count;
	// FinalTxDeadline bounds how long after a block is observed a
	// submission may still be accepted (0 disables the gate).
	AcceptThreshold int
	FinalTxDeadline time.Duration

	// MinProfit is the native-denominated floor a candidate's net profit
	// must clear after the envelope is priced (0/nil disables it).
	MinProfit *big.Int

	// LogRetentionBlocks is how far behind the head the Sync-log cursor
	// may fall before the incremental path degrades to a full refresh
	// (matching the chain nodes' log-retention window).
	LogRetentionBlocks uint64

	// BurnersEnabled turns on gas-refund mode: two burner addresses are
	// consumed per submitted arbitrage when the pool holds them, and the
	// calldata carries the burner flag otherwise.
	BurnersEnabled bool

	// ReceiptTimeout bounds how long the receipt watcher waits for each
	// broadcast transaction to mine.
	ReceiptTimeout time.Duration

	// SourceTokens are the tokens path enumeration starts cycles from;
	// empty means every token in the registry. Weths lists the chain's
	// wrapped-native tokens, pooled together so a weth-started path may
	// terminate at any of them.
	SourceTokens []common.Address
	Weths        []common.Address

	RefreshInterval time.Duration
	UptimeInterval  time.Duration
	PersistInterval time.Duration

	// NativeToken is the chain's wrapped-native token address, used both
	// as the liquidity filter's reference side and as weiPrice's
	// denominator when a candidate's base token isn't native itself.
	NativeToken common.Address

	// Factories lists every UniswapV2-style factory fetch_new_pools and
	// refresh_all track pools for.
	Factories               []registry.FactorySpec
	MaxBatchRetries         int
	ExcludeRecentPerFactory int
	MinPoolLiquidity        uint64

	// BatchCheckerRouter is the on-chain batch-checker contract address
	// validateCandidates calls; BatchSize caps how many candidates go into a
	// single checker call before ChunkBySize splits them.
	BatchCheckerRouter common.Address
	BatchSize          int

	StoreDir string
}

// ReserveFunc resolves a hop's live reserves and fee numerator, backed
// by the registry's current snapshot.
type ReserveFunc func(h types.Hop) (*big.Int, *big.Int, uint16)

// Driver owns every long-lived pipeline stage and runs the scan loop.
type Driver struct {
	cfg Config

	Registry   *registry.Registry
	PathIndex  *types.PathIndex
	Blacklist  *blacklist.Blacklist
	Claims     *filterstage.ClaimTracker
	PriceFeed  *filterstage.MaxGasPriceFilter
	Pool       *concurrency.Pool
	Fabric     *rpcfabric.Fabric
	PoolSource registry.PoolSource
	Prices     *priceposter.Poller
	Submit     *submission.Pipeline
	Store      *store.Store
	Uptime     *uptime.Tracker
	GasLimits  util.GasLimitTable

	// Listener, if set, watches each broadcast transaction to its
	// receipt and feeds the router/gas-limit error tallies.
	Listener txlistener.TxListener

	// Burners is the FIFO of pre-created burner contracts consumed
	// two-at-a-time per arbitrage when cfg.BurnersEnabled, guarded by
	// burnersMu since rejected submissions return theirs from the
	// driver's goroutine while persistence snapshots concurrently.
	Burners   types.BurnerPool
	burnersMu sync.Mutex

	// RouterStats/GasErrors tally per-router receipt outcomes and
	// out-of-gas reverts per path length, guarded by statsMu because the
	// receipt watcher goroutines write them.
	RouterStats *types.RouterStats
	GasErrors   *types.GasLimitErrorStats
	statsMu     sync.Mutex

	// cursor is the highest block whose Sync events are folded into the
	// registry, guarded by cursorMu because the persistence goroutine
	// reads it; tickDeadline is when the current block's submissions
	// stop being accepted (driver goroutine only).
	cursor       types.BlockCursor
	cursorMu     sync.Mutex
	tickDeadline time.Time

	// TxStats is the running submission tally, guarded by txStatsMu since
	// the receipt watcher goroutines update it while
	// PersistState and any reporting surface read it concurrently.
	TxStats   types.TxStats
	txStatsMu sync.Mutex

	// OnError receives every non-fatal error the scan/submit loop hits
	// (a failed block sync, a rejected broadcast). Driver itself never
	// imports "log" — only cmd/main.go does — so this is how it reports.
	OnError func(error)
	// OnSubmit, if set, is called with each submitted candidate's
	// escalation tier right after BuildEnvelope prices it, the
	// observability hook ClassifyGasPrice's verdict feeds.
	OnSubmit func(*types.ArbitrageCandidate, profitability.GasPriceTier)

	// receiptOutcomes carries mined-transaction results from the receipt
	// watcher goroutines back to the driver goroutine, which owns the
	// blacklist/path-index transition.
	receiptOutcomes chan pathOutcome

	reserveOf ReserveFunc
	feeOf     func(common.Address) uint16
}

// pathOutcome is one mined transaction's verdict on its path.
type pathOutcome struct {
	pathKey   string
	succeeded bool
}

// DefaultReserveOf builds a ReserveFunc backed by reg: it looks up the
// hop's pool and returns its reserves oriented by h.Zero, plus the
// pool's fee numerator (0 if the pool's fee must be resolved
// externally — callers relying on dynamic fees should supply their own
// ReserveFunc instead).
func DefaultReserveOf(reg *registry.Registry) ReserveFunc {
	return func(h types.Hop) (*big.Int, *big.Int, uint16) {
		pool := reg.Get(h.Pool)
		if pool == nil {
			return big.NewInt(0), big.NewInt(0), 0
		}
		fee, _ := pool.FeeNumerator()
		if h.Zero {
			return pool.Reserve0, pool.Reserve1, fee
		}
		return pool.Reserve1, pool.Reserve0, fee
	}
}

// DefaultFeeOf builds a fee resolver backed by reg, for use with
// pkg/codec.HopsFromPath.
func DefaultFeeOf(reg *registry.Registry) func(common.Address) uint16 {
	return func(pool common.Address) uint16 {
		p := reg.Get(pool)
		if p == nil {
			return 0
		}
		fee, _ := p.FeeNumerator()
		return fee
	}
}

// New builds a Driver from cfg and an already-dialed RPC fabric, loads
// any persisted state from cfg.StoreDir, but does not start any
// background goroutines (call Run/RunPersistence for that). poolSource
// may be nil if the caller only ever seeds pools statically (tests);
// reserveOf and feeOf may be nil, in which case they default to reading
// straight from the Driver's own registry.
func New(cfg Config, fabric *rpcfabric.Fabric, client contractclient.ContractClient, poolSource registry.PoolSource, reserveOf ReserveFunc, feeOf func(common.Address) uint16) (*Driver, error) {
	s, err := store.New(cfg.StoreDir)
	if err != nil {
		return nil, fmt.Errorf("driver: init store: %w", err)
	}

	reg := registry.New()
	pathIndex := types.NewPathIndex()

	if reserveOf == nil {
		reserveOf = DefaultReserveOf(reg)
	}
	if feeOf == nil {
		feeOf = DefaultFeeOf(reg)
	}

	var executor common.Address
	if client != nil {
		executor = client.ContractAddress()
	}

	d := &Driver{
		cfg:         cfg,
		Registry:    reg,
		PathIndex:   pathIndex,
		Blacklist:   blacklist.New(cfg.BlacklistAfter),
		Claims:      filterstage.NewClaimTracker(),
		PriceFeed:   &filterstage.MaxGasPriceFilter{Ceiling: cfg.MaxGasPrice},
		Fabric:      fabric,
		PoolSource:  poolSource,
		Submit:      &submission.Pipeline{Fabric: fabric, Client: client, TxKind: types.DynamicFee, To: executor},
		Store:       s,
		GasLimits:   util.DefaultGasLimitTable(),
		RouterStats: types.NewRouterStats(),
		GasErrors:   &types.GasLimitErrorStats{ByHopCount: make(map[int]int64)},

		receiptOutcomes: make(chan pathOutcome, 64),

		reserveOf: reserveOf,
		feeOf:     feeOf,
	}

	d.Uptime = uptime.NewTracker(s, time.Now())
	d.Pool = concurrency.NewPool(cfg.WorkerCount, nil, d.scanPath)

	d.loadState()
	return d, nil
}

// loadState seeds the registry, blacklist and tx stats from whatever
// was last persisted by PersistState, so a restart resumes roughly
// where the previous process left off instead of cold-starting every
// factory's full pool history.
func (d *Driver) loadState() {
	var pools []*types.Pool
	_ = d.Store.Load("pools", &pools)
	if len(pools) > 0 {
		d.Registry.ReplaceAll(pools)
	}

	var factoryCounts map[common.Address]uint64
	_ = d.Store.Load("factory_counts", &factoryCounts)
	if len(factoryCounts) > 0 {
		d.Registry.SetFactoryCounts(factoryCounts)
	}

	var entries map[string]types.BlacklistEntry
	_ = d.Store.Load("blacklist", &entries)
	if len(entries) > 0 {
		d.Blacklist.LoadEntries(entries)
	}

	var stats types.TxStats
	_ = d.Store.Load("tx_stats", &stats)
	d.TxStats = stats

	var lastBlock uint64
	_ = d.Store.Load("last_block", &lastBlock)
	d.setCursor(lastBlock)

	var burners []common.Address
	_ = d.Store.Load("burners", &burners)
	d.Burners.Push(burners...)

	var routerStats types.RouterStats
	if err := d.Store.Load("router_stats", &routerStats); err == nil && routerStats.Success != nil {
		d.RouterStats = &routerStats
	}
	var gasErrors types.GasLimitErrorStats
	if err := d.Store.Load("gas_limit_errors", &gasErrors); err == nil && gasErrors.ByHopCount != nil {
		d.GasErrors = &gasErrors
	}

	d.rebuildPaths()
}

// PersistState writes the current pool set, factory discovery
// baselines, blacklist entries and tx stats to the store.
func (d *Driver) PersistState() error {
	if err := d.Store.Save("pools", d.Registry.Snapshot()); err != nil {
		return fmt.Errorf("driver: persist pools: %w", err)
	}
	if err := d.Store.Save("factory_counts", d.Registry.FactoryCounts()); err != nil {
		return fmt.Errorf("driver: persist factory counts: %w", err)
	}
	if err := d.Store.Save("blacklist", d.Blacklist.Entries()); err != nil {
		return fmt.Errorf("driver: persist blacklist: %w", err)
	}

	d.txStatsMu.Lock()
	d.TxStats.UptimeSeconds = d.Uptime.Seconds(time.Now())
	stats := d.TxStats
	d.txStatsMu.Unlock()
	if err := d.Store.Save("tx_stats", stats); err != nil {
		return fmt.Errorf("driver: persist tx stats: %w", err)
	}

	if err := d.Store.Save("last_block", d.Cursor()); err != nil {
		return fmt.Errorf("driver: persist last block: %w", err)
	}

	d.burnersMu.Lock()
	burners := append([]common.Address{}, d.Burners.Available...)
	d.burnersMu.Unlock()
	if err := d.Store.Save("burners", burners); err != nil {
		return fmt.Errorf("driver: persist burners: %w", err)
	}

	d.statsMu.Lock()
	routerStats := types.RouterStats{
		Success: make(map[common.Address]int64, len(d.RouterStats.Success)),
		Error:   make(map[common.Address]int64, len(d.RouterStats.Error)),
	}
	for k, v := range d.RouterStats.Success {
		routerStats.Success[k] = v
	}
	for k, v := range d.RouterStats.Error {
		routerStats.Error[k] = v
	}
	gasErrors := types.GasLimitErrorStats{ByHopCount: make(map[int]int64, len(d.GasErrors.ByHopCount))}
	for k, v := range d.GasErrors.ByHopCount {
		gasErrors.ByHopCount[k] = v
	}
	d.statsMu.Unlock()
	if err := d.Store.Save("router_stats", routerStats); err != nil {
		return fmt.Errorf("driver: persist router stats: %w", err)
	}
	if err := d.Store.Save("gas_limit_errors", gasErrors); err != nil {
		return fmt.Errorf("driver: persist gas limit errors: %w", err)
	}
	return nil
}

// RunPersistence persists state on every tick of interval until ctx is
// done, then does one final persist before returning — the same
// ticker-then-final-flush shape as internal/uptime.Tracker.Run.
func (d *Driver) RunPersistence(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return d.PersistState()
		case <-ticker.C:
			if err := d.PersistState(); err != nil {
				return err
			}
		}
	}
}

// setCursor/Cursor guard the block cursor against the persistence
// goroutine's concurrent reads.
func (d *Driver) setCursor(block uint64) {
	d.cursorMu.Lock()
	d.cursor.Number = block
	d.cursorMu.Unlock()
}

func (d *Driver) Cursor() uint64 {
	d.cursorMu.Lock()
	defer d.cursorMu.Unlock()
	return d.cursor.Number
}

// rebuildPaths re-enumerates every path over the registry's current
// pool snapshot and broadcasts the fresh path set to every worker.
// Enumeration starts from cfg.SourceTokens when configured (every
// registry token otherwise), pooling cfg.Weths together so any wrapped
// native may terminate a weth-started cycle. Already-blacklisted paths
// never enter the working set.
func (d *Driver) rebuildPaths() {
	pools := d.Registry.Snapshot()
	graph := pathgraph.BuildGraph(pools)

	weths := make(map[common.Address]bool, len(d.cfg.Weths))
	for _, w := range d.cfg.Weths {
		weths[w] = true
	}

	sources := d.cfg.SourceTokens
	if len(sources) == 0 {
		seen := make(map[common.Address]bool)
		for _, p := range pools {
			for _, t := range []common.Address{p.Token0, p.Token1} {
				if !seen[t] {
					seen[t] = true
					sources = append(sources, t)
				}
			}
		}
	}

	var allPaths []*types.Path
	for _, base := range sources {
		for _, p := range pathgraph.EnumeratePathsFrom(graph, base, d.cfg.MaxHops, weths) {
			if d.Blacklist.IsBlacklisted(p.Key()) {
				continue
			}
			allPaths = append(allPaths, p)
		}
	}

	d.PathIndex = pathgraph.IndexByPool(allPaths)
	d.Pool.Broadcast(concurrency.Broadcast{Kind: concurrency.ReplacePaths, Paths: allPaths})
}

// LoadPools replaces the registry's pool set wholesale and rebuilds the
// path graph from it, for boot-time seeding and tests.
func (d *Driver) LoadPools(pools []*types.Pool) {
	d.Registry.ReplaceAll(pools)
	d.rebuildPaths()
}

// reserveValueFn returns a FilterByLiquidity reserveValue callback that
// reads the native-token side of a pool's reserves, falling back to
// Reserve0 as a liquidity proxy for pools that don't touch native at all.
func reserveValueFn(native common.Address) func(p *types.Pool) uint64 {
	return func(p *types.Pool) uint64 {
		switch native {
		case p.Token0:
			return p.Reserve0.Uint64()
		case p.Token1:
			return p.Reserve1.Uint64()
		default:
			return p.Reserve0.Uint64()
		}
	}
}

// weiPriceFor converts a wei of native gas into baseToken's own units,
// the factor profitability.OptimalGasPrice needs to compare a
// native-denominated gas cost against a candidate's base-denominated
// profit. d.Prices quotes each token as native-per-base (see
// PriceFetcher), so converting the other way is a simple inverse.
// weiPriceFor falls back to 1:1 (exact when baseToken is itself native)
// whenever the price poller hasn't resolved the token.
func (d *Driver) weiPriceFor(baseToken common.Address) *big.Rat {
	one := big.NewRat(1, 1)
	if d.Prices == nil || baseToken == d.cfg.NativeToken {
		return one
	}

	nativePerBase, ok := d.Prices.Price(baseToken)
	if !ok || nativePerBase <= 0 {
		return one
	}
	rate := new(big.Rat).SetFloat64(nativePerBase)
	if rate == nil || rate.Sign() == 0 {
		return one
	}
	return new(big.Rat).Inv(rate)
}

// PriceFetcher builds a priceposter.Fetcher that prices each requested
// token as native-per-base, read off whichever registry pool pairing it
// with NativeToken currently holds the deepest native-side reserve. It
// needs no external oracle: the registry already tracks the reserves a
// quote like this is based on.
func (d *Driver) PriceFetcher() priceposter.Fetcher {
	return func(ctx context.Context, tokens []common.Address) (map[common.Address]float64, error) {
		pools := d.Registry.Snapshot()
		out := make(map[common.Address]float64, len(tokens))

		for _, token := range tokens {
			if token == d.cfg.NativeToken {
				out[token] = 1
				continue
			}

			var bestNative, bestBase *big.Int
			for _, p := range pools {
				var base, native *big.Int
				switch {
				case p.Token0 == token && p.Token1 == d.cfg.NativeToken:
					base, native = p.Reserve0, p.Reserve1
				case p.Token1 == token && p.Token0 == d.cfg.NativeToken:
					base, native = p.Reserve1, p.Reserve0
				default:
					continue
				}
				if base == nil || base.Sign() == 0 {
					continue
				}
				if bestNative == nil || native.Cmp(bestNative) > 0 {
					bestNative, bestBase = native, base
				}
			}

			if bestNative == nil {
				continue
			}
			price, _ := new(big.Rat).SetFrac(bestNative, bestBase).Float64()
			out[token] = price
		}
		return out, nil
	}
}

// syncBlock advances the registry to block: discovers newly created
// pools per configured factory, refreshes every tracked pool's reserves
// and fee, drops anything that's fallen below the liquidity floor
// (short of each factory's excluded tail), and rebuilds the path graph
// from the result.
func (d *Driver) syncBlock(ctx context.Context, block uint64) error {
	if d.PoolSource == nil || len(d.cfg.Factories) == 0 {
		return nil
	}

	if _, err := d.Registry.FetchNewPools(ctx, d.PoolSource, d.cfg.Factories, d.cfg.MaxBatchRetries); err != nil {
		return fmt.Errorf("fetch new pools: %w", err)
	}
	if _, err := d.Registry.RefreshAll(ctx, d.PoolSource, d.cfg.Factories, block, d.cfg.MaxBatchRetries); err != nil {
		return fmt.Errorf("refresh all: %w", err)
	}

	if d.cfg.MinPoolLiquidity > 0 {
		pools := d.Registry.Snapshot()
		minLiquidity := make(map[common.Address]uint64, len(pools))
		for _, p := range pools {
			minLiquidity[p.Address] = d.cfg.MinPoolLiquidity
		}
		thin := d.Registry.FilterByLiquidity(minLiquidity, reserveValueFn(d.cfg.NativeToken), d.cfg.ExcludeRecentPerFactory)
		d.Registry.Remove(thin...)
	}

	d.rebuildPaths()
	return nil
}

// advanceBlock folds one observed block into the registry and hands the
// affected paths to the workers. The cheap path pulls the Sync events
// since the cursor and re-scans only the paths touching pools whose
// reserves moved; it degrades to syncBlock's full on-chain refresh when
// the cursor has fallen outside the node's log-retention window, when a
// factory grew (new pools change the path graph itself), or on the very
// first block after boot. Any error abandons this tick with the cursor
// unadvanced, so the next block retries the same interval.
func (d *Driver) advanceBlock(ctx context.Context, block uint64) error {
	d.tickDeadline = time.Time{}
	if d.cfg.FinalTxDeadline > 0 {
		d.tickDeadline = time.Now().Add(d.cfg.FinalTxDeadline)
	}

	cursor := d.Cursor()
	tooFarBehind := cursor == 0 || block < cursor ||
		(d.cfg.LogRetentionBlocks > 0 && block-cursor > d.cfg.LogRetentionBlocks)

	grown := false
	if !tooFarBehind && d.PoolSource != nil && len(d.cfg.Factories) > 0 {
		added, err := d.Registry.FetchNewPools(ctx, d.PoolSource, d.cfg.Factories, d.cfg.MaxBatchRetries)
		if err != nil {
			return fmt.Errorf("fetch new pools: %w", err)
		}
		grown = added > 0
	}

	if tooFarBehind || grown {
		if err := d.syncBlock(ctx, block); err != nil {
			return err
		}
		d.setCursor(block)
		return nil
	}

	events, err := d.Fabric.SyncLogs(ctx, cursor+1, block)
	if err != nil {
		return fmt.Errorf("pull sync logs: %w", err)
	}
	changed := d.Registry.ApplySyncEvents(events)
	d.setCursor(block)
	if len(changed) == 0 {
		return nil
	}

	delta := make([]*types.Pool, 0, len(changed))
	for _, addr := range changed {
		if p := d.Registry.Get(addr); p != nil {
			delta = append(delta, p)
		}
	}
	d.Pool.Broadcast(concurrency.Broadcast{Kind: concurrency.UpdatePools, Pools: delta})
	d.Pool.Dispatch(pathgraph.PathsTouching(d.PathIndex, changed))
	return nil
}

// scanPath is the per-worker evaluation function: reduce the path to
// virtual reserves, find the closed-form optimal input, refine it
// locally against exact integer simulation, and return a candidate iff
// profit remains positive after the refinement pass.
func (d *Driver) scanPath(path *types.Path) *types.ArbitrageCandidate {
	vr := profitability.Reduce(path, d.reserveOf)
	optimalIn := vr.OptimalInput()
	if optimalIn == nil || optimalIn.Sign() <= 0 {
		return nil
	}

	// One scale-down retry against the uint112 packing before refining;
	// a path that still overflows can't execute on-chain at any useful size.
	optimalIn, _, err := profitability.ForwardSimulateWithRetry(path, optimalIn, 1, d.reserveOf)
	if err != nil {
		return nil
	}

	// Each refinement step nudges the input by 1% of the analytic
	// optimum, so the 29-step scan covers at most a 1.29x band.
	stepSize := new(big.Int).Div(optimalIn, big.NewInt(100))
	if stepSize.Sign() == 0 {
		stepSize = big.NewInt(1)
	}

	bestIn, bestOut, bestProfit := profitability.RefineLocal(path, d.reserveOf, optimalIn, stepSize)
	if bestProfit == nil || bestProfit.Sign() <= 0 {
		return nil
	}

	return &types.ArbitrageCandidate{
		Path:         path,
		AmountIn:     bestIn,
		AmountOut:    bestOut,
		Profit:       bestProfit,
		GasEstimate:  new(big.Int).SetUint64(d.GasLimits.Lookup(len(path.Hops), false)),
		GasPrice:     new(big.Int).SetInt64(d.cfg.NetworkGasPrice),
		DiscoveredAt: time.Now(),
	}
}

// Run drains the worker pool and watches the fabric's sync node for
// block advances. Candidates accumulate into the current block's batch
// as they arrive; a block change (or, failing that, a RefreshInterval
// deadline) flushes the batch sorted by gas price descending — the
// candidates bidding the most go through the filter/submit pipeline
// first, since they're the ones most likely to win a same-block
// collision on a shared pool. Run blocks until ctx is done, returning
// nil on a clean shutdown; a non-nil return is a fatal condition
// (contract ABI drift in the batch checker) the process must not scan
// through.
func (d *Driver) Run(ctx context.Context, acceptFn func(*types.ArbitrageCandidate, *submission.Envelope)) error {
	stop := make(chan struct{})
	go d.Pool.Run(stop)
	defer close(stop)

	interval := d.cfg.RefreshInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastBlock uint64
	var haveBlock bool
	deadline := time.Now().Add(interval)
	batch := make([]*types.ArbitrageCandidate, 0, d.cfg.WorkerCount*4)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		sort.Slice(batch, func(i, j int) bool {
			return batch[i].GasPrice.Cmp(batch[j].GasPrice) > 0
		})
		err := d.submitBatch(ctx, batch, acceptFn)
		batch = batch[:0]
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return flush()

		case <-ticker.C:
			block, err := d.Fabric.SyncBlockNumber(ctx)
			if err != nil {
				d.reportError(fmt.Errorf("driver: sync block number: %w", err))
				continue
			}
			if haveBlock && block == lastBlock {
				if time.Now().After(deadline) {
					if err := flush(); err != nil {
						return err
					}
					deadline = time.Now().Add(interval)
				}
				continue
			}

			if err := flush(); err != nil {
				return err
			}
			lastBlock, haveBlock = block, true
			deadline = time.Now().Add(interval)

			if err := d.advanceBlock(ctx, block); err != nil {
				d.reportError(fmt.Errorf("driver: advance to block %d: %w", block, err))
			}
			d.Claims.ResetForBlock(block)

		case candidate := <-d.Pool.Results:
			batch = append(batch, candidate)
			if len(batch) >= cap(batch) {
				if err := flush(); err != nil {
					return err
				}
				deadline = time.Now().Add(interval)
			}

		case outcome := <-d.receiptOutcomes:
			d.applyPathOutcome(outcome)
		}
	}
}

// applyPathOutcome folds one mined transaction's verdict into the
// blacklist state machine, pulling the path out of rotation once it
// crosses the strike threshold.
func (d *Driver) applyPathOutcome(outcome pathOutcome) {
	if outcome.succeeded {
		d.Blacklist.RecordSuccess(outcome.pathKey)
		return
	}
	if d.Blacklist.RecordFailure(outcome.pathKey) == types.Blacklisted {
		removed := d.Blacklist.ApplyTo(d.PathIndex)
		d.Pool.Broadcast(concurrency.Broadcast{Kind: concurrency.RemovePaths, Keys: removed})
	}
}

// VerifyBurners checks every persisted burner address actually has code
// deployed (a burner that already self-destructed leaves an empty
// account behind) and drops the dead ones from the pool.
func (d *Driver) VerifyBurners(ctx context.Context) error {
	d.burnersMu.Lock()
	burners := append([]common.Address{}, d.Burners.Available...)
	d.burnersMu.Unlock()
	if len(burners) == 0 {
		return nil
	}

	node := d.Fabric.Next()
	if node == nil {
		return fmt.Errorf("driver: no rpc node available to verify burners")
	}
	codes, err := d.Fabric.GetCodes(ctx, node, burners)
	if err != nil {
		return fmt.Errorf("driver: verify burners: %w", err)
	}

	alive := make([]common.Address, 0, len(burners))
	for i, code := range codes {
		if code != "" && code != "0x" {
			alive = append(alive, burners[i])
		}
	}

	d.burnersMu.Lock()
	d.Burners.Available = alive
	d.burnersMu.Unlock()
	return nil
}

// SnapshotBalance reads the executor account's current native balance
// off a fabric node and persists it as balance_stats, the PnL
// cross-check against TxStats (the two drift apart when gas estimates
// were wrong or a fill partially reverted).
func (d *Driver) SnapshotBalance(ctx context.Context, account common.Address) (types.BalanceStats, error) {
	node := d.Fabric.Next()
	if node == nil {
		return types.BalanceStats{}, fmt.Errorf("driver: no rpc node available for balance snapshot")
	}
	balance, err := node.Client.BalanceAt(ctx, account, nil)
	if err != nil {
		return types.BalanceStats{}, fmt.Errorf("driver: fetch balance: %w", err)
	}

	stats := types.BalanceStats{
		Timestamp: time.Now(),
		Native:    balance.String(),
		Tokens:    map[string]string{},
	}
	if err := d.Store.Save("balance_stats", stats); err != nil {
		return stats, err
	}
	return stats, nil
}

// TxStatsSnapshot returns a copy of the running submission tally, safe
// to read from any goroutine.
func (d *Driver) TxStatsSnapshot() types.TxStats {
	d.txStatsMu.Lock()
	defer d.txStatsMu.Unlock()
	return d.TxStats
}

func (d *Driver) reportError(err error) {
	if d.OnError != nil {
		d.OnError(err)
	}
}

// submitBatch runs one block's worth of candidates (already sorted by
// gas price descending) through the on-chain batch checker, then the
// claim/price filter, then prices and broadcasts every survivor. The
// returned error is fatal (contract ABI drift); everything recoverable
// is reported through OnError and swallowed.
func (d *Driver) submitBatch(ctx context.Context, batch []*types.ArbitrageCandidate, acceptFn func(*types.ArbitrageCandidate, *submission.Envelope)) error {
	validated, err := d.validateCandidates(ctx, batch)
	if err != nil {
		return err
	}
	accepted := filterstage.Apply(validated, d.Claims, d.PriceFeed)
	if len(accepted) == 0 {
		return nil
	}

	params := profitability.GasPriceParams{
		LowMultiplier:  d.cfg.LowMultiplier,
		MidMultiplier:  d.cfg.MidMultiplier,
		HighMultiplier: d.cfg.HighMultiplier,
		LowThreshold:   d.cfg.LowGasPriceThreshold,
		MidThreshold:   d.cfg.MidGasPriceThreshold,
		MaxGasPrice:    d.cfg.MaxGasPrice,
		MinGasPrice:    d.cfg.MinGasPrice,
	}

	for _, candidate := range accepted {
		weiPrice := d.weiPriceFor(candidate.Path.BaseToken())
		burners := d.takeBurners()

		env, err := submission.BuildEnvelope(candidate, d.feeOf, d.GasLimits, d.cfg.BaseGas, d.cfg.MaxBurners, weiPrice, params, burners, d.cfg.BurnersEnabled)
		if err != nil {
			d.returnBurners(burners)
			continue
		}

		probe := &types.ArbitrageCandidate{
			Profit:      candidate.Profit,
			GasEstimate: new(big.Int).SetUint64(env.GasLimit),
			GasPrice:    env.GasPrice,
			BurnerCost:  candidate.BurnerCost,
		}
		if !profitability.MeetsProfitFloor(probe.NetProfit(), weiPrice, d.cfg.MinProfit) {
			d.returnBurners(burners)
			continue
		}

		if d.OnSubmit != nil {
			tier := profitability.ClassifyGasPrice(big.NewInt(d.cfg.NetworkGasPrice), env.GasPrice, d.cfg.TierMidMultiplier, d.cfg.TierHighMultiplier)
			d.OnSubmit(candidate, tier)
		}

		outcome, _, err := d.Submit.EstimateQuorum(ctx, env, func(gas uint64) bool {
			return stillProfitable(candidate, gas, env.GasPrice)
		}, d.cfg.AcceptThreshold, d.tickDeadline)
		if err != nil {
			d.reportError(fmt.Errorf("driver: estimate %s: %w", candidate.Path.Key(), err))
		}
		if outcome != types.Accepted {
			d.returnBurners(burners)
			continue
		}

		calldata := common.FromHex(env.Calldata)
		hash, err := d.Submit.Broadcast(ctx, env, "executeArbitrage", calldata)
		if err != nil {
			d.returnBurners(burners)
			d.reportError(fmt.Errorf("driver: broadcast %s: %w", candidate.Path.Key(), err))
			if submission.IsNonceError(err) {
				// The local nonce drifted; the rest of this wave would only
				// stack more rejections on the same stale counter.
				break
			}
			continue
		}
		go d.watchReceipt(hash, candidate, env)

		if acceptFn != nil {
			acceptFn(candidate, env)
		}
	}
	return nil
}

// takeBurners pops two burner addresses for one arbitrage when refund
// mode is on and the pool has a pair to give; returnBurners puts them
// back after a rejection so they aren't leaked unspent.
func (d *Driver) takeBurners() []common.Address {
	if !d.cfg.BurnersEnabled {
		return nil
	}
	d.burnersMu.Lock()
	defer d.burnersMu.Unlock()
	if len(d.Burners.Available) < 2 {
		return nil
	}
	return d.Burners.Pop(2)
}

func (d *Driver) returnBurners(burners []common.Address) {
	if len(burners) == 0 {
		return
	}
	d.burnersMu.Lock()
	d.Burners.Push(burners...)
	d.burnersMu.Unlock()
}

// watchReceipt waits for a broadcast transaction to mine, folds the
// outcome into the running tx tally and the per-router/per-path-length
// error stats, and feeds the blacklist with the real execution result.
func (d *Driver) watchReceipt(hash common.Hash, candidate *types.ArbitrageCandidate, env *submission.Envelope) {
	if d.Listener == nil {
		return
	}
	receipt, err := d.Listener.WaitForTransaction(hash)
	if err != nil {
		d.reportError(fmt.Errorf("driver: receipt %s: %w", hash.Hex(), err))
		return
	}

	d.recordTxStats(candidate, receipt)

	// The blacklist/path-index transition runs on the driver goroutine
	// (it owns the PathIndex); this goroutine only reports the outcome.
	select {
	case d.receiptOutcomes <- pathOutcome{pathKey: candidate.Path.Key(), succeeded: receipt.Succeeded()}:
	default:
		// A full channel means the driver is drowning in receipts; the
		// blacklist misses one data point rather than blocking here.
	}

	var router common.Address
	if p := d.Registry.Get(candidate.Path.Hops[0].Pool); p != nil {
		router = p.Router
	}

	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	if receipt.Succeeded() {
		d.RouterStats.Success[router]++
		return
	}
	d.RouterStats.Error[router]++
	if gasUsed := receipt.GasUsedInt(); gasUsed != nil && gasUsed.Uint64() >= env.GasLimit {
		d.GasErrors.ByHopCount[len(candidate.Path.Hops)]++
	}
}

// stillProfitable re-evaluates candidate's net profit against a
// quorum-reported gas estimate and the envelope's actual bid price.
func stillProfitable(candidate *types.ArbitrageCandidate, gas uint64, gasPrice *big.Int) bool {
	probe := &types.ArbitrageCandidate{
		Profit:      candidate.Profit,
		GasEstimate: new(big.Int).SetUint64(gas),
		GasPrice:    gasPrice,
		BurnerCost:  candidate.BurnerCost,
	}
	net := probe.NetProfit()
	return net != nil && net.Sign() > 0
}

// encodeCandidate packs a candidate's trade into the raw calldata the
// batch checker replays. The checker only re-simulates the swaps, so
// the tx-cost floor is zeroed and no burners are attached.
func encodeCandidate(c *types.ArbitrageCandidate, feeOf func(common.Address) uint16) ([]byte, error) {
	path := c.Path
	hops := codec.HopsFromPath(path, feeOf)
	same := path.SameTokenOut()

	var tokenOut common.Address
	if !same {
		tokenOut = path.Hops[len(path.Hops)-1].TokenOut
	}

	raw, err := codec.Encode(hops, c.AmountIn, big.NewInt(0), path.BaseToken(), path.Hops[0].TokenOut, tokenOut, same, nil, false)
	if err != nil {
		return nil, err
	}
	return common.FromHex(raw), nil
}

// validateCandidates replays every candidate through the on-chain batch
// checker before anything is submitted. Reverted candidates strike the
// blacklist and are dropped; successful ones are re-priced from the
// checker's own reported profit and gas usage (plus its fixed dispatch
// overhead), so the submission wave bids with on-chain numbers rather
// than the local simulation's. With no checker configured the batch
// passes through on the local simulation alone.
//
// An ordinary chunk failure skips that chunk and moves on (the tick is
// the unit of recovery), but a record-count mismatch is returned as an
// error: the deployed checker's ABI no longer matches this decoder, and
// no amount of retrying fixes that.
func (d *Driver) validateCandidates(ctx context.Context, batch []*types.ArbitrageCandidate) ([]*types.ArbitrageCandidate, error) {
	if len(batch) == 0 || d.Submit.Client == nil || d.cfg.BatchCheckerRouter == (common.Address{}) {
		return batch, nil
	}

	candidates := make([]*types.ArbitrageCandidate, 0, len(batch))
	calls := make([][]byte, 0, len(batch))
	for _, c := range batch {
		data, err := encodeCandidate(c, d.feeOf)
		if err != nil {
			continue
		}
		candidates = append(candidates, c)
		calls = append(calls, data)
	}

	params := profitability.GasPriceParams{
		LowMultiplier:  d.cfg.LowMultiplier,
		MidMultiplier:  d.cfg.MidMultiplier,
		HighMultiplier: d.cfg.HighMultiplier,
		LowThreshold:   d.cfg.LowGasPriceThreshold,
		MidThreshold:   d.cfg.MidGasPriceThreshold,
		MaxGasPrice:    d.cfg.MaxGasPrice,
		MinGasPrice:    d.cfg.MinGasPrice,
	}

	var survivors []*types.ArbitrageCandidate
	chunks := batchvalidator.ChunkBySize(d.cfg.BatchCheckerRouter, calls, d.cfg.BatchSize)
	offset := 0
	for _, chunk := range chunks {
		records, err := batchvalidator.ValidateChunk(ctx, d.Submit.Client, packBatchCalldata, chunk)
		if err != nil {
			if errors.Is(err, batchvalidator.ErrRecordCountMismatch) {
				return nil, fmt.Errorf("driver: batch checker ABI drift: %w", err)
			}
			d.reportError(fmt.Errorf("driver: validate batch: %w", err))
			offset += len(chunk.Calldata)
			continue
		}
		for i, rec := range records {
			c := candidates[offset+i]
			if rec.Status != batchvalidator.StatusSucceeded {
				d.RecordOutcome(c.Path.Key(), rec)
				continue
			}

			gasUsage := uint64(rec.Gas) + profitability.ValidateOverheadGas
			weiPrice := d.weiPriceFor(c.Path.BaseToken())
			gp, ok := profitability.OptimalGasPrice(rec.Profit, c.BurnerCost, gasUsage, weiPrice, params)
			if !ok {
				continue
			}
			c.Profit = rec.Profit
			c.GasEstimate = new(big.Int).SetUint64(gasUsage)
			c.GasPrice = gp
			survivors = append(survivors, c)
		}
		offset += len(chunk.Calldata)
	}
	return survivors, nil
}

// packBatchCalldata concatenates each candidate's raw calldata behind a
// 4-byte big-endian length prefix, the format the batch checker expects
// to split a single eth_call payload back into per-candidate calls.
func packBatchCalldata(calls [][]byte) []byte {
	buf := new(bytes.Buffer)
	for _, c := range calls {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(c)))
		buf.Write(lenBuf[:])
		buf.Write(c)
	}
	return buf.Bytes()
}

// noProfitGasCeiling distinguishes a mined-but-bailed arbitrage from a
// real fill: the executor refunds before touching the second pool when
// the trade stopped being profitable, so a "successful" receipt that
// burned less than this much gas made no money.
const noProfitGasCeiling = 100_000

// recordTxStats folds one mined transaction's receipt into the running
// tally, using the pre-submission validated profit minus the receipt's
// actual gas cost as the realized figure.
func (d *Driver) recordTxStats(candidate *types.ArbitrageCandidate, receipt *types.TxReceipt) {
	d.txStatsMu.Lock()
	defer d.txStatsMu.Unlock()

	d.TxStats.Total++

	gasUsed := receipt.GasUsedInt()
	if !receipt.Succeeded() || gasUsed == nil || gasUsed.Uint64() < noProfitGasCeiling {
		d.TxStats.Fail++
		return
	}
	d.TxStats.Success++

	if candidate == nil || candidate.Profit == nil {
		return
	}
	gasPrice := receipt.EffectiveGasPriceInt()
	if gasPrice == nil {
		gasPrice = candidate.GasPrice
	}
	net := new(big.Int).Sub(candidate.Profit, new(big.Int).Mul(gasUsed, gasPrice))

	prior, ok := new(big.Int).SetString(d.TxStats.NativeProfit, 10)
	if !ok {
		prior = big.NewInt(0)
	}
	prior.Add(prior, net)
	d.TxStats.NativeProfit = prior.String()
}

// RecordOutcome feeds a validated batch record back into the blacklist:
// reverted executions strike their path, successful ones walk it back.
func (d *Driver) RecordOutcome(pathKey string, record batchvalidator.Record) {
	if record.Status == batchvalidator.StatusSucceeded {
		d.Blacklist.RecordSuccess(pathKey)
		return
	}
	state := d.Blacklist.RecordFailure(pathKey)
	if state == types.Blacklisted {
		removed := d.Blacklist.ApplyTo(d.PathIndex)
		d.Pool.Broadcast(concurrency.Broadcast{Kind: concurrency.RemovePaths, Keys: removed})
	}
}
