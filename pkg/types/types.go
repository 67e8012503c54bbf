// Package types holds the domain model shared across the arbitrage
// pipeline: tokens, pools, paths, candidates and the wire-level
// transaction types returned by the RPC fabric.
package types

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TxKind selects the transaction envelope a ContractClient.Send call
// should build. BSC and its forks still accept legacy gas-price
// transactions, so unlike mainnet-only tooling we keep both kinds live.
type TxKind int

const (
	Legacy TxKind = iota
	DynamicFee
)

func (k TxKind) String() string {
	switch k {
	case Legacy:
		return "legacy"
	case DynamicFee:
		return "dynamic_fee"
	default:
		return "unknown"
	}
}

// TxReceipt mirrors the shape of an eth_getTransactionReceipt response.
// Fields stay as hex strings because the listener never needs to do
// arithmetic on them directly; callers convert with big.Int when they do.
type TxReceipt struct {
	TransactionHash   string `json:"transactionHash"`
	BlockNumber       string `json:"blockNumber"`
	BlockHash         string `json:"blockHash"`
	GasUsed           string `json:"gasUsed"`
	EffectiveGasPrice string `json:"effectiveGasPrice"`
	Status            string `json:"status"`
	ContractAddress   string `json:"contractAddress,omitempty"`
	Logs              []RawLog `json:"logs"`
}

// Succeeded reports whether the receipt's status word is 0x1.
func (r *TxReceipt) Succeeded() bool {
	return r != nil && r.Status == "0x1"
}

// GasUsedInt parses GasUsed as a base-16 big.Int, returning nil if blank.
func (r *TxReceipt) GasUsedInt() *big.Int {
	if r == nil || r.GasUsed == "" {
		return nil
	}
	v := new(big.Int)
	v.SetString(trimHexPrefix(r.GasUsed), 16)
	return v
}

// EffectiveGasPriceInt parses EffectiveGasPrice as a base-16 big.Int.
func (r *TxReceipt) EffectiveGasPriceInt() *big.Int {
	if r == nil || r.EffectiveGasPrice == "" {
		return nil
	}
	v := new(big.Int)
	v.SetString(trimHexPrefix(r.EffectiveGasPrice), 16)
	return v
}

func trimHexPrefix(s string) string {
	if len(s) > 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

// RawLog is a minimally-typed event log entry, enough to locate Sync /
// Transfer events without depending on a specific contract's ABI.
type RawLog struct {
	Address common.Address `json:"address"`
	Topics  []common.Hash  `json:"topics"`
	Data    string         `json:"data"`
}

// FeeKind distinguishes how a pool's swap fee is determined.
type FeeKind int

const (
	// FeeFixed is a constant fee numerator set at pool creation (UniV2 forks).
	FeeFixed FeeKind = iota
	// FeeFromPool means the fee must be read from the pool contract itself
	// (dynamic-fee forks such as PancakeSwap V2 variants).
	FeeFromPool
	// FeeFromFactory means the fee is read from the factory that deployed
	// the pool (shared fee tiers across a factory's whole pool set).
	FeeFromFactory
)

// FeeSource describes where a pool's swap fee numerator comes from.
// The numerator is always expressed out of FeeDenominator (10000).
type FeeSource struct {
	Kind       FeeKind
	Numerator  uint16         // valid when Kind == FeeFixed
	FactoryRef common.Address // valid when Kind == FeeFromFactory
}

// FeeDenominator is the fixed-point denominator every fee numerator is
// expressed against, matching the constant-product fee convention.
const FeeDenominator = 10000

// Token describes an ERC20 asset tracked by the registry.
type Token struct {
	Address  common.Address
	Symbol   string
	Decimals uint8
}

// Pool is a constant-product pair tracked by the registry, holding the
// last-known (virtual) reserves used for profitability calculations.
type Pool struct {
	Address  common.Address
	Token0   common.Address
	Token1   common.Address
	Reserve0 *big.Int
	Reserve1 *big.Int
	Fee      FeeSource
	Router   common.Address
	// UpdatedAtBlock is the block number the reserves were last synced at.
	UpdatedAtBlock uint64
	// Factory is the factory contract that deployed this pool, used to
	// group fetch_new_pools/refresh_all's batched lookups per factory.
	Factory common.Address
	// CreatedIndex is this pool's position in its factory's allPairs
	// array, used to protect the most-recently-created pools from the
	// liquidity filter regardless of their current reserves.
	CreatedIndex uint64
}

// FeeNumerator returns the pool's fee numerator if it's statically known,
// or false when it must be resolved externally (pool/factory call).
func (p *Pool) FeeNumerator() (uint16, bool) {
	if p.Fee.Kind == FeeFixed {
		return p.Fee.Numerator, true
	}
	return 0, false
}

// Hop is one edge of a Path: swap through Pool from TokenIn to TokenOut.
type Hop struct {
	Pool     common.Address
	TokenIn  common.Address
	TokenOut common.Address
	// Zero reports whether TokenIn is the pool's token0 (needed to orient
	// the constant-product formula and the codec's is_0_in flag).
	Zero bool
}

// Path is a cyclic sequence of 2 or 3 hops starting and ending at the
// same token (the "base" token the bot denominates profit in).
type Path struct {
	Hops []Hop
}

// BaseToken returns the token the path starts and ends on.
func (p *Path) BaseToken() common.Address {
	if len(p.Hops) == 0 {
		return common.Address{}
	}
	return p.Hops[0].TokenIn
}

// Pools returns the ordered pool addresses touched by the path.
func (p *Path) Pools() []common.Address {
	out := make([]common.Address, len(p.Hops))
	for i, h := range p.Hops {
		out[i] = h.Pool
	}
	return out
}

// SameTokenOut reports whether the final hop's TokenOut equals the first
// hop's TokenIn (a strict 2/3-hop cycle back to the base token), which
// controls whether the codec needs to carry an explicit token_out field.
func (p *Path) SameTokenOut() bool {
	if len(p.Hops) == 0 {
		return true
	}
	return p.Hops[len(p.Hops)-1].TokenOut == p.Hops[0].TokenIn
}

// Key returns a stable identity for the path, used for blacklist and
// pathIndex bookkeeping. Paths are distinguished by their ordered pool
// sequence plus base token.
func (p *Path) Key() string {
	s := p.BaseToken().Hex()
	for _, pool := range p.Pools() {
		s += ":" + pool.Hex()
	}
	return s
}

// PathIndex maps each pool address to the set of path keys that touch it,
// so that a single pool reserve update can cheaply find affected paths.
type PathIndex struct {
	byPool map[common.Address]map[string]*Path
	byKey  map[string]*Path
}

// NewPathIndex builds an empty index.
func NewPathIndex() *PathIndex {
	return &PathIndex{
		byPool: make(map[common.Address]map[string]*Path),
		byKey:  make(map[string]*Path),
	}
}

// Add registers a path under every pool it touches.
func (idx *PathIndex) Add(p *Path) {
	key := p.Key()
	idx.byKey[key] = p
	for _, pool := range p.Pools() {
		set, ok := idx.byPool[pool]
		if !ok {
			set = make(map[string]*Path)
			idx.byPool[pool] = set
		}
		set[key] = p
	}
}

// Remove drops a path (by key) from the index entirely.
func (idx *PathIndex) Remove(key string) {
	p, ok := idx.byKey[key]
	if !ok {
		return
	}
	delete(idx.byKey, key)
	for _, pool := range p.Pools() {
		if set, ok := idx.byPool[pool]; ok {
			delete(set, key)
			if len(set) == 0 {
				delete(idx.byPool, pool)
			}
		}
	}
}

// PathsTouching returns every path that swaps through pool.
func (idx *PathIndex) PathsTouching(pool common.Address) []*Path {
	set, ok := idx.byPool[pool]
	if !ok {
		return nil
	}
	out := make([]*Path, 0, len(set))
	for _, p := range set {
		out = append(out, p)
	}
	return out
}

// Len returns the number of distinct paths in the index.
func (idx *PathIndex) Len() int {
	return len(idx.byKey)
}

// All returns every path currently indexed.
func (idx *PathIndex) All() []*Path {
	out := make([]*Path, 0, len(idx.byKey))
	for _, p := range idx.byKey {
		out = append(out, p)
	}
	return out
}

// BlacklistState is the state machine stage a path is in.
type BlacklistState int

const (
	// Unseen: the path has never failed simulation/validation.
	Unseen BlacklistState = iota
	// Pre: the path has failed at least once but hasn't reached the
	// PreBlacklistThreshold yet.
	Pre
	// Blacklisted: the path is excluded from candidate generation.
	Blacklisted
)

// BlacklistEntry tracks one path's progress toward blacklisting.
type BlacklistEntry struct {
	PathKey string
	State   BlacklistState
	Strikes int
}

// ArbitrageCandidate is a Path paired with the optimal input amount and
// the profit the profitability engine computed for it.
type ArbitrageCandidate struct {
	Path         *Path
	AmountIn     *big.Int
	AmountOut    *big.Int
	Profit       *big.Int // AmountOut - AmountIn, denominated in BaseToken
	GasEstimate  *big.Int
	GasPrice     *big.Int
	BurnerCount  int
	// BurnerCost is the wei cost attributed to BurnerCount burner
	// addresses, set once the submission pipeline sizes the envelope.
	// Nil until then, in which case NetProfit ignores it.
	BurnerCost   *big.Int
	DiscoveredAt time.Time
}

// NetProfit returns Profit minus the gas cost (GasEstimate * GasPrice)
// and, once known, BurnerCost. Returns nil if Profit, GasEstimate or
// GasPrice is missing.
func (c *ArbitrageCandidate) NetProfit() *big.Int {
	if c.Profit == nil || c.GasEstimate == nil || c.GasPrice == nil {
		return nil
	}
	gasCost := new(big.Int).Mul(c.GasEstimate, c.GasPrice)
	net := new(big.Int).Sub(c.Profit, gasCost)
	if c.BurnerCost != nil {
		net.Sub(net, c.BurnerCost)
	}
	return net
}

// BlockCursor tracks the last block the registry has fully synced to.
type BlockCursor struct {
	Number uint64
	Hash   common.Hash
}

// SyncEvent is one decoded pair Sync log: the pool's post-swap reserves
// as of Block. Events must be applied in chronological order so the
// last event for a pool within a tick wins.
type SyncEvent struct {
	Pool     common.Address
	Reserve0 *big.Int
	Reserve1 *big.Int
	Block    uint64
}

// Prices is a read-mostly table of token -> USD price, refreshed by the
// price poller and read by the stats reporter to convert native profit
// into a human dollar figure.
type Prices struct {
	USD map[common.Address]float64
}

// BurnerPool is a FIFO pool of throwaway accounts used to claim the EIP-3529
// style gas refund for clearing non-zero storage slots on self-destruct.
type BurnerPool struct {
	Available []common.Address
}

// Pop removes and returns up to n burner addresses from the front of the
// pool (FIFO), returning fewer if the pool is smaller than n.
func (b *BurnerPool) Pop(n int) []common.Address {
	if n > len(b.Available) {
		n = len(b.Available)
	}
	out := b.Available[:n]
	b.Available = b.Available[n:]
	return out
}

// Push returns burner addresses to the back of the pool.
func (b *BurnerPool) Push(addrs ...common.Address) {
	b.Available = append(b.Available, addrs...)
}

// EstimationOutcome is the verdict of a gas-estimation quorum across
// multiple RPC nodes before a transaction is broadcast.
type EstimationOutcome int

const (
	// Accepted: enough nodes agree the tx would succeed and be profitable.
	Accepted EstimationOutcome = iota
	// NotProfitable: nodes agree the tx would succeed but gas eats the profit.
	NotProfitable
	// LateTransaction: nodes agree the tx would revert (pool state moved on).
	LateTransaction
	// MixedEstimation: nodes disagree and no quorum threshold is met.
	MixedEstimation
)

func (o EstimationOutcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case NotProfitable:
		return "not_profitable"
	case LateTransaction:
		return "late_transaction"
	case MixedEstimation:
		return "mixed_estimation"
	default:
		return "unknown"
	}
}

// TxStats is the running tally of submitted arbitrage transactions,
// persisted alongside uptime for the reporting surface.
type TxStats struct {
	UptimeSeconds int64   `json:"uptime_seconds"`
	Total         int64   `json:"total"`
	Success       int64   `json:"success"`
	Fail          int64   `json:"fail"`
	NativeProfit  string  `json:"native_profit"` // big.Int decimal string
	USDProfit     float64 `json:"usd_profit"`
}

// SuccessRate returns Success/Total, or 0 if Total is 0.
func (s *TxStats) SuccessRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Success) / float64(s.Total)
}

// BalanceStats is a point-in-time snapshot of the bot wallet's native and
// token balances, used to measure cumulative PnL independently of TxStats.
type BalanceStats struct {
	Timestamp time.Time         `json:"timestamp"`
	Native    string            `json:"native"`
	Tokens    map[string]string `json:"tokens"` // symbol -> decimal string
}

// RouterStats counts successes and errors per router address, surfaced so
// an operator can spot a router that's silently failing every swap.
type RouterStats struct {
	Success map[common.Address]int64
	Error   map[common.Address]int64
}

// NewRouterStats builds an empty RouterStats.
func NewRouterStats() *RouterStats {
	return &RouterStats{
		Success: make(map[common.Address]int64),
		Error:   make(map[common.Address]int64),
	}
}

// GasLimitErrorStats counts "out of gas" style reverts per path length,
// used to recalibrate the static gas-limit table over time.
type GasLimitErrorStats struct {
	ByHopCount map[int]int64
}

// String implements fmt.Stringer for debugging candidate dumps.
func (c *ArbitrageCandidate) String() string {
	if c == nil {
		return "<nil candidate>"
	}
	return fmt.Sprintf("path=%s in=%s out=%s profit=%s", c.Path.Key(), c.AmountIn, c.AmountOut, c.Profit)
}
