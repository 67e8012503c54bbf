// Package filterstage excludes candidates that shouldn't be submitted:
// paths that collide on a pool another worker already claimed this
// block, and candidates whose required gas price exceeds the
// configured ceiling.
package filterstage

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/MedTrebor/uniswapv2-arbitrage-bot/pkg/types"
)

// ClaimTracker prevents two candidates from the same block claiming the
// same pool, which would otherwise race each other on-chain and burn
// gas for the losing transaction.
type ClaimTracker struct {
	mu     sync.Mutex
	block  uint64
	claims map[common.Address]bool
}

// NewClaimTracker builds an empty tracker.
func NewClaimTracker() *ClaimTracker {
	return &ClaimTracker{claims: make(map[common.Address]bool)}
}

// ResetForBlock clears all claims when the driver advances to a new
// block; claims only need to prevent self-competition within one block.
func (c *ClaimTracker) ResetForBlock(block uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if block == c.block {
		return
	}
	c.block = block
	c.claims = make(map[common.Address]bool)
}

// TryClaim atomically checks that none of pools are already claimed
// this block and, if so, claims all of them. Returns false (and claims
// nothing) if any pool is already taken.
func (c *ClaimTracker) TryClaim(pools []common.Address) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, p := range pools {
		if c.claims[p] {
			return false
		}
	}
	for _, p := range pools {
		c.claims[p] = true
	}
	return true
}

// MaxGasPriceFilter rejects candidates whose required gas price would
// exceed a configured ceiling, protecting against bidding wars that
// would eat more than the candidate's own profit.
type MaxGasPriceFilter struct {
	Ceiling *big.Int
}

// Accept reports whether candidate's gas price is within the ceiling.
func (f *MaxGasPriceFilter) Accept(c *types.ArbitrageCandidate) bool {
	if f.Ceiling == nil || c.GasPrice == nil {
		return true
	}
	return c.GasPrice.Cmp(f.Ceiling) <= 0
}

// Apply runs candidates through the self-competition claim tracker and
// the max-gas-price filter, in that order (claim check first since it's
// cheaper and both filters are independent), returning only the
// survivors.
func Apply(candidates []*types.ArbitrageCandidate, claims *ClaimTracker, priceFilter *MaxGasPriceFilter) []*types.ArbitrageCandidate {
	var out []*types.ArbitrageCandidate
	for _, c := range candidates {
		if claims != nil && !claims.TryClaim(c.Path.Pools()) {
			continue
		}
		if priceFilter != nil && !priceFilter.Accept(c) {
			continue
		}
		out = append(out, c)
	}
	return out
}
