package profitability

import (
	"errors"
	"math/big"

	"github.com/MedTrebor/uniswapv2-arbitrage-bot/pkg/types"
)

// Uint112Max is the largest value a Solidity uint112 can hold. Pool
// reserves and swap amounts are packed into uint112 slots on-chain, so
// any intermediate amount that would exceed this can never actually be
// swapped and must be rejected (or the input scaled down) before the
// candidate is proposed.
var Uint112Max = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 112), big.NewInt(1))

// ErrAmountOverflowsUint112 signals that ForwardSimulate hit an
// intermediate amount too large for a real on-chain swap.
var ErrAmountOverflowsUint112 = errors.New("intermediate swap amount overflows uint112")

// swapOut computes the exact integer output of a single constant-product
// swap: amountIn*feeNum*reserveOut / (reserveIn*feeDenom + amountIn*feeNum).
// feeNumerator is already the post-fee keep-rate scaled to
// types.FeeDenominator, matching the convention decoded in
// pkg/registry's fee lookups.
func swapOut(amountIn, reserveIn, reserveOut *big.Int, feeNumerator uint16) *big.Int {
	amountInWithFee := new(big.Int).Mul(amountIn, big.NewInt(int64(feeNumerator)))

	num := new(big.Int).Mul(amountInWithFee, reserveOut)

	den := new(big.Int).Mul(reserveIn, big.NewInt(types.FeeDenominator))
	den.Add(den, amountInWithFee)

	return num.Quo(num, den)
}

// ForwardSimulate walks every hop of path with exact integer arithmetic,
// returning the final amount out. It returns ErrAmountOverflowsUint112
// if any intermediate amount exceeds what a real pool could hold; the
// caller is expected to halve amountIn and retry, per the on-chain
// uint112 packing the pools actually use.
func ForwardSimulate(path *types.Path, amountIn *big.Int, reserveOf func(h types.Hop) (*big.Int, *big.Int, uint16)) (*big.Int, error) {
	cur := new(big.Int).Set(amountIn)
	if cur.Cmp(Uint112Max) > 0 {
		return nil, ErrAmountOverflowsUint112
	}

	for _, h := range path.Hops {
		rIn, rOut, fee := reserveOf(h)
		cur = swapOut(cur, rIn, rOut, fee)
		if cur.Cmp(Uint112Max) > 0 {
			return nil, ErrAmountOverflowsUint112
		}
	}
	return cur, nil
}

// ForwardSimulateWithRetry calls ForwardSimulate, scaling amountIn down
// by 1.2 each time it overflows uint112, up to maxRetries times. It
// returns the (possibly reduced) amountIn actually used alongside the
// amount out.
func ForwardSimulateWithRetry(path *types.Path, amountIn *big.Int, maxRetries int, reserveOf func(h types.Hop) (*big.Int, *big.Int, uint16)) (usedIn, amountOut *big.Int, err error) {
	cur := new(big.Int).Set(amountIn)
	for i := 0; i <= maxRetries; i++ {
		out, simErr := ForwardSimulate(path, cur, reserveOf)
		if simErr == nil {
			return cur, out, nil
		}
		if !errors.Is(simErr, ErrAmountOverflowsUint112) {
			return nil, nil, simErr
		}
		cur = new(big.Int).Mul(cur, big.NewInt(5))
		cur.Quo(cur, big.NewInt(6))
		if cur.Sign() == 0 {
			return nil, nil, ErrAmountOverflowsUint112
		}
	}
	return nil, nil, ErrAmountOverflowsUint112
}

// Profit returns amountOut - amountIn, which may be negative.
func Profit(amountIn, amountOut *big.Int) *big.Int {
	return new(big.Int).Sub(amountOut, amountIn)
}
