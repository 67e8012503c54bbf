package profitability

import "math/big"

// Per-burner gas economics: attaching a burner address to a transaction
// adds one extra SSTORE (writing the burner's nonce slot) but lets the
// transaction self-destruct a contract at the end, clearing storage and
// earning a refund. perBurnerCost is the added execution cost;
// perBurnerRefundCap is the maximum refund a single burner can earn
// before the EIP-3529-style refund cap (half of gas used pre-refund)
// kicks in.
const (
	perBurnerCost      = 6_434
	perBurnerRefundCap = 17_566
)

// ValidateOverheadGas is the fixed gas cost the on-chain batch checker
// itself adds on top of a candidate's own execution (dispatch, record
// packing), added back in before a post-submission re-price uses the
// checker's reported gas usage.
const ValidateOverheadGas = 23_640

// OptimalBurnerCount searches burner counts 0..maxBurners and returns
// the count that minimizes net gas (baseGas plus each burner's added
// cost, minus each burner's refund, capped at half of the gas used
// before any refund is applied). It stops as soon as adding one more
// burner stops helping, since net gas is unimodal in burner count.
func OptimalBurnerCount(baseGas uint64, maxBurners int) (bestCount int, bestNetGas uint64) {
	bestCount = 0
	bestNetGas = baseGas

	for n := 1; n <= maxBurners; n++ {
		grossGas := baseGas + perBurnerCost*uint64(n)

		refund := perBurnerRefundCap * uint64(n)
		refundCap := grossGas / 2
		if refund > refundCap {
			refund = refundCap
		}

		netGas := grossGas - refund
		if netGas >= bestNetGas {
			break
		}
		bestNetGas = netGas
		bestCount = n
	}

	return bestCount, bestNetGas
}

// GasCost returns gasLimit*gasPrice as the wei cost of a transaction.
func GasCost(gasLimit uint64, gasPrice *big.Int) *big.Int {
	return new(big.Int).Mul(new(big.Int).SetUint64(gasLimit), gasPrice)
}

// GasPriceTier buckets a quoted network gas price into the bot's
// low/mid/high escalation tier, used to decide how aggressively to bid
// against other searchers for the same candidate.
type GasPriceTier int

const (
	TierLow GasPriceTier = iota
	TierMid
	TierHigh
)

// ClassifyGasPrice returns the tier networkGasPrice falls into, given
// the mid and high multiplier thresholds (expressed as networkGasPrice
// multiples, e.g. midThreshold=2 means "2x network price starts mid tier").
func ClassifyGasPrice(networkGasPrice, candidateGasPrice *big.Int, midMultiplier, highMultiplier int64) GasPriceTier {
	mid := new(big.Int).Mul(networkGasPrice, big.NewInt(midMultiplier))
	high := new(big.Int).Mul(networkGasPrice, big.NewInt(highMultiplier))

	switch {
	case candidateGasPrice.Cmp(high) >= 0:
		return TierHigh
	case candidateGasPrice.Cmp(mid) >= 0:
		return TierMid
	default:
		return TierLow
	}
}

// GasPriceParams configures the optimal-gas-price escalation: three
// profit-share multipliers (as exact fractions, e.g. big.NewRat(3, 10)
// for 30%), the two thresholds that gate escalating from low to mid to
// high, and the final clamp/floor.
type GasPriceParams struct {
	LowMultiplier  *big.Rat
	MidMultiplier  *big.Rat
	HighMultiplier *big.Rat

	// LowThreshold/MidThreshold gate escalation: a gas price computed at
	// the low (resp. mid) multiplier that exceeds the threshold gets
	// recomputed at the next multiplier up.
	LowThreshold *big.Int
	MidThreshold *big.Int

	MaxGasPrice *big.Int
	MinGasPrice *big.Int
}

// OptimalGasPrice computes the gas price to bid for a candidate:
// gp = (grossProfit - burnerCost) * mu / (gasUsage * weiPrice), starting
// at the low multiplier and escalating to mid, then high, as the
// resulting price crosses LowThreshold/MidThreshold. The result is
// clamped to MaxGasPrice; if it still falls below MinGasPrice the
// candidate is rejected (ok is false).
//
// weiPrice converts one wei of native gas into the units grossProfit and
// burnerCost are denominated in (1 for a native-token path).
func OptimalGasPrice(grossProfit, burnerCost *big.Int, gasUsage uint64, weiPrice *big.Rat, params GasPriceParams) (gasPrice *big.Int, ok bool) {
	if grossProfit == nil || gasUsage == 0 || weiPrice == nil || weiPrice.Sign() <= 0 {
		return nil, false
	}
	netProfit := new(big.Int).Set(grossProfit)
	if burnerCost != nil {
		netProfit.Sub(netProfit, burnerCost)
	}
	if netProfit.Sign() <= 0 {
		return nil, false
	}

	gp := gasPriceAt(netProfit, params.LowMultiplier, gasUsage, weiPrice)
	if params.LowThreshold != nil && gp.Cmp(params.LowThreshold) > 0 {
		gp = gasPriceAt(netProfit, params.MidMultiplier, gasUsage, weiPrice)
		if params.MidThreshold != nil && gp.Cmp(params.MidThreshold) > 0 {
			gp = gasPriceAt(netProfit, params.HighMultiplier, gasUsage, weiPrice)
		}
	}

	if params.MaxGasPrice != nil && gp.Cmp(params.MaxGasPrice) > 0 {
		gp = new(big.Int).Set(params.MaxGasPrice)
	}
	if params.MinGasPrice != nil && gp.Cmp(params.MinGasPrice) < 0 {
		return nil, false
	}
	return gp, true
}

// MeetsProfitFloor reports whether netProfit, converted into native
// units through weiPrice, clears the configured minimum profit floor.
// A nil or zero minProfit disables the floor entirely.
func MeetsProfitFloor(netProfit *big.Int, weiPrice *big.Rat, minProfit *big.Int) bool {
	if minProfit == nil || minProfit.Sign() == 0 {
		return true
	}
	if netProfit == nil || netProfit.Sign() <= 0 {
		return false
	}
	if weiPrice == nil || weiPrice.Sign() <= 0 {
		return false
	}
	native := new(big.Rat).SetInt(netProfit)
	native.Quo(native, weiPrice)
	return native.Cmp(new(big.Rat).SetInt(minProfit)) >= 0
}

// gasPriceAt computes floor(netProfit*mu / (gasUsage*weiPrice)).
func gasPriceAt(netProfit *big.Int, mu *big.Rat, gasUsage uint64, weiPrice *big.Rat) *big.Int {
	num := new(big.Rat).SetInt(netProfit)
	num.Mul(num, mu)

	den := new(big.Rat).SetInt(new(big.Int).SetUint64(gasUsage))
	den.Mul(den, weiPrice)

	num.Quo(num, den)
	return new(big.Int).Quo(num.Num(), num.Denom())
}
