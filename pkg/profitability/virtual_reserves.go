// Package profitability implements the constant-product arbitrage math:
// reducing a multi-hop path to a single virtual pool, solving for the
// optimal input in closed form, and locally refining that estimate
// against exact integer swap simulation.
package profitability

import (
	"math/big"

	"github.com/MedTrebor/uniswapv2-arbitrage-bot/pkg/types"
)

// VirtualReserves is the single-pool equivalent of a multi-hop path:
// swapping x of the base token through the whole path returns
// K*ROut*x / (RIn + K*x), exactly as a single constant-product pool
// with fee multiplier K would.
type VirtualReserves struct {
	RIn  *big.Rat
	ROut *big.Rat
	K    *big.Rat // product of every hop's (1 - fee) multiplier
}

// feeMultiplier returns feeNumerator/FeeDenominator as an exact
// rational. feeNumerator is already the post-fee keep-rate scaled to
// FeeDenominator (e.g. 9970 for a 30bps pool), not a raw fee to
// subtract from FeeDenominator a second time.
func feeMultiplier(feeNumerator uint16) *big.Rat {
	return big.NewRat(int64(feeNumerator), types.FeeDenominator)
}

// Reduce composes the path's hops into a single VirtualReserves. Each
// hop is a Mobius transform of the input amount, and composing Mobius
// transforms is exact (no approximation): this is why the multi-hop
// case reduces to the same closed-form optimal-input solution as a
// single pool.
//
// reserveOf returns (reserveIn, reserveOut, feeNumerator) for hop h,
// oriented so reserveIn corresponds to h.TokenIn.
func Reduce(path *types.Path, reserveOf func(h types.Hop) (*big.Int, *big.Int, uint16)) *VirtualReserves {
	if len(path.Hops) == 0 {
		return nil
	}

	rIn0, rOut0, fee0 := reserveOf(path.Hops[0])
	vr := &VirtualReserves{
		RIn:  new(big.Rat).SetInt(rIn0),
		ROut: new(big.Rat).SetInt(rOut0),
		K:    feeMultiplier(fee0),
	}

	for _, h := range path.Hops[1:] {
		rIn, rOut, fee := reserveOf(h)
		k := feeMultiplier(fee)

		rInRat := new(big.Rat).SetInt(rIn)
		rOutRat := new(big.Rat).SetInt(rOut)

		// D = Rin_i + k_i * VR.ROut
		d := new(big.Rat).Mul(k, vr.ROut)
		d.Add(d, rInRat)

		newRIn := new(big.Rat).Mul(rInRat, vr.RIn)
		newRIn.Quo(newRIn, d)

		newROut := new(big.Rat).Mul(k, rOutRat)
		newROut.Mul(newROut, vr.ROut)
		newROut.Quo(newROut, d)

		vr.RIn = newRIn
		vr.ROut = newROut
		vr.K = new(big.Rat).Mul(vr.K, k)
	}

	return vr
}

// AmountOut returns the amount the virtual pool returns for amountIn,
// i.e. K*ROut*amountIn / (RIn + K*amountIn).
func (vr *VirtualReserves) AmountOut(amountIn *big.Int) *big.Rat {
	x := new(big.Rat).SetInt(amountIn)
	num := new(big.Rat).Mul(vr.K, vr.ROut)
	num.Mul(num, x)

	den := new(big.Rat).Mul(vr.K, x)
	den.Add(den, vr.RIn)

	return num.Quo(num, den)
}

// OptimalInput solves x* = (sqrt(K*RIn*ROut) - RIn) / K, the input that
// maximizes AmountOut(x) - x. Returns nil if the path isn't profitable
// at any size (x* <= 0).
func (vr *VirtualReserves) OptimalInput() *big.Int {
	product := new(big.Rat).Mul(vr.K, vr.RIn)
	product.Mul(product, vr.ROut)

	sqrtRat := sqrtRat(product)

	x := new(big.Rat).Sub(sqrtRat, vr.RIn)
	x.Quo(x, vr.K)

	if x.Sign() <= 0 {
		return nil
	}

	// floor to integer: real pools only accept integer amounts.
	q := new(big.Int).Quo(x.Num(), x.Denom())
	if q.Sign() <= 0 {
		return nil
	}
	return q
}

// sqrtRat computes sqrt(r) as an exact big.Rat using the identity
// sqrt(n/d) = sqrt(n*d)/d, via big.Int.Sqrt (integer floor sqrt).
func sqrtRat(r *big.Rat) *big.Rat {
	n := new(big.Int).Mul(r.Num(), r.Denom())
	root := new(big.Int).Sqrt(n)
	return new(big.Rat).SetFrac(root, r.Denom())
}
