package util

import "math/big"

// stepNumerator/stepDenominator encode a 10% step: each call to Next
// multiplies the current price by 1.1 and rounds up.
var stepNumerator = big.NewInt(11)
var stepDenominator = big.NewInt(10)

// GasPriceRange iterates gas prices from Start to End (inclusive),
// stepping up by 10% each call and clamping the final step so it never
// overshoots End. This is how the submission pipeline escalates gas
// price across retries of the same candidate instead of jumping
// straight to the ceiling.
type GasPriceRange struct {
	Start *big.Int
	End   *big.Int
	cur   *big.Int
	done  bool
}

// NewGasPriceRange builds a range starting at start and bounded by end.
// If start >= end the range yields a single value (start).
func NewGasPriceRange(start, end *big.Int) *GasPriceRange {
	return &GasPriceRange{
		Start: new(big.Int).Set(start),
		End:   new(big.Int).Set(end),
		cur:   new(big.Int).Set(start),
	}
}

// Next returns the next gas price in the escalation and advances the
// iterator. ok is false once the range is exhausted (the previous call
// already returned End).
func (r *GasPriceRange) Next() (price *big.Int, ok bool) {
	if r.done {
		return nil, false
	}
	price = new(big.Int).Set(r.cur)

	if r.cur.Cmp(r.End) >= 0 {
		r.done = true
		return price, true
	}

	next := new(big.Int).Mul(r.cur, stepNumerator)
	next = ceilDiv(next, stepDenominator)
	if next.Cmp(r.End) >= 0 {
		r.cur = new(big.Int).Set(r.End)
	} else {
		r.cur = next
	}
	return price, true
}

// ceilDiv computes ceil(a/b) for positive a, b.
func ceilDiv(a, b *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(a, b, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}
