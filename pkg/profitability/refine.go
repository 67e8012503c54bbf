package profitability

import (
	"math/big"

	"github.com/MedTrebor/uniswapv2-arbitrage-bot/pkg/types"
)

// RefineSteps is the number of nudges the local refinement scan tries
// before giving up, matching the original tuning constant: the closed-
// form optimal input from the reduced virtual pool is exact in reals,
// but real swaps truncate to integers at every hop, so the true integer
// optimum can sit a few units away from the rational solution.
const RefineSteps = 29

// RefineLocal nudges baseAmountIn in increasing steps (size=stepSize),
// re-running the exact forward simulation at each nudge, and keeps
// whichever step produced the highest profit so far. It stops as soon
// as a nudge produces a lower profit than the previous one (profit vs.
// amountIn is unimodal near the optimum, so the first decrease means
// every later nudge would be worse too).
func RefineLocal(path *types.Path, reserveOf func(h types.Hop) (*big.Int, *big.Int, uint16), baseAmountIn, stepSize *big.Int) (bestIn, bestOut, bestProfit *big.Int) {
	bestIn = new(big.Int).Set(baseAmountIn)
	out, err := ForwardSimulate(path, bestIn, reserveOf)
	if err != nil {
		return bestIn, big.NewInt(0), new(big.Int).Neg(bestIn)
	}
	bestOut = out
	bestProfit = Profit(bestIn, bestOut)

	prevProfit := bestProfit
	for i := 1; i <= RefineSteps; i++ {
		candidateIn := new(big.Int).Add(baseAmountIn, new(big.Int).Mul(stepSize, big.NewInt(int64(i))))
		if candidateIn.Sign() <= 0 {
			continue
		}

		candidateOut, err := ForwardSimulate(path, candidateIn, reserveOf)
		if err != nil {
			break
		}
		candidateProfit := Profit(candidateIn, candidateOut)

		if candidateProfit.Cmp(prevProfit) < 0 {
			break
		}
		if candidateProfit.Cmp(bestProfit) > 0 {
			bestIn, bestOut, bestProfit = candidateIn, candidateOut, candidateProfit
		}
		prevProfit = candidateProfit
	}

	return bestIn, bestOut, bestProfit
}
