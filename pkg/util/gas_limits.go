package util

// GasLimitTable holds per-path-length gas limit estimates, keyed the
// same way the on-chain batch checker keys its calldata chunks: by
// 2*hopCount+1, so 2-hop paths live at key 5 and 3-hop paths at key 7.
// The +1 slack accounts for the extra SSTORE a burner-refund write adds.
type GasLimitTable map[int]uint64

// DefaultGasLimitTable returns conservative starting estimates for 2-hop
// and 3-hop paths, with and without a burner present. These are meant to
// be overwritten by GasLimitErrorStats-driven recalibration once the bot
// has live revert data for a chain.
func DefaultGasLimitTable() GasLimitTable {
	return GasLimitTable{
		5: 220_000, // 2-hop, no burner
		6: 237_000, // 2-hop, with burner (approx +6,434 minus cleared-slot refund)
		7: 310_000, // 3-hop, no burner
		8: 327_000, // 3-hop, with burner
	}
}

// Key returns the lookup key for a path of hopCount hops, with or
// without a burner address attached.
func Key(hopCount int, withBurner bool) int {
	k := 2*hopCount + 1
	if withBurner {
		k++
	}
	return k
}

// Lookup returns the gas limit for the given path shape, falling back
// to the largest configured limit if the exact shape isn't present
// (erring toward a safe overestimate rather than underestimating and
// causing an out-of-gas revert).
func (t GasLimitTable) Lookup(hopCount int, withBurner bool) uint64 {
	if v, ok := t[Key(hopCount, withBurner)]; ok {
		return v
	}
	var max uint64
	for _, v := range t {
		if v > max {
			max = v
		}
	}
	return max
}
