package filterstage

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"

	"github.com/MedTrebor/uniswapv2-arbitrage-bot/pkg/types"
)

func candidate(pools []common.Address, gasPrice int64) *types.ArbitrageCandidate {
	hops := make([]types.Hop, len(pools))
	for i, p := range pools {
		hops[i] = types.Hop{Pool: p}
	}
	return &types.ArbitrageCandidate{
		Path:     &types.Path{Hops: hops},
		GasPrice: big.NewInt(gasPrice),
	}
}

func TestClaimTrackerRejectsPoolCollision(t *testing.T) {
	ct := NewClaimTracker()
	ct.ResetForBlock(1)

	poolA := common.HexToAddress("0x00000000000000000000000000000000000a01")
	poolB := common.HexToAddress("0x00000000000000000000000000000000000a02")

	assert.True(t, ct.TryClaim([]common.Address{poolA}))
	assert.False(t, ct.TryClaim([]common.Address{poolA, poolB}), "must reject since poolA is already claimed")
	assert.True(t, ct.TryClaim([]common.Address{poolB}))
}

func TestClaimTrackerResetsOnNewBlock(t *testing.T) {
	ct := NewClaimTracker()
	poolA := common.HexToAddress("0x00000000000000000000000000000000000a01")

	ct.ResetForBlock(1)
	assert.True(t, ct.TryClaim([]common.Address{poolA}))

	ct.ResetForBlock(2)
	assert.True(t, ct.TryClaim([]common.Address{poolA}), "claims must reset across blocks")
}

func TestMaxGasPriceFilterRejectsAboveCeiling(t *testing.T) {
	f := &MaxGasPriceFilter{Ceiling: big.NewInt(100)}
	assert.True(t, f.Accept(candidate(nil, 100)))
	assert.False(t, f.Accept(candidate(nil, 101)))
}

func TestApplyCombinesBothFilters(t *testing.T) {
	ct := NewClaimTracker()
	ct.ResetForBlock(1)
	priceFilter := &MaxGasPriceFilter{Ceiling: big.NewInt(50)}

	poolA := common.HexToAddress("0x00000000000000000000000000000000000a01")
	poolB := common.HexToAddress("0x00000000000000000000000000000000000a02")

	cands := []*types.ArbitrageCandidate{
		candidate([]common.Address{poolA}, 10),
		candidate([]common.Address{poolA}, 10),  // collides with the first
		candidate([]common.Address{poolB}, 999), // over the price ceiling
	}

	survivors := Apply(cands, ct, priceFilter)
	assert.Len(t, survivors, 1)
	assert.Equal(t, cands[0], survivors[0])
}
