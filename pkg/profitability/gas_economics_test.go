package profitability

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOptimalGasPriceEscalatesThroughTiersAndClamps(t *testing.T) {
	params := GasPriceParams{
		LowMultiplier:  big.NewRat(3, 10),
		MidMultiplier:  big.NewRat(5, 10),
		HighMultiplier: big.NewRat(9, 10),
		LowThreshold:   big.NewInt(25),
		MidThreshold:   big.NewInt(45),
		MaxGasPrice:    big.NewInt(80),
		MinGasPrice:    big.NewInt(1),
	}

	// net profit 100, low multiplier gives 30 > LowThreshold(25), so it
	// escalates to mid (50 > MidThreshold(45)), then high (90), which
	// then gets clamped down to MaxGasPrice(80).
	gp, ok := OptimalGasPrice(big.NewInt(100), nil, 1, big.NewRat(1, 1), params)
	assert.True(t, ok)
	assert.Equal(t, big.NewInt(80), gp)
}

func TestOptimalGasPriceStaysAtLowTierWhenBelowThreshold(t *testing.T) {
	params := GasPriceParams{
		LowMultiplier:  big.NewRat(3, 10),
		MidMultiplier:  big.NewRat(5, 10),
		HighMultiplier: big.NewRat(9, 10),
		LowThreshold:   big.NewInt(1000),
		MidThreshold:   big.NewInt(2000),
		MaxGasPrice:    big.NewInt(1_000_000),
		MinGasPrice:    big.NewInt(1),
	}

	gp, ok := OptimalGasPrice(big.NewInt(100), nil, 1, big.NewRat(1, 1), params)
	assert.True(t, ok)
	assert.Equal(t, big.NewInt(30), gp)
}

func TestOptimalGasPriceSubtractsBurnerCostBeforeComputing(t *testing.T) {
	params := GasPriceParams{
		LowMultiplier: big.NewRat(1, 1),
		MaxGasPrice:   big.NewInt(1_000_000),
		MinGasPrice:   big.NewInt(1),
	}

	gp, ok := OptimalGasPrice(big.NewInt(100), big.NewInt(40), 1, big.NewRat(1, 1), params)
	assert.True(t, ok)
	assert.Equal(t, big.NewInt(60), gp)
}

func TestOptimalGasPriceRejectsBelowMinimum(t *testing.T) {
	params := GasPriceParams{
		LowMultiplier: big.NewRat(1, 100),
		MaxGasPrice:   big.NewInt(1_000_000),
		MinGasPrice:   big.NewInt(50),
	}

	_, ok := OptimalGasPrice(big.NewInt(100), nil, 1, big.NewRat(1, 1), params)
	assert.False(t, ok)
}

func TestOptimalGasPriceRejectsWhenBurnerCostConsumesAllProfit(t *testing.T) {
	params := GasPriceParams{LowMultiplier: big.NewRat(1, 1), MaxGasPrice: big.NewInt(1000), MinGasPrice: big.NewInt(1)}

	_, ok := OptimalGasPrice(big.NewInt(100), big.NewInt(100), 1, big.NewRat(1, 1), params)
	assert.False(t, ok)
}

func TestMeetsProfitFloor(t *testing.T) {
	one := big.NewRat(1, 1)

	assert.True(t, MeetsProfitFloor(big.NewInt(100), one, nil))
	assert.True(t, MeetsProfitFloor(big.NewInt(100), one, big.NewInt(0)))
	assert.True(t, MeetsProfitFloor(big.NewInt(100), one, big.NewInt(100)))
	assert.False(t, MeetsProfitFloor(big.NewInt(99), one, big.NewInt(100)))
	assert.False(t, MeetsProfitFloor(nil, one, big.NewInt(1)))
	assert.False(t, MeetsProfitFloor(big.NewInt(-5), one, big.NewInt(1)))

	// A token worth half a wei each: 300 token units = 600 native wei.
	half := big.NewRat(1, 2)
	assert.True(t, MeetsProfitFloor(big.NewInt(300), half, big.NewInt(600)))
	assert.False(t, MeetsProfitFloor(big.NewInt(300), half, big.NewInt(601)))
}
