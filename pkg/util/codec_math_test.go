package util

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
)

func TestShiftUnshiftAddressRoundTrip(t *testing.T) {
	addrs := []string{
		"0x0000000000000000000000000000000000000001",
		"0xb4dd4fb3d4bced984cce972991fb100488b59223"[:42],
		"0xffffffffffffffffffffffffffffffffffffffff",
	}
	for _, a := range addrs {
		t.Run(a, func(t *testing.T) {
			addr := common.HexToAddress(a)
			shifted := ShiftAddress(addr)
			assert.Len(t, shifted, 42, "shifted address must be 21 bytes of hex")

			back := UnshiftAddress(shifted)
			assert.Equal(t, addr, back)
		})
	}
}

func TestToHexUint112ZeroPads(t *testing.T) {
	got := ToHexUint112(big.NewInt(1))
	assert.Len(t, got, 28)
	assert.Equal(t, "0000000000000000000000000001", got)
}

func TestToHexUint16And8(t *testing.T) {
	assert.Equal(t, "01f4", ToHexUint16(500))
	assert.Equal(t, "01", ToHexUint8(1))
	assert.Equal(t, "00", BoolToHexUint8(false))
	assert.Equal(t, "01", BoolToHexUint8(true))
}
