// Package util holds the bignum and byte-packing primitives the
// profitability engine and calldata codec are built from: address
// shifting, fixed-width hex encoding, and the virtual-reserve math for
// constant-product pools.
package util

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ShiftAddress left-shifts an address by one bit and returns it as a
// 21-byte (42 hex char) zero-padded string without a 0x prefix. The
// freed high bit is where the calldata codec stores per-hop router
// flags, since every real address already fits in 160 bits.
func ShiftAddress(addr common.Address) string {
	v := new(big.Int).SetBytes(addr.Bytes())
	v.Lsh(v, 1)
	return fmt.Sprintf("%042x", v)
}

// UnshiftAddress is the inverse of ShiftAddress: given the 21-byte
// shifted hex string, recover the checksummed address.
func UnshiftAddress(shiftedHex string) common.Address {
	v := new(big.Int)
	v.SetString(shiftedHex, 16)
	v.Rsh(v, 1)
	b := v.Bytes()
	var addr common.Address
	// left-pad into the low bytes of the 20-byte address
	copy(addr[20-len(b):], b)
	return addr
}

// ToHexUint112 zero-pads num to 112 bits (28 hex chars). It does not
// check that num actually fits in 112 bits; callers that might exceed
// it are expected to have already scaled down.
func ToHexUint112(num *big.Int) string {
	return fmt.Sprintf("%028x", num)
}

// ToHexUint16 zero-pads num to 16 bits (4 hex chars).
func ToHexUint16(num uint16) string {
	return fmt.Sprintf("%04x", num)
}

// ToHexUint8 zero-pads num to 8 bits (2 hex chars).
func ToHexUint8(num uint8) string {
	return fmt.Sprintf("%02x", num)
}

// BoolToHexUint8 packs a boolean into a single hex byte, matching the
// is_0_in / same-token flags the codec embeds alongside amounts.
func BoolToHexUint8(b bool) string {
	if b {
		return "01"
	}
	return "00"
}
