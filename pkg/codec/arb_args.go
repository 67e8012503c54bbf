// Package codec packs and unpacks the raw calldata the arbitrage
// executor contract expects: a one-byte selector followed by a tightly
// packed sequence of shifted addresses, fee numerators, and amounts,
// with no ABI encoding overhead.
package codec

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/MedTrebor/uniswapv2-arbitrage-bot/pkg/types"
	"github.com/MedTrebor/uniswapv2-arbitrage-bot/pkg/util"
)

// Selector identifies which of the four calldata shapes a payload uses:
// 2-hop vs 3-hop, and whether the final hop returns to the exact input
// token (same) or a different token that the contract must still swap
// back (the contract then knows to do one more internal conversion).
type Selector uint8

const (
	Selector2HopSame  Selector = 0x01
	Selector2HopOther Selector = 0x02
	Selector3HopSame  Selector = 0x03
	Selector3HopOther Selector = 0x04
)

// ArbArgs is the decoded form of an arbitrage calldata payload.
type ArbArgs struct {
	Selector      Selector
	Pairs         []common.Address
	AmountIn      *big.Int
	FeeNumerators []uint16
	Is0Ins        []bool
	TxCost        *big.Int
	TokenIn       common.Address
	FirstTokenOut common.Address
	TokenOut      common.Address // only set for the "Other" selectors
	Burners       []common.Address
	// BurnerMode is set when the payload carries the bare "01" burner
	// flag instead of an explicit burner list: the contract picks its
	// own burners in that mode.
	BurnerMode bool
}

// hopPacked holds the per-hop reserve-orientation inputs the codec needs:
// which pool, what fee numerator it charges, and whether the swap
// direction matches the pool's token0 (is0In).
type HopPacked struct {
	Pool         common.Address
	FeeNumerator uint16
	Is0In        bool
}

// Encode builds the raw calldata hex string (no 0x prefix) for an
// arbitrage of path, encoding amountIn as the transaction's swap input
// and txCost as the minimum profit the contract should refuse to
// undercut. burners, if non-empty, are appended (length byte plus plain
// 20-byte addresses) so the contract can self-destruct through them for
// the gas refund; with no explicit list, burnerMode appends the bare
// "01" flag telling the contract to pick its own.
func Encode(hops []HopPacked, amountIn, txCost *big.Int, tokenIn, firstTokenOut, tokenOut common.Address, same bool, burners []common.Address, burnerMode bool) (string, error) {
	if len(hops) != 2 && len(hops) != 3 {
		return "", fmt.Errorf("codec: path must have 2 or 3 hops, got %d", len(hops))
	}

	var sb strings.Builder

	var selector Selector
	switch {
	case len(hops) == 2 && same:
		selector = Selector2HopSame
	case len(hops) == 2 && !same:
		selector = Selector2HopOther
	case len(hops) == 3 && same:
		selector = Selector3HopSame
	default:
		selector = Selector3HopOther
	}
	sb.WriteString(util.ToHexUint8(uint8(selector)))

	// hop 0: pair + amount_in + fee_numerator + is_0_in
	sb.WriteString(util.ShiftAddress(hops[0].Pool))
	sb.WriteString(util.ToHexUint112(amountIn))
	sb.WriteString(util.ToHexUint16(hops[0].FeeNumerator))
	sb.WriteString(util.BoolToHexUint8(hops[0].Is0In))

	// hop 1: pair + fee_numerator + is_0_in (no amount; the contract
	// computes it on-chain by reading the previous hop's pool state)
	sb.WriteString(util.ShiftAddress(hops[1].Pool))
	sb.WriteString(util.ToHexUint16(hops[1].FeeNumerator))
	sb.WriteString(util.BoolToHexUint8(hops[1].Is0In))

	if len(hops) == 3 {
		sb.WriteString(util.ShiftAddress(hops[2].Pool))
		sb.WriteString(util.ToHexUint16(hops[2].FeeNumerator))
		sb.WriteString(util.BoolToHexUint8(hops[2].Is0In))
	}

	sb.WriteString(util.ToHexUint112(txCost))
	sb.WriteString(util.ShiftAddress(tokenIn))
	sb.WriteString(util.ShiftAddress(firstTokenOut))

	if !same {
		sb.WriteString(util.ShiftAddress(tokenOut))
	}

	if len(burners) > 0 {
		sb.WriteString(util.ToHexUint8(uint8(len(burners))))
		for _, b := range burners {
			sb.WriteString(hex.EncodeToString(b.Bytes()))
		}
	} else if burnerMode {
		sb.WriteString("01")
	}

	return sb.String(), nil
}

// addrHexLen is the hex-char length of a shifted (21-byte) address.
const addrHexLen = 42

// Decode parses a raw calldata hex string (no 0x prefix) produced by
// Encode back into its structured form. Byte offsets mirror Encode
// exactly: selector (1 byte) -> hop0 pair/amount/fee/is0in -> hop1
// pair/fee/is0in -> [hop2 pair/fee/is0in] -> tx_cost -> token_in ->
// first_token_out -> [token_out] -> [burner_count + burners].
func Decode(calldataHex string) (*ArbArgs, error) {
	calldataHex = strings.TrimPrefix(calldataHex, "0x")
	raw, err := hex.DecodeString(calldataHex)
	if err != nil {
		return nil, fmt.Errorf("codec: invalid hex: %w", err)
	}
	if len(raw) < 1 {
		return nil, fmt.Errorf("codec: empty calldata")
	}

	selector := Selector(raw[0])
	hopCount := 2
	same := selector == Selector2HopSame || selector == Selector3HopSame
	if selector == Selector3HopSame || selector == Selector3HopOther {
		hopCount = 3
	}

	pos := 2 // hex-char cursor, selector is 2 hex chars

	args := &ArbArgs{Selector: selector}

	// hop 0
	pair0 := util.UnshiftAddress(calldataHex[pos : pos+addrHexLen])
	pos += addrHexLen
	amountIn := new(big.Int)
	amountIn.SetString(calldataHex[pos:pos+28], 16)
	pos += 28
	fee0 := parseUint16(calldataHex[pos : pos+4])
	pos += 4
	is0In0 := calldataHex[pos:pos+2] == "01"
	pos += 2

	args.Pairs = append(args.Pairs, pair0)
	args.AmountIn = amountIn
	args.FeeNumerators = append(args.FeeNumerators, fee0)
	args.Is0Ins = append(args.Is0Ins, is0In0)

	// hop 1
	pair1 := util.UnshiftAddress(calldataHex[pos : pos+addrHexLen])
	pos += addrHexLen
	fee1 := parseUint16(calldataHex[pos : pos+4])
	pos += 4
	is0In1 := calldataHex[pos:pos+2] == "01"
	pos += 2
	args.Pairs = append(args.Pairs, pair1)
	args.FeeNumerators = append(args.FeeNumerators, fee1)
	args.Is0Ins = append(args.Is0Ins, is0In1)

	if hopCount == 3 {
		pair2 := util.UnshiftAddress(calldataHex[pos : pos+addrHexLen])
		pos += addrHexLen
		fee2 := parseUint16(calldataHex[pos : pos+4])
		pos += 4
		is0In2 := calldataHex[pos:pos+2] == "01"
		pos += 2
		args.Pairs = append(args.Pairs, pair2)
		args.FeeNumerators = append(args.FeeNumerators, fee2)
		args.Is0Ins = append(args.Is0Ins, is0In2)
	}

	txCost := new(big.Int)
	txCost.SetString(calldataHex[pos:pos+28], 16)
	pos += 28
	args.TxCost = txCost

	args.TokenIn = util.UnshiftAddress(calldataHex[pos : pos+addrHexLen])
	pos += addrHexLen
	args.FirstTokenOut = util.UnshiftAddress(calldataHex[pos : pos+addrHexLen])
	pos += addrHexLen

	if !same {
		args.TokenOut = util.UnshiftAddress(calldataHex[pos : pos+addrHexLen])
		pos += addrHexLen
	}

	if pos < len(calldataHex) {
		remaining := len(calldataHex) - pos
		if remaining == 2 && calldataHex[pos:pos+2] == "01" {
			// bare burner-mode flag, no explicit list
			args.BurnerMode = true
			return args, nil
		}
		burnerCount := parseUint8(calldataHex[pos : pos+2])
		pos += 2
		if remaining-2 != int(burnerCount)*40 {
			return nil, fmt.Errorf("codec: burner tail length %d doesn't match count %d", remaining-2, burnerCount)
		}
		for i := 0; i < int(burnerCount); i++ {
			args.Burners = append(args.Burners, common.HexToAddress(calldataHex[pos:pos+40]))
			pos += 40
		}
	}

	return args, nil
}

func parseUint16(hexStr string) uint16 {
	v := new(big.Int)
	v.SetString(hexStr, 16)
	return uint16(v.Uint64())
}

func parseUint8(hexStr string) uint8 {
	v := new(big.Int)
	v.SetString(hexStr, 16)
	return uint8(v.Uint64())
}

// HopsFromPath converts a types.Path plus a fee/orientation resolver
// into the hopPacked slice Encode expects.
func HopsFromPath(path *types.Path, feeOf func(pool common.Address) uint16) []HopPacked {
	hops := make([]HopPacked, len(path.Hops))
	for i, h := range path.Hops {
		hops[i] = HopPacked{
			Pool:         h.Pool,
			FeeNumerator: feeOf(h.Pool),
			Is0In:        h.Zero,
		}
	}
	return hops
}
