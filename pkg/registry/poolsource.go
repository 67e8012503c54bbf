package registry

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/MedTrebor/uniswapv2-arbitrage-bot/pkg/types"
)

// PoolSource is the on-chain read surface fetch_new_pools/refresh_all
// need: a factory's pool count and per-index pool address, a pool's
// token pair, and batched reserve/fee lookups. Every method here
// represents one batched multicall (or manual JSON-RPC batch); a
// failed call is the registry's cue to halve its input and retry, not
// to fail the whole tick.
type PoolSource interface {
	AllPairsLength(ctx context.Context, factory common.Address) (uint64, error)
	AllPairsAt(ctx context.Context, factory common.Address, indices []uint64) ([]common.Address, error)
	Tokens(ctx context.Context, pools []common.Address) (map[common.Address][2]common.Address, error)
	Reserves(ctx context.Context, pools []common.Address) (map[common.Address][2]*big.Int, error)
	SwapFees(ctx context.Context, pools []common.Address) (map[common.Address]uint16, error)
	FactoryPairFees(ctx context.Context, factory common.Address, pools []common.Address) (map[common.Address]uint16, error)
}

// FactorySpec configures one tracked UniswapV2-style factory: its
// address, the router its pools settle through, and how its pools'
// swap fee is sourced.
type FactorySpec struct {
	Address  common.Address
	Router   common.Address
	FeeKind  types.FeeKind
	FixedFee uint16 // used when FeeKind == types.FeeFixed
}

const factoryABIJSON = `[
	{"type":"function","name":"allPairsLength","stateMutability":"view","inputs":[],"outputs":[{"type":"uint256"}]},
	{"type":"function","name":"allPairs","stateMutability":"view","inputs":[{"type":"uint256"}],"outputs":[{"type":"address"}]},
	{"type":"function","name":"getPairFees","stateMutability":"view","inputs":[{"type":"address"}],"outputs":[{"type":"uint16"}]}
]`

const pairABIJSON = `[
	{"type":"function","name":"token0","stateMutability":"view","inputs":[],"outputs":[{"type":"address"}]},
	{"type":"function","name":"token1","stateMutability":"view","inputs":[],"outputs":[{"type":"address"}]},
	{"type":"function","name":"getReserves","stateMutability":"view","inputs":[],"outputs":[{"type":"uint112"},{"type":"uint112"},{"type":"uint32"}]},
	{"type":"function","name":"swapFee","stateMutability":"view","inputs":[],"outputs":[{"type":"uint16"}]}
]`

// EthPoolSource implements PoolSource against a live chain over a raw
// JSON-RPC client, batching every multi-address lookup into a single
// eth_call round trip the same way pkg/rpcfabric.GetMultipleTxs/GetCodes
// hand-batch eth_getTransactionByHash/eth_getCode.
type EthPoolSource struct {
	rpc        *rpc.Client
	factoryABI abi.ABI
	pairABI    abi.ABI
}

// NewEthPoolSource builds an EthPoolSource over rpcClient.
func NewEthPoolSource(rpcClient *rpc.Client) (*EthPoolSource, error) {
	factoryABI, err := abi.JSON(strings.NewReader(factoryABIJSON))
	if err != nil {
		return nil, fmt.Errorf("registry: parse factory abi: %w", err)
	}
	pairABI, err := abi.JSON(strings.NewReader(pairABIJSON))
	if err != nil {
		return nil, fmt.Errorf("registry: parse pair abi: %w", err)
	}
	return &EthPoolSource{rpc: rpcClient, factoryABI: factoryABI, pairABI: pairABI}, nil
}

// decodePoolSwapFee converts a pair's own swapFee() reading into the
// FeeDenominator-scaled keep-rate: 10_000 - swapFee*10.
func decodePoolSwapFee(raw uint16) uint16 {
	return uint16(types.FeeDenominator - int(raw)*10)
}

// decodeFactoryPairFee converts a factory's getPairFees(pool) reading
// into the FeeDenominator-scaled keep-rate: 10_000 - getPairFees(pool).
func decodeFactoryPairFee(raw uint16) uint16 {
	return uint16(types.FeeDenominator - int(raw))
}

type ethCall struct {
	to   common.Address
	data []byte
}

// batchCall packs calls into a single eth_call batch over s.rpc,
// returning the raw response bytes in the same order. The caller is
// responsible for halving and retrying on error.
func (s *EthPoolSource) batchCall(ctx context.Context, calls []ethCall) ([][]byte, error) {
	if len(calls) == 0 {
		return nil, nil
	}

	elems := make([]rpc.BatchElem, len(calls))
	results := make([]hexutil.Bytes, len(calls))
	for i, c := range calls {
		elems[i] = rpc.BatchElem{
			Method: "eth_call",
			Args:   []interface{}{map[string]interface{}{"to": c.to, "data": hexutil.Bytes(c.data)}, "latest"},
			Result: &results[i],
		}
	}
	if err := s.rpc.BatchCallContext(ctx, elems); err != nil {
		return nil, fmt.Errorf("registry: batch eth_call: %w", err)
	}
	out := make([][]byte, len(calls))
	for i, e := range elems {
		if e.Error != nil {
			return nil, fmt.Errorf("registry: eth_call element %d: %w", i, e.Error)
		}
		out[i] = results[i]
	}
	return out, nil
}

func (s *EthPoolSource) AllPairsLength(ctx context.Context, factory common.Address) (uint64, error) {
	data, err := s.factoryABI.Pack("allPairsLength")
	if err != nil {
		return 0, fmt.Errorf("registry: pack allPairsLength: %w", err)
	}
	resp, err := s.batchCall(ctx, []ethCall{{to: factory, data: data}})
	if err != nil {
		return 0, err
	}
	outs, err := s.factoryABI.Unpack("allPairsLength", resp[0])
	if err != nil || len(outs) == 0 {
		return 0, fmt.Errorf("registry: unpack allPairsLength: %w", err)
	}
	n, ok := outs[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("registry: unexpected allPairsLength return type")
	}
	return n.Uint64(), nil
}

func (s *EthPoolSource) AllPairsAt(ctx context.Context, factory common.Address, indices []uint64) ([]common.Address, error) {
	calls := make([]ethCall, len(indices))
	for i, idx := range indices {
		data, err := s.factoryABI.Pack("allPairs", new(big.Int).SetUint64(idx))
		if err != nil {
			return nil, fmt.Errorf("registry: pack allPairs(%d): %w", idx, err)
		}
		calls[i] = ethCall{to: factory, data: data}
	}
	resp, err := s.batchCall(ctx, calls)
	if err != nil {
		return nil, err
	}

	out := make([]common.Address, len(indices))
	for i, raw := range resp {
		outs, err := s.factoryABI.Unpack("allPairs", raw)
		if err != nil || len(outs) == 0 {
			return nil, fmt.Errorf("registry: unpack allPairs(%d): %w", indices[i], err)
		}
		addr, ok := outs[0].(common.Address)
		if !ok {
			return nil, fmt.Errorf("registry: unexpected allPairs return type")
		}
		out[i] = addr
	}
	return out, nil
}

func (s *EthPoolSource) Tokens(ctx context.Context, pools []common.Address) (map[common.Address][2]common.Address, error) {
	token0Data, err := s.pairABI.Pack("token0")
	if err != nil {
		return nil, fmt.Errorf("registry: pack token0: %w", err)
	}
	token1Data, err := s.pairABI.Pack("token1")
	if err != nil {
		return nil, fmt.Errorf("registry: pack token1: %w", err)
	}

	calls := make([]ethCall, 0, len(pools)*2)
	for _, p := range pools {
		calls = append(calls, ethCall{to: p, data: token0Data}, ethCall{to: p, data: token1Data})
	}
	resp, err := s.batchCall(ctx, calls)
	if err != nil {
		return nil, err
	}

	out := make(map[common.Address][2]common.Address, len(pools))
	for i, p := range pools {
		t0Outs, err := s.pairABI.Unpack("token0", resp[2*i])
		if err != nil || len(t0Outs) == 0 {
			return nil, fmt.Errorf("registry: unpack token0 for %s: %w", p, err)
		}
		t1Outs, err := s.pairABI.Unpack("token1", resp[2*i+1])
		if err != nil || len(t1Outs) == 0 {
			return nil, fmt.Errorf("registry: unpack token1 for %s: %w", p, err)
		}
		out[p] = [2]common.Address{t0Outs[0].(common.Address), t1Outs[0].(common.Address)}
	}
	return out, nil
}

func (s *EthPoolSource) Reserves(ctx context.Context, pools []common.Address) (map[common.Address][2]*big.Int, error) {
	data, err := s.pairABI.Pack("getReserves")
	if err != nil {
		return nil, fmt.Errorf("registry: pack getReserves: %w", err)
	}
	calls := make([]ethCall, len(pools))
	for i, p := range pools {
		calls[i] = ethCall{to: p, data: data}
	}
	resp, err := s.batchCall(ctx, calls)
	if err != nil {
		return nil, err
	}

	out := make(map[common.Address][2]*big.Int, len(pools))
	for i, p := range pools {
		outs, err := s.pairABI.Unpack("getReserves", resp[i])
		if err != nil || len(outs) < 2 {
			return nil, fmt.Errorf("registry: unpack getReserves for %s: %w", p, err)
		}
		r0, ok0 := outs[0].(*big.Int)
		r1, ok1 := outs[1].(*big.Int)
		if !ok0 || !ok1 {
			return nil, fmt.Errorf("registry: unexpected getReserves return types for %s", p)
		}
		out[p] = [2]*big.Int{r0, r1}
	}
	return out, nil
}

func (s *EthPoolSource) SwapFees(ctx context.Context, pools []common.Address) (map[common.Address]uint16, error) {
	data, err := s.pairABI.Pack("swapFee")
	if err != nil {
		return nil, fmt.Errorf("registry: pack swapFee: %w", err)
	}
	calls := make([]ethCall, len(pools))
	for i, p := range pools {
		calls[i] = ethCall{to: p, data: data}
	}
	resp, err := s.batchCall(ctx, calls)
	if err != nil {
		return nil, err
	}

	out := make(map[common.Address]uint16, len(pools))
	for i, p := range pools {
		outs, err := s.pairABI.Unpack("swapFee", resp[i])
		if err != nil || len(outs) == 0 {
			return nil, fmt.Errorf("registry: unpack swapFee for %s: %w", p, err)
		}
		raw, ok := outs[0].(uint16)
		if !ok {
			return nil, fmt.Errorf("registry: unexpected swapFee return type for %s", p)
		}
		out[p] = decodePoolSwapFee(raw)
	}
	return out, nil
}

func (s *EthPoolSource) FactoryPairFees(ctx context.Context, factory common.Address, pools []common.Address) (map[common.Address]uint16, error) {
	calls := make([]ethCall, len(pools))
	for i, p := range pools {
		data, err := s.factoryABI.Pack("getPairFees", p)
		if err != nil {
			return nil, fmt.Errorf("registry: pack getPairFees(%s): %w", p, err)
		}
		calls[i] = ethCall{to: factory, data: data}
	}
	resp, err := s.batchCall(ctx, calls)
	if err != nil {
		return nil, err
	}

	out := make(map[common.Address]uint16, len(pools))
	for i, p := range pools {
		outs, err := s.factoryABI.Unpack("getPairFees", resp[i])
		if err != nil || len(outs) == 0 {
			return nil, fmt.Errorf("registry: unpack getPairFees for %s: %w", p, err)
		}
		raw, ok := outs[0].(uint16)
		if !ok {
			return nil, fmt.Errorf("registry: unexpected getPairFees return type for %s", p)
		}
		out[p] = decodeFactoryPairFee(raw)
	}
	return out, nil
}
