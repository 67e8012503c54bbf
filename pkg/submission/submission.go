// Package submission turns an accepted arbitrage candidate into a
// signed transaction, runs it through a multi-node gas-estimation
// quorum, and races the broadcast across the RPC fabric. It ties
// together pkg/codec (calldata), pkg/profitability (gas pricing and
// burner economics) and pkg/rpcfabric (the actual network fan-out).
package submission

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/MedTrebor/uniswapv2-arbitrage-bot/pkg/codec"
	"github.com/MedTrebor/uniswapv2-arbitrage-bot/pkg/contractclient"
	"github.com/MedTrebor/uniswapv2-arbitrage-bot/pkg/profitability"
	"github.com/MedTrebor/uniswapv2-arbitrage-bot/pkg/rpcfabric"
	"github.com/MedTrebor/uniswapv2-arbitrage-bot/pkg/types"
	"github.com/MedTrebor/uniswapv2-arbitrage-bot/pkg/util"
)

// Envelope is a fully-built submission: the packed calldata plus the
// gas parameters chosen for it.
type Envelope struct {
	Calldata    string
	GasLimit    uint64
	GasPrice    *big.Int
	BurnerCount int
	// Burners is the explicit burner list packed into Calldata, if any,
	// so a rejected submission can return them to the pool.
	Burners []common.Address
}

// BuildEnvelope packs candidate's path into calldata and computes the
// gas price to bid using profitability.OptimalGasPrice: netGas (the
// gas usage OptimalBurnerCount found minimizes cost across 0..maxBurners
// burners, inclusive of their own SSTORE/refund economics) drives the
// gas_usage term, and weiPrice converts a wei of gas into the units
// candidate.Profit is denominated in. burners, if non-empty, are packed
// into the calldata tail; otherwise burnerMode controls whether the
// bare burner flag is appended.
func BuildEnvelope(candidate *types.ArbitrageCandidate, feeOf func(common.Address) uint16, gasLimits util.GasLimitTable, baseGas uint64, maxBurners int, weiPrice *big.Rat, params profitability.GasPriceParams, burners []common.Address, burnerMode bool) (*Envelope, error) {
	path := candidate.Path
	hops := codec.HopsFromPath(path, feeOf)

	burnerCount, netGas := profitability.OptimalBurnerCount(baseGas, maxBurners)
	if len(burners) > 0 {
		burnerCount = len(burners)
	}

	txCost := new(big.Int).Set(candidate.GasEstimate)
	tokenIn := path.BaseToken()
	firstTokenOut := path.Hops[0].TokenOut
	same := path.SameTokenOut()

	var tokenOut common.Address
	if !same {
		tokenOut = path.Hops[len(path.Hops)-1].TokenOut
	}

	calldata, err := codec.Encode(hops, candidate.AmountIn, txCost, tokenIn, firstTokenOut, tokenOut, same, burners, burnerMode)
	if err != nil {
		return nil, fmt.Errorf("submission: encode calldata: %w", err)
	}

	gasPrice, ok := profitability.OptimalGasPrice(candidate.Profit, candidate.BurnerCost, netGas, weiPrice, params)
	if !ok {
		return nil, fmt.Errorf("submission: candidate %s isn't profitable at any gas price tier", path.Key())
	}

	// 20% headroom over the table estimate so a slightly deeper trade
	// doesn't revert out-of-gas on a limit tuned for the common case.
	gasLimit := gasLimits.Lookup(len(path.Hops), burnerCount > 0)
	gasLimit = (gasLimit*12 + 9) / 10

	return &Envelope{
		Calldata:    calldata,
		GasLimit:    gasLimit,
		GasPrice:    gasPrice,
		BurnerCount: burnerCount,
		Burners:     burners,
	}, nil
}

// Pipeline drives estimate-then-broadcast for one candidate against a
// pool of RPC nodes via rpcfabric.Fabric and a signing ContractClient.
type Pipeline struct {
	Fabric *rpcfabric.Fabric
	Client contractclient.ContractClient
	Sender common.Address
	Key    *ecdsa.PrivateKey
	TxKind types.TxKind
	// To is the executor contract address estimateGas is run against.
	To common.Address
	// Nonces tracks the sender's nonce locally so rejected candidates
	// roll the counter back instead of burning a nonce per rejection.
	Nonces NonceManager
}

// EstimateQuorum streams a real eth_estimateGas for env's calldata
// across every node in the fabric and classifies the outcome as soon as
// any verdict reaches confirms agreeing nodes:
//
//   - confirms nodes report a still-profitable gas estimate, and
//     deadline hasn't passed -> Accepted;
//   - confirms nodes report an unprofitable estimate -> NotProfitable;
//   - confirms nodes error -> the last RPC error is returned;
//   - deadline passes while results are still trickling in ->
//     LateTransaction;
//   - every node answers with no verdict reaching confirms ->
//     MixedEstimation.
//
// A zero deadline disables the time gate. profitableAt is called with
// each node's own estimate to decide whether the candidate would still
// clear a profit if that were the true gas usage.
func (p *Pipeline) EstimateQuorum(ctx context.Context, env *Envelope, profitableAt func(gas uint64) bool, confirms int, deadline time.Time) (types.EstimationOutcome, []rpcfabric.EstimationResult, error) {
	calldata := common.FromHex(env.Calldata)
	msg := ethereum.CallMsg{From: p.Sender, To: &p.To, Data: calldata, GasPrice: env.GasPrice}

	stream := p.Fabric.StreamEstimateGas(ctx, func(ctx context.Context, n *rpcfabric.Node) (uint64, error) {
		return n.Client.EstimateGas(ctx, msg)
	})

	var timeout <-chan time.Time
	if !deadline.IsZero() {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		timeout = timer.C
	}

	var results []rpcfabric.EstimationResult
	var profitables, nonprofitables, errored int
	var lastErr error

	for {
		select {
		case r, ok := <-stream:
			if !ok {
				return types.MixedEstimation, results, nil
			}
			results = append(results, r)
			switch {
			case r.Err != nil:
				errored++
				lastErr = r.Err
			case profitableAt(r.Gas):
				profitables++
			default:
				nonprofitables++
			}

			switch {
			case profitables >= confirms:
				if timeout != nil {
					select {
					case <-timeout:
						return types.LateTransaction, results, nil
					default:
					}
				}
				return types.Accepted, results, nil
			case nonprofitables >= confirms:
				return types.NotProfitable, results, nil
			case errored >= confirms:
				return types.MixedEstimation, results, fmt.Errorf("submission: estimation quorum errored: %w", lastErr)
			}

		case <-timeout:
			return types.LateTransaction, results, nil

		case <-ctx.Done():
			return types.MixedEstimation, results, ctx.Err()
		}
	}
}

// Broadcast signs env's submission once and races the signed payload
// across every fabric node, returning as soon as any node accepts it.
// The nonce is reserved locally up front and rolled back if every node
// rejects; a nonce-drift rejection additionally invalidates the counter
// so the next wave resyncs first.
func (p *Pipeline) Broadcast(ctx context.Context, env *Envelope, method string, args ...interface{}) (common.Hash, error) {
	if err := p.Nonces.EnsureSynced(ctx, p.Client, p.Sender); err != nil {
		return common.Hash{}, fmt.Errorf("submission: sync nonce: %w", err)
	}
	nonce := p.Nonces.Reserve()

	signed, err := p.Client.SignTx(p.TxKind, nonce, new(big.Int).SetUint64(env.GasLimit), env.GasPrice, p.Key, method, args...)
	if err != nil {
		p.Nonces.Rollback(nonce)
		return common.Hash{}, fmt.Errorf("submission: sign: %w", err)
	}

	hash, err := p.Fabric.BatchTransact(ctx, func(ctx context.Context, n *rpcfabric.Node) (common.Hash, error) {
		if err := n.Client.SendTransaction(ctx, signed); err != nil {
			return common.Hash{}, err
		}
		return signed.Hash(), nil
	})
	if err != nil {
		p.Nonces.Rollback(nonce)
		if IsNonceError(err) {
			p.Nonces.Invalidate()
		}
		return common.Hash{}, err
	}
	return hash, nil
}
