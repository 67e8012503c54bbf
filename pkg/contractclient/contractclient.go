// Package contractclient wraps a single deployed contract (address +
// ABI) with the read/write/decode operations the rest of the bot needs,
// so every other package works against an interface instead of an
// ethclient directly.
package contractclient

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	bottypes "github.com/MedTrebor/uniswapv2-arbitrage-bot/pkg/types"
)

// ContractClient is the read/write surface every package needs against
// a single deployed contract: calling view methods, sending signed
// transactions, and decoding both sides (outgoing calldata, incoming
// receipts) against the contract's own ABI.
type ContractClient interface {
	// Call performs an eth_call against method with args, returning the
	// ABI-decoded outputs. from is optional (nil means no msg.sender
	// override).
	Call(from *common.Address, method string, args ...interface{}) ([]interface{}, error)

	// Send signs and broadcasts a transaction calling method with args,
	// using kind to pick the transaction envelope and gasLimit as the
	// gas ceiling. gasPrice overrides the node's suggested gas price (or
	// fee cap, for a DynamicFee transaction) when non-nil, letting a
	// caller that already computed its own optimal bid use it instead of
	// whatever the node would otherwise suggest. from is the sender
	// address matching pk.
	Send(kind bottypes.TxKind, gasLimit, gasPrice *big.Int, from *common.Address, pk *ecdsa.PrivateKey, method string, args ...interface{}) (common.Hash, error)

	// SendWithNonce is Send with a caller-supplied nonce instead of a
	// fresh PendingNonceAt lookup, for callers that track the account's
	// nonce locally and roll it back when an estimation quorum rejects
	// the transaction before broadcast.
	SendWithNonce(kind bottypes.TxKind, nonce uint64, gasLimit, gasPrice *big.Int, from *common.Address, pk *ecdsa.PrivateKey, method string, args ...interface{}) (common.Hash, error)

	// PendingNonce returns account's next nonce per the node's pending
	// view, the value a local nonce counter resynchronizes from.
	PendingNonce(ctx context.Context, account common.Address) (uint64, error)

	// SignTx builds and signs the transaction SendWithNonce would have
	// broadcast, without sending it — for callers that ship the signed
	// payload to several nodes themselves.
	SignTx(kind bottypes.TxKind, nonce uint64, gasLimit, gasPrice *big.Int, pk *ecdsa.PrivateKey, method string, args ...interface{}) (*types.Transaction, error)

	// CallRaw performs an eth_call against an arbitrary contract (not
	// necessarily the one this client is bound to), returning the raw
	// response bytes undecoded. Used to call the on-chain batch checker,
	// whose ABI this client doesn't carry.
	CallRaw(ctx context.Context, to common.Address, calldata []byte) ([]byte, error)

	// TransactionData fetches a mined transaction's calldata by hash.
	TransactionData(hash common.Hash) ([]byte, error)

	// DecodeTransaction ABI-decodes raw calldata (selector + args)
	// against this contract's ABI, returning a method-name-keyed map.
	DecodeTransaction(data []byte) (interface{}, error)

	// ParseReceipt looks for this contract's events in receipt's logs
	// and returns a human-readable summary (used for event extraction
	// like minted NFT IDs or swap amounts).
	ParseReceipt(receipt *bottypes.TxReceipt) (string, error)

	// Abi returns the parsed ABI backing this client.
	Abi() abi.ABI

	// ContractAddress returns the address this client is bound to.
	ContractAddress() common.Address
}

// contractClient is the ethclient-backed ContractClient implementation.
type contractClient struct {
	client  *ethclient.Client
	address common.Address
	abi     abi.ABI
}

// NewContractClient binds client to the given contract address and ABI.
func NewContractClient(client *ethclient.Client, address common.Address, contractABI abi.ABI) ContractClient {
	return &contractClient{client: client, address: address, abi: contractABI}
}

func (c *contractClient) Abi() abi.ABI                        { return c.abi }
func (c *contractClient) ContractAddress() common.Address     { return c.address }

func (c *contractClient) Call(from *common.Address, method string, args ...interface{}) ([]interface{}, error) {
	input, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("contractclient: pack %s: %w", method, err)
	}

	callMsg := ethereum.CallMsg{To: &c.address, Data: input}
	if from != nil {
		callMsg.From = *from
	}

	output, err := c.client.CallContract(context.Background(), callMsg, nil)
	if err != nil {
		return nil, fmt.Errorf("contractclient: call %s: %w", method, err)
	}

	outputs, err := c.abi.Unpack(method, output)
	if err != nil {
		return nil, fmt.Errorf("contractclient: unpack %s: %w", method, err)
	}
	return outputs, nil
}

func (c *contractClient) PendingNonce(ctx context.Context, account common.Address) (uint64, error) {
	nonce, err := c.client.PendingNonceAt(ctx, account)
	if err != nil {
		return 0, fmt.Errorf("contractclient: fetch nonce: %w", err)
	}
	return nonce, nil
}

func (c *contractClient) Send(kind bottypes.TxKind, gasLimit, gasPrice *big.Int, from *common.Address, pk *ecdsa.PrivateKey, method string, args ...interface{}) (common.Hash, error) {
	var sender common.Address
	if from != nil {
		sender = *from
	} else {
		sender = crypto.PubkeyToAddress(pk.PublicKey)
	}

	nonce, err := c.PendingNonce(context.Background(), sender)
	if err != nil {
		return common.Hash{}, err
	}
	return c.SendWithNonce(kind, nonce, gasLimit, gasPrice, &sender, pk, method, args...)
}

func (c *contractClient) SendWithNonce(kind bottypes.TxKind, nonce uint64, gasLimit, gasPrice *big.Int, from *common.Address, pk *ecdsa.PrivateKey, method string, args ...interface{}) (common.Hash, error) {
	signed, err := c.SignTx(kind, nonce, gasLimit, gasPrice, pk, method, args...)
	if err != nil {
		return common.Hash{}, err
	}
	if err := c.client.SendTransaction(context.Background(), signed); err != nil {
		return common.Hash{}, fmt.Errorf("contractclient: send tx: %w", err)
	}
	return signed.Hash(), nil
}

func (c *contractClient) SignTx(kind bottypes.TxKind, nonce uint64, gasLimit, gasPrice *big.Int, pk *ecdsa.PrivateKey, method string, args ...interface{}) (*types.Transaction, error) {
	input, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("contractclient: pack %s: %w", method, err)
	}

	ctx := context.Background()

	chainID, err := c.client.NetworkID(ctx)
	if err != nil {
		return nil, fmt.Errorf("contractclient: fetch chain id: %w", err)
	}

	var tx *types.Transaction
	switch kind {
	case bottypes.DynamicFee:
		tip, feeCap := gasPrice, gasPrice
		if gasPrice == nil {
			var tipErr, feeErr error
			tip, tipErr = c.client.SuggestGasTipCap(ctx)
			if tipErr != nil {
				return nil, fmt.Errorf("contractclient: suggest tip: %w", tipErr)
			}
			feeCap, feeErr = c.client.SuggestGasPrice(ctx)
			if feeErr != nil {
				return nil, fmt.Errorf("contractclient: suggest fee cap: %w", feeErr)
			}
		}
		tx = types.NewTx(&types.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     nonce,
			GasTipCap: tip,
			GasFeeCap: feeCap,
			Gas:       gasLimit.Uint64(),
			To:        &c.address,
			Data:      input,
		})
	default:
		price := gasPrice
		if price == nil {
			var priceErr error
			price, priceErr = c.client.SuggestGasPrice(ctx)
			if priceErr != nil {
				return nil, fmt.Errorf("contractclient: suggest gas price: %w", priceErr)
			}
		}
		tx = types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: price,
			Gas:      gasLimit.Uint64(),
			To:       &c.address,
			Data:     input,
		})
	}

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), pk)
	if err != nil {
		return nil, fmt.Errorf("contractclient: sign tx: %w", err)
	}

	return signed, nil
}

func (c *contractClient) CallRaw(ctx context.Context, to common.Address, calldata []byte) ([]byte, error) {
	output, err := c.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: calldata}, nil)
	if err != nil {
		return nil, fmt.Errorf("contractclient: raw call %s: %w", to.Hex(), err)
	}
	return output, nil
}

func (c *contractClient) TransactionData(hash common.Hash) ([]byte, error) {
	tx, _, err := c.client.TransactionByHash(context.Background(), hash)
	if err != nil {
		return nil, fmt.Errorf("contractclient: fetch tx %s: %w", hash.Hex(), err)
	}
	return tx.Data(), nil
}

func (c *contractClient) DecodeTransaction(data []byte) (interface{}, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("contractclient: calldata too short to contain a selector")
	}

	method, err := c.abi.MethodById(data[:4])
	if err != nil {
		return nil, fmt.Errorf("contractclient: unknown selector 0x%x: %w", data[:4], err)
	}

	args := make(map[string]interface{})
	if err := method.Inputs.UnpackIntoMap(args, data[4:]); err != nil {
		return nil, fmt.Errorf("contractclient: unpack args for %s: %w", method.Name, err)
	}

	return map[string]interface{}{
		"method": method.Name,
		"args":   args,
	}, nil
}

func (c *contractClient) ParseReceipt(receipt *bottypes.TxReceipt) (string, error) {
	if receipt == nil {
		return "", fmt.Errorf("contractclient: nil receipt")
	}
	if !receipt.Succeeded() {
		return "", fmt.Errorf("contractclient: transaction %s reverted", receipt.TransactionHash)
	}

	for _, log := range receipt.Logs {
		if log.Address != c.address {
			continue
		}
		if len(log.Topics) == 0 {
			continue
		}
		event, err := c.abi.EventByID(log.Topics[0])
		if err != nil {
			continue
		}
		return event.Name, nil
	}
	return "", fmt.Errorf("contractclient: no recognizable event for %s in receipt", c.address.Hex())
}
