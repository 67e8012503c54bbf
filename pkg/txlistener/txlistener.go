// Package txlistener polls for a transaction's receipt until it's mined
// or a timeout elapses, insulating callers from dealing with
// eth_getTransactionReceipt's "not found yet" response directly.
package txlistener

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	bottypes "github.com/MedTrebor/uniswapv2-arbitrage-bot/pkg/types"
)

// ErrTimeout is returned by WaitForTransaction when the configured
// timeout elapses before a receipt appears.
var ErrTimeout = errors.New("txlistener: timed out waiting for transaction receipt")

// TxListener waits for transactions to be mined and returns their
// receipts.
type TxListener interface {
	WaitForTransaction(hash common.Hash) (*bottypes.TxReceipt, error)
}

// txListener polls via the underlying ethclient's RPC client, since
// ethclient.Client doesn't expose a typed TransactionReceipt call that
// tolerates "not found" without returning an error callers must special-case.
type txListener struct {
	client       *ethclient.Client
	pollInterval time.Duration
	timeout      time.Duration
}

// Option configures a TxListener at construction time.
type Option func(*txListener)

// WithPollInterval sets how often the listener polls for a receipt.
// Defaults to 2 seconds if never set.
func WithPollInterval(d time.Duration) Option {
	return func(l *txListener) { l.pollInterval = d }
}

// WithTimeout sets the maximum time to wait before giving up. Defaults
// to 5 minutes if never set.
func WithTimeout(d time.Duration) Option {
	return func(l *txListener) { l.timeout = d }
}

// NewTxListener builds a TxListener bound to client, applying any
// supplied Options over the defaults.
func NewTxListener(client *ethclient.Client, opts ...Option) TxListener {
	l := &txListener{
		client:       client,
		pollInterval: 2 * time.Second,
		timeout:      5 * time.Minute,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// WaitForTransaction blocks, polling at pollInterval, until hash's
// receipt is available or timeout elapses.
func (l *txListener) WaitForTransaction(hash common.Hash) (*bottypes.TxReceipt, error) {
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := l.fetchReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereumNotFound) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ErrTimeout
		case <-ticker.C:
		}
	}
}

// ethereumNotFound is a sentinel the fetch path maps "receipt doesn't
// exist yet" onto, distinguishing it from a real RPC failure worth
// surfacing immediately.
var ethereumNotFound = errors.New("txlistener: receipt not found")

func (l *txListener) fetchReceipt(ctx context.Context, hash common.Hash) (*bottypes.TxReceipt, error) {
	var raw json.RawMessage
	err := l.client.Client().CallContext(ctx, &raw, "eth_getTransactionReceipt", hash)
	if err != nil {
		var rpcErr rpc.Error
		if errors.As(err, &rpcErr) {
			return nil, fmt.Errorf("txlistener: rpc error fetching receipt: %w", err)
		}
		return nil, fmt.Errorf("txlistener: fetch receipt: %w", err)
	}
	if raw == nil || string(raw) == "null" {
		return nil, ethereumNotFound
	}

	var receipt bottypes.TxReceipt
	if err := json.Unmarshal(raw, &receipt); err != nil {
		return nil, fmt.Errorf("txlistener: decode receipt: %w", err)
	}
	return &receipt, nil
}
