package submission

import (
	"context"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/MedTrebor/uniswapv2-arbitrage-bot/pkg/contractclient"
)

// NonceManager tracks the executor account's next nonce locally, so a
// rejected estimation quorum can roll the counter back instead of
// leaving a gap the chain would stall on. It lazily resyncs from the
// node's pending view the first time it's used and again whenever a
// broadcast error indicates the local counter has drifted.
type NonceManager struct {
	mu     sync.Mutex
	next   uint64
	synced bool
}

// Reserve returns the next nonce and advances the counter. The caller
// must either broadcast a transaction with it or Rollback.
func (m *NonceManager) Reserve() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.next
	m.next++
	return n
}

// Rollback returns a reserved nonce. Only the most recent reservation
// can be rolled back; anything older has been superseded and rolling it
// back would double-spend the nonce in between.
func (m *NonceManager) Rollback(nonce uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.next == nonce+1 {
		m.next = nonce
	}
}

// Sync sets the counter from the node's pending-nonce view.
func (m *NonceManager) Sync(nonce uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next = nonce
	m.synced = true
}

// Invalidate forces the next EnsureSynced call to refetch from a node,
// used after a "nonce too low"-class broadcast error.
func (m *NonceManager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.synced = false
}

// EnsureSynced resyncs from client's pending view if the local counter
// has never been set or was invalidated by a broadcast error.
func (m *NonceManager) EnsureSynced(ctx context.Context, client contractclient.ContractClient, account common.Address) error {
	m.mu.Lock()
	synced := m.synced
	m.mu.Unlock()
	if synced {
		return nil
	}
	nonce, err := client.PendingNonce(ctx, account)
	if err != nil {
		return err
	}
	m.Sync(nonce)
	return nil
}

// IsNonceError reports whether err looks like one of the node-side
// nonce/replacement rejections ("nonce too low", "already known",
// "replacement transaction underpriced") that mean the local counter
// has drifted and the submission wave should stop until it resyncs.
func IsNonceError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "nonce too low") ||
		strings.Contains(msg, "already known") ||
		strings.Contains(msg, "underpriced")
}
