// Package rpcfabric fans requests out across a pool of RPC endpoints:
// round-robin reads, quorum-based gas estimation, and race-to-first-
// success broadcast for transaction submission. It's the Go analogue
// of a Python Web3 wrapper built around a ThreadPoolExecutor, except
// here every node gets its own goroutine and results come back over a
// channel instead of a future.
package rpcfabric

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/MedTrebor/uniswapv2-arbitrage-bot/pkg/types"
)

// Node is one endpoint in the fabric: its ethclient plus the raw RPC
// client needed for manual batch calls (eth_getTransactionByHash,
// eth_getCode) that ethclient doesn't expose directly.
type Node struct {
	URL    string
	Client *ethclient.Client
	RPC    *rpc.Client
}

// rateLimiter enforces a minimum spacing between calls by sleeping off
// whatever remains of the previous call's window. A zero interval
// disables it.
type rateLimiter struct {
	mu   sync.Mutex
	last time.Time
	min  time.Duration
}

func (l *rateLimiter) wait() {
	if l.min <= 0 {
		return
	}
	l.mu.Lock()
	sleep := l.min - time.Since(l.last)
	if sleep > 0 {
		l.last = l.last.Add(l.min)
	} else {
		l.last = time.Now()
	}
	l.mu.Unlock()
	if sleep > 0 {
		time.Sleep(sleep)
	}
}

// Fabric holds every configured RPC node. Unlike a singleton Web3
// wrapper, Fabric is just a struct built once at boot and passed to
// whichever goroutines need it — nothing here is global state.
type Fabric struct {
	nodes    []*Node
	syncNode *Node
	rrIndex  uint64

	// pollLimit throttles round-robin reads across the whole fabric;
	// syncLimit throttles the sync node separately (block-number polls
	// and log pulls hit the same endpoint, so they share one budget).
	pollLimit rateLimiter
	syncLimit rateLimiter

	breaker *CircuitBreaker
}

// New builds a Fabric from already-dialed nodes. syncNode is used for
// the periodic cross-node block-height health check; if nil, nodes[0]
// is used.
func New(nodes []*Node, syncNode *Node) *Fabric {
	if syncNode == nil && len(nodes) > 0 {
		syncNode = nodes[0]
	}
	return &Fabric{
		nodes:    nodes,
		syncNode: syncNode,
		breaker:  NewCircuitBreaker(5*time.Minute, 5),
	}
}

// SetRateLimits configures the minimum spacing between round-robin
// reads (poll) and between sync-node calls (sync). Zero disables either.
func (f *Fabric) SetRateLimits(poll, sync time.Duration) {
	f.pollLimit.min = poll
	f.syncLimit.min = sync
}

// Next returns the next node in round-robin order, waiting out the poll
// rate limiter first.
func (f *Fabric) Next() *Node {
	if len(f.nodes) == 0 {
		return nil
	}
	f.pollLimit.wait()
	i := atomic.AddUint64(&f.rrIndex, 1)
	return f.nodes[int(i)%len(f.nodes)]
}

// SyncBlockNumber returns the designated sync node's current block
// height, the signal the driver's scan loop waits on to advance to the
// next block.
func (f *Fabric) SyncBlockNumber(ctx context.Context) (uint64, error) {
	if f.syncNode == nil {
		return 0, fmt.Errorf("rpcfabric: no sync node configured")
	}
	f.syncLimit.wait()
	return f.syncNode.Client.BlockNumber(ctx)
}

// syncEventTopic is keccak256("Sync(uint112,uint112)"), the topic every
// UniswapV2-style pair emits when its reserves change.
var syncEventTopic = common.HexToHash("0x1c411e9a96e071241c2f21f7726b17ae89e3cab4c78be50e062b03a9fffbbad1")

// SyncLogs pulls every pair Sync event in [from, to] from the sync node
// and decodes it. Events come back in chain order, so applying them in
// slice order leaves each pool at its latest reserves.
func (f *Fabric) SyncLogs(ctx context.Context, from, to uint64) ([]types.SyncEvent, error) {
	if f.syncNode == nil {
		return nil, fmt.Errorf("rpcfabric: no sync node configured")
	}
	f.syncLimit.wait()

	logs, err := f.syncNode.Client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Topics:    [][]common.Hash{{syncEventTopic}},
	})
	if err != nil {
		return nil, fmt.Errorf("rpcfabric: filter sync logs [%d,%d]: %w", from, to, err)
	}

	events := make([]types.SyncEvent, 0, len(logs))
	for _, l := range logs {
		if len(l.Data) != 64 {
			// Some other contract reusing the topic with a different shape.
			continue
		}
		events = append(events, types.SyncEvent{
			Pool:     l.Address,
			Reserve0: new(big.Int).SetBytes(l.Data[:32]),
			Reserve1: new(big.Int).SetBytes(l.Data[32:]),
			Block:    l.BlockNumber,
		})
	}
	return events, nil
}

// EstimationResult pairs one node's gas estimate with any error it hit.
type EstimationResult struct {
	Node *Node
	Gas  uint64
	Err  error
}

// BatchEstimateGas fans estimateGas out to every node concurrently and
// collects every result (it does not stop early), mirroring the
// reference bot's quorum approach: the caller inspects how many nodes
// agree before deciding whether to submit.
func (f *Fabric) BatchEstimateGas(ctx context.Context, estimate func(ctx context.Context, n *Node) (uint64, error)) []EstimationResult {
	results := make([]EstimationResult, len(f.nodes))
	var wg sync.WaitGroup
	for i, n := range f.nodes {
		wg.Add(1)
		go func(i int, n *Node) {
			defer wg.Done()
			gas, err := estimate(ctx, n)
			results[i] = EstimationResult{Node: n, Gas: gas, Err: err}
		}(i, n)
	}
	wg.Wait()
	return results
}

// StreamEstimateGas fans estimateGas out like BatchEstimateGas but
// delivers each node's result as soon as it lands, so a caller that
// reaches its quorum early can stop reading and move on without waiting
// for stragglers. The channel closes once every node has answered.
func (f *Fabric) StreamEstimateGas(ctx context.Context, estimate func(ctx context.Context, n *Node) (uint64, error)) <-chan EstimationResult {
	out := make(chan EstimationResult, len(f.nodes))
	var wg sync.WaitGroup
	for _, n := range f.nodes {
		wg.Add(1)
		go func(n *Node) {
			defer wg.Done()
			gas, err := estimate(ctx, n)
			out <- EstimationResult{Node: n, Gas: gas, Err: err}
		}(n)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

// NodeCount returns how many nodes the fabric fans out across.
func (f *Fabric) NodeCount() int {
	return len(f.nodes)
}

// Quorum buckets estimation results into profitable/not-profitable/error
// counts so the submission pipeline can classify the overall outcome.
type Quorum struct {
	Profitable    int
	NotProfitable int
	Errored       int
}

// Tally classifies each result using isProfitable, which should return
// true if the node's gas estimate still leaves the candidate profitable.
func Tally(results []EstimationResult, isProfitable func(EstimationResult) bool) Quorum {
	var q Quorum
	for _, r := range results {
		switch {
		case r.Err != nil:
			q.Errored++
		case isProfitable(r):
			q.Profitable++
		default:
			q.NotProfitable++
		}
	}
	return q
}

// BroadcastResult is one node's outcome from a race-to-first-success
// transaction broadcast.
type BroadcastResult struct {
	Node common.Hash
	Err  error
}

// BatchTransact races a signed transaction broadcast across every node
// and returns as soon as the first one succeeds, matching the
// reference bot's "send everywhere, take whoever answers first"
// submission strategy. If every node fails, returns the last error seen.
func (f *Fabric) BatchTransact(ctx context.Context, send func(ctx context.Context, n *Node) (common.Hash, error)) (common.Hash, error) {
	type result struct {
		hash common.Hash
		err  error
	}
	resultCh := make(chan result, len(f.nodes))

	for _, n := range f.nodes {
		go func(n *Node) {
			hash, err := send(ctx, n)
			resultCh <- result{hash: hash, err: err}
		}(n)
	}

	var lastErr error
	for i := 0; i < len(f.nodes); i++ {
		r := <-resultCh
		if r.err == nil {
			return r.hash, nil
		}
		lastErr = r.err
	}
	return common.Hash{}, fmt.Errorf("rpcfabric: every node rejected the broadcast, last error: %w", lastErr)
}

// GetMultipleTxs manually batches eth_getTransactionByHash calls over a
// single RPC round trip using rpc.BatchElem, the Go equivalent of the
// reference bot's hand-rolled JSON-RPC array POST.
func (f *Fabric) GetMultipleTxs(ctx context.Context, n *Node, hashes []common.Hash) ([]map[string]interface{}, error) {
	elems := make([]rpc.BatchElem, len(hashes))
	results := make([]map[string]interface{}, len(hashes))
	for i, h := range hashes {
		results[i] = map[string]interface{}{}
		elems[i] = rpc.BatchElem{
			Method: "eth_getTransactionByHash",
			Args:   []interface{}{h},
			Result: &results[i],
		}
	}
	if err := n.RPC.BatchCallContext(ctx, elems); err != nil {
		return nil, fmt.Errorf("rpcfabric: batch get transactions: %w", err)
	}
	for _, e := range elems {
		if e.Error != nil {
			return nil, fmt.Errorf("rpcfabric: batch element error: %w", e.Error)
		}
	}
	return results, nil
}

// GetCodes manually batches eth_getCode calls the same way GetMultipleTxs
// batches transaction lookups — used to detect whether a candidate's
// pool address is actually a contract before wasting a call on it.
func (f *Fabric) GetCodes(ctx context.Context, n *Node, addresses []common.Address) ([]string, error) {
	elems := make([]rpc.BatchElem, len(addresses))
	results := make([]string, len(addresses))
	for i, a := range addresses {
		elems[i] = rpc.BatchElem{
			Method: "eth_getCode",
			Args:   []interface{}{a, "latest"},
			Result: &results[i],
		}
	}
	if err := n.RPC.BatchCallContext(ctx, elems); err != nil {
		return nil, fmt.Errorf("rpcfabric: batch get codes: %w", err)
	}
	for _, e := range elems {
		if e.Error != nil {
			return nil, fmt.Errorf("rpcfabric: batch element error: %w", e.Error)
		}
	}
	return results, nil
}

// SyncTest compares block numbers across every node and the designated
// sync node, retrying up to maxRetries times if they disagree by more
// than toleranceBlocks. A persistent mismatch usually means one node
// has fallen behind and should be pulled from rotation.
func (f *Fabric) SyncTest(ctx context.Context, maxRetries int, toleranceBlocks uint64) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		heights := make([]uint64, len(f.nodes))
		var wg sync.WaitGroup
		errs := make([]error, len(f.nodes))
		for i, n := range f.nodes {
			wg.Add(1)
			go func(i int, n *Node) {
				defer wg.Done()
				h, err := n.Client.BlockNumber(ctx)
				heights[i] = h
				errs[i] = err
			}(i, n)
		}
		wg.Wait()

		var min, max uint64
		first := true
		for i, h := range heights {
			if errs[i] != nil {
				continue
			}
			if first {
				min, max = h, h
				first = false
				continue
			}
			if h < min {
				min = h
			}
			if h > max {
				max = h
			}
		}

		if !first && max-min <= toleranceBlocks {
			return nil
		}

		if attempt < maxRetries {
			time.Sleep(time.Second)
		}
	}
	return fmt.Errorf("rpcfabric: nodes failed to converge on block height after %d retries", maxRetries)
}
