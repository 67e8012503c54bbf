package concurrency

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"

	"github.com/MedTrebor/uniswapv2-arbitrage-bot/pkg/types"
)

func samplePath(key string) *types.Path {
	return &types.Path{
		Hops: []types.Hop{
			{Pool: common.HexToAddress("0x01"), TokenIn: common.HexToAddress(key)},
		},
	}
}

func TestPoolScansEveryPathAtLeastOnce(t *testing.T) {
	paths := []*types.Path{
		samplePath("0x0000000000000000000000000000000000000001"),
		samplePath("0x0000000000000000000000000000000000000002"),
		samplePath("0x0000000000000000000000000000000000000003"),
	}

	var seen sync.Map
	scan := func(path *types.Path) *types.ArbitrageCandidate {
		seen.Store(path.Hops[0].TokenIn, true)
		return nil
	}

	p := NewPool(2, paths, scan)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		p.Run(stop)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		count := 0
		seen.Range(func(_, _ interface{}) bool { count++; return true })
		return count == 3
	}, time.Second, time.Millisecond)

	close(stop)
	<-done
}

func TestPoolReportsNonNilCandidates(t *testing.T) {
	paths := []*types.Path{samplePath("0x0000000000000000000000000000000000000001")}

	var calls atomic.Int64
	scan := func(path *types.Path) *types.ArbitrageCandidate {
		if calls.Add(1) == 1 {
			return &types.ArbitrageCandidate{Path: path}
		}
		return nil
	}

	p := NewPool(1, paths, scan)
	stop := make(chan struct{})
	go p.Run(stop)

	select {
	case c := <-p.Results:
		assert.NotNil(t, c)
	case <-time.After(time.Second):
		t.Fatal("no candidate reported in time")
	}

	close(stop)
}

func TestDispatchWakesIdleWorkersForANewPass(t *testing.T) {
	first := samplePath("0x0000000000000000000000000000000000000001")
	second := samplePath("0x0000000000000000000000000000000000000002")

	var seen sync.Map
	scan := func(path *types.Path) *types.ArbitrageCandidate {
		seen.Store(path.Hops[0].TokenIn, true)
		return nil
	}

	p := NewPool(2, []*types.Path{first}, scan)
	stop := make(chan struct{})
	go p.Run(stop)

	assert.Eventually(t, func() bool {
		_, ok := seen.Load(first.Hops[0].TokenIn)
		return ok
	}, time.Second, time.Millisecond)

	p.Dispatch([]*types.Path{second})

	assert.Eventually(t, func() bool {
		_, ok := seen.Load(second.Hops[0].TokenIn)
		return ok
	}, time.Second, time.Millisecond)

	close(stop)
}

func TestBroadcastReplacePathsAppliesBeforeReturning(t *testing.T) {
	initial := []*types.Path{samplePath("0x0000000000000000000000000000000000000001")}
	p := NewPool(3, initial, func(path *types.Path) *types.ArbitrageCandidate { return nil })

	stop := make(chan struct{})
	go p.Run(stop)

	replacement := []*types.Path{
		samplePath("0x0000000000000000000000000000000000000002"),
		samplePath("0x0000000000000000000000000000000000000003"),
	}
	p.Broadcast(Broadcast{Kind: ReplacePaths, Paths: replacement})

	assert.Len(t, p.Paths(), 2)
	close(stop)
}

func TestBroadcastRemovePathsFiltersByKey(t *testing.T) {
	a := samplePath("0x0000000000000000000000000000000000000001")
	b := samplePath("0x0000000000000000000000000000000000000002")
	p := NewPool(2, []*types.Path{a, b}, func(path *types.Path) *types.ArbitrageCandidate { return nil })

	stop := make(chan struct{})
	go p.Run(stop)

	p.Broadcast(Broadcast{Kind: RemovePaths, Keys: []string{a.Key()}})

	remaining := p.Paths()
	if assert.Len(t, remaining, 1) {
		assert.Equal(t, b.Key(), remaining[0].Key())
	}
	close(stop)
}
