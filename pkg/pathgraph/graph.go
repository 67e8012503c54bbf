// Package pathgraph builds the token adjacency graph from the pool
// registry and enumerates every 2-hop and 3-hop cycle back to each
// configured base token.
package pathgraph

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/MedTrebor/uniswapv2-arbitrage-bot/pkg/types"
)

// edge is one directed swap leg discoverable from a pool.
type edge struct {
	pool common.Address
	to   common.Address
	zero bool // true when `from` is the pool's token0
}

// Graph is the token adjacency structure built from the pool set: for
// each token, the list of pools that let you swap away from it.
type Graph struct {
	adjacency map[common.Address][]edge
}

// BuildGraph constructs a Graph from every pool in pools. Each pool
// contributes two directed edges (token0->token1 and token1->token0).
func BuildGraph(pools []*types.Pool) *Graph {
	g := &Graph{adjacency: make(map[common.Address][]edge)}
	for _, p := range pools {
		g.adjacency[p.Token0] = append(g.adjacency[p.Token0], edge{pool: p.Address, to: p.Token1, zero: true})
		g.adjacency[p.Token1] = append(g.adjacency[p.Token1], edge{pool: p.Address, to: p.Token0, zero: false})
	}
	return g
}

// EnumeratePaths performs a depth-limited DFS (depth 2 or 3) from base,
// returning every simple cycle back to base that never reuses a pool.
// The DFS uses an explicit stack of partial hop-lists (a "stack of
// stacks") rather than recursion, mirroring how the reference path
// builder walks the adjacency graph to bound memory use on dense graphs.
func EnumeratePaths(g *Graph, base common.Address, maxHops int) []*types.Path {
	return EnumeratePathsFrom(g, base, maxHops, nil)
}

// EnumeratePathsFrom is EnumeratePaths with wrapped-native pooling: if
// base is one of weths, a path may terminate at *any* weth rather than
// base itself, since every wrapped-native token is interchangeable as
// the profit denomination. Non-weth bases must return to themselves.
func EnumeratePathsFrom(g *Graph, base common.Address, maxHops int, weths map[common.Address]bool) []*types.Path {
	var results []*types.Path

	terminates := func(to common.Address) bool {
		if to == base {
			return true
		}
		return weths != nil && weths[base] && weths[to]
	}

	type frame struct {
		hops     []types.Hop
		visited  map[common.Address]bool
		current  common.Address
	}

	start := frame{current: base, visited: map[common.Address]bool{}}
	stack := []frame{start}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for _, e := range g.adjacency[f.current] {
			if f.visited[e.pool] {
				continue
			}

			hop := types.Hop{Pool: e.pool, TokenIn: f.current, TokenOut: e.to, Zero: e.zero}
			newHops := append(append([]types.Hop{}, f.hops...), hop)

			if terminates(e.to) && len(newHops) >= 2 {
				results = append(results, &types.Path{Hops: newHops})
				continue
			}

			if len(newHops) >= maxHops {
				continue
			}

			newVisited := make(map[common.Address]bool, len(f.visited)+1)
			for k := range f.visited {
				newVisited[k] = true
			}
			newVisited[e.pool] = true

			stack = append(stack, frame{hops: newHops, visited: newVisited, current: e.to})
		}
	}

	return results
}

// PathsTouching returns the deduplicated union of idx's paths over a set
// of changed pools, preserving first-seen order. This is the per-tick
// work list: only paths whose reserves actually moved this block are
// worth re-evaluating.
func PathsTouching(idx *types.PathIndex, pools []common.Address) []*types.Path {
	seen := make(map[string]bool)
	var out []*types.Path
	for _, pool := range pools {
		for _, p := range idx.PathsTouching(pool) {
			key := p.Key()
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, p)
		}
	}
	return out
}

// IndexByPool builds a types.PathIndex from a flat slice of paths.
func IndexByPool(paths []*types.Path) *types.PathIndex {
	idx := types.NewPathIndex()
	for _, p := range paths {
		idx.Add(p)
	}
	return idx
}
