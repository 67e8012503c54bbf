// Package priceposter runs a background goroutine that periodically
// refreshes token USD prices into a shared, reader/writer-locked table,
// so the stats reporter can convert native-denominated profit into
// dollars without itself making a network call.
package priceposter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/MedTrebor/uniswapv2-arbitrage-bot/pkg/types"
)

// Fetcher retrieves current USD prices for the given tokens.
type Fetcher func(ctx context.Context, tokens []common.Address) (map[common.Address]float64, error)

// Poller owns a types.Prices table and keeps it refreshed on a ticker.
type Poller struct {
	mu     sync.RWMutex
	prices types.Prices

	fetch    Fetcher
	tokens   []common.Address
	interval time.Duration

	stop chan struct{}
	done chan struct{}
}

// New builds a Poller that refreshes tokens' prices every interval
// using fetch.
func New(fetch Fetcher, tokens []common.Address, interval time.Duration) *Poller {
	return &Poller{
		prices:   types.Prices{USD: make(map[common.Address]float64)},
		fetch:    fetch,
		tokens:   tokens,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the background refresh loop. It does one synchronous
// refresh before returning so callers immediately have prices available,
// then continues refreshing on the ticker until Stop is called.
func (p *Poller) Start(ctx context.Context) error {
	if err := p.refresh(ctx); err != nil {
		return fmt.Errorf("priceposter: initial refresh: %w", err)
	}

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-p.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = p.refresh(ctx) // transient failures keep the last known prices
			}
		}
	}()
	return nil
}

// Stop halts the background refresh loop and waits for it to exit.
func (p *Poller) Stop() {
	close(p.stop)
	<-p.done
}

func (p *Poller) refresh(ctx context.Context) error {
	fresh, err := p.fetch(ctx, p.tokens)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for token, price := range fresh {
		p.prices.USD[token] = price
	}
	return nil
}

// Price returns the last-known USD price for token and whether it's present.
func (p *Poller) Price(token common.Address) (float64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	price, ok := p.prices.USD[token]
	return price, ok
}

// Snapshot returns a copy of the current price table.
func (p *Poller) Snapshot() types.Prices {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := types.Prices{USD: make(map[common.Address]float64, len(p.prices.USD))}
	for k, v := range p.prices.USD {
		out.USD[k] = v
	}
	return out
}
