package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"tickmux/internal/application/port"
	"tickmux/internal/domain"
)

// PriceCache holds the most recent tick per symbol. Last-write-wins: every
// accepted tick overwrites unconditionally, relying on provider ordering.
// An optional repository mirrors the latest value to external storage.
type PriceCache struct {
	mu      sync.Mutex
	latest  map[string]domain.PriceTick
	waiters map[string][]chan domain.PriceTick

	repo port.Repository
}

// NewPriceCache builds a cache. repo may be nil when no mirror is configured.
func NewPriceCache(repo port.Repository) *PriceCache {
	return &PriceCache{
		latest:  make(map[string]domain.PriceTick),
		waiters: make(map[string][]chan domain.PriceTick),
		repo:    repo,
	}
}

// Get returns the last known tick for symbol, if any has arrived.
func (c *PriceCache) Get(symbol string) (domain.PriceTick, bool) {
	symbol = domain.NormalizeSymbol(symbol)

	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.latest[symbol]
	return t, ok
}

// OnTick stores tick and resolves every waiter registered for its symbol,
// each exactly once.
func (c *PriceCache) OnTick(tick domain.PriceTick) {
	symbol := domain.NormalizeSymbol(tick.Symbol)

	c.mu.Lock()
	c.latest[symbol] = tick
	pending := c.waiters[symbol]
	delete(c.waiters, symbol)
	c.mu.Unlock()

	for _, w := range pending {
		// One-shot, buffered: never blocks.
		w <- tick
	}

	if c.repo != nil {
		if err := c.repo.UpsertLatestPrice(context.Background(), tick); err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Msg("latest price mirror failed")
		}
	}
}

// AwaitNext blocks until the next tick for symbol arrives, the timeout
// elapses (ErrAwaitTimeout) or ctx is cancelled. The cache is re-checked
// atomically with waiter registration, so a tick landing between a caller's
// miss and this call is never lost. Each concurrent waiter resolves
// independently.
func (c *PriceCache) AwaitNext(ctx context.Context, symbol string, timeout time.Duration) (domain.PriceTick, error) {
	symbol = domain.NormalizeSymbol(symbol)

	c.mu.Lock()
	if t, ok := c.latest[symbol]; ok {
		c.mu.Unlock()
		return t, nil
	}
	w := make(chan domain.PriceTick, 1)
	c.waiters[symbol] = append(c.waiters[symbol], w)
	c.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case t := <-w:
		return t, nil
	case <-timer.C:
		if t, ok := c.abandon(symbol, w); ok {
			return t, nil
		}
		return domain.PriceTick{}, fmt.Errorf("%w: %s after %s", port.ErrAwaitTimeout, symbol, timeout)
	case <-ctx.Done():
		if t, ok := c.abandon(symbol, w); ok {
			return t, nil
		}
		return domain.PriceTick{}, ctx.Err()
	}
}

// abandon deregisters w. When OnTick already detached it the raced tick is
// recovered instead, so the registration never leaks and the waiter still
// resolves exactly once.
func (c *PriceCache) abandon(symbol string, w chan domain.PriceTick) (domain.PriceTick, bool) {
	c.mu.Lock()
	pending := c.waiters[symbol]
	for i, cand := range pending {
		if cand == w {
			c.waiters[symbol] = append(pending[:i], pending[i+1:]...)
			if len(c.waiters[symbol]) == 0 {
				delete(c.waiters, symbol)
			}
			c.mu.Unlock()
			return domain.PriceTick{}, false
		}
	}
	c.mu.Unlock()

	// Not registered anymore: OnTick won the race and a send is in flight.
	return <-w, true
}
