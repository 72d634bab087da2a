package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"tickmux/internal/domain"
)

// Pool is the subset of the connection pool the registry drives.
type Pool interface {
	Acquire(ctx context.Context, symbol string) error
	Release(symbol string)
}

// SubscriptionRegistry is the single source of truth for who is subscribed
// to what. The relation set is held in two indices that are always mutually
// consistent: symbol→subscribers and subscriber→symbols.
type SubscriptionRegistry struct {
	mu           sync.RWMutex
	bySymbol     map[string]map[string]struct{}
	bySubscriber map[string]map[string]struct{}

	pool Pool
}

func NewSubscriptionRegistry(pool Pool) *SubscriptionRegistry {
	return &SubscriptionRegistry{
		bySymbol:     make(map[string]map[string]struct{}),
		bySubscriber: make(map[string]map[string]struct{}),
		pool:         pool,
	}
}

// Subscribe records interest of subscriberID in symbol and ensures an
// upstream connector exists for it. Upstream interest is acquired before the
// relation becomes visible, so a failed acquire leaves no trace; a duplicate
// subscribe is an idempotent no-op.
func (r *SubscriptionRegistry) Subscribe(ctx context.Context, subscriberID, symbol string) error {
	symbol = domain.NormalizeSymbol(symbol)

	r.mu.RLock()
	_, dup := r.bySymbol[symbol][subscriberID]
	r.mu.RUnlock()
	if dup {
		return nil
	}

	// Acquire outside the registry lock: the 0→1 transition blocks on the
	// upstream connect and must not stall unrelated subscribers.
	if err := r.pool.Acquire(ctx, symbol); err != nil {
		return fmt.Errorf("subscribe %s: %w", symbol, err)
	}

	r.mu.Lock()
	if _, dup := r.bySymbol[symbol][subscriberID]; dup {
		// Raced with an identical subscribe; give back the extra interest.
		r.mu.Unlock()
		r.pool.Release(symbol)
		return nil
	}
	if r.bySymbol[symbol] == nil {
		r.bySymbol[symbol] = make(map[string]struct{})
	}
	if r.bySubscriber[subscriberID] == nil {
		r.bySubscriber[subscriberID] = make(map[string]struct{})
	}
	r.bySymbol[symbol][subscriberID] = struct{}{}
	r.bySubscriber[subscriberID][symbol] = struct{}{}
	r.mu.Unlock()

	log.Debug().Str("subscriber", subscriberID).Str("symbol", symbol).Msg("subscribed")
	return nil
}

// Unsubscribe removes the relation from both indices and releases the
// matching upstream interest. Unknown relations are ignored.
func (r *SubscriptionRegistry) Unsubscribe(subscriberID, symbol string) {
	symbol = domain.NormalizeSymbol(symbol)

	if !r.remove(subscriberID, symbol) {
		return
	}
	r.pool.Release(symbol)
	log.Debug().Str("subscriber", subscriberID).Str("symbol", symbol).Msg("unsubscribed")
}

// UnsubscribeAll removes every relation held by subscriberID, with the same
// release side effects as unsubscribing each symbol individually. Called by
// the transport layer when a subscriber disconnects.
func (r *SubscriptionRegistry) UnsubscribeAll(subscriberID string) {
	r.mu.Lock()
	symbols := make([]string, 0, len(r.bySubscriber[subscriberID]))
	for sym := range r.bySubscriber[subscriberID] {
		symbols = append(symbols, sym)
		if set := r.bySymbol[sym]; set != nil {
			delete(set, subscriberID)
			if len(set) == 0 {
				delete(r.bySymbol, sym)
			}
		}
	}
	delete(r.bySubscriber, subscriberID)
	r.mu.Unlock()

	for _, sym := range symbols {
		r.pool.Release(sym)
	}
	if len(symbols) > 0 {
		log.Debug().Str("subscriber", subscriberID).Int("symbols", len(symbols)).Msg("unsubscribed all")
	}
}

// SubscribersOf returns a point-in-time snapshot of the subscribers of
// symbol, safe to iterate after concurrent mutation.
func (r *SubscriptionRegistry) SubscribersOf(symbol string) []string {
	symbol = domain.NormalizeSymbol(symbol)

	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.bySymbol[symbol]
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// SymbolsOf returns a snapshot of the symbols subscriberID is subscribed to.
func (r *SubscriptionRegistry) SymbolsOf(subscriberID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.bySubscriber[subscriberID]
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for sym := range set {
		out = append(out, sym)
	}
	return out
}

func (r *SubscriptionRegistry) remove(subscriberID, symbol string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.bySymbol[symbol]
	if !ok {
		return false
	}
	if _, ok := set[subscriberID]; !ok {
		return false
	}
	delete(set, subscriberID)
	if len(set) == 0 {
		delete(r.bySymbol, symbol)
	}
	subs := r.bySubscriber[subscriberID]
	delete(subs, symbol)
	if len(subs) == 0 {
		delete(r.bySubscriber, subscriberID)
	}
	return true
}
