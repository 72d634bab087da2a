package service

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"tickmux/internal/application/port"
	"tickmux/internal/domain"
)

// connEntry is the per-symbol lifecycle state. Owned exclusively by the pool;
// all transitions happen under entry.mu so that operations on the same symbol
// serialize while distinct symbols proceed independently.
type connEntry struct {
	mu        sync.Mutex
	refCount  int
	connector port.Connector
	// removed marks an entry that hit refCount 0 and is being torn down.
	// A caller that grabbed the entry before it left the map must retry.
	removed bool
}

// FeedConnectionPool ref-counts interest per symbol and bounds upstream
// connections to one per instrument with active interest, regardless of
// subscriber count.
type FeedConnectionPool struct {
	mu      sync.Mutex
	entries map[string]*connEntry

	factory port.ConnectorFactory

	ticks     chan domain.PriceTick
	closing   chan struct{}
	closeOnce sync.Once
	forwardWG sync.WaitGroup
}

func NewFeedConnectionPool(factory port.ConnectorFactory) *FeedConnectionPool {
	return &FeedConnectionPool{
		entries: make(map[string]*connEntry),
		factory: factory,
		ticks:   make(chan domain.PriceTick, 1024),
		closing: make(chan struct{}),
	}
}

// Ticks is the merged stream of every active connector. Ticks for one symbol
// keep the order its connector received them in.
func (p *FeedConnectionPool) Ticks() <-chan domain.PriceTick {
	return p.ticks
}

// Acquire increments interest in symbol. Exactly one caller observes the
// 0→1 transition; that caller creates the connector, issues the connect and
// subscribe requests, and surfaces any failure with the count rolled back.
// Callers attaching to an already-connected symbol only bump the count.
func (p *FeedConnectionPool) Acquire(ctx context.Context, symbol string) error {
	symbol = domain.NormalizeSymbol(symbol)

	for {
		p.mu.Lock()
		e, ok := p.entries[symbol]
		if !ok {
			e = &connEntry{}
			p.entries[symbol] = e
		}
		p.mu.Unlock()
		e.mu.Lock()

		if e.removed {
			// Lost a race with the final Release; the entry is on its way
			// out of the map.
			e.mu.Unlock()
			continue
		}

		if e.refCount > 0 {
			e.refCount++
			e.mu.Unlock()
			return nil
		}

		conn, err := p.connect(ctx, symbol)
		if err != nil {
			e.removed = true
			e.mu.Unlock()
			p.dropEntry(symbol, e)
			return err
		}

		e.connector = conn
		e.refCount = 1
		e.mu.Unlock()

		p.forwardWG.Add(1)
		go p.forward(symbol, conn.Ticks())

		log.Info().Str("symbol", symbol).Msg("feed connector started")
		return nil
	}
}

// Release decrements interest in symbol. The caller that observes the 1→0
// transition stops and disposes the connector. Releasing a symbol with no
// interest is a defensive no-op.
func (p *FeedConnectionPool) Release(symbol string) {
	symbol = domain.NormalizeSymbol(symbol)

	p.mu.Lock()
	e, ok := p.entries[symbol]
	p.mu.Unlock()
	if !ok {
		log.Warn().Str("symbol", symbol).Msg("release without matching acquire")
		return
	}
	e.mu.Lock()

	if e.removed || e.refCount == 0 {
		e.mu.Unlock()
		log.Warn().Str("symbol", symbol).Msg("release without matching acquire")
		return
	}

	e.refCount--
	if e.refCount > 0 {
		e.mu.Unlock()
		return
	}

	conn := e.connector
	e.connector = nil
	e.removed = true
	e.mu.Unlock()

	if conn != nil {
		conn.Disconnect()
	}
	p.dropEntry(symbol, e)

	log.Info().Str("symbol", symbol).Msg("feed connector stopped")
}

// RefCount reports current interest in symbol.
func (p *FeedConnectionPool) RefCount(symbol string) int {
	symbol = domain.NormalizeSymbol(symbol)

	p.mu.Lock()
	e, ok := p.entries[symbol]
	p.mu.Unlock()
	if !ok {
		return 0
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return 0
	}
	return e.refCount
}

// ActiveSymbols reports how many symbols currently hold a live connector.
func (p *FeedConnectionPool) ActiveSymbols() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Shutdown releases every live connector regardless of remaining interest
// and waits for their forwarders to drain.
func (p *FeedConnectionPool) Shutdown() {
	p.closeOnce.Do(func() { close(p.closing) })

	p.mu.Lock()
	entries := make(map[string]*connEntry, len(p.entries))
	for sym, e := range p.entries {
		entries[sym] = e
	}
	p.mu.Unlock()

	for sym, e := range entries {
		e.mu.Lock()
		conn := e.connector
		e.connector = nil
		e.refCount = 0
		e.removed = true
		e.mu.Unlock()

		if conn != nil {
			conn.Disconnect()
		}
		p.dropEntry(sym, e)
	}

	p.forwardWG.Wait()
}

func (p *FeedConnectionPool) connect(ctx context.Context, symbol string) (port.Connector, error) {
	conn, err := p.factory(symbol)
	if err != nil {
		return nil, err
	}
	if err := conn.Connect(ctx); err != nil {
		return nil, err
	}
	if err := conn.SendSubscribe(symbol); err != nil {
		conn.Disconnect()
		return nil, err
	}
	return conn, nil
}

func (p *FeedConnectionPool) forward(symbol string, in <-chan domain.PriceTick) {
	defer p.forwardWG.Done()
	for t := range in {
		select {
		case p.ticks <- t:
		case <-p.closing:
			return
		}
	}
	log.Debug().Str("symbol", symbol).Msg("tick forwarder drained")
}

func (p *FeedConnectionPool) dropEntry(symbol string, e *connEntry) {
	p.mu.Lock()
	if cur, ok := p.entries[symbol]; ok && cur == e {
		delete(p.entries, symbol)
	}
	p.mu.Unlock()
}
