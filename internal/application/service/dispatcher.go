package service

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"tickmux/internal/application/port"
	"tickmux/internal/domain"
)

// SubscriberIndex is the subscriber lookup the dispatcher fans out against.
type SubscriberIndex interface {
	SubscribersOf(symbol string) []string
}

// TickSink receives every tick before fan-out.
type TickSink interface {
	OnTick(tick domain.PriceTick)
}

// outbox decouples one subscriber from the fan-out loop: a bounded channel
// drained by a dedicated writer goroutine. A full outbox drops the tick
// rather than stalling the tick source or other subscribers.
type outbox struct {
	ch   chan domain.PriceTick
	done chan struct{}
}

// BroadcastDispatcher fans every tick out to the subscribers of its symbol,
// exactly once per tick, with per-subscriber delivery isolation.
type BroadcastDispatcher struct {
	index SubscriberIndex
	cache TickSink

	mu       sync.RWMutex
	outboxes map[string]*outbox

	bufSize int
}

func NewBroadcastDispatcher(index SubscriberIndex, cache TickSink, bufSize int) *BroadcastDispatcher {
	if bufSize <= 0 {
		bufSize = 64
	}
	return &BroadcastDispatcher{
		index:    index,
		cache:    cache,
		outboxes: make(map[string]*outbox),
		bufSize:  bufSize,
	}
}

// AttachSink registers the delivery sink for subscriberID and starts its
// writer. Attaching over an existing sink replaces it.
func (d *BroadcastDispatcher) AttachSink(subscriberID string, sink port.DeliverySink) {
	ob := &outbox{
		ch:   make(chan domain.PriceTick, d.bufSize),
		done: make(chan struct{}),
	}

	d.mu.Lock()
	prev := d.outboxes[subscriberID]
	d.outboxes[subscriberID] = ob
	d.mu.Unlock()

	if prev != nil {
		close(prev.ch)
		<-prev.done
	}

	go d.write(subscriberID, sink, ob)
}

// DetachSink unregisters subscriberID's sink and waits for its writer to
// drain. Safe to call for an unknown subscriber.
func (d *BroadcastDispatcher) DetachSink(subscriberID string) {
	d.mu.Lock()
	ob := d.outboxes[subscriberID]
	delete(d.outboxes, subscriberID)
	d.mu.Unlock()

	if ob != nil {
		close(ob.ch)
		<-ob.done
	}
}

// Run consumes the merged tick stream until ctx is cancelled or the stream
// closes. Each tick updates the cache first, then fans out to the
// subscribers of its symbol at that moment.
func (d *BroadcastDispatcher) Run(ctx context.Context, in <-chan domain.PriceTick) {
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-in:
			if !ok {
				return
			}
			d.cache.OnTick(t)
			d.Dispatch(t)
		}
	}
}

// Dispatch delivers tick to every current subscriber of its symbol.
// Fire-and-forget: a slow subscriber loses the tick, nobody else does.
func (d *BroadcastDispatcher) Dispatch(tick domain.PriceTick) {
	subs := d.index.SubscribersOf(tick.Symbol)
	if len(subs) == 0 {
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, id := range subs {
		ob, ok := d.outboxes[id]
		if !ok {
			continue
		}
		select {
		case ob.ch <- tick:
		default:
			log.Warn().Str("subscriber", id).Str("symbol", tick.Symbol).Msg("outbox full, tick dropped")
		}
	}
}

func (d *BroadcastDispatcher) write(subscriberID string, sink port.DeliverySink, ob *outbox) {
	defer close(ob.done)
	for t := range ob.ch {
		if err := sink.Deliver(t); err != nil {
			log.Warn().Err(err).Str("subscriber", subscriberID).Str("symbol", t.Symbol).Msg("tick delivery failed")
		}
	}
}
