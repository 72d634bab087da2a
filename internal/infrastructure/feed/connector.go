package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"tickmux/internal/application/port"
	"tickmux/internal/domain"
)

// Status is the connector lifecycle state.
type Status int32

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

const tickBuffer = 1024

// Options tunes the connector. MaxRetries bounds consecutive failed receive
// cycles; 0 keeps retrying forever (best-effort feed).
type Options struct {
	DialTimeout  time.Duration
	RetryBackoff time.Duration
	MaxRetries   int
}

func (o *Options) applyDefaults() {
	if o.DialTimeout <= 0 {
		o.DialTimeout = 10 * time.Second
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 3 * time.Second
	}
}

// Connector drives one upstream connection for one symbol through
// disconnected → connecting → connected, recovering transient receive
// failures with a fixed backoff. The vendor wire format stays behind the
// adapter; the connector only moves normalized ticks.
type Connector struct {
	adapter port.VendorAdapter
	symbol  string
	token   string
	opts    Options

	mu           sync.Mutex
	status       Status
	conn         port.VendorConn
	cancel       context.CancelFunc
	loopDone     chan struct{}
	running      bool
	ticks        chan domain.PriceTick
	lastActivity time.Time
}

// New builds a connector for symbol, failing with ErrUnsupportedSymbol when
// the adapter has no mapping for it.
func New(adapter port.VendorAdapter, symbol string, opts Options) (*Connector, error) {
	symbol = domain.NormalizeSymbol(symbol)
	token, err := adapter.StreamToken(symbol)
	if err != nil {
		return nil, err
	}
	opts.applyDefaults()
	return &Connector{
		adapter: adapter,
		symbol:  symbol,
		token:   token,
		opts:    opts,
		ticks:   make(chan domain.PriceTick, tickBuffer),
	}, nil
}

func (c *Connector) Symbol() string { return c.symbol }

func (c *Connector) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// LastActivity reports when the last frame was read from the upstream.
func (c *Connector) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// Ticks is valid for the lifetime of one receive loop; it is closed when the
// loop terminates for good.
func (c *Connector) Ticks() <-chan domain.PriceTick {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ticks
}

// Connect dials the upstream and starts the receive loop. A no-op while a
// loop is already live; any previous loop is fully awaited first, so no
// orphaned reader survives a reconnect.
func (c *Connector) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	prevDone := c.loopDone
	c.mu.Unlock()

	if prevDone != nil {
		<-prevDone
	}

	c.setStatus(StatusConnecting)
	vc, err := c.dial(ctx)
	if err != nil {
		c.setStatus(StatusDisconnected)
		return fmt.Errorf("%w: %s %s: %v", port.ErrConnectFailure, c.adapter.Name(), c.symbol, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	out := make(chan domain.PriceTick, tickBuffer)

	c.mu.Lock()
	c.conn = vc
	c.status = StatusConnected
	c.cancel = cancel
	c.loopDone = done
	c.running = true
	c.ticks = out
	c.mu.Unlock()

	go c.run(loopCtx, vc, out, done)

	log.Info().Str("feed", c.adapter.Name()).Str("symbol", c.symbol).Msg("feed connected")
	return nil
}

// SendSubscribe emits the vendor subscribe control message for symbol.
func (c *Connector) SendSubscribe(symbol string) error {
	token, err := c.adapter.StreamToken(symbol)
	if err != nil {
		return err
	}
	vc, err := c.liveConn()
	if err != nil {
		return err
	}
	return vc.WriteSubscribe(token)
}

// SendUnsubscribe emits the vendor unsubscribe control message for symbol.
func (c *Connector) SendUnsubscribe(symbol string) error {
	token, err := c.adapter.StreamToken(symbol)
	if err != nil {
		return err
	}
	vc, err := c.liveConn()
	if err != nil {
		return err
	}
	return vc.WriteUnsubscribe(token)
}

// Disconnect cancels the receive loop, unblocks any pending read by closing
// the transport, and awaits loop termination. Safe when never connected.
func (c *Connector) Disconnect() {
	c.mu.Lock()
	cancel := c.cancel
	vc := c.conn
	done := c.loopDone
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if vc != nil {
		_ = vc.Close()
	}
	if done != nil {
		<-done
	}
	c.setStatus(StatusDisconnected)
}

func (c *Connector) run(ctx context.Context, vc port.VendorConn, out chan domain.PriceTick, done chan struct{}) {
	defer close(done)
	defer close(out)
	defer c.setStatus(StatusDisconnected)
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	failures := 0
	for {
		readErr := c.readCycle(ctx, vc, out)
		_ = vc.Close()
		c.setConn(nil)

		if ctx.Err() != nil {
			return
		}
		if errors.Is(readErr, io.EOF) {
			log.Info().Str("feed", c.adapter.Name()).Str("symbol", c.symbol).Msg("upstream closed the stream")
			return
		}

		c.setStatus(StatusConnecting)
		log.Warn().Err(readErr).
			Str("feed", c.adapter.Name()).
			Str("symbol", c.symbol).
			Dur("backoff", c.opts.RetryBackoff).
			Msg("feed receive failed, reconnecting")

		reconnected := false
		for !reconnected {
			failures++
			if c.opts.MaxRetries > 0 && failures > c.opts.MaxRetries {
				log.Error().
					Str("feed", c.adapter.Name()).
					Str("symbol", c.symbol).
					Int("max_retries", c.opts.MaxRetries).
					Msg("feed retries exhausted, giving up")
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(c.opts.RetryBackoff):
			}

			nc, err := c.dial(ctx)
			if err != nil {
				log.Error().Err(err).Str("feed", c.adapter.Name()).Str("symbol", c.symbol).Msg("feed redial failed")
				continue
			}
			if err := nc.WriteSubscribe(c.token); err != nil {
				_ = nc.Close()
				log.Error().Err(err).Str("feed", c.adapter.Name()).Str("symbol", c.symbol).Msg("feed resubscribe failed")
				continue
			}
			vc = nc
			reconnected = true
		}

		c.setConn(vc)
		c.setStatus(StatusConnected)
		failures = 0
		log.Info().Str("feed", c.adapter.Name()).Str("symbol", c.symbol).Msg("feed reconnected")
	}
}

func (c *Connector) readCycle(ctx context.Context, vc port.VendorConn, out chan<- domain.PriceTick) error {
	for {
		tick, ok, err := vc.ReadTick()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		c.touch()
		if !ok {
			continue
		}
		select {
		case out <- tick:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connector) dial(ctx context.Context) (port.VendorConn, error) {
	dctx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
	defer cancel()
	return c.adapter.Dial(dctx)
}

func (c *Connector) liveConn() (port.VendorConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusConnected || c.conn == nil {
		return nil, fmt.Errorf("%w: %s %s is %s", port.ErrConnectionUnavailable, c.adapter.Name(), c.symbol, c.status)
	}
	return c.conn, nil
}

func (c *Connector) setStatus(s Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

func (c *Connector) setConn(vc port.VendorConn) {
	c.mu.Lock()
	c.conn = vc
	c.mu.Unlock()
}

func (c *Connector) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}
