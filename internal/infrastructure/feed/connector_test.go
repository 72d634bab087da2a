package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tickmux/internal/application/port"
	"tickmux/internal/domain"
)

type fakeAdapter struct {
	mu        sync.Mutex
	dials     int
	dialErrs  []error // consumed per dial; nil entry = success
	conns     []*fakeConn
	supported map[string]bool
}

func newFakeAdapter(symbols ...string) *fakeAdapter {
	supported := make(map[string]bool)
	for _, s := range symbols {
		supported[s] = true
	}
	return &fakeAdapter{supported: supported}
}

func (a *fakeAdapter) Name() string { return "FAKE" }

func (a *fakeAdapter) StreamToken(symbol string) (string, error) {
	if !a.supported[domain.NormalizeSymbol(symbol)] {
		return "", fmt.Errorf("%w: %s", port.ErrUnsupportedSymbol, symbol)
	}
	return "tok:" + domain.NormalizeSymbol(symbol), nil
}

func (a *fakeAdapter) Dial(ctx context.Context) (port.VendorConn, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	i := a.dials
	a.dials++
	if i < len(a.dialErrs) && a.dialErrs[i] != nil {
		return nil, a.dialErrs[i]
	}
	c := newFakeConn()
	a.conns = append(a.conns, c)
	return c, nil
}

func (a *fakeAdapter) dialCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dials
}

func (a *fakeAdapter) conn(i int) *fakeConn {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conns[i]
}

type frame struct {
	tick domain.PriceTick
	ok   bool
	err  error
}

type fakeConn struct {
	frames chan frame

	mu         sync.Mutex
	subscribes []string
	closed     bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan frame, 64)}
}

func (c *fakeConn) WriteSubscribe(token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribes = append(c.subscribes, token)
	return nil
}

func (c *fakeConn) WriteUnsubscribe(token string) error { return nil }

func (c *fakeConn) ReadTick() (domain.PriceTick, bool, error) {
	f, ok := <-c.frames
	if !ok {
		return domain.PriceTick{}, false, errors.New("read on closed conn")
	}
	return f.tick, f.ok, f.err
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.frames)
	}
	return nil
}

func (c *fakeConn) pushTick(symbol, price string) {
	p, _ := decimal.NewFromString(price)
	c.frames <- frame{tick: domain.PriceTick{Symbol: symbol, Price: p, ObservedAt: time.Now()}, ok: true}
}

func (c *fakeConn) pushErr(err error) {
	c.frames <- frame{err: err}
}

func shortOpts() Options {
	return Options{
		DialTimeout:  time.Second,
		RetryBackoff: 10 * time.Millisecond,
	}
}

func TestConnectorRejectsUnmappedSymbol(t *testing.T) {
	adapter := newFakeAdapter("BTCUSD")

	_, err := New(adapter, "EURUSD", shortOpts())
	if !errors.Is(err, port.ErrUnsupportedSymbol) {
		t.Fatalf("expected ErrUnsupportedSymbol, got %v", err)
	}
}

func TestConnectorConnectAndStream(t *testing.T) {
	adapter := newFakeAdapter("BTCUSD")
	c, err := New(adapter, "BTCUSD", shortOpts())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer c.Disconnect()

	if got := c.Status(); got != StatusConnected {
		t.Fatalf("status = %s, want connected", got)
	}

	if err := c.SendSubscribe("BTCUSD"); err != nil {
		t.Fatalf("SendSubscribe failed: %v", err)
	}

	adapter.conn(0).pushTick("BTCUSD", "42000")

	select {
	case got := <-c.Ticks():
		if got.Symbol != "BTCUSD" || got.Price.String() != "42000" {
			t.Fatalf("unexpected tick %v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("tick did not arrive")
	}
}

func TestConnectorConnectIsIdempotent(t *testing.T) {
	adapter := newFakeAdapter("BTCUSD")
	c, _ := New(adapter, "BTCUSD", shortOpts())

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer c.Disconnect()
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect failed: %v", err)
	}

	if got := adapter.dialCount(); got != 1 {
		t.Fatalf("expected 1 dial, got %d", got)
	}
}

func TestConnectorConnectFailure(t *testing.T) {
	adapter := newFakeAdapter("BTCUSD")
	adapter.dialErrs = []error{errors.New("refused")}
	c, _ := New(adapter, "BTCUSD", shortOpts())

	err := c.Connect(context.Background())
	if !errors.Is(err, port.ErrConnectFailure) {
		t.Fatalf("expected ErrConnectFailure, got %v", err)
	}
	if got := c.Status(); got != StatusDisconnected {
		t.Fatalf("status = %s, want disconnected", got)
	}
}

func TestConnectorSendWhileDisconnected(t *testing.T) {
	adapter := newFakeAdapter("BTCUSD")
	c, _ := New(adapter, "BTCUSD", shortOpts())

	err := c.SendSubscribe("BTCUSD")
	if !errors.Is(err, port.ErrConnectionUnavailable) {
		t.Fatalf("expected ErrConnectionUnavailable, got %v", err)
	}
}

func TestConnectorReconnectsAfterTransientError(t *testing.T) {
	adapter := newFakeAdapter("BTCUSD")
	c, _ := New(adapter, "BTCUSD", shortOpts())

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer c.Disconnect()

	adapter.conn(0).pushErr(errors.New("connection reset"))

	deadline := time.Now().Add(2 * time.Second)
	for adapter.dialCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if adapter.dialCount() < 2 {
		t.Fatal("connector did not redial after transient error")
	}

	// The new transport must carry a fresh subscribe for the symbol.
	second := adapter.conn(1)
	waitDeadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(waitDeadline) {
		second.mu.Lock()
		n := len(second.subscribes)
		second.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	second.mu.Lock()
	subs := append([]string(nil), second.subscribes...)
	second.mu.Unlock()
	if len(subs) == 0 || subs[0] != "tok:BTCUSD" {
		t.Fatalf("expected resubscribe on new conn, got %v", subs)
	}

	// And ticks keep flowing on the same stream.
	second.pushTick("BTCUSD", "42001")
	select {
	case got := <-c.Ticks():
		if got.Price.String() != "42001" {
			t.Fatalf("unexpected tick %v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("tick after reconnect did not arrive")
	}
}

func TestConnectorGivesUpAfterMaxRetries(t *testing.T) {
	adapter := newFakeAdapter("BTCUSD")
	opts := shortOpts()
	opts.MaxRetries = 2
	c, _ := New(adapter, "BTCUSD", opts)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	adapter.dialErrs = []error{nil, errors.New("down"), errors.New("down"), errors.New("down")}
	adapter.conn(0).pushErr(errors.New("connection reset"))

	select {
	case _, open := <-c.Ticks():
		if open {
			t.Fatal("unexpected tick")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("tick stream not closed after retries exhausted")
	}
	if got := c.Status(); got != StatusDisconnected {
		t.Fatalf("status = %s, want disconnected", got)
	}
}

func TestConnectorUpstreamCloseEndsLoop(t *testing.T) {
	adapter := newFakeAdapter("BTCUSD")
	c, _ := New(adapter, "BTCUSD", shortOpts())

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	adapter.conn(0).pushErr(io.EOF)

	select {
	case _, open := <-c.Ticks():
		if open {
			t.Fatal("unexpected tick")
		}
	case <-time.After(time.Second):
		t.Fatal("tick stream not closed after clean upstream close")
	}
	if got := adapter.dialCount(); got != 1 {
		t.Fatalf("redialed after clean close: %d dials", got)
	}
}

func TestConnectorDisconnectSafeWhenNeverConnected(t *testing.T) {
	adapter := newFakeAdapter("BTCUSD")
	c, _ := New(adapter, "BTCUSD", shortOpts())

	c.Disconnect()
	c.Disconnect()
}

func TestConnectorDisconnectAwaitsLoop(t *testing.T) {
	adapter := newFakeAdapter("BTCUSD")
	c, _ := New(adapter, "BTCUSD", shortOpts())

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	adapter.conn(0).pushTick("BTCUSD", "42000")

	c.Disconnect()

	if got := c.Status(); got != StatusDisconnected {
		t.Fatalf("status = %s, want disconnected", got)
	}
	// After Disconnect returns the loop is gone and the stream is closed.
	for range c.Ticks() {
	}
}

func TestConnectorDroppedFramesProduceNoTicks(t *testing.T) {
	adapter := newFakeAdapter("BTCUSD")
	c, _ := New(adapter, "BTCUSD", shortOpts())

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer c.Disconnect()

	conn := adapter.conn(0)
	conn.frames <- frame{ok: false} // malformed frame, dropped by adapter
	conn.pushTick("BTCUSD", "42000")

	got := <-c.Ticks()
	if got.Price.String() != "42000" {
		t.Fatalf("dropped frame leaked through: %v", got)
	}
}
