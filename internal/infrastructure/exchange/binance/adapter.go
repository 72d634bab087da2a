package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"tickmux/internal/application/port"
	"tickmux/internal/domain"
	"tickmux/internal/infrastructure/exchange"
)

const vendorName = "BINANCE"

const (
	readDeadline = 60 * time.Second
	pingInterval = 25 * time.Second
	writeTimeout = 5 * time.Second
)

// Adapter speaks the Binance combined-stream protocol. One dialed connection
// carries the miniTicker stream for the symbols subscribed on it.
type Adapter struct {
	wsURL       string // e.g. wss://stream.binance.com:9443
	instruments *exchange.Instruments
}

func NewAdapter(wsURL string, instruments *exchange.Instruments) *Adapter {
	return &Adapter{
		wsURL:       strings.TrimSpace(wsURL),
		instruments: instruments,
	}
}

func (a *Adapter) Name() string { return vendorName }

// StreamToken maps a canonical symbol to its miniTicker stream name,
// e.g. BTCUSD -> btcusdt@miniTicker.
func (a *Adapter) StreamToken(symbol string) (string, error) {
	in, ok := a.instruments.Lookup(symbol)
	if !ok {
		return "", fmt.Errorf("%w: %s", port.ErrUnsupportedSymbol, symbol)
	}
	return strings.ToLower(in.VendorSymbol) + "@miniTicker", nil
}

func (a *Adapter) Dial(ctx context.Context) (port.VendorConn, error) {
	if a.wsURL == "" {
		return nil, fmt.Errorf("binance ws_url empty")
	}
	u, err := url.Parse(a.wsURL)
	if err != nil {
		return nil, err
	}
	u.Path = "/ws"

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}

	_ = ws.SetReadDeadline(time.Now().Add(readDeadline))
	ws.SetPongHandler(func(string) error {
		_ = ws.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	c := &Conn{
		ws:          ws,
		instruments: a.instruments,
		stop:        make(chan struct{}),
	}
	go c.pingLoop()
	return c, nil
}

// Conn is one live Binance websocket.
type Conn struct {
	ws          *websocket.Conn
	instruments *exchange.Instruments

	writeMu sync.Mutex
	nextID  int

	stop     chan struct{}
	stopOnce sync.Once
}

type controlRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int      `json:"id"`
}

type miniTickerMsg struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Close     string `json:"c"`
}

func (c *Conn) WriteSubscribe(token string) error {
	return c.writeControl("SUBSCRIBE", token)
}

func (c *Conn) WriteUnsubscribe(token string) error {
	return c.writeControl("UNSUBSCRIBE", token)
}

func (c *Conn) writeControl(method, token string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.nextID++
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(controlRequest{Method: method, Params: []string{token}, ID: c.nextID})
}

// ReadTick blocks for the next frame and normalizes it. Control acks and
// malformed payloads are dropped (ok == false); a clean upstream close maps
// to io.EOF.
func (c *Conn) ReadTick() (domain.PriceTick, bool, error) {
	_, raw, err := c.ws.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return domain.PriceTick{}, false, io.EOF
		}
		return domain.PriceTick{}, false, err
	}
	_ = c.ws.SetReadDeadline(time.Now().Add(readDeadline))

	tick, ok := parseFrame(c.instruments, raw)
	return tick, ok, nil
}

func (c *Conn) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	return c.ws.Close()
}

func (c *Conn) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			_ = c.ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeTimeout))
		}
	}
}

// parseFrame turns a raw Binance frame into a normalized tick. Anything that
// is not a well-formed miniTicker event for a known instrument is dropped.
func parseFrame(instruments *exchange.Instruments, raw []byte) (domain.PriceTick, bool) {
	var msg miniTickerMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Warn().Err(err).Str("feed", vendorName).Msg("unparseable frame dropped")
		return domain.PriceTick{}, false
	}
	if msg.Event != "24hrMiniTicker" {
		// Subscribe acks and other control payloads.
		return domain.PriceTick{}, false
	}

	in, ok := instruments.LookupVendor(msg.Symbol)
	if !ok {
		log.Warn().Str("feed", vendorName).Str("pair", msg.Symbol).Msg("tick for unknown instrument dropped")
		return domain.PriceTick{}, false
	}

	price, err := decimal.NewFromString(strings.TrimSpace(msg.Close))
	if err != nil {
		log.Warn().Err(err).Str("feed", vendorName).Str("pair", msg.Symbol).Msg("malformed price dropped")
		return domain.PriceTick{}, false
	}

	observed := time.Now()
	if msg.EventTime > 0 {
		observed = time.UnixMilli(msg.EventTime)
	}

	return domain.PriceTick{
		Symbol:     in.Symbol,
		Price:      price,
		ObservedAt: observed,
	}, true
}
