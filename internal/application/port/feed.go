package port

import (
	"context"

	"tickmux/internal/domain"
)

// Connector owns exactly one upstream network connection for one symbol.
type Connector interface {
	// Connect opens the upstream transport and starts the receive loop.
	// Idempotent: a no-op when already connected.
	Connect(ctx context.Context) error

	// SendSubscribe emits the vendor subscribe control message.
	// Fails with ErrUnsupportedSymbol when the symbol has no vendor mapping
	// and ErrConnectionUnavailable when the transport is not connected.
	SendSubscribe(symbol string) error
	SendUnsubscribe(symbol string) error

	// Ticks is the normalized tick stream. Closed when the receive loop
	// terminates for good.
	Ticks() <-chan domain.PriceTick

	// Disconnect cancels the receive loop, awaits its termination and closes
	// the transport. Safe to call even if never connected.
	Disconnect()
}

// ConnectorFactory builds a connector for a symbol, or fails with
// ErrUnsupportedSymbol when no adapter covers it.
type ConnectorFactory func(symbol string) (Connector, error)

// VendorAdapter speaks one vendor's wire protocol. The core never sees
// vendor frames; it only consumes normalized ticks.
type VendorAdapter interface {
	Name() string

	// StreamToken maps a canonical symbol to the vendor subscription token.
	StreamToken(symbol string) (string, error)

	Dial(ctx context.Context) (VendorConn, error)
}

// VendorConn is one live vendor transport.
type VendorConn interface {
	WriteSubscribe(token string) error
	WriteUnsubscribe(token string) error

	// ReadTick blocks for the next frame. ok == false means the frame carried
	// no tick (control frame, malformed payload) and was dropped.
	// io.EOF reports a clean upstream close; any other error is transient.
	ReadTick() (tick domain.PriceTick, ok bool, err error)

	Close() error
}
