package feedreg

import (
	"github.com/rs/zerolog/log"

	"tickmux/internal/application/port"
	"tickmux/internal/infrastructure/exchange"
)

// Factory builds a vendor adapter bound to a websocket endpoint and the
// injected instrument table.
type Factory func(wsURL string, instruments *exchange.Instruments) port.VendorAdapter

// registry maps vendor names to their adapter factories.
var registry = make(map[string]Factory)

// Register records a vendor adapter factory. Called from the vendor
// packages' init functions.
func Register(vendor string, factory Factory) {
	if factory == nil {
		log.Warn().Str("vendor", vendor).Msg("invalid feed adapter factory")
		return
	}
	if _, exists := registry[vendor]; exists {
		log.Warn().Str("vendor", vendor).Msg("feed adapter factory already registered, overwriting")
	}
	registry[vendor] = factory
	log.Debug().Str("vendor", vendor).Msg("feed adapter factory registered")
}

// Get returns the registered factory for a vendor name.
func Get(vendor string) (Factory, bool) {
	factory, ok := registry[vendor]
	return factory, ok
}
