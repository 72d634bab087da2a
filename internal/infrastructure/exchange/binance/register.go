package binance

import (
	"tickmux/internal/application/port"
	"tickmux/internal/infrastructure/exchange"
	"tickmux/internal/infrastructure/feedreg"
)

func init() {
	feedreg.Register(vendorName, func(wsURL string, instruments *exchange.Instruments) port.VendorAdapter {
		return NewAdapter(wsURL, instruments)
	})
}
