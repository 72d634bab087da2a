package exchange

import (
	"tickmux/internal/domain"
)

// Instrument maps a canonical symbol to the pair a vendor trades it as.
type Instrument struct {
	Symbol       string
	VendorSymbol string
}

// Instruments is a read-only lookup of the supported instrument set, built
// once from configuration and injected into whichever component needs it.
type Instruments struct {
	bySymbol map[string]Instrument
	byVendor map[string]Instrument
	order    []string
}

func NewInstruments(list []Instrument) *Instruments {
	t := &Instruments{
		bySymbol: make(map[string]Instrument, len(list)),
		byVendor: make(map[string]Instrument, len(list)),
	}
	for _, in := range list {
		in.Symbol = domain.NormalizeSymbol(in.Symbol)
		in.VendorSymbol = domain.NormalizeSymbol(in.VendorSymbol)
		if in.Symbol == "" {
			continue
		}
		if in.VendorSymbol == "" {
			in.VendorSymbol = in.Symbol
		}
		if _, dup := t.bySymbol[in.Symbol]; dup {
			continue
		}
		t.bySymbol[in.Symbol] = in
		t.byVendor[in.VendorSymbol] = in
		t.order = append(t.order, in.Symbol)
	}
	return t
}

// Lookup resolves a canonical symbol, case-insensitively.
func (t *Instruments) Lookup(symbol string) (Instrument, bool) {
	in, ok := t.bySymbol[domain.NormalizeSymbol(symbol)]
	return in, ok
}

// LookupVendor resolves a vendor pair back to its instrument.
func (t *Instruments) LookupVendor(vendorSymbol string) (Instrument, bool) {
	in, ok := t.byVendor[domain.NormalizeSymbol(vendorSymbol)]
	return in, ok
}

// Symbols lists the supported canonical symbols in configuration order.
func (t *Instruments) Symbols() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}
