package exchange

import "testing"

func TestInstrumentsLookupIsCaseInsensitive(t *testing.T) {
	table := NewInstruments([]Instrument{{Symbol: "btcusd", VendorSymbol: "btcusdt"}})

	in, ok := table.Lookup("BtCuSd")
	if !ok {
		t.Fatal("expected lookup hit")
	}
	if in.Symbol != "BTCUSD" || in.VendorSymbol != "BTCUSDT" {
		t.Fatalf("instrument = %+v, want normalized", in)
	}
}

func TestInstrumentsVendorSymbolDefaultsToSymbol(t *testing.T) {
	table := NewInstruments([]Instrument{{Symbol: "BTCUSD"}})

	in, _ := table.Lookup("BTCUSD")
	if in.VendorSymbol != "BTCUSD" {
		t.Fatalf("vendor symbol = %q, want BTCUSD", in.VendorSymbol)
	}
}

func TestInstrumentsLookupVendor(t *testing.T) {
	table := NewInstruments([]Instrument{{Symbol: "BTCUSD", VendorSymbol: "BTCUSDT"}})

	in, ok := table.LookupVendor("BTCUSDT")
	if !ok || in.Symbol != "BTCUSD" {
		t.Fatalf("LookupVendor = %+v %v, want BTCUSD", in, ok)
	}
	if _, ok := table.LookupVendor("DOGEUSDT"); ok {
		t.Fatal("unexpected hit for unknown pair")
	}
}

func TestInstrumentsSymbolsKeepsOrderAndDedupes(t *testing.T) {
	table := NewInstruments([]Instrument{
		{Symbol: "BTCUSD"},
		{Symbol: "ETHUSD"},
		{Symbol: "btcusd"},
		{Symbol: ""},
	})

	got := table.Symbols()
	if len(got) != 2 || got[0] != "BTCUSD" || got[1] != "ETHUSD" {
		t.Fatalf("Symbols = %v, want [BTCUSD ETHUSD]", got)
	}
}
