package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PriceTick is one normalized price observation for a symbol.
// Immutable; produced only by an upstream feed connector.
type PriceTick struct {
	Symbol     string
	Price      decimal.Decimal
	ObservedAt time.Time
}

// NormalizeSymbol canonicalizes an instrument code for use as a map key.
// Symbols are case-insensitive; the canonical form is uppercase.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
