package port

import (
	"context"

	"tickmux/internal/domain"
)

// Repository mirrors the latest known price per symbol to external storage.
// Only last-value state; no history.
type Repository interface {
	UpsertLatestPrice(ctx context.Context, tick domain.PriceTick) error
	GetLatestPrice(ctx context.Context, symbol string) (domain.PriceTick, bool, error)

	Close() error
}
