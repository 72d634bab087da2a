package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"tickmux/internal/application/port"
	"tickmux/internal/domain"
	"tickmux/internal/infrastructure/config"
	"tickmux/internal/infrastructure/storage/postgres"
	"tickmux/internal/infrastructure/storage/redis"
	"tickmux/internal/infrastructure/storage/sqlite"
)

// Open builds the latest-price mirror selected by configuration.
// backend "none" yields a repository that discards everything.
func Open(cfg *config.Config) (port.Repository, error) {
	switch cfg.Storage.Backend {
	case "none":
		return NewNoopRepo(), nil
	case "redis":
		rdb := goredis.NewClient(&goredis.Options{Addr: cfg.Storage.Redis.Addr})
		ttl := time.Duration(cfg.Storage.Redis.TTLMin) * time.Minute
		return redis.New(rdb, cfg.Storage.Redis.Prefix, ttl), nil
	case "postgres":
		return postgres.New(cfg.Storage.Postgres.DSN)
	case "sqlite":
		return sqlite.New(cfg.Storage.SQLite.Path)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// NoopRepo discards writes and never has data.
type NoopRepo struct{}

func NewNoopRepo() *NoopRepo { return &NoopRepo{} }

func (*NoopRepo) UpsertLatestPrice(ctx context.Context, tick domain.PriceTick) error {
	return nil
}

func (*NoopRepo) GetLatestPrice(ctx context.Context, symbol string) (domain.PriceTick, bool, error) {
	return domain.PriceTick{}, false, nil
}

func (*NoopRepo) Close() error { return nil }

var _ port.Repository = (*NoopRepo)(nil)

// InMemoryRepo keeps the latest tick per symbol in process memory.
type InMemoryRepo struct {
	mu     sync.RWMutex
	latest map[string]domain.PriceTick
}

func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{latest: make(map[string]domain.PriceTick)}
}

func (r *InMemoryRepo) UpsertLatestPrice(ctx context.Context, tick domain.PriceTick) error {
	r.mu.Lock()
	r.latest[domain.NormalizeSymbol(tick.Symbol)] = tick
	r.mu.Unlock()
	return nil
}

func (r *InMemoryRepo) GetLatestPrice(ctx context.Context, symbol string) (domain.PriceTick, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.latest[domain.NormalizeSymbol(symbol)]
	return t, ok, nil
}

func (r *InMemoryRepo) Close() error { return nil }

var _ port.Repository = (*InMemoryRepo)(nil)
