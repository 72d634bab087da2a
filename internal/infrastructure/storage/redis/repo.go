package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"tickmux/internal/application/port"
	"tickmux/internal/domain"
)

// Repo mirrors latest prices into a Redis hash: field = symbol, value = json.
type Repo struct {
	rdb       *redis.Client
	keyLatest string
	ttl       time.Duration
}

type latestPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
	TsMS   int64  `json:"ts_ms"`
}

func New(rdb *redis.Client, prefix string, ttl time.Duration) *Repo {
	return &Repo{
		rdb:       rdb,
		keyLatest: prefix + ":latest",
		ttl:       ttl,
	}
}

func (r *Repo) UpsertLatestPrice(ctx context.Context, tick domain.PriceTick) error {
	symbol := domain.NormalizeSymbol(tick.Symbol)
	b, _ := json.Marshal(latestPrice{
		Symbol: symbol,
		Price:  tick.Price.String(),
		TsMS:   tick.ObservedAt.UnixMilli(),
	})

	pipe := r.rdb.Pipeline()
	pipe.HSet(ctx, r.keyLatest, symbol, string(b))
	if r.ttl > 0 {
		pipe.Expire(ctx, r.keyLatest, r.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *Repo) GetLatestPrice(ctx context.Context, symbol string) (domain.PriceTick, bool, error) {
	raw, err := r.rdb.HGet(ctx, r.keyLatest, domain.NormalizeSymbol(symbol)).Result()
	if err == redis.Nil {
		return domain.PriceTick{}, false, nil
	}
	if err != nil {
		return domain.PriceTick{}, false, err
	}

	var lp latestPrice
	if err := json.Unmarshal([]byte(raw), &lp); err != nil {
		return domain.PriceTick{}, false, fmt.Errorf("decode latest price: %w", err)
	}
	price, err := decimal.NewFromString(lp.Price)
	if err != nil {
		return domain.PriceTick{}, false, fmt.Errorf("decode latest price: %w", err)
	}

	return domain.PriceTick{
		Symbol:     lp.Symbol,
		Price:      price,
		ObservedAt: time.UnixMilli(lp.TsMS),
	}, true, nil
}

func (r *Repo) Close() error { return r.rdb.Close() }

var _ port.Repository = (*Repo)(nil)
