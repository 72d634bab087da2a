package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"tickmux/internal/domain"
)

func newTestRepo(t *testing.T) *Repo {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return New(rdb, "tickmux-test", time.Minute)
}

func TestRedisUpsertAndGetLatestPrice(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	observed := time.UnixMilli(1234567890)
	err := repo.UpsertLatestPrice(ctx, domain.PriceTick{
		Symbol:     "btcusd",
		Price:      decimal.RequireFromString("42000.51"),
		ObservedAt: observed,
	})
	if err != nil {
		t.Fatalf("UpsertLatestPrice failed: %v", err)
	}

	got, ok, err := repo.GetLatestPrice(ctx, "BTCUSD")
	if err != nil {
		t.Fatalf("GetLatestPrice failed: %v", err)
	}
	if !ok {
		t.Fatal("expected a stored price")
	}
	if got.Symbol != "BTCUSD" {
		t.Errorf("symbol = %q, want BTCUSD", got.Symbol)
	}
	if got.Price.String() != "42000.51" {
		t.Errorf("price = %s, want 42000.51", got.Price)
	}
	if !got.ObservedAt.Equal(observed) {
		t.Errorf("observedAt = %s, want %s", got.ObservedAt, observed)
	}
}

func TestRedisUpsertOverwrites(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for _, p := range []string{"100", "200"} {
		err := repo.UpsertLatestPrice(ctx, domain.PriceTick{
			Symbol:     "BTCUSD",
			Price:      decimal.RequireFromString(p),
			ObservedAt: time.Now(),
		})
		if err != nil {
			t.Fatalf("UpsertLatestPrice failed: %v", err)
		}
	}

	got, ok, err := repo.GetLatestPrice(ctx, "BTCUSD")
	if err != nil || !ok {
		t.Fatalf("GetLatestPrice = %v %v", ok, err)
	}
	if got.Price.String() != "200" {
		t.Errorf("price = %s, want 200", got.Price)
	}
}

func TestRedisGetUnknownSymbol(t *testing.T) {
	repo := newTestRepo(t)

	_, ok, err := repo.GetLatestPrice(context.Background(), "EURUSD")
	if err != nil {
		t.Fatalf("GetLatestPrice failed: %v", err)
	}
	if ok {
		t.Fatal("expected miss for unknown symbol")
	}
}
