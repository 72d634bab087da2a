package postgres

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"tickmux/internal/application/port"
	"tickmux/internal/domain"
)

type Repo struct {
	db *sql.DB
}

func New(dsn string) (*Repo, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	r := &Repo{db: db}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repo) Close() error { return r.db.Close() }

func (r *Repo) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS latest_prices (
  symbol TEXT PRIMARY KEY,
  price NUMERIC NOT NULL,
  ts_ms BIGINT NOT NULL
);
`)
	return err
}

func (r *Repo) UpsertLatestPrice(ctx context.Context, tick domain.PriceTick) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO latest_prices(symbol, price, ts_ms) VALUES($1, $2, $3)
ON CONFLICT(symbol) DO UPDATE SET price = EXCLUDED.price, ts_ms = EXCLUDED.ts_ms
`, domain.NormalizeSymbol(tick.Symbol), tick.Price.String(), tick.ObservedAt.UnixMilli())
	return err
}

func (r *Repo) GetLatestPrice(ctx context.Context, symbol string) (domain.PriceTick, bool, error) {
	var (
		priceStr string
		tsMS     int64
	)
	sym := domain.NormalizeSymbol(symbol)
	err := r.db.QueryRowContext(ctx,
		`SELECT price::text, ts_ms FROM latest_prices WHERE symbol = $1`, sym,
	).Scan(&priceStr, &tsMS)
	if err == sql.ErrNoRows {
		return domain.PriceTick{}, false, nil
	}
	if err != nil {
		return domain.PriceTick{}, false, err
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return domain.PriceTick{}, false, err
	}
	return domain.PriceTick{
		Symbol:     sym,
		Price:      price,
		ObservedAt: time.UnixMilli(tsMS),
	}, true, nil
}

var _ port.Repository = (*Repo)(nil)
