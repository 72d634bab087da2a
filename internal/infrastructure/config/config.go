package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"tickmux/internal/domain"
)

type Config struct {
	App struct {
		LogLevel         string `toml:"log_level"`
		AwaitTimeoutMS   int    `toml:"await_timeout_ms"`
		SubscriberBuffer int    `toml:"subscriber_buffer"`
	} `toml:"app"`

	Instruments []InstrumentConfig `toml:"instruments"`

	Feed struct {
		Vendor         string `toml:"vendor"`
		DialTimeoutMS  int    `toml:"dial_timeout_ms"`
		RetryBackoffMS int    `toml:"retry_backoff_ms"`
		// MaxRetries bounds consecutive failed receive cycles per connector;
		// 0 retries forever.
		MaxRetries int `toml:"max_retries"`
	} `toml:"feed"`

	Exchange struct {
		Binance struct {
			Enabled bool   `toml:"enabled"`
			WsURL   string `toml:"ws_url"`
		} `toml:"binance"`
	} `toml:"exchange"`

	Storage struct {
		Backend string `toml:"backend"` // none | redis | postgres | sqlite

		Redis struct {
			Addr   string `toml:"addr"`
			Prefix string `toml:"prefix"`
			TTLMin int    `toml:"ttl_min"`
		} `toml:"redis"`

		Postgres struct {
			DSN string `toml:"dsn"`
		} `toml:"postgres"`

		SQLite struct {
			Path string `toml:"path"`
		} `toml:"sqlite"`
	} `toml:"storage"`
}

type InstrumentConfig struct {
	Symbol       string `toml:"symbol"`
	VendorSymbol string `toml:"vendor_symbol"`
}

func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) AwaitTimeout() time.Duration {
	return time.Duration(c.App.AwaitTimeoutMS) * time.Millisecond
}

func (c *Config) DialTimeout() time.Duration {
	return time.Duration(c.Feed.DialTimeoutMS) * time.Millisecond
}

func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.Feed.RetryBackoffMS) * time.Millisecond
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.App.LogLevel) == "" {
		cfg.App.LogLevel = "info"
	}
	if cfg.App.AwaitTimeoutMS <= 0 {
		cfg.App.AwaitTimeoutMS = 2000
	}
	if cfg.App.SubscriberBuffer <= 0 {
		cfg.App.SubscriberBuffer = 64
	}
	if strings.TrimSpace(cfg.Feed.Vendor) == "" {
		cfg.Feed.Vendor = "BINANCE"
	}
	cfg.Feed.Vendor = strings.ToUpper(strings.TrimSpace(cfg.Feed.Vendor))
	if cfg.Feed.DialTimeoutMS <= 0 {
		cfg.Feed.DialTimeoutMS = 10000
	}
	if cfg.Feed.RetryBackoffMS <= 0 {
		cfg.Feed.RetryBackoffMS = 3000
	}
	if strings.TrimSpace(cfg.Storage.Backend) == "" {
		cfg.Storage.Backend = "none"
	}
	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))
	if strings.TrimSpace(cfg.Storage.Redis.Prefix) == "" {
		cfg.Storage.Redis.Prefix = "tickmux"
	}
}

func validate(cfg *Config) error {
	cfg.Instruments = normalizeInstruments(cfg.Instruments)
	if len(cfg.Instruments) == 0 {
		return errors.New("instruments list is empty")
	}

	if cfg.Exchange.Binance.Enabled && strings.TrimSpace(cfg.Exchange.Binance.WsURL) == "" {
		return errors.New("exchange.binance.ws_url empty but enabled")
	}

	switch cfg.Storage.Backend {
	case "none", "redis", "postgres", "sqlite":
	default:
		return fmt.Errorf("unknown storage.backend %q", cfg.Storage.Backend)
	}
	if cfg.Storage.Backend == "redis" && strings.TrimSpace(cfg.Storage.Redis.Addr) == "" {
		return errors.New("storage.redis.addr empty")
	}
	if cfg.Storage.Backend == "postgres" && strings.TrimSpace(cfg.Storage.Postgres.DSN) == "" {
		return errors.New("storage.postgres.dsn empty")
	}
	if cfg.Storage.Backend == "sqlite" && strings.TrimSpace(cfg.Storage.SQLite.Path) == "" {
		return errors.New("storage.sqlite.path empty")
	}
	return nil
}

func normalizeInstruments(in []InstrumentConfig) []InstrumentConfig {
	out := make([]InstrumentConfig, 0, len(in))
	seen := map[string]struct{}{}
	for _, ic := range in {
		sym := domain.NormalizeSymbol(ic.Symbol)
		if sym == "" {
			continue
		}
		if _, ok := seen[sym]; ok {
			continue
		}
		seen[sym] = struct{}{}
		out = append(out, InstrumentConfig{
			Symbol:       sym,
			VendorSymbol: domain.NormalizeSymbol(ic.VendorSymbol),
		})
	}
	return out
}
