package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"tickmux/internal/application/port"
	"tickmux/internal/application/service"
	"tickmux/internal/infrastructure/config"
	"tickmux/internal/infrastructure/exchange"
	_ "tickmux/internal/infrastructure/exchange/binance"
	"tickmux/internal/infrastructure/feed"
	"tickmux/internal/infrastructure/feedreg"
	"tickmux/internal/infrastructure/logger"
	"tickmux/internal/infrastructure/storage"
	"tickmux/internal/interfaces/console"
)

const consoleSubscriber = "console"

func main() {
	configPath := flag.String("config", "configs/config.toml", "path to config.toml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Setup("info")
		log.Fatal().Err(err).Str("config", *configPath).Msg("load config failed")
	}
	logger.Setup(cfg.App.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	instruments := buildInstruments(cfg)

	factory, ok := feedreg.Get(cfg.Feed.Vendor)
	if !ok {
		log.Fatal().Str("vendor", cfg.Feed.Vendor).Msg("no feed adapter registered for vendor")
	}
	if !cfg.Exchange.Binance.Enabled {
		log.Fatal().Msg("no exchange feed enabled")
	}
	adapter := factory(cfg.Exchange.Binance.WsURL, instruments)

	connectorOpts := feed.Options{
		DialTimeout:  cfg.DialTimeout(),
		RetryBackoff: cfg.RetryBackoff(),
		MaxRetries:   cfg.Feed.MaxRetries,
	}
	connectorFactory := func(symbol string) (port.Connector, error) {
		return feed.New(adapter, symbol, connectorOpts)
	}

	repo, err := storage.Open(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Storage.Backend).Msg("storage init failed")
	}
	defer repo.Close()

	cache := service.NewPriceCache(repo)
	pool := service.NewFeedConnectionPool(connectorFactory)
	registry := service.NewSubscriptionRegistry(pool)
	dispatcher := service.NewBroadcastDispatcher(registry, cache, cfg.App.SubscriberBuffer)

	dispatcherDone := make(chan struct{})
	go func() {
		defer close(dispatcherDone)
		dispatcher.Run(ctx, pool.Ticks())
	}()

	dispatcher.AttachSink(consoleSubscriber, console.NewSink())
	for _, symbol := range instruments.Symbols() {
		if err := registry.Subscribe(ctx, consoleSubscriber, symbol); err != nil {
			log.Error().Err(err).Str("symbol", symbol).Msg("subscribe failed")
		}
	}

	log.Info().
		Str("config", *configPath).
		Str("vendor", cfg.Feed.Vendor).
		Int("instruments", len(instruments.Symbols())).
		Str("storage", cfg.Storage.Backend).
		Msg("tickmux started")

	<-ctx.Done()

	registry.UnsubscribeAll(consoleSubscriber)
	dispatcher.DetachSink(consoleSubscriber)
	pool.Shutdown()
	<-dispatcherDone

	log.Info().Msg("tickmux stopped")
}

func buildInstruments(cfg *config.Config) *exchange.Instruments {
	list := make([]exchange.Instrument, 0, len(cfg.Instruments))
	for _, ic := range cfg.Instruments {
		list = append(list, exchange.Instrument{
			Symbol:       ic.Symbol,
			VendorSymbol: ic.VendorSymbol,
		})
	}
	return exchange.NewInstruments(list)
}
