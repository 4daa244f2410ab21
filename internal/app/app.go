package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"marketstream/config"
	"marketstream/internal/history"
	"marketstream/internal/market"
	"marketstream/internal/server"
	"marketstream/internal/stream"
	"marketstream/internal/symbols"
	"marketstream/pkg/binance"
	"marketstream/pkg/storage/memory"
	"marketstream/pkg/storage/postgres"
	"marketstream/pkg/storage/redis"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	statsInterval   = time.Minute
	warmConcurrency = 5 // max concurrent history warmups
)

// App owns every long-lived component of the service.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	manager *stream.Manager
	mux     *stream.Multiplexer
	history *history.Service
	catalog *symbols.Catalog
	server  *server.Server

	closers []func() error
}

// New builds the service graph. Nothing runs until Run is called.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger}
	checks := make(map[string]server.Check)

	rest := binance.NewRESTClient(cfg.Binance.REST.BaseURL, cfg.Binance.REST.Timeout)
	ws := binance.NewWSClient(cfg.Binance.WS.URL, cfg.Binance.WS.HandshakeTimeout, cfg.Binance.WS.ReadTimeout, logger)

	dialer := stream.DialerFunc(func(ctx context.Context, name string) (stream.Session, error) {
		sess, err := ws.Dial(ctx, name)
		if err != nil {
			return nil, err
		}
		return sess, nil
	})
	a.manager, a.mux = stream.New(dialer, stream.Options{
		ReconnectDelay:         cfg.Stream.ReconnectDelay,
		MaxConsecutiveFailures: cfg.Stream.MaxConsecutiveFailures,
		SubscriberBuffer:       cfg.Stream.SubscriberBuffer,
		IdleGrace:              cfg.Stream.IdleGrace,
	}, logger)

	store, err := a.cacheStore(checks)
	if err != nil {
		a.close()
		return nil, err
	}
	a.history = history.NewService(history.NewCache(store, cfg.Cache.TTL, logger), rest, logger)

	repo, err := a.symbolRepository(checks)
	if err != nil {
		a.close()
		return nil, err
	}
	var exchange symbols.Exchange
	if cfg.Symbols.Sync {
		exchange = symbolSource{binance.NewSymbolSource(rest)}
	}
	a.catalog = symbols.NewCatalog(repo, exchange, cfg.Symbols.QuoteAssets, logger)

	a.server, err = server.New(server.Config{
		Addr:            cfg.HTTP.Addr,
		Mode:            cfg.HTTP.Mode,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
	}, server.Deps{
		Streams: a.manager,
		Feed:    a.mux,
		History: a.history,
		Catalog: a.catalog,
		Checks:  checks,
	}, logger)
	if err != nil {
		a.close()
		return nil, err
	}

	return a, nil
}

func (a *App) cacheStore(checks map[string]server.Check) (history.Store, error) {
	if a.cfg.Cache.Backend == "memory" {
		a.logger.Info("using in-process history cache")
		return memory.NewStore(), nil
	}

	client, err := redis.NewClient(a.cfg.Cache.Redis)
	if err != nil {
		return nil, fmt.Errorf("redis client: %w", err)
	}
	a.closers = append(a.closers, client.Close)
	checks["redis"] = client.Ping

	// The cache fails open, so an unreachable Redis is not fatal.
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx); err != nil {
		a.logger.Warn("redis unreachable, history served uncached until it recovers",
			zap.String("addr", a.cfg.Cache.Redis.Addr), zap.Error(err))
	}
	return client, nil
}

func (a *App) symbolRepository(checks map[string]server.Check) (symbols.Repository, error) {
	if !a.cfg.Postgres.Enabled {
		a.logger.Info("postgres disabled, symbol catalog kept in memory")
		return symbols.NewMemoryRepository(), nil
	}

	client, err := postgres.InitializeAndMigrateSymbolRecord(a.cfg.Postgres, a.cfg.Log.Environment)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to DB: %w", err)
	}
	a.closers = append(a.closers, client.Close)
	checks["postgres"] = client.Ping
	return postgres.NewSymbolRepository(client), nil
}

// Handler exposes the HTTP router.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Run serves until ctx is done or a component fails, then tears everything down.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	if err := a.catalog.Seed(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.server.Run(gctx) })

	if a.cfg.Symbols.Sync {
		loader := symbols.NewMidnightLoader(a.catalog.Sync, a.logger)
		g.Go(func() error { return loader.Run(gctx) })
	}

	g.Go(func() error {
		a.reportStats(gctx)
		return nil
	})

	keys := a.autostart()
	g.Go(func() error {
		a.warmHistory(gctx, keys)
		return nil
	})

	err := g.Wait()
	a.logger.Info("shutting down")
	return err
}

// autostart connects the configured channels and returns the valid ones.
func (a *App) autostart() []market.ChannelKey {
	var keys []market.ChannelKey
	for _, raw := range a.cfg.Stream.Autostart {
		key, err := market.ParseChannelKey(raw)
		if err != nil {
			a.logger.Warn("skipping autostart channel", zap.String("channel", raw), zap.Error(err))
			continue
		}
		if err := a.manager.EnsureConnection(key.Symbol, key.Interval); err != nil {
			a.logger.Warn("autostart failed", zap.String("channel", key.String()), zap.Error(err))
			continue
		}
		keys = append(keys, key)
	}
	return keys
}

// warmHistory primes the history cache for autostarted channels.
func (a *App) warmHistory(ctx context.Context, keys []market.ChannelKey) {
	var g errgroup.Group
	g.SetLimit(warmConcurrency)

	for _, key := range keys {
		key := key
		g.Go(func() error {
			bars, err := a.history.History(ctx, history.Query{
				Symbol:   key.Symbol,
				Interval: key.Interval,
				Limit:    binance.MaxKlineLimit,
			})
			if err != nil {
				a.logger.Warn("history warmup failed", zap.String("channel", key.String()), zap.Error(err))
				return nil
			}
			a.logger.Info("history warmed", zap.String("channel", key.String()), zap.Int("bars", len(bars)))
			return nil
		})
	}
	_ = g.Wait()
}

// reportStats periodically logs live channel and subscriber counts.
func (a *App) reportStats(ctx context.Context) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			channels := a.manager.Channels()
			subs := 0
			for _, key := range channels {
				subs += a.mux.Subscribers(key.Symbol, key.Interval)
			}
			a.logger.Info("stream stats", zap.Int("channels", len(channels)), zap.Int("subscribers", subs))
		}
	}
}

func (a *App) close() {
	if a.server != nil {
		a.server.Close()
	}
	a.mux.Shutdown()
	a.manager.Close()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
	a.closers = nil
}

// symbolSource adapts the exchangeInfo client to the catalog.
type symbolSource struct {
	src *binance.SymbolSource
}

func (s symbolSource) TradingSymbols(ctx context.Context, quoteAssets []string) ([]symbols.Listing, error) {
	infos, err := s.src.TradingSymbols(ctx, quoteAssets)
	if err != nil {
		return nil, err
	}
	out := make([]symbols.Listing, 0, len(infos))
	for _, info := range infos {
		out = append(out, symbols.Listing{
			Symbol:     info.Symbol,
			BaseAsset:  info.BaseAsset,
			QuoteAsset: info.QuoteAsset,
		})
	}
	return out, nil
}
