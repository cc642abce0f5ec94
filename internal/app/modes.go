package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/mockexchange/internal/domain"
	"github.com/alanyoungcy/mockexchange/internal/live"
	"github.com/alanyoungcy/mockexchange/internal/market"
	"github.com/alanyoungcy/mockexchange/internal/notify"
	"github.com/alanyoungcy/mockexchange/internal/pipeline"
	"github.com/alanyoungcy/mockexchange/internal/server"
	"github.com/alanyoungcy/mockexchange/internal/server/handler"
	"github.com/alanyoungcy/mockexchange/internal/server/ws"
	"github.com/alanyoungcy/mockexchange/internal/service"
	"github.com/alanyoungcy/mockexchange/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// FullMode runs the live book, the API and the archiver in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	selection := a.newSelection()
	w := a.startWorker(ctx)
	ctl := a.newController(deps, w)

	g.Go(func() error {
		// Close releases SelectAsset callers once Run has stopped.
		defer ctl.Close()
		return ctl.Run(ctx)
	})
	g.Go(func() error { return followSelection(ctx, selection, ctl) })
	g.Go(func() error { return a.refreshOnTrades(ctx, deps.TradeListener, ctl) })
	if deps.Archiver != nil {
		archiver := pipeline.NewArchiver(pipeline.ArchiverConfig{
			Retention: a.cfg.Archive.Retention.Duration,
			Interval:  a.cfg.Archive.Interval.Duration,
			Cron:      a.cfg.Archive.Cron,
			Event:     notify.EventArchiveDone,
		}, deps.Archiver, deps.Notifier, a.logger)
		g.Go(func() error { return archiver.RunLoop(ctx) })
	}
	a.startAPI(ctx, g, deps, w, selection, ctl)

	err := g.Wait()
	w.Close()
	return err
}

// ServerMode runs the API only. Books come from the cache and bus, written
// by a simulator process; selection changes are relayed to it over the bus.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	selection := a.newSelection()
	w := a.startWorker(ctx)

	relay := service.NewSelectionRelay(deps.SignalBus, a.logger)
	g.Go(func() error { return relay.Publish(ctx, selection) })
	a.startAPI(ctx, g, deps, w, selection, nil)

	err := g.Wait()
	w.Close()
	return err
}

// SimulatorMode runs the live book only and publishes every view to Redis.
// It follows selections and trades announced on the bus.
func (a *App) SimulatorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting simulator mode")

	g, ctx := errgroup.WithContext(ctx)
	w := a.startWorker(ctx)
	ctl := a.newController(deps, w)

	relay := service.NewSelectionRelay(deps.SignalBus, a.logger)
	g.Go(func() error {
		// Close releases SelectAsset callers once Run has stopped.
		defer ctl.Close()
		return ctl.Run(ctx)
	})
	g.Go(func() error {
		return relay.Follow(ctx, func(asset domain.Asset) { ctl.SelectAsset(asset.ID) })
	})
	g.Go(func() error { return a.refreshOnBusTrades(ctx, deps.SignalBus, ctl) })

	err := g.Wait()
	w.Close()
	return err
}

func (a *App) newSelection() *market.Selection {
	initial := market.DefaultAsset
	if id := a.cfg.Live.InitialAsset; id != "" && id != initial.ID {
		initial = domain.Asset{ID: id}
	}
	return market.NewSelection(initial, a.cfg.Live.Favorites)
}

func (a *App) startWorker(ctx context.Context) *worker.Worker {
	w := worker.New(worker.Config{
		Goroutines: a.cfg.Book.WorkerGoroutines,
		QueueSize:  a.cfg.Book.QueueSize,
		Rows:       a.cfg.Book.Rows,
	}, a.logger)
	w.Start(ctx)
	return w
}

func (a *App) newPriceSource(deps *Dependencies) *service.PriceSource {
	return service.NewPriceSource(service.PriceSourceConfig{
		MaxAge: a.cfg.CoinGecko.PriceMaxAge.Duration,
	}, deps.CoinGecko, deps.PriceCache, deps.LockManager, a.logger)
}

func (a *App) newController(deps *Dependencies, w *worker.Worker) *live.Controller {
	return live.New(live.Config{
		InitialAsset:         a.cfg.Live.InitialAsset,
		MutationInterval:     a.cfg.Live.MutationInterval.Duration,
		AnimationDuration:    a.cfg.Live.AnimationDuration.Duration,
		FetchTimeout:         a.cfg.Live.FetchTimeout.Duration,
		PriceRefreshInterval: a.cfg.Live.PriceRefreshInterval.Duration,
	}, a.newPriceSource(deps), w, a.logger,
		live.WithNotifier(deps.Notifier),
		live.WithPublisher(service.NewBookPublisher(deps.BookCache, deps.SignalBus, a.logger)),
	)
}

// startAPI adds the HTTP server, websocket hub and markets refresher to g.
// ctl is nil in server mode.
func (a *App) startAPI(ctx context.Context, g *errgroup.Group, deps *Dependencies, w *worker.Worker, selection *market.Selection, ctl *live.Controller) {
	markets := service.NewMarketService(service.MarketServiceConfig{
		PerPage:  a.cfg.CoinGecko.MarketsPerPage,
		CacheTTL: a.cfg.CoinGecko.MarketsTTL.Duration,
	}, deps.CoinGecko, deps.MarketCache, a.newPriceSource(deps), w, selection, a.logger)
	trades := service.NewTradeService(deps.TradeStore, deps.BalanceStore, deps.SignalBus, deps.Notifier, a.cfg.Trading.Wallet, a.logger)

	var (
		viewer handler.Viewer
		stats  handler.StatsSource
	)
	if ctl != nil {
		viewer, stats = ctl, ctl
	}
	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(a.logger, deps.Checks...),
		Status:    handler.NewStatusHandler(a.cfg.Mode, a.startedAt, stats),
		Book:      handler.NewBookHandler(viewer, deps.BookCache, selection, a.logger),
		Markets:   handler.NewMarketHandler(markets, a.logger),
		Selection: handler.NewSelectionHandler(selection, a.logger),
		Trades:    handler.NewTradeHandler(trades, a.logger),
	}
	if deps.BlobReader != nil {
		handlers.Archives = handler.NewArchiveHandler(deps.BlobReader, a.logger)
	}

	hub := ws.NewHub(deps.SignalBus, selection, a.logger, ws.Config{
		Mode:           a.cfg.Mode,
		StartedAt:      a.startedAt,
		AllowedOrigins: a.cfg.Server.CORSOrigins,
	})
	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error { return ignoreCanceled(hub.Run(ctx)) })
	g.Go(func() error { return ignoreCanceled(markets.RunRefresh(ctx)) })
	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// followSelection points the controller at each newly selected asset.
func followSelection(ctx context.Context, selection *market.Selection, ctl *live.Controller) error {
	for asset := range selection.Subscribe(ctx) {
		ctl.SelectAsset(asset.ID)
	}
	return ctx.Err()
}

// refresher is the part of live.Controller the trade watchers drive.
type refresher interface {
	Refresh(reason string)
}

// refreshOnTrades regenerates the book whenever a trade is persisted. The
// book is synthetic, so any trade counts, whatever its asset.
func (a *App) refreshOnTrades(ctx context.Context, src domain.TradeEventSource, ctl refresher) error {
	if src == nil {
		return nil
	}
	events, err := src.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("app: subscribe trade events: %w", err)
	}
	for range events {
		ctl.Refresh("trade")
	}
	return ctx.Err()
}

// refreshOnBusTrades is refreshOnTrades for processes without Postgres: it
// watches trades announced on the bus instead.
func (a *App) refreshOnBusTrades(ctx context.Context, bus domain.SignalBus, ctl refresher) error {
	ch, err := bus.Subscribe(ctx, domain.ChannelTrades)
	if err != nil {
		return fmt.Errorf("app: subscribe %s: %w", domain.ChannelTrades, err)
	}
	for range ch {
		ctl.Refresh("trade")
	}
	return ctx.Err()
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
