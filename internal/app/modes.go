package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tradeforge/indexcore/internal/server"
	"github.com/tradeforge/indexcore/internal/server/handler"
	"github.com/tradeforge/indexcore/internal/server/ws"
	"github.com/tradeforge/indexcore/internal/service"
)

// archiveLockTTL bounds how long one replica holds the archive lock. A run
// that outlives the TTL loses exclusivity, so it should stay well above the
// expected run time.
const archiveLockTTL = 10 * time.Minute

// ServeMode runs the trading surface: matching engine persistence, batch
// auctions, the HTTP API, and the WebSocket hub. Settlement workers are
// expected to run in a separate "settle" process.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return deps.Persister.Run(ctx) })
	g.Go(func() error { return deps.Batches.Run(ctx) })

	a.startArchiver(ctx, g, deps)
	a.startServer(ctx, g, deps, deps.Service)

	return g.Wait()
}

// SettleMode runs only the settlement queue workers. Lanes are shared
// through Redis, so any number of settle replicas can drain them.
func (a *App) SettleMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting settle mode",
		slog.Int("workers", a.cfg.Settlement.Workers),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return deps.Queue.Run(ctx) })
	return g.Wait()
}

// MonitorMode runs the read-only surface: the HTTP API and the WebSocket hub
// fed by the signal bus, without batch execution or settlement workers. Book
// reads come from the shared mirror, which the serving replicas keep current.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startServer(ctx, g, deps, service.NewMirrorBookReader(deps.Mirror, a.logger))
	return g.Wait()
}

// FullMode runs every component in a single process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return deps.Persister.Run(ctx) })
	g.Go(func() error { return deps.Batches.Run(ctx) })
	g.Go(func() error { return deps.Queue.Run(ctx) })

	a.startArchiver(ctx, g, deps)
	a.startServer(ctx, g, deps, deps.Service)

	return g.Wait()
}

// startServer builds the handler set, the WebSocket hub, and the HTTP server,
// and registers their goroutines on g. books is the snapshot source for the
// book endpoints; it is a no-op when the server is disabled in configuration.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, books handler.BookService) {
	if !a.cfg.Server.Enabled {
		a.logger.InfoContext(ctx, "http server disabled")
		return
	}

	channels := make([]string, 0, len(a.cfg.Pairs))
	for _, pair := range a.cfg.Pairs {
		channels = append(channels, "trades:"+pair)
	}
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{Channels: channels})
	g.Go(func() error { return hub.Run(ctx) })

	handlers := server.Handlers{
		Health:      handler.NewHealthHandler(a.logger),
		Book:        handler.NewBookHandler(books, a.logger),
		Orders:      handler.NewOrderHandler(deps.Service, a.logger),
		Commitments: handler.NewCommitmentHandler(deps.Service, a.logger),
		Settlements: handler.NewSettlementHandler(deps.Service, a.logger),
		Trades:      handler.NewTradeHandler(deps.Service, a.logger),
	}
	if deps.Blobs != nil {
		handlers.Archives = handler.NewArchiveHandler(deps.Blobs, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		Limiter:     deps.RateLimiter,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// startArchiver registers the periodic cold-archive loop on g. The archive
// lock keeps concurrent replicas from uploading the same records twice.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}

	interval := a.cfg.Archiver.Interval.Duration
	retention := time.Duration(a.cfg.Archiver.RetentionDays) * 24 * time.Hour

	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				a.runArchive(ctx, deps, retention)
			}
		}
	})
}

// runArchive performs one locked archive pass. Lock contention and archive
// errors are logged, never fatal.
func (a *App) runArchive(ctx context.Context, deps *Dependencies, retention time.Duration) {
	unlock, err := deps.LockManager.Acquire(ctx, "archive", archiveLockTTL)
	if err != nil {
		a.logger.DebugContext(ctx, "archive lock busy",
			slog.String("error", err.Error()),
		)
		return
	}
	defer unlock()

	before := time.Now().UTC().Add(-retention)
	report, err := deps.Archiver.Archive(ctx, before)
	if err != nil {
		a.logger.ErrorContext(ctx, "archive run failed",
			slog.String("error", err.Error()),
		)
		return
	}

	a.logger.InfoContext(ctx, "archive run complete",
		slog.Time("before", before),
		slog.Int("orders", report.Orders),
		slog.Int("trades", report.Trades),
		slog.Int("settlements", report.Settlements),
		slog.Int("batches", report.Batches),
	)
}
