package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ChiefWoods/prediction/internal/crypto"
	"github.com/ChiefWoods/prediction/internal/domain"
	"github.com/ChiefWoods/prediction/internal/keeper"
	"github.com/ChiefWoods/prediction/internal/server"
	"github.com/ChiefWoods/prediction/internal/server/handler"
	"github.com/ChiefWoods/prediction/internal/server/ws"
)

const shutdownTimeout = 10 * time.Second

// ServerMode serves the HTTP API and the websocket event hub.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startServer(ctx, g, deps)
	return g.Wait()
}

// KeeperMode runs the settlement keeper only.
func (a *App) KeeperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting keeper mode")
	k, err := a.newKeeper(deps)
	if err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return k.Run(ctx) })
	return g.Wait()
}

// FullMode runs the API server and the keeper in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	k, err := a.newKeeper(deps)
	if err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	if a.cfg.Server.Enabled {
		a.startServer(ctx, g, deps)
	}
	g.Go(func() error { return k.Run(ctx) })
	return g.Wait()
}

func (a *App) newKeeper(deps *Dependencies) (*keeper.Keeper, error) {
	key, err := crypto.LoadKey(crypto.KeySource{
		RawPrivateKey:    a.cfg.Keeper.PrivateKey,
		EncryptedKeyPath: a.cfg.Keeper.EncryptedKeyPath,
		Password:         a.cfg.Keeper.KeyPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("app: load keeper key: %w", err)
	}
	authority := crypto.NewSigner(key).Address()
	a.logger.Info("keeper authority loaded", slog.String("address", authority.Hex()))

	return keeper.New(deps.Service, deps.Locks, authority, keeper.Config{
		Interval:    a.cfg.Keeper.Interval.Duration,
		LockTTL:     a.cfg.Keeper.LockTTL.Duration,
		Concurrency: a.cfg.Keeper.Concurrency,
		BatchSize:   a.cfg.Keeper.BatchSize,
	}, deps.Metrics, domain.SystemClock{}, a.logger), nil
}

// startServer adds the hub and the HTTP server to g. The server shuts down
// once ctx ends.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	hub := ws.NewHub(deps.Bus, a.cfg.Server.CORSOrigins, a.logger)
	srv := a.newServer(deps, hub)

	g.Go(func() error { return hub.Run(ctx) })
	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

func (a *App) newServer(deps *Dependencies, hub *ws.Hub) *server.Server {
	checks := make(map[string]handler.Pinger, len(deps.Checks))
	for name, fn := range deps.Checks {
		checks[name] = fn
	}
	h := server.Handlers{
		Health:    handler.NewHealthHandler(checks, a.logger),
		Config:    handler.NewConfigHandler(deps.Service, a.logger),
		Markets:   handler.NewMarketHandler(deps.Service, a.logger),
		Positions: handler.NewPositionHandler(deps.Service, a.logger),
		Accounts:  handler.NewAccountHandler(deps.Service, a.logger),
	}
	return server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		AuthMaxSkew: a.cfg.Server.AuthMaxSkew.Duration,
		AdminAPIKey: a.cfg.Server.AdminAPIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, h, server.Deps{
		Limiter:    deps.Limiter,
		Signatures: deps.Locks,
		Hub:        hub,
		Metrics:    deps.Metrics,
		Clock:      domain.SystemClock{},
	}, a.logger)
}
