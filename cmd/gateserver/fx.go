package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/fx"

	"github.com/flicker-im/fabric/internal/config"
	"github.com/flicker-im/fabric/internal/dbpool"
	"github.com/flicker-im/fabric/internal/gateway"
	"github.com/flicker-im/fabric/internal/kvstore"
	"github.com/flicker-im/fabric/internal/rpcstub"
	"github.com/flicker-im/fabric/internal/user"
)

// NewApp wires the gateway's dependency graph the way the teacher's
// cmd/fx.go wires its own service: one fx.Provide block building every
// layer from config down to the chi.Router, then a single fx.Invoke that
// owns the *http.Server's lifecycle.
func NewApp(cfg *config.GatewayConfig, logger *slog.Logger) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.GatewayConfig { return cfg },
			func() *slog.Logger { return logger },
			provideDBPool,
			provideUserMapper,
			provideKVStore,
			provideStubPool,
			provideTokenClient,
			gateway.NewHandler,
			gateway.NewRouter,
		),
		fx.Invoke(registerHTTPServer),
	)
}

func provideDBPool(cfg *config.GatewayConfig, logger *slog.Logger, lc fx.Lifecycle) *dbpool.Pool {
	pool := dbpool.New(cfg.MySQL.DSN,
		dbpool.WithMaxSize(cfg.MySQL.PoolSize),
		dbpool.WithConnLifetime(cfg.MySQL.ConnLifetime),
		dbpool.WithConnIdleTime(cfg.MySQL.ConnIdleTime),
		dbpool.WithMonitorInterval(cfg.MySQL.MonitorInterval),
		dbpool.WithLogger(logger),
	)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Stop()
			return nil
		},
	})
	return pool
}

func provideUserMapper(pool *dbpool.Pool) *user.Mapper {
	return user.NewMapper(dbpool.Querier{Pool: pool})
}

func provideKVStore(cfg *config.GatewayConfig, lc fx.Lifecycle) kvstore.Store {
	store := kvstore.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return store.Close()
		},
	})
	return store
}

func provideStubPool(cfg *config.GatewayConfig, lc fx.Lifecycle) (*rpcstub.StubPool, error) {
	pool, err := rpcstub.NewStubPool([]string{cfg.StatusTarget})
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})
	return pool, nil
}

func provideTokenClient(pool *rpcstub.StubPool) gateway.TokenClient {
	return gateway.NewTokenClient(pool)
}

type httpServerParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Router    chi.Router
	Config    *config.GatewayConfig
	Logger    *slog.Logger
}

func registerHTTPServer(p httpServerParams) {
	srv := &http.Server{Addr: p.Config.ListenAddr, Handler: p.Router}

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			go func() {
				if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
					p.Logger.Error("gateserver: http server error", "error", err)
				}
			}()
			p.Logger.Info("gateserver listening", "addr", srv.Addr)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
