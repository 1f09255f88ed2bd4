package main

import (
	"context"
	"log/slog"
	"net"

	"go.uber.org/fx"
	"google.golang.org/grpc"

	"github.com/flicker-im/fabric/internal/config"
	"github.com/flicker-im/fabric/internal/kvstore"
	"github.com/flicker-im/fabric/internal/loadbus"
	"github.com/flicker-im/fabric/internal/rpc/statuspb"
	"github.com/flicker-im/fabric/internal/token"
)

// NewApp wires the Status process the way cmd/gateserver's fx.go wires the
// gateway: one fx.Provide block building every layer, fx.Invoke functions
// owning the *grpc.Server and the background sweep/subscriber goroutines.
func NewApp(cfg *config.StatusConfig, logger *slog.Logger) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.StatusConfig { return cfg },
			func() *slog.Logger { return logger },
			provideKVStore,
			provideRegistry,
			provideTokenService,
			provideGRPCServer,
		),
		fx.Invoke(
			registerTokenService,
			runCleanupSweep,
			runLoadSubscriber,
		),
	)
}

func provideKVStore(cfg *config.StatusConfig, lc fx.Lifecycle) kvstore.Store {
	store := kvstore.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return store.Close()
		},
	})
	return store
}

// provideRegistry seeds the selection registry from the static
// configuration list; every configured server starts Active.
func provideRegistry(cfg *config.StatusConfig) *token.Registry {
	servers := make([]token.ChatServerInfo, 0, len(cfg.ChatServers))
	for _, s := range cfg.ChatServers {
		servers = append(servers, token.ChatServerInfo{
			ID:             s.ID,
			Host:           s.Host,
			Port:           int32(s.Port),
			Zone:           s.Zone,
			MaxConnections: s.MaxConnections,
			Active:         true,
		})
	}
	return token.NewRegistry(servers)
}

func provideTokenService(store kvstore.Store, registry *token.Registry, cfg *config.StatusConfig, logger *slog.Logger) *token.Service {
	return token.NewService(store, registry, []byte(cfg.JWT.Secret), logger)
}

func provideGRPCServer() *grpc.Server {
	return grpc.NewServer()
}

type grpcServerParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Server    *grpc.Server
	Service   *token.Service
	Config    *config.StatusConfig
	Logger    *slog.Logger
}

func registerTokenService(p grpcServerParams) {
	statuspb.RegisterTokenServiceServer(p.Server, p.Service)

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", p.Config.ListenAddr)
			if err != nil {
				return err
			}
			go func() {
				if err := p.Server.Serve(ln); err != nil {
					p.Logger.Error("statusserver: grpc server error", "error", err)
				}
			}()
			p.Logger.Info("statusserver listening", "addr", p.Config.ListenAddr)
			return nil
		},
		OnStop: func(context.Context) error {
			p.Server.GracefulStop()
			return nil
		},
	})
}

type cleanupSweepParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Service   *token.Service
	Config    *config.StatusConfig
}

func runCleanupSweep(p cleanupSweepParams) {
	ctx, cancel := context.WithCancel(context.Background())
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go p.Service.RunCleanupSweep(ctx, p.Config.TokenCleanup)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

type loadSubscriberParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Registry  *token.Registry
	Config    *config.StatusConfig
	Logger    *slog.Logger
}

// runLoadSubscriber binds a durable queue to the load-delta topic and
// applies every event to the registry. The adapter closure bridges
// loadbus.Handler's (ctx, LoadDelta) shape to Registry.ConsumeLoadDeltas'
// (ctx, serverID, delta) shape.
func runLoadSubscriber(p loadSubscriberParams) error {
	sub, err := loadbus.NewSubscriber(p.Config.AMQP.URI, p.Config.LoadQueueName, p.Logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				handler := func(ctx context.Context, delta loadbus.LoadDelta) error {
					return p.Registry.ConsumeLoadDeltas(ctx, delta.ServerID, delta.Delta)
				}
				if err := sub.Run(ctx, handler); err != nil {
					p.Logger.Error("statusserver: load subscriber stopped", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return sub.Close()
		},
	})
	return nil
}
