package main

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/flicker-im/fabric/internal/chatserver"
	"github.com/flicker-im/fabric/internal/config"
	"github.com/flicker-im/fabric/internal/loadbus"
	"github.com/flicker-im/fabric/internal/rpcstub"
	"github.com/flicker-im/fabric/internal/workerpool"
)

// NewApp wires one chat-server process: a validator pool against the
// Status process, an io-pool for accept-time admission, a load-delta
// publisher, and the ChatServer itself.
func NewApp(cfg *config.ChatConfig, logger *slog.Logger) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.ChatConfig { return cfg },
			func() *slog.Logger { return logger },
			provideStatusPool,
			provideWorkerPool,
			provideLoadPublisher,
			provideChatServer,
		),
		fx.Invoke(runChatServer),
	)
}

func provideStatusPool(cfg *config.ChatConfig, lc fx.Lifecycle) (*rpcstub.StubPool, error) {
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

func provideWorkerPool(logger *slog.Logger, lc fx.Lifecycle) *workerpool.Pool {
	pool := workerpool.New(workerpool.WithLogger(logger))
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Stop()
			return nil
		},
	})
	return pool
}

func provideLoadPublisher(cfg *config.ChatConfig, logger *slog.Logger, lc fx.Lifecycle) (*loadbus.Publisher, error) {
	pub, err := loadbus.NewPublisher(cfg.AMQP.URI, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return pub.Close()
		},
	})
	return pub, nil
}

func provideChatServer(cfg *config.ChatConfig, statusPool *rpcstub.StubPool, pool *workerpool.Pool, pub *loadbus.Publisher, logger *slog.Logger) *chatserver.ChatServer {
	return chatserver.New(
		chatserver.Config{ServerID: cfg.ServerID, Addr: cfg.ListenAddr, Zone: cfg.Zone},
		rpcstub.Validator{Pool: statusPool},
		pool,
		chatserver.WithLogger(logger),
		chatserver.WithLoadSink(loadbus.Sink{Pub: pub, Logger: logger}),
	)
}

func runChatServer(lc fx.Lifecycle, s *chatserver.ChatServer, cfg *config.ChatConfig, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if err := s.Start(); err != nil {
				return err
			}
			logger.Info("chatserver listening", "server_id", cfg.ServerID, "addr", cfg.ListenAddr)
			return nil
		},
		OnStop: func(context.Context) error {
			return s.Stop()
		},
	})
}
