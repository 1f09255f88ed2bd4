package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/flicker-im/fabric/internal/config"
)

const ServiceName = "fabric-statusserver"

func Run() error {
	app := &cli.App{
		Name:     ServiceName,
		Usage:    "Stateful token service: JWT issuance, validation, and chat-server selection",
		Commands: []*cli.Command{serverCmd()},
	}
	return app.Run(os.Args)
}

func serverCmd() *cli.Command {
	return &cli.Command{
		Name:    "server",
		Aliases: []string{"s"},
		Usage:   "Run the status/token gRPC service",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config_file",
				Usage: "Path to the configuration file",
			},
		},
		Action: func(c *cli.Context) error {
			logger := slog.Default()
			cfg, err := config.LoadStatusConfig(c.String("config_file"), logger)
			if err != nil {
				return err
			}

			app := NewApp(cfg, logger)
			if err := app.Start(c.Context); err != nil {
				return err
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop

			logger.Info("statusserver shutting down")
			return app.Stop(context.Background())
		},
	}
}
