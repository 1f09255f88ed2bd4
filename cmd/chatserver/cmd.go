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

const ServiceName = "fabric-chatserver"

func Run() error {
	app := &cli.App{
		Name:     ServiceName,
		Usage:    "Chat server: authenticated long-lived TCP sessions and message routing",
		Commands: []*cli.Command{serverCmd()},
	}
	return app.Run(os.Args)
}

func serverCmd() *cli.Command {
	return &cli.Command{
		Name:    "server",
		Aliases: []string{"s"},
		Usage:   "Run the chat TCP server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config_file",
				Usage: "Path to the configuration file",
			},
		},
		Action: func(c *cli.Context) error {
			logger := slog.Default()
			cfg, err := config.LoadChatConfig(c.String("config_file"), logger)
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

			logger.Info("chatserver shutting down")
			return app.Stop(context.Background())
		},
	}
}
