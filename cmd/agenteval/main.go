package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"
)

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		slog.Error("command failed", slog.Any("error", err))
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "agenteval",
		Usage: "Run a tool-routing agent and evaluate its traces",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Sources: cli.EnvVars("AGENTEVAL_LOG_LEVEL"),
				Usage:   "Log level (debug, info, warn, error)",
			},
			&cli.StringFlag{
				Name:    "log-format",
				Value:   "text",
				Sources: cli.EnvVars("AGENTEVAL_LOG_FORMAT"),
				Usage:   "Log format (text, json)",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Sources: cli.EnvVars("AGENTEVAL_CONFIG"),
				Usage:   "YAML file with agent settings",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			runCommand(),
			evalCommand(),
			showCommand(),
			serveCommand(),
		},
	}
}
