package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/m-mizutani/agenteval"
	"github.com/m-mizutani/agenteval/trace"
	"github.com/m-mizutani/agenteval/trace/logger"
	"github.com/m-mizutani/ctxlog"
	"github.com/urfave/cli/v3"
)

func runCommand() *cli.Command {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:     "query",
			Aliases:  []string{"q"},
			Required: true,
			Usage:    "Request for the agent",
		},
		&cli.StringFlag{
			Name:    "otlp-endpoint",
			Sources: cli.EnvVars("AGENTEVAL_OTLP_ENDPOINT"),
			Usage:   "OTLP/HTTP endpoint URL to export spans to",
		},
		&cli.BoolFlag{
			Name:    "log-spans",
			Sources: cli.EnvVars("AGENTEVAL_LOG_SPANS"),
			Usage:   "Log span open and close events",
		},
	}
	flags = append(flags, storeFlags("AGENTEVAL_TRACE")...)
	flags = append(flags, agentFlags()...)

	return &cli.Command{
		Name:  "run",
		Usage: "Run the agent once and print the answer",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			store, err := openStore(ctx, cmd)
			if err != nil {
				return err
			}

			var (
				handlers []trace.Handler
				opts     []agenteval.Option
			)
			if endpoint := cmd.String("otlp-endpoint"); endpoint != "" {
				h, shutdown, err := setupOTLP(ctx, endpoint)
				if err != nil {
					return err
				}
				defer shutdown()
				handlers = append(handlers, h)
			}
			if cmd.Bool("log-spans") {
				handlers = append(handlers, logger.New(logger.WithLogger(ctxlog.From(ctx))))
			}
			if len(handlers) > 0 {
				opts = append(opts, agenteval.WithHandler(trace.Multi(handlers...)))
			}
			if store != nil {
				opts = append(opts, agenteval.WithRepository(store))
			}

			agent, err := newAgent(ctx, cmd, opts...)
			if err != nil {
				return err
			}

			result, runErr := agent.Run(ctx, cmd.String("query"))
			if result != nil {
				printResult(cmd, result)
			}
			return runErr
		},
	}
}

func printResult(cmd *cli.Command, result *agenteval.Result) {
	w := cmd.Root().Writer
	fmt.Fprintln(w, result.Answer)
	fmt.Fprintln(w)
	if result.Trace != nil {
		fmt.Fprintf(w, "trace_id:   %s\n", result.Trace.TraceID)
	}
	fmt.Fprintf(w, "state:      %s\n", result.Final())
	fmt.Fprintf(w, "trajectory: %s\n", strings.Join(result.Trajectory(), " -> "))
	if result.StepLimitExceeded {
		fmt.Fprintln(w, "step limit exceeded")
	}
	if result.Fallback {
		fmt.Fprintln(w, "answered by fallback")
	}
}
