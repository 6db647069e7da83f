package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/m-mizutani/agenteval"
	"github.com/m-mizutani/agenteval/eval"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func evalCommand() *cli.Command {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:     "fixtures",
			Aliases:  []string{"f"},
			Required: true,
			Sources:  cli.EnvVars("AGENTEVAL_FIXTURES"),
			Usage:    "Expectation file (.jsonl, .json, .yaml)",
		},
		&cli.IntFlag{
			Name:    "workers",
			Value:   1,
			Sources: cli.EnvVars("AGENTEVAL_WORKERS"),
			Usage:   "Number of cases evaluated concurrently",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Sources: cli.EnvVars("AGENTEVAL_OUTPUT"),
			Usage:   "Write per-case results as JSON Lines to this file",
		},
		&cli.FloatFlag{
			Name:    "min-score",
			Sources: cli.EnvVars("AGENTEVAL_MIN_SCORE"),
			Usage:   "Fail when any aggregate score is below this value",
		},
	}
	flags = append(flags, storeFlags("AGENTEVAL_TRACE")...)
	flags = append(flags, agentFlags()...)

	return &cli.Command{
		Name:  "eval",
		Usage: "Run the agent for each expectation and score the traces",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			exps, err := eval.LoadExpectationsFile(cmd.String("fixtures"))
			if err != nil {
				return err
			}

			store, err := openStore(ctx, cmd)
			if err != nil {
				return err
			}
			var opts []agenteval.Option
			if store != nil {
				opts = append(opts, agenteval.WithRepository(store))
			}
			agent, err := newAgent(ctx, cmd, opts...)
			if err != nil {
				return err
			}

			runner := eval.NewRunner(agent, eval.WithWorkers(int(cmd.Int("workers"))))
			report, err := runner.Evaluate(ctx, exps)
			if err != nil {
				return err
			}

			if path := cmd.String("output"); path != "" {
				if err := writeReport(path, report); err != nil {
					return err
				}
			}

			printReport(cmd, report)

			if cmd.IsSet("min-score") {
				minScore := cmd.Float("min-score")
				for _, kind := range eval.Kinds {
					if score := report.Aggregate[kind]; score < minScore {
						return goerr.New("aggregate score below minimum",
							goerr.V("kind", kind), goerr.V("score", score), goerr.V("min", minScore))
					}
				}
			}
			return nil
		},
	}
}

func writeReport(path string, report *eval.Report) error {
	f, err := os.Create(path) // #nosec G304
	if err != nil {
		return goerr.Wrap(err, "failed to create output file", goerr.V("path", path))
	}
	return writeAndClose(f, path, report)
}

func writeAndClose(w io.WriteCloser, path string, report *eval.Report) error {
	if err := report.WriteJSONL(w); err != nil {
		_ = w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return goerr.Wrap(err, "failed to close output file", goerr.V("path", path))
	}
	return nil
}

func printReport(cmd *cli.Command, report *eval.Report) {
	w := cmd.Root().Writer
	fmt.Fprintf(w, "%-12s %-10s %-10s %-10s %s\n", "case", "router", "skill", "trajectory", "error")
	for _, c := range report.Cases {
		fmt.Fprintf(w, "%-12s %-10.2f %-10.2f %-10.2f %s\n",
			c.ID,
			c.Score(eval.KindRouter),
			c.Score(eval.KindSkill),
			c.Score(eval.KindTrajectory),
			c.RunError,
		)
	}
	fmt.Fprintf(w, "%-12s %-10.2f %-10.2f %-10.2f\n",
		"aggregate",
		report.Aggregate[eval.KindRouter],
		report.Aggregate[eval.KindSkill],
		report.Aggregate[eval.KindTrajectory],
	)
}
