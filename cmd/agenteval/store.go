package main

import (
	"context"

	"github.com/m-mizutani/agenteval/trace"
	"github.com/m-mizutani/agenteval/trace/cs"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

// traceStore is a trace repository that can also enumerate its traces.
type traceStore interface {
	trace.Repository
	List(ctx context.Context) ([]string, error)
}

func storeFlags(prefix string) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "dir",
			Sources: cli.EnvVars(prefix + "_DIR"),
			Usage:   "Local directory holding trace JSON files",
		},
		&cli.StringFlag{
			Name:    "bucket",
			Sources: cli.EnvVars(prefix + "_BUCKET"),
			Usage:   "Google Cloud Storage bucket holding traces",
		},
		&cli.StringFlag{
			Name:    "prefix",
			Sources: cli.EnvVars(prefix + "_PREFIX"),
			Usage:   "Google Cloud Storage object prefix",
		},
	}
}

// openStore returns nil without error when neither --dir nor --bucket is given.
func openStore(ctx context.Context, cmd *cli.Command) (traceStore, error) {
	dir := cmd.String("dir")
	bucket := cmd.String("bucket")

	switch {
	case dir != "" && bucket != "":
		return nil, goerr.New("--dir and --bucket are mutually exclusive")
	case dir != "":
		return trace.NewFileRepository(dir), nil
	case bucket != "":
		repo, err := cs.New(ctx, bucket, cmd.String("prefix"))
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create Cloud Storage repository", goerr.V("bucket", bucket))
		}
		return repo, nil
	}
	return nil, nil
}

func requireStore(ctx context.Context, cmd *cli.Command) (traceStore, error) {
	store, err := openStore(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, goerr.New("either --dir or --bucket must be specified")
	}
	return store, nil
}
