package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/m-mizutani/agenteval/trace"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func showCommand() *cli.Command {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:  "id",
			Usage: "Trace ID to show; lists stored traces when empty",
		},
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Print the raw trace JSON",
		},
	}
	flags = append(flags, storeFlags("AGENTEVAL_TRACE")...)

	return &cli.Command{
		Name:  "show",
		Usage: "Print a stored trace as a span tree",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			store, err := requireStore(ctx, cmd)
			if err != nil {
				return err
			}
			w := cmd.Root().Writer

			id := cmd.String("id")
			if id == "" {
				ids, err := store.List(ctx)
				if err != nil {
					return err
				}
				for _, id := range ids {
					fmt.Fprintln(w, id)
				}
				return nil
			}

			tr, err := store.Load(ctx, id)
			if err != nil {
				return err
			}
			if cmd.Bool("json") {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				if err := enc.Encode(tr); err != nil {
					return goerr.Wrap(err, "failed to encode trace", goerr.V("trace_id", id))
				}
				return nil
			}
			renderTree(w, tr)
			return nil
		},
	}
}

// renderTree prints one line per span, children indented under their parent in
// opening order.
func renderTree(w io.Writer, tr *trace.Trace) {
	fmt.Fprintf(w, "trace %s\n", tr.TraceID)
	if tr.Metadata.Query != "" {
		fmt.Fprintf(w, "query %q\n", tr.Metadata.Query)
	}

	var walk func(span *trace.Span, depth int)
	walk = func(span *trace.Span, depth int) {
		fmt.Fprintf(w, "%s%s\n", strings.Repeat("  ", depth), spanLine(span))
		for _, child := range tr.Children(span.ID) {
			walk(child, depth+1)
		}
	}
	for _, span := range tr.Spans {
		if span.ParentID == "" {
			walk(span, 0)
		}
	}
}

func spanLine(span *trace.Span) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s %s", span.Kind, span.Label, span.Status)
	if span.Closed() {
		fmt.Fprintf(&b, " %s", span.Duration())
	}

	switch span.Kind {
	case trace.SpanKindRouter:
		if tool := span.AttrString(trace.AttrToolID); tool != "" {
			fmt.Fprintf(&b, " -> %s", tool)
		} else {
			b.WriteString(" -> (no tool)")
		}
		if r := span.AttrString(trace.AttrRationale); r != "" {
			fmt.Fprintf(&b, " (%s)", r)
		}
	case trace.SpanKindTool:
		if args := span.Attr(trace.AttrArguments); args != nil {
			if raw, err := json.Marshal(args); err == nil {
				fmt.Fprintf(&b, " args=%s", raw)
			}
		}
	}

	if span.Error != "" {
		fmt.Fprintf(&b, " error=%q", span.Error)
	}
	return b.String()
}
