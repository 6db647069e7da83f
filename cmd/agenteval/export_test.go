package main

import (
	"io"
	"net/http"

	"github.com/m-mizutani/agenteval/trace"
	"github.com/urfave/cli/v3"
)

type ListTracesResponse = listTracesResponse

var (
	NewServer   = newServer
	WithStore   = withStore
	WithAddr    = withAddr
	Paginate    = paginate
	LoadConfig  = loadConfig
	NewLogger   = newLogger
	RenderTree  = renderTree
	SpanLine    = spanLine
	WriteReport = writeAndClose
	ScorerNames = []string{scorerKeyword, scorerOpenAI}
)

// Handler returns the server's HTTP handler for testing.
func (s *server) Handler() http.Handler {
	return s.handler()
}

// NewApp returns the root command writing to w.
func NewApp(w io.Writer) *cli.Command {
	app := newApp()
	app.Writer = w
	app.ErrWriter = io.Discard
	return app
}

// StoreFor wraps a FileRepository as the server's store.
func StoreFor(dir string) traceStore {
	return trace.NewFileRepository(dir)
}
