package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func serveCommand() *cli.Command {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:    "addr",
			Value:   "127.0.0.1:18900",
			Sources: cli.EnvVars("AGENTEVAL_SERVE_ADDR"),
			Usage:   "Server listen address",
		},
	}
	flags = append(flags, storeFlags("AGENTEVAL_TRACE")...)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve stored traces over a JSON HTTP API",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			store, err := requireStore(ctx, cmd)
			if err != nil {
				return err
			}
			s := newServer(withAddr(cmd.String("addr")), withStore(store))
			return s.start(ctx)
		},
	}
}

type serverOption func(*server)

func withAddr(addr string) serverOption {
	return func(s *server) {
		s.addr = addr
	}
}

func withStore(store traceStore) serverOption {
	return func(s *server) {
		s.store = store
	}
}

type server struct {
	addr  string
	store traceStore
	mux   *http.ServeMux
}

func newServer(opts ...serverOption) *server {
	s := &server{
		addr: "127.0.0.1:18900",
		mux:  http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s
}

func (s *server) setupRoutes() {
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/traces", s.handleListTraces)
	s.mux.HandleFunc("GET /api/traces/{id}", s.handleGetTrace)
	s.mux.HandleFunc("GET /api/traces/{id}/tree", s.handleGetTree)
}

func (s *server) handler() http.Handler {
	return s.mux
}

func (s *server) start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return goerr.Wrap(err, "failed to listen", goerr.V("addr", s.addr))
	}
	slog.Info("starting trace server", slog.String("addr", listener.Addr().String()))

	srv := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return goerr.Wrap(err, "server error")
	}
	return nil
}
