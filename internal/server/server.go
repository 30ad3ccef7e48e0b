// Package server contains the HTTP API of serialrund.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	kclock "k8s.io/utils/clock"

	"github.com/italypaleale/serialqueue/config"
	"github.com/italypaleale/serialqueue/internal/runner"
	"github.com/italypaleale/serialqueue/keyedqueue"
)

const shutdownTimeout = 15 * time.Second

// Options contains options for New.
type Options struct {
	// Used for the listen address, the host ID header, the body size limit, and the initial commands
	Config *config.Config
	Group  *keyedqueue.Group
	Runner *runner.Runner
	Log    *slog.Logger

	// Internal clock property, used for testing
	clock kclock.PassiveClock
}

// Server is the HTTP server of serialrund.
type Server struct {
	group    *keyedqueue.Group
	runner   *runner.Runner
	log      *slog.Logger
	addr     string
	handler  http.Handler
	commands atomic.Pointer[map[string]runner.Command]
}

// New returns a new Server.
func New(opts Options) (*Server, error) {
	if opts.Config == nil || opts.Group == nil || opts.Runner == nil {
		return nil, errors.New("options Config, Group, and Runner are required")
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}

	s := &Server{
		group:  opts.Group,
		runner: opts.Runner,
		log:    opts.Log.With(slog.String("scope", "server")),
		addr:   net.JoinHostPort(opts.Config.Bind, strconv.Itoa(opts.Config.Port)),
	}
	s.SetCommands(opts.Config.Commands)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("POST /v1/queues/{key}/commands/{command}", s.handleRunCommand)

	s.handler = Use(mux,
		MiddlewareMaxBodySize(opts.Config.MaxBodySize),
		MiddlewareHostIDHeader(opts.Config.GetInstanceID()),
		MiddlewareRequestLog(s.log, opts.clock, "/healthz"),
	)

	return s, nil
}

// SetCommands replaces the table of commands that can be invoked.
// Requests already running keep the command they started with.
func (s *Server) SetCommands(cmds map[string]config.CommandConfig) {
	table := make(map[string]runner.Command, len(cmds))
	for name, c := range cmds {
		table[name] = runner.Command{
			Name:    name,
			Exec:    c.Exec,
			Dir:     c.Dir,
			Env:     c.Env,
			Timeout: c.Timeout,
		}
	}
	s.commands.Store(&table)
}

func (s *Server) command(name string) (runner.Command, bool) {
	cmd, ok := (*s.commands.Load())[name]
	return cmd, ok
}

// Handler returns the HTTP handler, with all middlewares applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe listens on the configured address and serves requests until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves requests on ln until ctx is canceled, then shuts down gracefully.
// It takes ownership of ln.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(s.log.Handler(), slog.LevelWarn),
	}

	s.log.InfoContext(ctx, "HTTP server started", slog.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server error: %w", err)
	case <-ctx.Done():
		// Fallthrough
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	if err != nil {
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}
	s.log.InfoContext(ctx, "HTTP server stopped", slog.String("addr", ln.Addr().String()))

	return nil
}
