package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"

	"github.com/italypaleale/serialqueue/config"
	"github.com/italypaleale/serialqueue/tsnetserver"
)

// listenTailnet brings up the tailnet node and returns a TLS listener on it, and the node to close on shutdown.
// Replaced in tests.
var listenTailnet = func(ctx context.Context, cfg config.TSNetConfig, log *slog.Logger) (net.Listener, io.Closer, error) {
	ts, err := tsnetserver.New(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}

	ln, err := ts.Listen(cfg.Port)
	if err != nil {
		return nil, nil, errors.Join(err, ts.Close())
	}

	log.Info("Listening on the tailnet", slog.String("hostname", ts.Hostname()), slog.Int("port", cfg.Port))
	return ln, ts, nil
}
