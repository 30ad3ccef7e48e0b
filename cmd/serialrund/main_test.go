package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/italypaleale/serialqueue/config"
	"github.com/italypaleale/serialqueue/observability"
)

type closerFunc func() error

func (f closerFunc) Close() error {
	return f()
}

func freePort(t *testing.T) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func newTestRunConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("CONTAINER_APP_REPLICA_NAME", "test")

	cfg := &config.Config{
		Bind: "127.0.0.1",
		Port: freePort(t),
		Commands: map[string]config.CommandConfig{
			"echo": {Exec: []string{"echo"}},
		},
		TSNet: config.TSNetConfig{Enabled: true},
	}
	require.NoError(t, cfg.SetDefaults())
	require.NoError(t, cfg.Validate())
	return cfg
}

func newTestProviders() *observability.Providers {
	return &observability.Providers{
		Log:    slog.New(slog.DiscardHandler),
		Meter:  noop.NewMeterProvider().Meter("test"),
		Tracer: tracenoop.NewTracerProvider().Tracer("test"),
	}
}

func setListenTailnet(t *testing.T, fn func(ctx context.Context, cfg config.TSNetConfig, log *slog.Logger) (net.Listener, io.Closer, error)) {
	t.Helper()

	prev := listenTailnet
	listenTailnet = fn
	t.Cleanup(func() {
		listenTailnet = prev
	})
}

func TestRunTailnetFailure(t *testing.T) {
	cfg := newTestRunConfig(t)
	setListenTailnet(t, func(ctx context.Context, cfg config.TSNetConfig, log *slog.Logger) (net.Listener, io.Closer, error) {
		return nil, nil, errors.New("tailnet unavailable")
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- run(t.Context(), cfg, newTestProviders())
	}()

	select {
	case err := <-errCh:
		require.ErrorContains(t, err, "failed to start tailnet listener")
		require.ErrorContains(t, err, "tailnet unavailable")
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after the tailnet listener failed")
	}

	// Nothing was left listening on the HTTP port
	ln, err := net.Listen("tcp", net.JoinHostPort(cfg.Bind, strconv.Itoa(cfg.Port)))
	require.NoError(t, err)
	require.NoError(t, ln.Close())
}

func TestRunTailnet(t *testing.T) {
	cfg := newTestRunConfig(t)

	tsLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	var nodeClosed atomic.Bool
	setListenTailnet(t, func(ctx context.Context, cfg config.TSNetConfig, log *slog.Logger) (net.Listener, io.Closer, error) {
		return tsLn, closerFunc(func() error {
			nodeClosed.Store(true)
			return nil
		}), nil
	})

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx, cfg, newTestProviders())
	}()

	healthz := "http://" + tsLn.Addr().String() + "/healthz"
	require.EventuallyWithT(t, func(c *assert.CollectT) {
		res, err := http.Get(healthz) //nolint:noctx
		if !assert.NoError(c, err) {
			return
		}
		defer res.Body.Close()
		assert.Equal(c, http.StatusOK, res.StatusCode)
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after the context was canceled")
	}
	assert.True(t, nodeClosed.Load())
}
