// Command serialrund runs configured commands over HTTP, one at a time per key.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/italypaleale/serialqueue/config"
	"github.com/italypaleale/serialqueue/internal/runner"
	"github.com/italypaleale/serialqueue/internal/server"
	"github.com/italypaleale/serialqueue/keyedqueue"
	"github.com/italypaleale/serialqueue/observability"
	"github.com/italypaleale/serialqueue/serialqueue"
	slogkit "github.com/italypaleale/serialqueue/slog"
)

const (
	appName         = "serialrund"
	shutdownTimeout = 30 * time.Second
)

// Set at build time
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		var cfgErr *config.ConfigError
		if errors.As(err, &cfgErr) {
			cfgErr.LogFatal(slog.Default())
		}
		slogkit.FatalError(slog.Default(), "Failed to load configuration", err)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	obs, err := observability.Init(ctx, observability.Options{
		Config:              cfg,
		AppName:             appName,
		AppVersion:          version,
		InstrumentationName: "github.com/italypaleale/serialqueue",
	})
	if err != nil {
		slogkit.FatalError(slog.Default(), "Failed to initialize observability", err)
		return
	}
	log := obs.Log
	slog.SetDefault(log)

	log.Info("Starting "+appName,
		slog.String("config", cfg.GetLoadedConfigPath()),
		slog.Int("commands", len(cfg.Commands)),
	)

	runErr := run(ctx, cfg, obs)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err = obs.Shutdown(shutdownCtx)
	if err != nil {
		log.Warn("Failed to shut down observability providers", slog.Any("error", err))
	}

	if runErr != nil {
		slogkit.FatalError(log, "Error running "+appName, runErr)
		return
	}
	log.Info("Shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, obs *observability.Providers) error {
	log := obs.Log

	// The tailnet listener is created before anything else is started, so a failure here has nothing to tear down
	var tsLn net.Listener
	if cfg.TSNet.Enabled {
		ln, node, err := listenTailnet(ctx, cfg.TSNet, log)
		if err != nil {
			return fmt.Errorf("failed to start tailnet listener: %w", err)
		}
		defer node.Close() //nolint:errcheck
		tsLn = ln
	}

	group := keyedqueue.NewGroup(&keyedqueue.GroupOptions{
		Queue: &serialqueue.Options{
			Priority: cfg.QueuePriority(),
			Logger:   log,
			Meter:    obs.Meter,
			Tracer:   obs.Tracer,
		},
		IdleTimeout:     cfg.Queues.IdleTimeout,
		CleanupInterval: cfg.Queues.CleanupInterval,
	})

	srv, err := server.New(server.Options{
		Config: cfg,
		Group:  group,
		Runner: runner.New(runner.Options{Log: log}),
		Log:    log,
	})
	if err != nil {
		return errors.Join(fmt.Errorf("failed to create server: %w", err), group.Close(ctx))
	}

	// Config reloads go through this queue so they never overlap
	control := serialqueue.New(&serialqueue.Options{
		Name:   "control",
		Logger: log,
		Meter:  obs.Meter,
		Tracer: obs.Tracer,
	})

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return srv.ListenAndServe(egCtx)
	})

	if tsLn != nil {
		eg.Go(func() error {
			return srv.Serve(egCtx, tsLn)
		})
	}

	rl := &reloader{
		path:    cfg.GetLoadedConfigPath(),
		control: control,
		apply: func(newCfg *config.Config) {
			srv.SetCommands(newCfg.Commands)
		},
		log: log,
	}
	eg.Go(func() error {
		return rl.watch(egCtx)
	})

	runErr := eg.Wait()

	// Stop accepting work and let the buffered commands complete
	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	err = group.Close(shutdownCtx)
	if err != nil {
		log.Warn("Not all queued commands completed before shutdown", slog.Any("error", err))
	}
	err = control.Shutdown(shutdownCtx)
	if err != nil {
		log.Warn("Failed to complete pending configuration reloads", slog.Any("error", err))
	}

	return runErr
}
