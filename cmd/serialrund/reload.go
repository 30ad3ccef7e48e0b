package main

import (
	"context"
	"log/slog"

	"github.com/italypaleale/serialqueue/config"
	"github.com/italypaleale/serialqueue/fsnotify"
	"github.com/italypaleale/serialqueue/serialqueue"
)

// reloader re-loads the configuration file when it changes.
type reloader struct {
	path    string
	control *serialqueue.Queue
	apply   func(cfg *config.Config)
	log     *slog.Logger
}

// watch blocks until ctx is canceled, enqueueing a reload on the control queue for every change to the file.
func (r *reloader) watch(ctx context.Context) error {
	if r.path == "" {
		return nil
	}

	ch, err := fsnotify.WatchFile(ctx, r.path, fsnotify.WatchFileOpts{Log: r.log})
	if err != nil {
		// Not fatal: the server keeps running with the current configuration
		r.log.WarnContext(ctx, "Failed to watch configuration file for changes", slog.String("path", r.path), slog.Any("error", err))
		return nil
	}

	for range ch {
		r.control.Enqueue(r.reload)
	}
	return nil
}

// reload loads the configuration file and applies it.
// Invalid configurations are logged and ignored.
func (r *reloader) reload(ctx context.Context) {
	cfg, err := config.LoadFile(r.path)
	if err != nil {
		r.log.WarnContext(ctx, "Ignoring changed configuration file as it's not valid", slog.String("path", r.path), slog.Any("error", err))
		return
	}

	r.apply(cfg)
	r.log.InfoContext(ctx, "Configuration reloaded", slog.String("path", r.path), slog.Int("commands", len(cfg.Commands)))
}
