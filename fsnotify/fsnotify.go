// Package fsnotify watches a file for changes and sends a message on a channel.
// Changes happening within the debounce window are coalesced into a single notification.
package fsnotify

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the default time to wait after a change before sending a notification.
const DefaultDebounce = 500 * time.Millisecond

// WatchFileOpts contains options for WatchFile.
type WatchFileOpts struct {
	// Time to wait after the last change before notifying.
	// Defaults to DefaultDebounce.
	Debounce time.Duration
	// Logger for watch errors.
	// Defaults to slog.Default().
	Log *slog.Logger
}

// WatchFile returns a channel that receives a notification when the file at path is created or written to.
// The parent folder is watched rather than the file itself, so changes made by replacing the file (as many editors and Kubernetes ConfigMaps do) are detected too.
// The channel is closed when ctx is canceled.
func WatchFile(ctx context.Context, path string, opts WatchFileOpts) (<-chan struct{}, error) {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}

	path, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}
	folder, name := filepath.Split(path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	err = watcher.Add(folder)
	if err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to add watched folder: %w", err)
	}

	msgChan := make(chan struct{}, 1)
	go func() {
		defer watcher.Close() //nolint:errcheck
		defer close(msgChan)

		// Armed only while a change is pending
		var (
			timer   *time.Timer
			timerCh <-chan time.Time
		)
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != name {
					continue
				}
				// Only listen to events where the file is created (included renamed files) or written to
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}

				// Restart the debounce window
				if timer == nil {
					timer = time.NewTimer(opts.Debounce)
				} else {
					timer.Reset(opts.Debounce)
				}
				timerCh = timer.C

			case <-timerCh:
				timerCh = nil

				// If the channel is full, do not block
				select {
				case msgChan <- struct{}{}:
					// Nop - signal sent
				default:
					// Nop - channel is full
				}

			case watchErr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				opts.Log.WarnContext(ctx, "Error while watching for changes to file on disk",
					slog.Any("error", watchErr),
					slog.String("path", path),
				)
			}
		}
	}()

	return msgChan, nil
}
