package slog

import (
	"context"
	"log/slog"
	"os"
)

// Can be replaced in tests
var exitFn = os.Exit

// FatalError logs msg with err at error level, then terminates the process with exit code 1.
// It's meant for unrecoverable errors during startup.
func FatalError(log *slog.Logger, msg string, err error) {
	if log == nil {
		log = slog.Default()
	}
	log.LogAttrs(context.Background(), slog.LevelError, msg, slog.Any("error", err))
	exitFn(1)
}
