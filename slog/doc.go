// Package slog contains helpers for logging with the standard library's log/slog package.
package slog
