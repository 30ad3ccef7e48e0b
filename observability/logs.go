package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/exporters/autoexport"
	logGlobal "go.opentelemetry.io/otel/log/global"
	logSdk "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/italypaleale/serialqueue/config"
)

func getLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info": // Also default log level
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, config.NewFieldError("logLevel", "must be one of 'debug', 'info', 'warn', 'error'; got '%s'", level)
	}
}

// Returns the handler that writes to out.
// When asJSON is nil, logs are formatted as JSON unless out is a TTY.
func newConsoleHandler(out io.Writer, level slog.Level, asJSON *bool) slog.Handler {
	tty := false
	if f, ok := out.(*os.File); ok {
		tty = isatty.IsTerminal(f.Fd())
	}

	switch {
	case (asJSON != nil && *asJSON) || (asJSON == nil && !tty):
		return slog.NewJSONHandler(out, &slog.HandlerOptions{
			Level: level,
		})
	case tty:
		// Enable colors if we have a TTY
		return tint.NewHandler(out, &tint.Options{
			Level:      level,
			TimeFormat: time.StampMilli,
		})
	default:
		return slog.NewTextHandler(out, &slog.HandlerOptions{
			Level: level,
		})
	}
}

func initLogs(ctx context.Context, opts Options, res *resource.Resource) (*slog.Logger, shutdownFn, error) {
	level, err := getLogLevel(opts.Config.LogLevel)
	if err != nil {
		return nil, nil, err
	}

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	handler := newConsoleHandler(out, level, opts.Config.LogAsJSON)

	// If the env var OTEL_LOGS_EXPORTER is empty, we set it to "none"
	if os.Getenv("OTEL_LOGS_EXPORTER") == "" {
		_ = os.Setenv("OTEL_LOGS_EXPORTER", "none") //nolint:errcheck
	}
	exp, err := autoexport.NewLogExporter(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize OpenTelemetry log exporter: %w", err)
	}

	provider := logSdk.NewLoggerProvider(
		logSdk.WithProcessor(
			logSdk.NewBatchProcessor(exp),
		),
		logSdk.WithResource(res),
	)
	logGlobal.SetLoggerProvider(provider)

	// Send logs to both the console and OTel
	handler = slog.NewMultiHandler(
		handler,
		otelslog.NewHandler(opts.AppName, otelslog.WithLoggerProvider(provider)),
	)

	log := slog.New(handler).
		With(
			slog.String("app", opts.AppName),
			slog.String("version", opts.AppVersion),
			slog.String("instance", opts.Config.GetInstanceID()),
		)

	return log, provider.Shutdown, nil
}
