// Package observability initializes logging, metrics, and tracing for serialrund.
// Telemetry is exported with OpenTelemetry, configured with the standard OTEL_* env vars; when none is set, nothing is exported.
package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	sdkTrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/italypaleale/serialqueue/config"
)

type shutdownFn func(ctx context.Context) error

// Options contains options for Init.
type Options struct {
	Config     *config.Config
	AppName    string
	AppVersion string

	// Name of the meter and tracer
	InstrumentationName string
	// Sampler for traces; if nil, uses the SDK's default (which reads OTEL_TRACES_SAMPLER)
	Sampler sdkTrace.Sampler
	// Destination for console logs; defaults to os.Stdout
	Output io.Writer
}

// Providers contains the initialized telemetry providers.
type Providers struct {
	Log    *slog.Logger
	Meter  metric.Meter
	Tracer trace.Tracer

	shutdownFns []shutdownFn
}

// Init initializes logs, metrics, and traces.
func Init(ctx context.Context, opts Options) (*Providers, error) {
	if opts.Config == nil {
		return nil, errors.New("option Config is required")
	}
	if opts.InstrumentationName == "" {
		opts.InstrumentationName = opts.AppName
	}

	res, err := opts.Config.GetOtelResource(opts.AppName)
	if err != nil {
		return nil, fmt.Errorf("failed to get OpenTelemetry resource: %w", err)
	}

	p := &Providers{
		shutdownFns: make([]shutdownFn, 0, 3),
	}

	var fn shutdownFn
	p.Log, fn, err = initLogs(ctx, opts, res)
	if err != nil {
		return nil, err
	}
	p.shutdownFns = append(p.shutdownFns, fn)

	p.Meter, fn, err = initMetrics(ctx, opts, res)
	if err != nil {
		_ = p.Shutdown(ctx)
		return nil, err
	}
	p.shutdownFns = append(p.shutdownFns, fn)

	p.Tracer, fn, err = initTraces(ctx, opts, res)
	if err != nil {
		_ = p.Shutdown(ctx)
		return nil, err
	}
	p.shutdownFns = append(p.shutdownFns, fn)

	return p, nil
}

// Shutdown flushes and stops all providers, in reverse order of initialization.
func (p *Providers) Shutdown(ctx context.Context) error {
	errs := make([]error, 0, len(p.shutdownFns))
	for i := len(p.shutdownFns) - 1; i >= 0; i-- {
		err := p.shutdownFns[i](ctx)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
