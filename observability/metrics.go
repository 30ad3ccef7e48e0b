package observability

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/contrib/exporters/autoexport"
	api "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// Initializes metrics using OpenTelemetry.
// The returned meter is passed to the queues.
func initMetrics(ctx context.Context, opts Options, res *resource.Resource) (api.Meter, shutdownFn, error) {
	// If the env var OTEL_METRICS_EXPORTER is empty, we set it to "none"
	if os.Getenv("OTEL_METRICS_EXPORTER") == "" {
		_ = os.Setenv("OTEL_METRICS_EXPORTER", "none") //nolint:errcheck
	}
	mr, err := autoexport.NewMetricReader(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize OpenTelemetry metric reader: %w", err)
	}

	mp := metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(mr),
		metric.WithView(queueDurationView()),
	)

	return mp.Meter(opts.InstrumentationName), mp.Shutdown, nil
}

// Boundaries are in ms, from sub-millisecond callbacks to commands running for minutes.
func queueDurationView() metric.View {
	return metric.NewView(
		metric.Instrument{Name: "serialqueue.items.duration"},
		metric.Stream{
			Aggregation: metric.AggregationExplicitBucketHistogram{
				Boundaries: []float64{0.5, 1, 5, 10, 50, 100, 500, 1_000, 5_000, 10_000, 30_000, 60_000, 300_000},
			},
		},
	)
}
