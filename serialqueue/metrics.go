package serialqueue

import (
	"context"
	"errors"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/italypaleale/serialqueue"

type queueMetrics struct {
	attrs     []attribute.KeyValue
	attrsOpt  metric.MeasurementOption
	submitted metric.Int64Counter
	completed metric.Int64Counter
	abandoned metric.Int64Counter
	backlog   metric.Int64UpDownCounter
	duration  metric.Float64Histogram
}

func newQueueMetrics(meter metric.Meter, attrs []attribute.KeyValue) (*queueMetrics, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter(meterName)
	}

	m := &queueMetrics{
		attrs:    slices.Clip(attrs),
		attrsOpt: metric.WithAttributes(attrs...),
	}

	var err, errs error
	m.submitted, err = meter.Int64Counter(
		"serialqueue.items.submitted",
		metric.WithDescription("Number of work items accepted by the queue"),
		metric.WithUnit("{item}"),
	)
	errs = errors.Join(errs, err)

	m.completed, err = meter.Int64Counter(
		"serialqueue.items.completed",
		metric.WithDescription("Number of work items invoked by the queue, by outcome"),
		metric.WithUnit("{item}"),
	)
	errs = errors.Join(errs, err)

	m.abandoned, err = meter.Int64Counter(
		"serialqueue.items.abandoned",
		metric.WithDescription("Number of buffered work items dropped when the queue was canceled"),
		metric.WithUnit("{item}"),
	)
	errs = errors.Join(errs, err)

	m.backlog, err = meter.Int64UpDownCounter(
		"serialqueue.items.backlog",
		metric.WithDescription("Number of work items waiting to be invoked"),
		metric.WithUnit("{item}"),
	)
	errs = errors.Join(errs, err)

	m.duration, err = meter.Float64Histogram(
		"serialqueue.items.duration",
		metric.WithDescription("Time spent running each work item"),
		metric.WithUnit("ms"),
	)
	errs = errors.Join(errs, err)

	if errs != nil {
		return nil, errs
	}
	return m, nil
}

// The backlog is increased before an item is sent to the channel, so it never goes negative when the worker picks the item up right away.
func (m *queueMetrics) recordQueued(ctx context.Context) {
	m.backlog.Add(ctx, 1, m.attrsOpt)
}

func (m *queueMetrics) recordAccepted(ctx context.Context) {
	m.submitted.Add(ctx, 1, m.attrsOpt)
}

func (m *queueMetrics) recordRejected(ctx context.Context) {
	m.backlog.Add(ctx, -1, m.attrsOpt)
}

func (m *queueMetrics) recordDequeued(ctx context.Context) {
	m.backlog.Add(ctx, -1, m.attrsOpt)
}

func (m *queueMetrics) recordAbandoned(ctx context.Context, n int) {
	m.abandoned.Add(ctx, int64(n), m.attrsOpt)
	m.backlog.Add(ctx, -int64(n), m.attrsOpt)
}

func (m *queueMetrics) recordCompleted(ctx context.Context, res outcome, d time.Duration) {
	attrs := metric.WithAttributes(append(m.attrs, attribute.String("outcome", res.String()))...)
	m.completed.Add(ctx, 1, attrs)
	m.duration.Record(ctx, float64(d)/float64(time.Millisecond), m.attrsOpt)
}
