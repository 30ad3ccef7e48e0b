package serialqueue

import (
	"context"
	"log/slog"
	"runtime"
	"runtime/debug"
	"runtime/pprof"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	kclock "k8s.io/utils/clock"
)

// State is the lifecycle state of a queue.
type State int32

const (
	// StateRunning means the queue accepts work and the worker is processing it.
	StateRunning State = iota
	// StateDraining means the queue stopped accepting work, and the worker is still running buffered items.
	StateDraining
	// StateStopped means every buffered item has run and the worker has exited.
	StateStopped
	// StateCanceled means the queue was canceled: buffered items were dropped and the worker has exited or is about to exit.
	StateCanceled
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	case StateCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

type variant string

const (
	variantPlain    variant = "plain"
	variantFailable variant = "failable"
)

// outcome is how a unit ended.
// It is a value and not an error: a unit has no way to fail, so nothing a work item does can stop the worker.
type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeFailure
	outcomePanic
)

func (o outcome) String() string {
	switch o {
	case outcomeFailure:
		return "failure"
	case outcomePanic:
		return "panic"
	default:
		return "success"
	}
}

// unit is what the worker invokes.
type unit func(ctx context.Context) outcome

type item struct {
	fn   unit
	link trace.Link
}

// loop owns the channel and the worker goroutine shared by both queue variants.
type loop struct {
	ch       *channel[item]
	ctx      context.Context
	cancel   context.CancelFunc
	state    atomic.Int32
	backlog  atomic.Int64
	doneCh   chan struct{}
	name     string
	priority Priority
	log      *slog.Logger
	tracer   trace.Tracer
	metrics  *queueMetrics
	attrs    []attribute.KeyValue
	clock    kclock.PassiveClock
}

func newLoop(v variant, opts *Options) *loop {
	if opts == nil {
		opts = &Options{}
	}

	l := &loop{
		ch:       newChannel[item](opts.InitialCapacity),
		doneCh:   make(chan struct{}),
		name:     opts.Name,
		priority: opts.Priority,
		log:      opts.Logger,
		tracer:   opts.Tracer,
		clock:    opts.clock,
		attrs: []attribute.KeyValue{
			attribute.String("queue", opts.Name),
			attribute.String("variant", string(v)),
			attribute.String("priority", opts.Priority.String()),
		},
	}

	if l.log == nil {
		l.log = slog.Default()
	}
	l.log = l.log.With(
		slog.String("scope", "serialqueue"),
		slog.String("queue", opts.Name),
		slog.String("variant", string(v)),
	)
	if l.tracer == nil {
		l.tracer = tracenoop.NewTracerProvider().Tracer(meterName)
	}
	if l.clock == nil {
		l.clock = kclock.RealClock{}
	}

	var err error
	l.metrics, err = newQueueMetrics(opts.Meter, l.attrs)
	if err != nil {
		l.log.Warn("Failed to create metric instruments; metrics for this queue are disabled", slog.Any("error", err))
		l.metrics, _ = newQueueMetrics(noop.NewMeterProvider().Meter(meterName), l.attrs)
	}

	// The worker context is canceled only when the queue is canceled or the worker exits
	l.ctx, l.cancel = context.WithCancel(context.Background())

	go l.run()

	return l
}

func (l *loop) run() {
	var exited bool
	defer func() {
		if !exited {
			// A work item called runtime.Goexit, which can't be recovered
			// The item has been accounted for already, so a new worker picks up from the next one
			l.log.Error("Worker goroutine was terminated by a work item; starting a new worker")
			go l.run()
			return
		}
		l.cancel()
		close(l.doneCh)
	}()

	l.log.Debug("Worker started", slog.String("priority", l.priority.String()))

	labels := pprof.Labels("serialqueue.queue", l.name, "serialqueue.priority", l.priority.String())
	pprof.Do(l.ctx, labels, func(ctx context.Context) {
		for {
			if l.priority == PriorityLow {
				runtime.Gosched()
			}

			// The next item is requested only after the previous one has returned
			it, ok := l.ch.receive()
			if !ok {
				return
			}
			l.backlog.Add(-1)
			l.metrics.recordDequeued(ctx)

			l.execute(ctx, it)
		}
	})

	// A drained queue becomes stopped; a canceled one stays canceled
	l.state.CompareAndSwap(int32(StateDraining), int32(StateStopped))
	l.log.Debug("Worker stopped", slog.String("state", l.State().String()))
	exited = true
}

func (l *loop) execute(ctx context.Context, it item) {
	spanOpts := []trace.SpanStartOption{
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(l.attrs...),
	}
	if it.link.SpanContext.IsValid() {
		spanOpts = append(spanOpts, trace.WithLinks(it.link))
	}
	ctx, span := l.tracer.Start(ctx, "serialqueue.execute", spanOpts...)
	defer span.End()

	// Deferred because runtime.Goexit in the work item skips the rest of this function
	start := l.clock.Now()
	res := outcomePanic
	defer func() {
		l.metrics.recordCompleted(ctx, res, l.clock.Since(start))

		switch res {
		case outcomeFailure:
			span.SetStatus(codes.Error, "work item returned an error")
		case outcomePanic:
			span.SetStatus(codes.Error, "work item panicked")
		}
	}()

	res = l.invoke(ctx, it.fn)
}

// invoke runs the unit, recovering a panic so the worker survives it.
// Units created by Do and DoFailable recover panics themselves and hand them to their caller, so this only catches panics from fire-and-forget work.
func (l *loop) invoke(ctx context.Context, fn unit) (res outcome) {
	var returned bool
	defer func() {
		rec := recover()
		if rec == nil {
			if !returned {
				l.log.ErrorContext(ctx, "Work item called runtime.Goexit")
			}
			return
		}
		l.log.ErrorContext(ctx, "Recovered from panic in work item",
			slog.Any("panic", rec),
			slog.String("stack", string(debug.Stack())),
		)
		res = outcomePanic
	}()

	res = fn(ctx)
	returned = true
	return res
}

// submit sends an item to the worker.
// It returns false if the queue no longer accepts work.
func (l *loop) submit(ctx context.Context, it item) bool {
	l.backlog.Add(1)
	l.metrics.recordQueued(ctx)

	if !l.ch.send(it) {
		l.backlog.Add(-1)
		l.metrics.recordRejected(ctx)
		return false
	}

	l.metrics.recordAccepted(ctx)
	return true
}

// closeIntake stops accepting work and lets the worker drain the buffered items.
func (l *loop) closeIntake() {
	if !l.state.CompareAndSwap(int32(StateRunning), int32(StateDraining)) {
		return
	}
	l.ch.close()

	l.log.Debug("Queue closed for new work; draining buffered items", slog.Int64("buffered", l.backlog.Load()))
}

// abort cancels the worker and drops all buffered items.
func (l *loop) abort() {
	for {
		s := l.state.Load()
		if State(s) == StateCanceled || State(s) == StateStopped {
			return
		}
		if l.state.CompareAndSwap(s, int32(StateCanceled)) {
			break
		}
	}

	n := l.ch.abort()
	l.cancel()

	l.backlog.Add(-int64(n))
	l.metrics.recordAbandoned(context.Background(), n)
	if n > 0 {
		l.log.Warn("Queue canceled with buffered work items; they will not be invoked", slog.Int("dropped", n))
	} else {
		l.log.Debug("Queue canceled")
	}
}

// wait blocks until the worker has exited or ctx is done.
func (l *loop) wait(ctx context.Context) error {
	select {
	case <-l.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current lifecycle state.
func (l *loop) State() State {
	return State(l.state.Load())
}
