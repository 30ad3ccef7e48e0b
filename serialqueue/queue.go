package serialqueue

import (
	"context"
)

// WorkItem is a unit of work that cannot fail, producing a result of type R.
type WorkItem[R any] func(ctx context.Context) R

// Queue runs work items one at a time, in submission order.
// Work submitted to a Queue cannot fail.
//
// Closing a Queue cancels it and drops buffered work: see Close.
type Queue struct {
	l *loop
}

// New returns a new Queue and starts its worker goroutine.
// The worker runs until Close or Shutdown is called.
func New(opts *Options) *Queue {
	return &Queue{
		l: newLoop(variantPlain, opts),
	}
}

// Enqueue submits work and returns right away.
// There is no way to know when work completes; if it panics, the panic is logged and the queue moves on to the next item.
// Work submitted after the queue was closed is dropped.
//
// The context passed to work is canceled if the queue is canceled while work is running.
func (q *Queue) Enqueue(work func(ctx context.Context)) {
	ok := q.l.submit(context.Background(), item{
		fn: func(ctx context.Context) outcome {
			work(ctx)
			return outcomeSuccess
		},
	})
	if !ok {
		q.l.log.Debug("Dropped work item submitted after the queue was closed")
	}
}

// Do submits work to the queue and waits for its result.
// If two goroutines call Do at the same time, the item that reaches the queue first runs first.
//
// Do returns an error only if:
//   - The queue was already closed: ErrQueueClosed.
//   - work panicked or called runtime.Goexit: *PanicError.
//   - ctx is done before work has returned: ctx.Err(). This does not remove work from the queue, which will still run it.
//
// If the queue is canceled with Close while work is still buffered, work never runs and Do returns only when ctx is done.
func Do[R any](ctx context.Context, q *Queue, work WorkItem[R]) (R, error) {
	return await(ctx, q.l, func(ctx context.Context) (R, error) {
		return work(ctx), nil
	})
}

// Close cancels the queue and returns without waiting.
// The context of the item currently running is canceled, and the worker exits once that item returns.
// Items that are still buffered are dropped without being invoked; callers waiting for them in Do are not resolved.
// To let buffered items run instead, use Shutdown.
//
// Close can be called more than once, and also while a Shutdown is in progress.
func (q *Queue) Close() {
	q.l.abort()
}

// Shutdown stops the queue from accepting new work, then waits for all buffered items to run.
// If ctx is done first, Shutdown returns ctx.Err() and the items keep running in background; call Close to drop them.
//
// Shutdown must not be called from inside a work item of the same queue.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.l.closeIntake()
	return q.l.wait(ctx)
}

// State returns the lifecycle state of the queue.
func (q *Queue) State() State {
	return q.l.State()
}

// Done returns a channel that is closed when the worker goroutine has exited.
func (q *Queue) Done() <-chan struct{} {
	return q.l.doneCh
}
