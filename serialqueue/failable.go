package serialqueue

import (
	"context"
)

// FailableWorkItem is a unit of work that produces a result of type R, or fails with an error.
type FailableWorkItem[R any] func(ctx context.Context) (R, error)

// FailableQueue runs work items that can fail one at a time, in submission order.
// A failing item only affects the caller that submitted it: the queue keeps running the items after it.
//
// Unlike Queue, closing a FailableQueue never drops work: see Close.
// There is no fire-and-forget submission, so every error reaches a caller.
type FailableQueue struct {
	l *loop
}

// NewFailable returns a new FailableQueue and starts its worker goroutine.
// The worker runs until Close or Shutdown is called.
func NewFailable(opts *Options) *FailableQueue {
	return &FailableQueue{
		l: newLoop(variantFailable, opts),
	}
}

// DoFailable submits work to the queue and waits for its result.
// If two goroutines call DoFailable at the same time, the item that reaches the queue first runs first.
//
// The returned error is:
//   - The error returned by work, unchanged.
//   - *PanicError if work panicked or called runtime.Goexit.
//   - ErrQueueClosed if the queue was already closed.
//   - ctx.Err() if ctx is done before work has returned. This does not remove work from the queue, which will still run it.
func DoFailable[R any](ctx context.Context, q *FailableQueue, work FailableWorkItem[R]) (R, error) {
	return await[R](ctx, q.l, work)
}

// Close stops the queue from accepting new work, then waits until all buffered items have run and their callers have been resolved.
//
// Close must not be called from inside a work item of the same queue.
func (q *FailableQueue) Close() {
	q.l.closeIntake()
	<-q.l.doneCh
}

// Shutdown is like Close, but it stops waiting when ctx is done, returning ctx.Err().
// In that case the buffered items still run in background.
func (q *FailableQueue) Shutdown(ctx context.Context) error {
	q.l.closeIntake()
	return q.l.wait(ctx)
}

// State returns the lifecycle state of the queue.
func (q *FailableQueue) State() State {
	return q.l.State()
}

// Done returns a channel that is closed when the worker goroutine has exited.
func (q *FailableQueue) Done() <-chan struct{} {
	return q.l.doneCh
}
