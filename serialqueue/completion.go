package serialqueue

import (
	"context"
	"runtime/debug"

	"go.opentelemetry.io/otel/trace"
)

type result[R any] struct {
	val R
	err error
}

// completion hands the result of one work item back to the caller that submitted it.
// It is created for a single call and resolved exactly once, by the unit returned by bind.
type completion[R any] struct {
	ch chan result[R]
}

func newCompletion[R any]() *completion[R] {
	return &completion[R]{
		ch: make(chan result[R], 1),
	}
}

func (c *completion[R]) resolve(val R, err error) {
	select {
	case c.ch <- result[R]{val: val, err: err}:
		// Nop - resolved
	default:
		// Indicates a development-time error
		panic("serialqueue: completion resolved more than once")
	}
}

// wait blocks until the completion is resolved or ctx is done.
// Giving up on the wait does not stop the work item from running.
func (c *completion[R]) wait(ctx context.Context) (R, error) {
	select {
	case res := <-c.ch:
		return res.val, res.err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}

// bind wraps work into a unit that resolves slot with the work's result, error, or panic.
// Whatever work does, slot is resolved once. If work calls runtime.Goexit, the caller gets a *PanicError wrapping ErrGoexit.
func bind[R any](slot *completion[R], work func(ctx context.Context) (R, error)) unit {
	return func(ctx context.Context) (res outcome) {
		var (
			val      R
			err      error
			returned bool
		)
		defer func() {
			rec := recover()
			switch {
			case rec != nil:
				err = &PanicError{
					Value: rec,
					Stack: debug.Stack(),
				}
				res = outcomePanic
			case !returned:
				// runtime.Goexit: the goroutine is terminating and there's no value to return
				var zero R
				val = zero
				err = &PanicError{
					Value: ErrGoexit,
					Stack: debug.Stack(),
				}
				res = outcomePanic
			}
			slot.resolve(val, err)
		}()

		val, err = work(ctx)
		returned = true
		if err != nil {
			return outcomeFailure
		}
		return outcomeSuccess
	}
}

// await submits work to l and waits for its result.
func await[R any](ctx context.Context, l *loop, work func(ctx context.Context) (R, error)) (R, error) {
	slot := newCompletion[R]()
	it := item{
		fn:   bind(slot, work),
		link: trace.LinkFromContext(ctx),
	}

	if !l.submit(ctx, it) {
		var zero R
		return zero, ErrQueueClosed
	}

	return slot.wait(ctx)
}
