package serialqueue

import (
	"sync"

	"k8s.io/utils/buffer"
)

const defaultInitialCapacity = 16

// channel is an unbounded, ordered buffer with any number of producers and a single consumer.
// Unlike a Go channel, sending never blocks and a closed channel rejects values instead of panicking.
type channel[T any] struct {
	lock     sync.Mutex
	buf      *buffer.RingGrowing
	notifyCh chan struct{}
	closed   bool
	aborted  bool
}

func newChannel[T any](initialSize int) *channel[T] {
	if initialSize <= 0 {
		initialSize = defaultInitialCapacity
	}

	return &channel[T]{
		buf:      buffer.NewRingGrowing(initialSize),
		notifyCh: make(chan struct{}, 1),
	}
}

// send appends v to the buffer.
// It returns false if the channel was closed, in which case v is not buffered.
func (c *channel[T]) send(v T) bool {
	c.lock.Lock()
	if c.closed {
		c.lock.Unlock()
		return false
	}
	c.buf.WriteOne(v)
	c.lock.Unlock()

	c.notify()
	return true
}

// receive returns the oldest buffered value, blocking until one is available.
// After close, buffered values are still returned; ok is false once the buffer is empty.
// After abort, ok is always false.
// Only one goroutine may call receive.
func (c *channel[T]) receive() (v T, ok bool) {
	for {
		c.lock.Lock()
		if c.aborted {
			c.lock.Unlock()
			return v, false
		}
		val, found := c.buf.ReadOne()
		closed := c.closed
		c.lock.Unlock()

		if found {
			return val.(T), true
		}
		if closed {
			return v, false
		}

		// Wait for the next send, close, or abort
		<-c.notifyCh
	}
}

// close stops intake.
// Values already buffered can still be received.
func (c *channel[T]) close() {
	c.lock.Lock()
	c.closed = true
	c.lock.Unlock()

	c.notify()
}

// abort stops intake and discards every buffered value.
// It returns the number of values discarded.
func (c *channel[T]) abort() (n int) {
	c.lock.Lock()
	c.closed = true
	c.aborted = true
	for {
		_, ok := c.buf.ReadOne()
		if !ok {
			break
		}
		n++
	}
	c.lock.Unlock()

	c.notify()
	return n
}

func (c *channel[T]) notify() {
	// If the channel is full, do not block
	select {
	case c.notifyCh <- struct{}{}:
		// Nop - signal sent
	default:
		// Nop - there's already a pending signal
	}
}
