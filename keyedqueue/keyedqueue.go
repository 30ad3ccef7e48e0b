// Package keyedqueue runs work serially per key: work submitted with the same key runs one item at a time, in submission order, while work for different keys runs concurrently.
// Each key is backed by a serialqueue.FailableQueue that is created on first use and removed in background after it has been idle for a while.
package keyedqueue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alphadose/haxmap"
	kclock "k8s.io/utils/clock"

	"github.com/italypaleale/serialqueue/serialqueue"
)

// Group is a set of serial queues, one per key.
type Group struct {
	m         *haxmap.Map[string, *entry]
	clock     kclock.WithTicker
	queueOpts serialqueue.Options
	idle      time.Duration

	// Held for reading while acquiring or removing entries, and for writing while closing the group
	lock      sync.RWMutex
	evicting  sync.WaitGroup
	closed    bool
	stopped   atomic.Bool
	runningCh chan struct{}
	stopCh    chan struct{}
}

// GroupOptions are options for NewGroup.
type GroupOptions struct {
	// Options used for every queue in the group.
	// The queue's Name is set to the key.
	Queue *serialqueue.Options

	// Initial size for the map of queues.
	// This is optional, and if empty will be left to the underlying library to decide.
	InitialSize int32

	// Queues that have no pending work for this long are removed.
	// This is optional, and defaults to 5 minutes.
	IdleTimeout time.Duration

	// Interval to look for idle queues.
	// This is optional, and defaults to 1 minute.
	CleanupInterval time.Duration

	// Internal clock property, used for testing
	clock kclock.WithTicker
}

// entry holds the queue for one key.
type entry struct {
	lock     sync.Mutex
	queue    *serialqueue.FailableQueue
	pending  int
	lastUsed time.Time
	removed  bool
}

// NewGroup returns a new Group.
// Call Close to release its resources.
func NewGroup(opts *GroupOptions) *Group {
	if opts == nil {
		opts = &GroupOptions{}
	}

	var m *haxmap.Map[string, *entry]
	if opts.InitialSize > 0 {
		m = haxmap.New[string, *entry](uintptr(opts.InitialSize))
	} else {
		m = haxmap.New[string, *entry]()
	}

	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 5 * time.Minute
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = time.Minute
	}
	if opts.clock == nil {
		opts.clock = kclock.RealClock{}
	}

	g := &Group{
		m:      m,
		clock:  opts.clock,
		idle:   opts.IdleTimeout,
		stopCh: make(chan struct{}),
	}
	if opts.Queue != nil {
		g.queueOpts = *opts.Queue
	}
	g.startBackgroundCleanup(opts.CleanupInterval)

	return g
}

// Do runs work on the queue for key and waits for its result.
// Work with the same key runs one item at a time, in the order it reached the queue.
// See serialqueue.DoFailable for the returned errors; after Close, Do returns serialqueue.ErrQueueClosed.
func Do[R any](ctx context.Context, g *Group, key string, work serialqueue.FailableWorkItem[R]) (R, error) {
	e, ok := g.acquire(key)
	if !ok {
		var zero R
		return zero, serialqueue.ErrQueueClosed
	}
	defer g.release(e)

	return serialqueue.DoFailable(ctx, e.queue, work)
}

// acquire returns the entry for key, with its pending count increased so it's not removed while in use.
func (g *Group) acquire(key string) (*entry, bool) {
	g.lock.RLock()
	defer g.lock.RUnlock()

	if g.closed {
		return nil, false
	}

	for {
		// The value function may be invoked and its result discarded if there's a race, so the queue is created later
		e, _ := g.m.GetOrCompute(key, func() *entry {
			return &entry{}
		})

		e.lock.Lock()
		if e.removed {
			// The entry was removed after we loaded it: try again
			e.lock.Unlock()
			continue
		}
		if e.queue == nil {
			opts := g.queueOpts
			opts.Name = key
			e.queue = serialqueue.NewFailable(&opts)
		}
		e.pending++
		e.lastUsed = g.clock.Now()
		e.lock.Unlock()

		return e, true
	}
}

func (g *Group) release(e *entry) {
	e.lock.Lock()
	e.pending--
	e.lastUsed = g.clock.Now()
	e.lock.Unlock()
}

// Len returns the number of queues in the group.
func (g *Group) Len() int {
	return int(g.m.Len())
}

// Cleanup removes the queues that have been idle for longer than the idle timeout.
// Removed queues are closed in background: work left behind by callers that stopped waiting still runs, and Close waits for it.
func (g *Group) Cleanup() {
	g.lock.RLock()
	defer g.lock.RUnlock()

	if g.closed {
		return
	}

	now := g.clock.Now()

	// Collect the keys first, as entries cannot be deleted while iterating
	keys := make([]string, 0)
	g.m.ForEach(func(k string, e *entry) bool {
		e.lock.Lock()
		idle := e.pending == 0 && !e.removed && now.Sub(e.lastUsed) >= g.idle
		e.lock.Unlock()
		if idle {
			keys = append(keys, k)
		}
		return true
	})

	for _, k := range keys {
		e, ok := g.m.Get(k)
		if !ok {
			continue
		}

		// Check again, as the entry could have been acquired in the meanwhile
		e.lock.Lock()
		if e.pending > 0 || e.removed || now.Sub(e.lastUsed) < g.idle {
			e.lock.Unlock()
			continue
		}
		e.removed = true
		g.m.Del(k)
		e.lock.Unlock()

		if e.queue != nil {
			g.evicting.Go(e.queue.Close)
		}
	}
}

func (g *Group) startBackgroundCleanup(d time.Duration) {
	g.runningCh = make(chan struct{})
	go func() {
		defer close(g.runningCh)

		t := g.clock.NewTicker(d)
		defer t.Stop()
		for {
			select {
			case <-g.stopCh:
				// Stop the background goroutine
				return
			case <-t.C():
				g.Cleanup()
			}
		}
	}()
}

// Close stops the background cleanup, then closes every queue in the group, waiting for their buffered work to complete.
// This includes queues removed by Cleanup that are still draining.
// If ctx is done first, Close returns ctx.Err() and the buffered work keeps running in background.
func (g *Group) Close(ctx context.Context) error {
	if g.stopped.CompareAndSwap(false, true) {
		close(g.stopCh)
	}

	// After this, no entry can be acquired and no queue is removed
	g.lock.Lock()
	g.closed = true
	g.lock.Unlock()

	select {
	case <-g.runningCh:
		// Nop - background cleanup stopped
	case <-ctx.Done():
		return ctx.Err()
	}

	queues := make([]*serialqueue.FailableQueue, 0, g.m.Len())
	g.m.ForEach(func(k string, e *entry) bool {
		e.lock.Lock()
		if !e.removed && e.queue != nil {
			queues = append(queues, e.queue)
		}
		e.lock.Unlock()
		return true
	})

	errs := make([]error, len(queues))
	var wg sync.WaitGroup
	for i, q := range queues {
		wg.Go(func() {
			errs[i] = q.Shutdown(ctx)
		})
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}

	evicted := make(chan struct{})
	go func() {
		g.evicting.Wait()
		close(evicted)
	}()
	select {
	case <-evicted:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
