package keyedqueue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/italypaleale/serialqueue/serialqueue"
)

func newTestGroup(t *testing.T) (*Group, *clocktesting.FakeClock) {
	t.Helper()

	clock := clocktesting.NewFakeClock(time.Now())
	g := NewGroup(&GroupOptions{
		InitialSize:     8,
		IdleTimeout:     5 * time.Second,
		CleanupInterval: 10 * time.Second,
		clock:           clock,
	})
	t.Cleanup(func() {
		_ = g.Close(context.Background())
	})

	return g, clock
}

func TestGroupDo(t *testing.T) {
	t.Run("same key runs serially", func(t *testing.T) {
		g, _ := newTestGroup(t)

		var (
			running atomic.Int32
			maxSeen atomic.Int32
			wg      sync.WaitGroup
		)
		for i := range 50 {
			wg.Go(func() {
				res, err := Do(t.Context(), g, "k", func(ctx context.Context) (int, error) {
					n := running.Add(1)
					defer running.Add(-1)
					for {
						m := maxSeen.Load()
						if n <= m || maxSeen.CompareAndSwap(m, n) {
							break
						}
					}
					time.Sleep(time.Millisecond)
					return i, nil
				})
				assert.NoError(t, err)
				assert.Equal(t, i, res)
			})
		}
		wg.Wait()

		assert.EqualValues(t, 1, maxSeen.Load())
		assert.Equal(t, 1, g.Len())
	})

	t.Run("different keys run concurrently", func(t *testing.T) {
		g, _ := newTestGroup(t)

		release := make(chan struct{})
		running := make(chan struct{})
		doneA := make(chan struct{})
		go func() {
			defer close(doneA)
			_, err := Do(t.Context(), g, "a", func(ctx context.Context) (int, error) {
				close(running)
				<-release
				return 0, nil
			})
			assert.NoError(t, err)
		}()
		<-running

		// Key "b" is not blocked by the item running for key "a"
		res, err := Do(t.Context(), g, "b", func(ctx context.Context) (string, error) {
			return "b", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "b", res)
		assert.Equal(t, 2, g.Len())

		close(release)
		<-doneA
	})
}

func TestGroupCleanup(t *testing.T) {
	t.Run("removes idle queues", func(t *testing.T) {
		g, clock := newTestGroup(t)

		_, err := Do(t.Context(), g, "a", func(ctx context.Context) (int, error) {
			return 1, nil
		})
		require.NoError(t, err)
		require.Equal(t, 1, g.Len())

		// Not idle for long enough yet
		clock.Step(4 * time.Second)
		g.Cleanup()
		require.Equal(t, 1, g.Len())

		clock.Step(time.Second)
		g.Cleanup()
		require.Equal(t, 0, g.Len())

		// A new queue is created on the next call
		res, err := Do(t.Context(), g, "a", func(ctx context.Context) (int, error) {
			return 2, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, res)
		assert.Equal(t, 1, g.Len())
	})

	t.Run("keeps queues with pending work", func(t *testing.T) {
		g, clock := newTestGroup(t)

		release := make(chan struct{})
		running := make(chan struct{})
		done := make(chan struct{})
		go func() {
			defer close(done)
			_, _ = Do(t.Context(), g, "a", func(ctx context.Context) (int, error) {
				close(running)
				<-release
				return 0, nil
			})
		}()
		<-running

		clock.Step(time.Minute)
		g.Cleanup()
		assert.Equal(t, 1, g.Len())

		close(release)
		<-done
	})

	t.Run("does not wait for work left behind", func(t *testing.T) {
		g, clock := newTestGroup(t)

		release := make(chan struct{})
		running := make(chan struct{})
		ctx, cancel := context.WithCancel(t.Context())
		go func() {
			<-running
			cancel()
		}()
		_, err := Do(ctx, g, "a", func(ctx context.Context) (int, error) {
			close(running)
			<-release
			return 0, nil
		})
		require.ErrorIs(t, err, context.Canceled)

		clock.Step(time.Minute)
		cleaned := make(chan struct{})
		go func() {
			g.Cleanup()
			close(cleaned)
		}()
		select {
		case <-cleaned:
		case <-time.After(2 * time.Second):
			t.Fatal("cleanup blocked on a running item")
		}
		assert.Equal(t, 0, g.Len())

		// Close waits for the removed queue to drain
		closeCtx, closeCancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
		defer closeCancel()
		require.ErrorIs(t, g.Close(closeCtx), context.DeadlineExceeded)

		close(release)
		require.NoError(t, g.Close(t.Context()))
	})

	t.Run("runs in background", func(t *testing.T) {
		g, clock := newTestGroup(t)

		_, err := Do(t.Context(), g, "a", func(ctx context.Context) (int, error) {
			return 1, nil
		})
		require.NoError(t, err)

		// Wait for the ticker to be registered
		require.Eventually(t, clock.HasWaiters, time.Second, 5*time.Millisecond)
		clock.Step(10 * time.Second)

		require.EventuallyWithT(t, func(c *assert.CollectT) {
			assert.Equal(c, 0, g.Len())
		}, time.Second, 10*time.Millisecond)
	})
}

func TestGroupClose(t *testing.T) {
	g, _ := newTestGroup(t)

	release := make(chan struct{})
	running := make(chan struct{})
	resCh := make(chan error, 1)
	go func() {
		_, err := Do(t.Context(), g, "a", func(ctx context.Context) (int, error) {
			close(running)
			<-release
			return 0, nil
		})
		resCh <- err
	}()
	<-running

	closeErr := make(chan error, 1)
	go func() {
		closeErr <- g.Close(t.Context())
	}()

	// New work is rejected once the group is closing
	require.EventuallyWithT(t, func(c *assert.CollectT) {
		_, err := Do(t.Context(), g, "b", func(ctx context.Context) (int, error) {
			return 0, nil
		})
		assert.ErrorIs(c, err, serialqueue.ErrQueueClosed)
	}, time.Second, 5*time.Millisecond)

	// Close waits for the running item
	select {
	case <-closeErr:
		t.Fatal("close returned before the running item completed")
	case <-time.After(20 * time.Millisecond):
		// Nop - still waiting
	}

	close(release)

	select {
	case err := <-closeErr:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for close")
	}
	require.NoError(t, <-resCh)
}

func TestGroupCloseContext(t *testing.T) {
	g, _ := newTestGroup(t)

	release := make(chan struct{})
	running := make(chan struct{})
	go func() {
		_, _ = Do(t.Context(), g, "a", func(ctx context.Context) (int, error) {
			close(running)
			<-release
			return 0, nil
		})
	}()
	<-running
	defer close(release)

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	err := g.Close(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
