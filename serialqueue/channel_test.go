package serialqueue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannel(t *testing.T) {
	t.Run("values are received in send order", func(t *testing.T) {
		ch := newChannel[int](2)
		for i := range 100 {
			require.True(t, ch.send(i))
		}

		for i := range 100 {
			v, ok := ch.receive()
			require.True(t, ok)
			require.Equal(t, i, v)
		}
	})

	t.Run("receive blocks until a value is sent", func(t *testing.T) {
		ch := newChannel[string](0)

		received := make(chan string)
		go func() {
			v, _ := ch.receive()
			received <- v
		}()

		select {
		case <-received:
			t.Fatal("receive returned before a value was sent")
		case <-time.After(50 * time.Millisecond):
			// Nop - still waiting
		}

		require.True(t, ch.send("hello"))

		select {
		case v := <-received:
			assert.Equal(t, "hello", v)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for receive")
		}
	})

	t.Run("close lets buffered values drain", func(t *testing.T) {
		ch := newChannel[int](0)
		require.True(t, ch.send(1))
		require.True(t, ch.send(2))
		ch.close()

		assert.False(t, ch.send(3))

		v, ok := ch.receive()
		require.True(t, ok)
		assert.Equal(t, 1, v)
		v, ok = ch.receive()
		require.True(t, ok)
		assert.Equal(t, 2, v)

		_, ok = ch.receive()
		assert.False(t, ok)
	})

	t.Run("close wakes up a blocked receiver", func(t *testing.T) {
		ch := newChannel[int](0)

		done := make(chan bool)
		go func() {
			_, ok := ch.receive()
			done <- ok
		}()

		time.Sleep(20 * time.Millisecond)
		ch.close()

		select {
		case ok := <-done:
			assert.False(t, ok)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for receive to return")
		}
	})

	t.Run("abort discards buffered values", func(t *testing.T) {
		ch := newChannel[int](0)
		for i := range 5 {
			require.True(t, ch.send(i))
		}

		n := ch.abort()
		assert.Equal(t, 5, n)
		assert.False(t, ch.send(6))

		_, ok := ch.receive()
		assert.False(t, ok)

		// Aborting again has nothing left to discard
		assert.Equal(t, 0, ch.abort())
	})

	t.Run("concurrent senders", func(t *testing.T) {
		const (
			senders   = 20
			perSender = 200
		)
		ch := newChannel[[2]int](0)

		var wg sync.WaitGroup
		for s := range senders {
			wg.Go(func() {
				for i := range perSender {
					ch.send([2]int{s, i})
				}
			})
		}

		// Values from each sender must arrive in the order that sender sent them
		last := make([]int, senders)
		for i := range last {
			last[i] = -1
		}
		for range senders * perSender {
			v, ok := ch.receive()
			require.True(t, ok)
			require.Equal(t, last[v[0]]+1, v[1])
			last[v[0]] = v[1]
		}

		wg.Wait()
	})
}
