package serial

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunExecutesInOrder(t *testing.T) {
	q := New()
	var got []int
	for i := 0; i < 5; i++ {
		i := i
		require.True(t, q.Enqueue(func() { got = append(got, i) }))
	}
	q.Close()

	require.NoError(t, q.Run(context.Background()))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

func TestEnqueueAfterCloseFails(t *testing.T) {
	q := New()
	q.Close()
	assert.False(t, q.Enqueue(func() {}))
}

func TestClosuresMayEnqueueMore(t *testing.T) {
	q := New()
	var got []string
	q.Enqueue(func() {
		got = append(got, "first")
		q.Enqueue(func() {
			got = append(got, "second")
			q.Close()
		})
	})

	require.NoError(t, q.Run(context.Background()))
	assert.Equal(t, []string{"first", "second"}, got)
}

func TestConcurrentEnqueueIsSerialized(t *testing.T) {
	q := New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.Run(ctx) }()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Enqueue(func() { counter++ })
		}()
	}
	wg.Wait()

	finished := make(chan int, 1)
	q.Enqueue(func() { finished <- counter })
	select {
	case n := <-finished:
		assert.Equal(t, 100, n)
	case <-time.After(5 * time.Second):
		t.Fatal("queue did not drain")
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
