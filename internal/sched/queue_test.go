package sched

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/loranode/internal/types"
	"github.com/temoto/loranode/log2"
)

func runQueue(t testing.TB, q *Queue) <-chan error {
	done := make(chan error, 1)
	go func() { done <- q.RunForever(context.Background()) }()
	return done
}

func waitDone(t testing.TB, done <-chan error) error {
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("RunForever did not return")
		return nil
	}
}

func TestQueueOrder(t *testing.T) {
	t.Parallel()

	q := NewQueue(log2.NewTest(t, log2.LDebug))
	var order []string
	q.CallAfter(30*time.Millisecond, func() { order = append(order, "c") })
	q.CallAfter(10*time.Millisecond, func() { order = append(order, "a") })
	q.Call(func() { order = append(order, "first") })
	q.CallAfter(10*time.Millisecond, func() { order = append(order, "b") })
	q.CallAfter(50*time.Millisecond, q.Stop)

	require.NoError(t, waitDone(t, runQueue(t, q)))
	assert.Equal(t, []string{"first", "a", "b", "c"}, order)
	assert.Equal(t, uint64(5), q.Stat().Dispatched)
}

func TestQueueCallFromGoroutines(t *testing.T) {
	t.Parallel()

	q := NewQueue(log2.NewTest(t, log2.LDebug))
	done := runQueue(t, q)
	const N = 50
	count := 0 // only touched on dispatch goroutine
	wg := sync.WaitGroup{}
	wg.Add(N)
	for i := 0; i < N; i++ {
		go func() {
			defer wg.Done()
			q.Call(func() { count++ })
		}()
	}
	wg.Wait()
	finished := make(chan int, 1)
	q.Call(func() { finished <- count; q.Stop() })
	require.NoError(t, waitDone(t, done))
	assert.Equal(t, N, <-finished)
}

func TestQueueStopFromCallback(t *testing.T) {
	t.Parallel()

	q := NewQueue(log2.NewTest(t, log2.LDebug))
	ran := []string{}
	q.Call(func() {
		ran = append(ran, "stop")
		q.Stop()
	})
	q.Call(func() { ran = append(ran, "after-stop") })
	q.CallAfter(time.Millisecond, func() { ran = append(ran, "later") })

	require.NoError(t, waitDone(t, runQueue(t, q)))
	assert.Equal(t, []string{"stop"}, ran)

	// stopped queue drops new callbacks and refuses to run again
	q.Call(func() { ran = append(ran, "dropped") })
	assert.Equal(t, types.ErrInterrupted, q.RunForever(context.Background()))
	assert.Equal(t, []string{"stop"}, ran)
	q.Wait()
}

func TestQueueContextCancel(t *testing.T) {
	t.Parallel()

	q := NewQueue(log2.NewTest(t, log2.LDebug))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.RunForever(ctx) }()
	q.CallAfter(time.Hour, func() { t.Error("must not run") })
	cancel()
	assert.Equal(t, context.Canceled, waitDone(t, done))
	assert.Equal(t, 1, q.Len())
}

func TestMock(t *testing.T) {
	t.Parallel()

	m := NewMock()
	var order []int
	m.CallAfter(10*time.Second, func() { order = append(order, 10) })
	m.CallAfter(3*time.Second, func() {
		order = append(order, 3)
		m.Call(func() { order = append(order, 33) })
	})
	assert.Equal(t, []time.Duration{3 * time.Second, 10 * time.Second}, m.Delays())

	assert.Equal(t, 2, m.Advance(5*time.Second))
	assert.Equal(t, []int{3, 33}, order)
	assert.Equal(t, 5*time.Second, m.Now())

	assert.True(t, m.FireNext())
	assert.Equal(t, []int{3, 33, 10}, order)
	assert.Equal(t, 10*time.Second, m.Now())
	assert.False(t, m.FireNext())

	m.Call(func() { order = append(order, -1) })
	m.Stop()
	assert.Equal(t, 0, m.FireDue())
	m.Call(func() {})
	assert.Equal(t, 1, m.Len(), "dropped after stop")
	assert.Equal(t, 5, m.Calls)
}
