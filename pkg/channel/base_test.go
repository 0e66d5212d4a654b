package channel

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBaseDisposeOnce(t *testing.T) {
	var (
		fails    atomic.Int32
		releases atomic.Int32
		reason   atomic.Value
	)
	b := NewBase(func(r string) {
		fails.Add(1)
		reason.Store(r)
	})

	stopped := make(chan struct{})
	b.Go(func(ctx context.Context) {
		<-ctx.Done()
		close(stopped)
	})

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Dispose("boom", func() { releases.Add(1) })
		}()
	}
	wg.Wait()
	b.Wait()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("worker did not observe cancellation")
	}

	require.Equal(t, int32(1), fails.Load())
	require.Equal(t, int32(1), releases.Load())
	require.Equal(t, "boom", reason.Load())
	require.True(t, b.Closed())
	require.Equal(t, "boom", b.Reason())
	require.False(t, b.Dispose("again", nil))
}

func TestBaseDisposeFromWorker(t *testing.T) {
	b := NewBase(nil)
	b.Go(func(ctx context.Context) {
		b.Dispose("self", nil)
	})
	b.Wait()
	require.True(t, b.Closed())
}

func TestQueueFIFO(t *testing.T) {
	q := NewQueue[int]()
	for i := range 100 {
		q.Push(i)
	}
	require.Equal(t, 100, q.Len())

	ctx := context.Background()
	for i := range 100 {
		v, err := q.Pop(ctx)
		require.NoError(t, err)
		require.Equal(t, i, v)
	}
	require.Zero(t, q.Len())
}

func TestQueuePopBlocksUntilPush(t *testing.T) {
	q := NewQueue[string]()
	got := make(chan string, 1)

	go func() {
		v, err := q.Pop(context.Background())
		if err == nil {
			got <- v
		}
	}()

	select {
	case <-got:
		t.Fatal("pop returned before push")
	case <-time.After(20 * time.Millisecond):
	}

	q.Push("hello")
	select {
	case v := <-got:
		require.Equal(t, "hello", v)
	case <-time.After(time.Second):
		t.Fatal("pop did not wake up")
	}
}

func TestQueuePopCancel(t *testing.T) {
	q := NewQueue[int]()
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := q.Pop(ctx)
		errCh <- err
	}()

	cancel()
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("pop ignored cancellation")
	}
}

func TestQueueConcurrentConsumers(t *testing.T) {
	const n = 1000
	q := NewQueue[int]()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu   sync.Mutex
		seen = make(map[int]bool)
		wg   sync.WaitGroup
	)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				v, err := q.Pop(ctx)
				if err != nil {
					return
				}
				mu.Lock()
				seen[v] = true
				done := len(seen) == n
				mu.Unlock()
				if done {
					cancel()
				}
			}
		}()
	}

	for i := range n {
		q.Push(i)
	}
	wg.Wait()
	require.Len(t, seen, n)
}

func TestLiveness(t *testing.T) {
	l := NewLiveness(2)

	l.Beat()
	require.True(t, l.Check())
	require.Zero(t, l.Missed())

	require.True(t, l.Check(), "first miss is tolerated")
	require.Equal(t, 1, l.Missed())

	l.Beat()
	require.True(t, l.Check(), "beat resets the counter")
	require.Zero(t, l.Missed())

	require.True(t, l.Check())
	require.False(t, l.Check(), "two consecutive misses")
}

func TestLossMeter(t *testing.T) {
	var m LossMeter

	// Мало выборок.
	for range 5 {
		m.Lost()
	}
	_, warn := m.Check()
	require.False(t, warn)

	for range 6 {
		m.Received()
	}
	ratio, warn := m.Check()
	require.True(t, warn)
	require.InDelta(t, 5.0/11.0, ratio, 1e-9)

	_, warn = m.Check()
	require.False(t, warn, "warning fires once")

	for range 200 {
		m.Received()
	}
	_, warn = m.Check()
	require.False(t, warn)

	for range 20 {
		m.Lost()
	}
	_, warn = m.Check()
	require.True(t, warn, "warning re-arms after dropping below threshold")
}
