package limiter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquire_BurstAdmitsImmediately(t *testing.T) {
	l := New(10, WithBurst(5))
	defer l.Close()

	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Acquire(ctx))
	}
	assert.Less(t, time.Since(start), 200*time.Millisecond,
		"burst capacity should admit without throttling")
}

func TestAcquire_ThrottlesAtSustainedRate(t *testing.T) {
	l := New(10, WithBurst(1))
	defer l.Close()

	ctx := context.Background()
	require.NoError(t, l.Acquire(ctx)) // consumes the single burst token

	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Acquire(ctx))
	}
	elapsed := time.Since(start)

	// 5 admissions at 10/s need roughly 500ms of refill.
	assert.GreaterOrEqual(t, elapsed, 350*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestAcquire_FIFOUnderThunderingHerd(t *testing.T) {
	l := New(20, WithBurst(1))
	defer l.Close()

	ctx := context.Background()
	require.NoError(t, l.Acquire(ctx)) // drain the burst token

	const callers = 10
	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	// Stagger arrivals so each waiter is queued before the next arrives;
	// admissions at 20/s are slow enough that callers pile up behind the
	// worker.
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			assert.NoError(t, l.Acquire(ctx))
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
		}(i)
		time.Sleep(5 * time.Millisecond)
	}
	wg.Wait()

	require.Len(t, order, callers)
	expected := make([]int, callers)
	for i := range expected {
		expected[i] = i
	}
	assert.Equal(t, expected, order, "admission order must match arrival order")
}

func TestAcquire_PerMinuteCapGates(t *testing.T) {
	l := New(1000, WithBurst(1000), WithPerMinuteCap(3))
	defer l.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Acquire(ctx))
	}

	// Fourth admission must block on the rolling window despite plentiful
	// tokens.
	blocked, cancel := context.WithTimeout(ctx, 150*time.Millisecond)
	defer cancel()
	err := l.Acquire(blocked)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAcquire_ContextCancellation(t *testing.T) {
	l := New(1, WithBurst(1))
	defer l.Close()

	require.NoError(t, l.Acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- l.Acquire(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Acquire did not observe cancellation")
	}
}

func TestAcquire_AfterCloseReturnsErrClosed(t *testing.T) {
	l := New(1)
	l.Close()

	err := l.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestAcquire_CancelledWaiterDoesNotConsumeToken(t *testing.T) {
	l := New(5, WithBurst(1))
	defer l.Close()

	require.NoError(t, l.Acquire(context.Background()))

	// Enqueue a waiter and abandon it before it can be served.
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_ = l.Acquire(ctx)
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	// The next caller should still be admitted once a token refills.
	admitted, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	require.NoError(t, l.Acquire(admitted))
}
