package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAcquire_BurstThenRefill(t *testing.T) {
	t.Parallel()

	l := New(100, 2)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	// The bucket starts full, so the burst is available immediately.
	require.True(t, l.Acquire(ctx, 1))
	require.True(t, l.Acquire(ctx, 1))

	// At 100 tokens/sec another token shows up well within the deadline.
	require.True(t, l.Acquire(ctx, 1))
}

func TestAcquire_DepletedBucketBlocks(t *testing.T) {
	t.Parallel()

	l := New(0.001, 1)
	require.True(t, l.Acquire(context.Background(), 1))

	// A refill at this rate takes ~1000s; the deadline cuts the wait short.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.False(t, l.Acquire(ctx, 1))
}

func TestAcquire_MoreThanCapacityNeverSucceeds(t *testing.T) {
	t.Parallel()

	l := New(1000, 4)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	// No amount of waiting produces more tokens than the bucket holds.
	require.False(t, l.Acquire(ctx, 5))
}

func TestAcquire_CanceledContext(t *testing.T) {
	t.Parallel()

	l := New(0.001, 1)
	require.True(t, l.Acquire(context.Background(), 1)) // drain the initial burst

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.False(t, l.Acquire(ctx, 1))
}

func TestSetRateAndBurst_AppliedToWaiters(t *testing.T) {
	t.Parallel()

	l := New(0.001, 1)
	require.True(t, l.Acquire(context.Background(), 1))

	// With the old rate this would take ~1000s; raising it unblocks quickly.
	l.SetRate(500)
	l.SetBurst(8)
	require.Equal(t, 8, l.Burst())
	require.InEpsilon(t, 500.0, l.Rate(), 0.0001)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.True(t, l.Acquire(ctx, 1))
}

func TestNew_GuardsAgainstZeroValues(t *testing.T) {
	t.Parallel()

	l := New(0, 0)
	require.Equal(t, 1, l.Burst())
	require.Greater(t, l.Rate(), 0.0)
}
