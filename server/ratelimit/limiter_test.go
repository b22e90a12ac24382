package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowLimiterEnforcesLimit(t *testing.T) {
	l := NewWindowLimiter(3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := l.Allow(ctx, "caller-1")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, 3, d.Limit)
		assert.Equal(t, 2-i, d.Remaining)
	}

	d, err := l.Allow(ctx, "caller-1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Zero(t, d.Remaining)
	assert.Positive(t, d.RetryAfter)
}

func TestWindowLimiterKeysAreIndependent(t *testing.T) {
	l := NewWindowLimiter(1, time.Minute)
	ctx := context.Background()

	d, err := l.Allow(ctx, "caller-1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = l.Allow(ctx, "caller-1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	d, err = l.Allow(ctx, "caller-2")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "other callers keep their own budget")
}

func TestWindowLimiterRollsOver(t *testing.T) {
	now := time.Unix(1000, 0)
	l := NewWindowLimiter(1, time.Minute)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	d, err := l.Allow(ctx, "caller-1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, now.Add(time.Minute), d.Reset)

	d, err = l.Allow(ctx, "caller-1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	now = now.Add(61 * time.Second)
	d, err = l.Allow(ctx, "caller-1")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "new window restores the budget")
}

func TestWindowLimiterConcurrentSameKey(t *testing.T) {
	const limit = 50
	l := NewWindowLimiter(limit, time.Minute)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 2*limit; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := l.Allow(ctx, "caller-1")
			require.NoError(t, err)
			if d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, limit, allowed, "exactly limit requests pass, no double counting")
}
