package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var scrape = Class{Name: "scrape", Window: time.Hour, MaxRequests: 3}

func newClockedLimiter(start time.Time) (*MemoryLimiter, *time.Time) {
	now := start
	l := NewMemoryLimiter()
	l.nowFunc = func() time.Time { return now }
	return l, &now
}

func TestCheck_AllowsUpToMaxThenDenies(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	l, _ := newClockedLimiter(start)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := l.Check(ctx, "u1", scrape)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, 2-i, d.Remaining)
		assert.Equal(t, start.Add(time.Hour), d.ResetAt)
	}

	d, err := l.Check(ctx, "u1", scrape)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
}

func TestCheck_ResetsExactlyAtBoundary(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	l, now := newClockedLimiter(start)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = l.Check(ctx, "u1", scrape)
	}

	*now = start.Add(time.Hour - time.Nanosecond)
	d, _ := l.Check(ctx, "u1", scrape)
	assert.False(t, d.Allowed)

	*now = start.Add(time.Hour)
	d, _ = l.Check(ctx, "u1", scrape)
	assert.True(t, d.Allowed)
	assert.Equal(t, 2, d.Remaining)
	assert.Equal(t, start.Add(2*time.Hour), d.ResetAt)
}

func TestCheck_KeysByUserAndClass(t *testing.T) {
	l, _ := newClockedLimiter(time.Now())
	ctx := context.Background()
	one := Class{Name: "scrape", Window: time.Minute, MaxRequests: 1}
	gen := Class{Name: "generation", Window: time.Minute, MaxRequests: 1}

	d, _ := l.Check(ctx, "u1", one)
	assert.True(t, d.Allowed)
	d, _ = l.Check(ctx, "u2", one)
	assert.True(t, d.Allowed)
	d, _ = l.Check(ctx, "u1", gen)
	assert.True(t, d.Allowed)
	d, _ = l.Check(ctx, "u1", one)
	assert.False(t, d.Allowed)
}

func TestCheck_ConcurrentCallsCountOnce(t *testing.T) {
	l := NewMemoryLimiter()
	class := Class{Name: "scrape", Window: time.Hour, MaxRequests: 10}

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, _ := l.Check(context.Background(), "u1", class)
			if d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, allowed)
}

func TestRetryAfterSeconds(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		reset time.Duration
		want  int
	}{
		{"whole seconds", 30 * time.Second, 30},
		{"rounds up", 1500 * time.Millisecond, 2},
		{"sub-second", time.Millisecond, 1},
		{"already reset", -time.Second, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decision{ResetAt: now.Add(tt.reset)}
			assert.Equal(t, tt.want, d.RetryAfterSeconds(now))
		})
	}
}

func TestSweep(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	l, now := newClockedLimiter(start)
	ctx := context.Background()

	_, _ = l.Check(ctx, "u1", scrape)
	_, _ = l.Check(ctx, "u2", Class{Name: "generation", Window: 3 * time.Hour, MaxRequests: 5})

	*now = start.Add(2 * time.Hour)
	assert.Equal(t, 1, l.Sweep())
	assert.Len(t, l.windows, 1)
}
