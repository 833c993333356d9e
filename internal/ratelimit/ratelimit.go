// Package ratelimit implements fixed-window request limits keyed by user and
// operation class.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Class is a named operation class with its own window and budget.
type Class struct {
	Name        string        `yaml:"name" mapstructure:"name"`
	Window      time.Duration `yaml:"window" mapstructure:"window"`
	MaxRequests int           `yaml:"max_requests" mapstructure:"max_requests"`
}

// Decision is the outcome of a single Check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RetryAfterSeconds returns ceil((ResetAt - now) / 1s), never negative.
func (d Decision) RetryAfterSeconds(now time.Time) int {
	wait := d.ResetAt.Sub(now)
	if wait <= 0 {
		return 0
	}
	return int(math.Ceil(wait.Seconds()))
}

// Limiter decides whether a user may run one more operation of a class.
type Limiter interface {
	Check(ctx context.Context, userID string, class Class) (Decision, error)
}

type window struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter keeps windows in process memory. Each Check counts as at
// most one request; denied requests are not counted.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	nowFunc func() time.Time
}

// NewMemoryLimiter creates an empty in-memory limiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		windows: make(map[string]*window),
		nowFunc: time.Now,
	}
}

// Check implements Limiter.
func (l *MemoryLimiter) Check(_ context.Context, userID string, class Class) (Decision, error) {
	now := l.nowFunc()
	key := class.Name + ":" + userID

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(class.Window)}
		l.windows[key] = w
	}

	if w.count >= class.MaxRequests {
		return Decision{Allowed: false, Remaining: 0, ResetAt: w.resetAt}, nil
	}

	w.count++
	return Decision{
		Allowed:   true,
		Remaining: class.MaxRequests - w.count,
		ResetAt:   w.resetAt,
	}, nil
}

// Sweep drops windows that have already reset.
func (l *MemoryLimiter) Sweep() int {
	now := l.nowFunc()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for k, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, k)
			removed++
		}
	}
	return removed
}

// StartSweeper runs Sweep every interval until ctx is done.
func (l *MemoryLimiter) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if n := l.Sweep(); n > 0 {
					zap.L().Debug("ratelimit: swept expired windows", zap.Int("count", n))
				}
			}
		}
	}()
}
