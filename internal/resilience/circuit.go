// Package resilience provides retry and circuit breaking for calls to
// scrape and LLM providers.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// BreakerState is the state of a Breaker.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrBreakerOpen is returned while a provider is being skipped.
var ErrBreakerOpen = eris.New("resilience: circuit open")

// BreakerConfig controls when a Breaker opens and how long it stays open.
type BreakerConfig struct {
	// Name identifies the provider in logs.
	Name string `yaml:"-" mapstructure:"-"`
	// FailureThreshold consecutive failures inside Window open the breaker.
	FailureThreshold int           `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	Window           time.Duration `yaml:"window" mapstructure:"window"`
	// Cooldown is how long the breaker stays open before one probe call.
	Cooldown time.Duration `yaml:"cooldown" mapstructure:"cooldown"`
}

// Breaker skips a provider after repeated failures so a dead fallback does
// not cost every request its full timeout.
type Breaker struct {
	cfg BreakerConfig

	mu        sync.Mutex
	state     BreakerState
	failures  int
	firstFail time.Time
	openedAt  time.Time
	probing   bool

	nowFunc func() time.Time
}

// NewBreaker creates a closed breaker. Zero config values get defaults of
// 3 failures in 30s and a 60s cooldown.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.Window <= 0 {
		cfg.Window = 30 * time.Second
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 60 * time.Second
	}
	return &Breaker{cfg: cfg, nowFunc: time.Now}
}

// Call runs fn unless the breaker is open.
func Call[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if !b.allow() {
		return zero, eris.Wrapf(ErrBreakerOpen, "provider %s", b.cfg.Name)
	}
	val, err := fn(ctx)
	b.record(err)
	return val, err
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.nowFunc().Sub(b.openedAt) < b.cfg.Cooldown {
			return false
		}
		b.setState(BreakerHalfOpen)
		b.probing = true
		return true
	case BreakerHalfOpen:
		// One probe at a time.
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return true
	}
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.nowFunc()
	b.probing = false

	// Caller cancellation says nothing about provider health.
	if errors.Is(err, context.Canceled) {
		return
	}

	if err == nil {
		b.failures = 0
		if b.state != BreakerClosed {
			b.setState(BreakerClosed)
		}
		return
	}

	if b.state == BreakerHalfOpen {
		b.openedAt = now
		b.setState(BreakerOpen)
		return
	}

	if b.failures == 0 || now.Sub(b.firstFail) > b.cfg.Window {
		b.failures = 0
		b.firstFail = now
	}
	b.failures++
	if b.failures >= b.cfg.FailureThreshold {
		b.openedAt = now
		b.failures = 0
		b.setState(BreakerOpen)
	}
}

func (b *Breaker) setState(to BreakerState) {
	from := b.state
	b.state = to
	zap.L().Info("resilience: breaker state change",
		zap.String("provider", b.cfg.Name),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
}
