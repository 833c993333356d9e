package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/agent-pipeline/internal/model"
)

// ProfileCache reads previously extracted profiles.
type ProfileCache interface {
	FindCachedProfile(ctx context.Context, userID, domain string, since time.Time) (*model.CachedProfile, error)
}

// CacheGate decides whether an invocation can be answered from a stored
// profile. It never writes.
type CacheGate struct {
	cache ProfileCache
	now   func() time.Time
}

// NewCacheGate creates a gate over cache. A nil now uses time.Now.
func NewCacheGate(cache ProfileCache, now func() time.Time) *CacheGate {
	if now == nil {
		now = time.Now
	}
	return &CacheGate{cache: cache, now: now}
}

// Lookup returns the newest profile for (userID, domain) younger than ttl.
// Store errors are logged and reported as a miss.
func (g *CacheGate) Lookup(ctx context.Context, userID, domain string, ttl time.Duration) (*model.CachedProfile, bool) {
	if g == nil || g.cache == nil || ttl <= 0 || domain == "" {
		return nil, false
	}
	now := g.now()
	cp, err := g.cache.FindCachedProfile(ctx, userID, domain, now.Add(-ttl))
	if err != nil {
		zap.L().Warn("pipeline: cache lookup failed",
			zap.String("user_id", userID),
			zap.String("domain", domain),
			zap.Error(err),
		)
		return nil, false
	}
	if cp == nil || !cp.FreshAt(now, ttl) {
		return nil, false
	}
	return cp, true
}
