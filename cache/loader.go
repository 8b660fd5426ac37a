package cache

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
)

// FetchFunc produces the value for a key on cache miss.
type FetchFunc func(ctx context.Context) ([]byte, error)

// Loader combines a Cache with request collapsing: concurrent loads for the
// same key share a single fetch instead of hitting the origin once each.
//
// Contract:
//   - Concurrency: safe for concurrent use.
//   - Errors: fetch errors are propagated to every collapsed caller and are
//     never cached.
type Loader struct {
	cache  Cache
	policy Policy
	group  singleflight.Group
}

// NewLoader creates a Loader over the given cache and policy.
// A nil cache disables storage; collapsing still applies.
func NewLoader(c Cache, policy Policy) *Loader {
	return &Loader{
		cache:  c,
		policy: policy,
	}
}

// Caches reports whether a load with the given TTL override would store its
// result.
func (l *Loader) Caches(ttl time.Duration) bool {
	return l.cache != nil && l.policy.EffectiveTTL(ttl) > 0
}

// Load returns the value for key, fetching it at most once across concurrent
// callers. The second return value reports whether the result was served from
// the cache or from another caller's in-flight fetch.
func (l *Loader) Load(ctx context.Context, key string, ttl time.Duration, fetch FetchFunc) ([]byte, bool, error) {
	if err := ValidateKey(key); err != nil {
		// Unusable key - fetch directly without caching
		v, ferr := fetch(ctx)
		return v, false, ferr
	}

	if l.cache != nil {
		if v, ok := l.cache.Get(ctx, key); ok {
			return v, true, nil
		}
	}

	v, err, shared := l.group.Do(key, func() (any, error) {
		// Re-check under the flight: another caller may have filled the
		// cache between our miss and acquiring the flight slot.
		if l.cache != nil {
			if cached, ok := l.cache.Get(ctx, key); ok {
				return cached, nil
			}
		}

		value, err := fetch(ctx)
		if err != nil {
			return nil, err
		}

		if l.cache != nil {
			effective := l.policy.EffectiveTTL(ttl)
			if effective > 0 {
				_ = l.cache.Set(ctx, key, value, effective)
			}
		}

		return value, nil
	})
	if err != nil {
		return nil, shared, err
	}

	return v.([]byte), shared, nil
}

// Invalidate removes a key from the underlying cache.
func (l *Loader) Invalidate(ctx context.Context, key string) error {
	if l.cache == nil {
		return nil
	}
	return l.cache.Delete(ctx, key)
}
