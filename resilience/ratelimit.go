package resilience

import (
	"sort"
	"sync"
	"time"
)

// RateLimiterConfig configures the fixed-window rate limiter. The top-level
// values are defaults; per-provider overrides are applied with SetLimit.
type RateLimiterConfig struct {
	// MaxRequests is the number of requests allowed per window per provider.
	// Default: 30
	MaxRequests int

	// Window is the fixed window length.
	// Default: 60 seconds
	Window time.Duration
}

func (c *RateLimiterConfig) applyDefaults() {
	if c.MaxRequests <= 0 {
		c.MaxRequests = 30
	}
	if c.Window <= 0 {
		c.Window = 60 * time.Second
	}
}

// RateLimiter tracks per-provider request counts in a fixed (not sliding)
// time window, plus any server-imposed Retry-After deadline. Provider state
// is created lazily on first use.
type RateLimiter struct {
	config RateLimiterConfig

	mu        sync.RWMutex
	providers map[string]*window
	overrides map[string]RateLimiterConfig
}

// window is the counter state for a single provider. Its mutex makes the
// check-and-increment in TryAcquire atomic, so concurrent callers cannot
// double-count or both claim the last slot.
type window struct {
	mu sync.Mutex

	windowStart     time.Time
	count           int
	retryAfterUntil time.Time

	max    int
	length time.Duration
}

// NewRateLimiter creates a new per-provider fixed-window rate limiter.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	config.applyDefaults()

	return &RateLimiter{
		config:    config,
		providers: make(map[string]*window),
		overrides: make(map[string]RateLimiterConfig),
	}
}

// SetLimit sets a per-provider cap and window, overriding the defaults. Zero
// values keep the default. Safe to call before or after first use.
func (rl *RateLimiter) SetLimit(provider string, maxRequests int, windowLength time.Duration) {
	merged := rl.config
	if maxRequests > 0 {
		merged.MaxRequests = maxRequests
	}
	if windowLength > 0 {
		merged.Window = windowLength
	}

	rl.mu.Lock()
	rl.overrides[provider] = merged
	w, exists := rl.providers[provider]
	rl.mu.Unlock()

	if exists {
		w.mu.Lock()
		w.max = merged.MaxRequests
		w.length = merged.Window
		w.mu.Unlock()
	}
}

func (rl *RateLimiter) get(provider string) *window {
	rl.mu.RLock()
	w, ok := rl.providers[provider]
	rl.mu.RUnlock()
	if ok {
		return w
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if w, ok = rl.providers[provider]; ok {
		return w
	}

	cfg := rl.config
	if o, ok := rl.overrides[provider]; ok {
		cfg = o
	}
	w = &window{
		windowStart: time.Now(),
		max:         cfg.MaxRequests,
		length:      cfg.Window,
	}
	rl.providers[provider] = w
	return w
}

// rollLocked resets the window exactly once when it has elapsed. Caller must
// hold w.mu.
func (w *window) rollLocked(now time.Time) {
	if now.Sub(w.windowStart) > w.length {
		w.windowStart = now
		w.count = 0
	}
}

// IsLimited reports whether the provider is currently rate limited, either by
// the window cap or an unexpired Retry-After deadline.
func (rl *RateLimiter) IsLimited(provider string) bool {
	w := rl.get(provider)
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	w.rollLocked(now)

	if now.Before(w.retryAfterUntil) {
		return true
	}
	return w.count >= w.max
}

// RecordRequest counts one request against the provider's current window.
func (rl *RateLimiter) RecordRequest(provider string) {
	w := rl.get(provider)
	w.mu.Lock()
	defer w.mu.Unlock()

	w.rollLocked(time.Now())
	w.count++
}

// TryAcquire atomically checks the limit and, when capacity remains, counts
// the request. Returns false without counting when the provider is limited.
func (rl *RateLimiter) TryAcquire(provider string) bool {
	w := rl.get(provider)
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	w.rollLocked(now)

	if now.Before(w.retryAfterUntil) || w.count >= w.max {
		return false
	}
	w.count++
	return true
}

// OnRateLimitResponse records a server-imposed Retry-After deadline from a
// 429 response. A zero retryAfter is ignored.
func (rl *RateLimiter) OnRateLimitResponse(provider string, retryAfter time.Duration) {
	if retryAfter <= 0 {
		return
	}

	w := rl.get(provider)
	w.mu.Lock()
	defer w.mu.Unlock()

	until := time.Now().Add(retryAfter)
	if until.After(w.retryAfterUntil) {
		w.retryAfterUntil = until
	}
}

// NextReady returns the earliest time at which the provider may stop being
// limited: the Retry-After deadline when one is active, else the window
// reset, else now. Callers should re-check IsLimited after sleeping, since
// both constraints can be active at once.
func (rl *RateLimiter) NextReady(provider string) time.Time {
	w := rl.get(provider)
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	w.rollLocked(now)

	var candidates []time.Time
	if now.Before(w.retryAfterUntil) {
		candidates = append(candidates, w.retryAfterUntil)
	}
	if w.count >= w.max {
		candidates = append(candidates, w.windowStart.Add(w.length))
	}
	if len(candidates) == 0 {
		return now
	}

	earliest := candidates[0]
	for _, t := range candidates[1:] {
		if t.Before(earliest) {
			earliest = t
		}
	}
	return earliest
}

// RequestsInWindow returns the provider's count in the current window.
func (rl *RateLimiter) RequestsInWindow(provider string) int {
	w := rl.get(provider)
	w.mu.Lock()
	defer w.mu.Unlock()

	w.rollLocked(time.Now())
	return w.count
}

// Remaining returns how many requests the provider may still make in the
// current window. Zero while a Retry-After deadline is active.
func (rl *RateLimiter) Remaining(provider string) int {
	w := rl.get(provider)
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	w.rollLocked(now)

	if now.Before(w.retryAfterUntil) {
		return 0
	}
	if w.count >= w.max {
		return 0
	}
	return w.max - w.count
}

// Providers returns the ids of all providers with limiter state, sorted.
func (rl *RateLimiter) Providers() []string {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	names := make([]string, 0, len(rl.providers))
	for name := range rl.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reset wipes window and Retry-After state for the given providers, or for
// all providers when none are given.
func (rl *RateLimiter) Reset(providers ...string) {
	if len(providers) == 0 {
		providers = rl.Providers()
	}

	for _, provider := range providers {
		rl.mu.RLock()
		w, ok := rl.providers[provider]
		rl.mu.RUnlock()
		if !ok {
			continue
		}

		w.mu.Lock()
		w.windowStart = time.Now()
		w.count = 0
		w.retryAfterUntil = time.Time{}
		w.mu.Unlock()
	}
}
