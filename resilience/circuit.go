package resilience

import (
	"sort"
	"sync"
	"time"
)

// CircuitState represents the breaker state for one provider.
type CircuitState int

const (
	// CircuitClosed means the provider is operating normally.
	CircuitClosed CircuitState = iota
	// CircuitOpen means all calls to the provider fail fast.
	CircuitOpen
	// CircuitHalfOpen means a limited number of probe calls are allowed.
	CircuitHalfOpen
)

// String returns the string representation of the state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures the circuit breaker. The top-level values
// are defaults; per-provider overrides are applied with Configure.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening.
	// Default: 5
	FailureThreshold int

	// OpenDuration is how long the circuit stays open before probing.
	// Default: 60 seconds
	OpenDuration time.Duration

	// HalfOpenMaxRequests is the max in-flight probes in half-open state.
	// Default: 3
	HalfOpenMaxRequests int

	// OnStateChange is called when a provider's circuit changes state.
	OnStateChange func(provider string, from, to CircuitState)
}

func (c *CircuitBreakerConfig) applyDefaults() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.OpenDuration <= 0 {
		c.OpenDuration = 60 * time.Second
	}
	if c.HalfOpenMaxRequests <= 0 {
		c.HalfOpenMaxRequests = 3
	}
}

// CircuitBreaker tracks failure state for many providers. Provider state is
// created lazily on first use and lives for the process lifetime.
type CircuitBreaker struct {
	config CircuitBreakerConfig

	mu        sync.RWMutex
	providers map[string]*circuit
	overrides map[string]CircuitBreakerConfig
}

// circuit is the state machine for a single provider. Its mutex guards every
// field, so transitions for one provider never block another provider.
type circuit struct {
	mu sync.Mutex

	state               CircuitState
	consecutiveFailures int
	openUntil           time.Time
	halfOpenCount       int

	failureThreshold    int
	openDuration        time.Duration
	halfOpenMaxRequests int
}

// NewCircuitBreaker creates a new per-provider circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	config.applyDefaults()

	return &CircuitBreaker{
		config:    config,
		providers: make(map[string]*circuit),
		overrides: make(map[string]CircuitBreakerConfig),
	}
}

// Configure sets per-provider thresholds, overriding the defaults. Zero
// fields keep the default value. Safe to call before or after first use.
func (cb *CircuitBreaker) Configure(provider string, config CircuitBreakerConfig) {
	merged := cb.config
	if config.FailureThreshold > 0 {
		merged.FailureThreshold = config.FailureThreshold
	}
	if config.OpenDuration > 0 {
		merged.OpenDuration = config.OpenDuration
	}
	if config.HalfOpenMaxRequests > 0 {
		merged.HalfOpenMaxRequests = config.HalfOpenMaxRequests
	}

	cb.mu.Lock()
	cb.overrides[provider] = merged
	c, exists := cb.providers[provider]
	cb.mu.Unlock()

	if exists {
		c.mu.Lock()
		c.failureThreshold = merged.FailureThreshold
		c.openDuration = merged.OpenDuration
		c.halfOpenMaxRequests = merged.HalfOpenMaxRequests
		c.mu.Unlock()
	}
}

func (cb *CircuitBreaker) get(provider string) *circuit {
	cb.mu.RLock()
	c, ok := cb.providers[provider]
	cb.mu.RUnlock()
	if ok {
		return c
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	// Double-check after acquiring the write lock.
	if c, ok = cb.providers[provider]; ok {
		return c
	}

	cfg := cb.config
	if o, ok := cb.overrides[provider]; ok {
		cfg = o
	}
	c = &circuit{
		state:               CircuitClosed,
		failureThreshold:    cfg.FailureThreshold,
		openDuration:        cfg.OpenDuration,
		halfOpenMaxRequests: cfg.HalfOpenMaxRequests,
	}
	cb.providers[provider] = c
	return c
}

// IsOpen reports whether calls to the provider should fail fast. An expired
// open deadline transitions the circuit to half-open before answering.
func (cb *CircuitBreaker) IsOpen(provider string) bool {
	c := cb.get(provider)
	c.mu.Lock()
	defer c.mu.Unlock()
	return cb.currentStateLocked(provider, c) == CircuitOpen
}

// Allow reserves the right to make one call. In the half-open state it
// consumes one probe slot; callers that receive nil must follow up with
// RecordSuccess or RecordFailure.
func (cb *CircuitBreaker) Allow(provider string) error {
	c := cb.get(provider)
	c.mu.Lock()
	defer c.mu.Unlock()

	switch cb.currentStateLocked(provider, c) {
	case CircuitOpen:
		return &CircuitOpenError{Provider: provider, RetryAt: c.openUntil}
	case CircuitHalfOpen:
		if c.halfOpenCount >= c.halfOpenMaxRequests {
			return &CircuitOpenError{Provider: provider, RetryAt: c.openUntil}
		}
		c.halfOpenCount++
	}

	return nil
}

// RecordSuccess records a successful call. A success while half-open closes
// the circuit and resets the consecutive failure count.
func (cb *CircuitBreaker) RecordSuccess(provider string) {
	c := cb.get(provider)
	c.mu.Lock()
	defer c.mu.Unlock()

	switch cb.currentStateLocked(provider, c) {
	case CircuitClosed:
		c.consecutiveFailures = 0
	case CircuitHalfOpen:
		c.consecutiveFailures = 0
		cb.setStateLocked(provider, c, CircuitClosed)
	}
}

// RecordFailure records a failed call. Reaching the failure threshold opens
// the circuit; a failure while half-open reopens it and extends the deadline.
func (cb *CircuitBreaker) RecordFailure(provider string) {
	c := cb.get(provider)
	c.mu.Lock()
	defer c.mu.Unlock()

	c.consecutiveFailures++

	switch cb.currentStateLocked(provider, c) {
	case CircuitClosed:
		if c.consecutiveFailures >= c.failureThreshold {
			c.openUntil = time.Now().Add(c.openDuration)
			cb.setStateLocked(provider, c, CircuitOpen)
		}
	case CircuitHalfOpen:
		c.openUntil = time.Now().Add(c.openDuration)
		cb.setStateLocked(provider, c, CircuitOpen)
	case CircuitOpen:
		// Straggler outcome from a call admitted before the circuit opened.
		c.openUntil = time.Now().Add(c.openDuration)
	}
}

// State returns the provider's current circuit state.
func (cb *CircuitBreaker) State(provider string) CircuitState {
	c := cb.get(provider)
	c.mu.Lock()
	defer c.mu.Unlock()
	return cb.currentStateLocked(provider, c)
}

// ConsecutiveFailures returns the provider's consecutive failure count.
func (cb *CircuitBreaker) ConsecutiveFailures(provider string) int {
	c := cb.get(provider)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.consecutiveFailures
}

// Providers returns the ids of all providers with breaker state, sorted.
func (cb *CircuitBreaker) Providers() []string {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	names := make([]string, 0, len(cb.providers))
	for name := range cb.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reset closes the circuit and zeroes counters for the given providers, or
// for all providers when none are given.
func (cb *CircuitBreaker) Reset(providers ...string) {
	if len(providers) == 0 {
		providers = cb.Providers()
	}

	for _, provider := range providers {
		cb.mu.RLock()
		c, ok := cb.providers[provider]
		cb.mu.RUnlock()
		if !ok {
			continue
		}

		c.mu.Lock()
		c.consecutiveFailures = 0
		c.openUntil = time.Time{}
		cb.setStateLocked(provider, c, CircuitClosed)
		c.mu.Unlock()
	}
}

// currentStateLocked applies the lazy Open -> HalfOpen transition once the
// open deadline has passed. Caller must hold c.mu.
func (cb *CircuitBreaker) currentStateLocked(provider string, c *circuit) CircuitState {
	if c.state == CircuitOpen && !time.Now().Before(c.openUntil) {
		c.state = CircuitHalfOpen
		c.halfOpenCount = 0
		if cb.config.OnStateChange != nil {
			cb.config.OnStateChange(provider, CircuitOpen, CircuitHalfOpen)
		}
	}
	return c.state
}

// setStateLocked transitions the circuit, resetting half-open accounting and
// notifying the state-change hook. Caller must hold c.mu.
func (cb *CircuitBreaker) setStateLocked(provider string, c *circuit, state CircuitState) {
	if c.state == state {
		return
	}
	from := c.state
	c.state = state
	c.halfOpenCount = 0

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(provider, from, state)
	}
}
