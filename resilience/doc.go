// Package resilience provides the failure-handling primitives for outbound
// provider calls.
//
// Third-party HTTP/RPC providers fail often and in different ways, so each
// primitive guards a different failure mode:
//
//   - Circuit Breaker: stops calling a provider after consecutive failures,
//     then probes it after a cooldown instead of hammering it.
//
//   - Rate Limiter: caps requests per provider inside a fixed time window and
//     honors server-imposed Retry-After deadlines.
//
//   - Retry Policy: classifies errors as retryable or terminal and computes
//     exponential backoff delays with jitter.
//
//   - Timeout: bounds a single attempt and surfaces a distinct, non-retryable
//     timeout error.
//
// All primitives are keyed by provider id and safe for concurrent use; state
// for one provider never blocks another.
//
// # Usage
//
//	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
//	    FailureThreshold: 5,
//	    OpenDuration:     time.Minute,
//	})
//
//	rl := resilience.NewRateLimiter(resilience.RateLimiterConfig{
//	    MaxRequests: 30,
//	    Window:      time.Minute,
//	})
//
//	policy := resilience.NewRetryPolicy(resilience.RetryConfig{
//	    MaxRetries: 5,
//	    BaseDelay:  500 * time.Millisecond,
//	})
//
//	if cb.IsOpen("coingecko") {
//	    // fail fast
//	}
//	if rl.TryAcquire("coingecko") {
//	    err := policy.Do(ctx, "coingecko", callProvider)
//	    ...
//	}
package resilience
