package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// RetryConfig configures backoff and retry classification.
type RetryConfig struct {
	// MaxRetries is the number of retries after the initial attempt.
	// Default: 5
	MaxRetries int

	// BaseDelay is the delay before the first retry.
	// Default: 500ms
	BaseDelay time.Duration

	// MaxDelay caps the delay between retries, including explicit
	// Retry-After values.
	// Default: 30s
	MaxDelay time.Duration

	// Multiplier is the exponential backoff base.
	// Default: 2.0
	Multiplier float64

	// JitterFraction is the maximum uniform random addition, as a fraction
	// of the computed delay. Set negative to disable jitter.
	// Default: 0.3
	JitterFraction float64

	// RetryIf determines if an error should trigger a retry.
	// Default: Retryable
	RetryIf func(err error) bool

	// OnRetry is called before each retry attempt sleeps.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// RetryPolicy computes backoff delays and drives the retry loop. The delay
// calculation is pure so it can be tested without clocks or network.
type RetryPolicy struct {
	config RetryConfig
}

// NewRetryPolicy creates a new retry policy.
func NewRetryPolicy(config RetryConfig) *RetryPolicy {
	// Apply defaults
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	} else if config.MaxRetries == 0 {
		config.MaxRetries = 5
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = 500 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 2.0
	}
	if config.JitterFraction == 0 {
		config.JitterFraction = 0.3
	}
	if config.RetryIf == nil {
		config.RetryIf = Retryable
	}

	return &RetryPolicy{config: config}
}

// WithMaxRetries returns a copy of the policy with a different retry budget.
// Pass a negative value for no retries.
func (p *RetryPolicy) WithMaxRetries(n int) *RetryPolicy {
	config := p.config
	if n < 0 {
		n = 0
	}
	config.MaxRetries = n
	return &RetryPolicy{config: config}
}

// MaxRetries returns the configured retry budget.
func (p *RetryPolicy) MaxRetries() int {
	return p.config.MaxRetries
}

// Delay computes the sleep before retry number attempt (starting at 0). An
// explicit retryAfter from the provider overrides the exponential schedule;
// both are capped at MaxDelay before jitter is added.
func (p *RetryPolicy) Delay(attempt int, retryAfter time.Duration) time.Duration {
	var delay time.Duration

	if retryAfter > 0 {
		delay = retryAfter
	} else {
		multiplier := math.Pow(p.config.Multiplier, float64(attempt))
		delay = time.Duration(float64(p.config.BaseDelay) * multiplier)
		if delay <= 0 {
			// Overflow from a large attempt count.
			delay = p.config.MaxDelay
		}
	}

	if delay > p.config.MaxDelay {
		delay = p.config.MaxDelay
	}

	if p.config.JitterFraction > 0 && delay > 0 {
		// Uniform jitter spreads synchronized retries across callers.
		// #nosec G404 -- jitter is non-cryptographic timing variance.
		span := int64(float64(delay) * p.config.JitterFraction)
		if span > 0 {
			delay += time.Duration(rand.Int64N(span))
		}
	}

	return delay
}

// Do runs op, retrying retryable failures with backoff until the retry
// budget is spent. The delay between attempts honors any Retry-After carried
// by the previous error. Returns the first non-retryable error as-is, or a
// RetryExhaustedError wrapping the last cause.
func (p *RetryPolicy) Do(ctx context.Context, provider string, op func(context.Context) error) error {
	var lastErr error

	for attempt := 0; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}

		lastErr = err

		if !p.config.RetryIf(err) {
			return err
		}
		if attempt >= p.config.MaxRetries {
			break
		}

		delay := p.Delay(attempt, RetryAfter(err))

		if p.config.OnRetry != nil {
			p.config.OnRetry(attempt+1, err, delay)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return &RetryExhaustedError{
		Provider: provider,
		Attempts: p.config.MaxRetries + 1,
		Err:      lastErr,
	}
}

// Retryable is the default classifier: HTTP 429 and 5xx and generic network
// errors are retryable; timeouts, cancellation, and other 4xx are not.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrCircuitOpen) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Retryable()
	}

	// Anything else is a transport-level failure worth another attempt.
	return true
}

// RetryAfter extracts the provider-imposed Retry-After from an error chain,
// or zero when there is none.
func RetryAfter(err error) time.Duration {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.RetryAfter
	}
	return 0
}
