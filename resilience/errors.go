package resilience

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for matching with errors.Is. The typed errors below wrap
// these, so callers can match on class without losing the detail structs.
var (
	// ErrCircuitOpen is returned when a provider's circuit breaker is open.
	ErrCircuitOpen = errors.New("egress: circuit breaker is open")

	// ErrTimeout is returned when a single attempt exceeds its deadline.
	ErrTimeout = errors.New("egress: request timed out")

	// ErrRetriesExhausted is returned when all retry attempts have failed.
	ErrRetriesExhausted = errors.New("egress: retries exhausted")
)

// CircuitOpenError indicates the call was rejected without a network attempt
// because the provider's circuit is open.
type CircuitOpenError struct {
	Provider string
	RetryAt  time.Time
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("egress: circuit open for provider %q until %s", e.Provider, e.RetryAt.Format(time.RFC3339))
}

func (e *CircuitOpenError) Unwrap() error { return ErrCircuitOpen }

// TimeoutError indicates a single attempt exceeded the configured timeout.
// Timeouts are terminal: they are never retried.
type TimeoutError struct {
	Provider string
	Timeout  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("egress: provider %q did not respond within %s", e.Provider, e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// RetryExhaustedError wraps the last underlying error after all retryable
// attempts have been spent.
type RetryExhaustedError struct {
	Provider string
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("egress: provider %q failed after %d attempts: %v", e.Provider, e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() []error { return []error{ErrRetriesExhausted, e.Err} }

// HTTPError is a non-2xx response from a provider. 429 and 5xx are retryable;
// any other 4xx propagates to the caller on first occurrence.
type HTTPError struct {
	Status int
	Body   string

	// RetryAfter is the parsed Retry-After header, zero when absent.
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("egress: provider returned HTTP %d", e.Status)
	}
	return fmt.Sprintf("egress: provider returned HTTP %d: %s", e.Status, e.Body)
}

// Retryable reports whether the status is worth another attempt.
func (e *HTTPError) Retryable() bool {
	return e.Status == 429 || e.Status >= 500
}
