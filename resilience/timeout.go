package resilience

import (
	"context"
	"errors"
	"time"
)

// DefaultTimeout bounds a single attempt when no timeout is configured.
const DefaultTimeout = 10 * time.Second

// WithTimeout runs op under a hard per-attempt deadline. When the deadline
// expires the error is surfaced as a TimeoutError, which the retry classifier
// treats as terminal. Cancellation of the parent context is passed through
// untouched.
func WithTimeout(ctx context.Context, provider string, timeout time.Duration, op func(context.Context) error) error {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := op(attemptCtx)
	if err == nil {
		return nil
	}

	// Only our own deadline counts as a timeout; a canceled parent context
	// belongs to the caller.
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return &TimeoutError{Provider: provider, Timeout: timeout}
	}
	return err
}
