package resilience

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

func TestNewRetryPolicy_Defaults(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{})

	if p.config.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d, want 5", p.config.MaxRetries)
	}
	if p.config.BaseDelay != 500*time.Millisecond {
		t.Errorf("BaseDelay = %v, want 500ms", p.config.BaseDelay)
	}
	if p.config.MaxDelay != 30*time.Second {
		t.Errorf("MaxDelay = %v, want 30s", p.config.MaxDelay)
	}
	if p.config.Multiplier != 2.0 {
		t.Errorf("Multiplier = %v, want 2.0", p.config.Multiplier)
	}
}

func TestRetryPolicy_DelayExponential(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{
		BaseDelay:      100 * time.Millisecond,
		MaxDelay:       30 * time.Second,
		JitterFraction: -1, // deterministic
	})

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
	}
	for attempt, w := range want {
		if got := p.Delay(attempt, 0); got != w {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, w)
		}
	}
}

func TestRetryPolicy_DelayMonotonicAndCapped(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{
		BaseDelay:      500 * time.Millisecond,
		MaxDelay:       30 * time.Second,
		JitterFraction: -1,
	})

	prev := time.Duration(0)
	for attempt := 0; attempt < 64; attempt++ {
		d := p.Delay(attempt, 0)
		if d < prev {
			t.Fatalf("Delay(%d) = %v < Delay(%d) = %v, want non-decreasing", attempt, d, attempt-1, prev)
		}
		if d > 30*time.Second {
			t.Fatalf("Delay(%d) = %v exceeds MaxDelay", attempt, d)
		}
		prev = d
	}
}

func TestRetryPolicy_DelayRetryAfterOverride(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{
		BaseDelay:      100 * time.Millisecond,
		MaxDelay:       10 * time.Second,
		JitterFraction: -1,
	})

	if got := p.Delay(0, 5*time.Second); got != 5*time.Second {
		t.Errorf("Delay with Retry-After 5s = %v, want 5s", got)
	}

	// Retry-After is still capped at MaxDelay.
	if got := p.Delay(0, time.Hour); got != 10*time.Second {
		t.Errorf("Delay with Retry-After 1h = %v, want MaxDelay 10s", got)
	}
}

func TestRetryPolicy_DelayJitterBounds(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{
		BaseDelay:      1 * time.Second,
		JitterFraction: 0.3,
	})

	for i := 0; i < 100; i++ {
		d := p.Delay(0, 0)
		if d < time.Second || d > 1300*time.Millisecond {
			t.Fatalf("Delay with jitter = %v, want within [1s, 1.3s]", d)
		}
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"http 429", &HTTPError{Status: 429}, true},
		{"http 500", &HTTPError{Status: 500}, true},
		{"http 503", &HTTPError{Status: 503}, true},
		{"http 400", &HTTPError{Status: 400}, false},
		{"http 404", &HTTPError{Status: 404}, false},
		{"timeout", &TimeoutError{Provider: "x", Timeout: time.Second}, false},
		{"circuit open", &CircuitOpenError{Provider: "x"}, false},
		{"context canceled", context.Canceled, false},
		{"network", io.ErrUnexpectedEOF, true},
		{"wrapped network", errors.Join(errors.New("dial failed"), io.EOF), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Retryable(tt.err); got != tt.want {
				t.Errorf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestRetryPolicy_DoSucceedsAfterFailures(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{
		MaxRetries:     5,
		BaseDelay:      time.Millisecond,
		JitterFraction: -1,
	})

	calls := 0
	err := p.Do(context.Background(), "api", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return &HTTPError{Status: 500}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() = %v, want nil", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryPolicy_DoExhausted(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{
		MaxRetries:     2,
		BaseDelay:      time.Millisecond,
		JitterFraction: -1,
	})

	calls := 0
	cause := &HTTPError{Status: 503}
	err := p.Do(context.Background(), "api", func(ctx context.Context) error {
		calls++
		return cause
	})

	if calls != 3 {
		t.Errorf("calls = %d, want 3 (initial + 2 retries)", calls)
	}
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Errorf("Do() = %v, want ErrRetriesExhausted", err)
	}

	var exhausted *RetryExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("Do() error type = %T, want *RetryExhaustedError", err)
	}
	if exhausted.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", exhausted.Attempts)
	}

	// The last cause stays reachable through the wrapper.
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.Status != 503 {
		t.Errorf("wrapped cause = %v, want HTTP 503", exhausted.Err)
	}
}

func TestRetryPolicy_DoNonRetryableStopsImmediately(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{MaxRetries: 5, BaseDelay: time.Millisecond})

	calls := 0
	cause := &HTTPError{Status: 404}
	err := p.Do(context.Background(), "api", func(ctx context.Context) error {
		calls++
		return cause
	})

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.Status != 404 {
		t.Errorf("Do() = %v, want the HTTP 404 unchanged", err)
	}
	if errors.Is(err, ErrRetriesExhausted) {
		t.Error("non-retryable error wrapped as exhausted")
	}
}

func TestRetryPolicy_DoHonorsRetryAfter(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{
		MaxRetries:     1,
		BaseDelay:      time.Millisecond,
		JitterFraction: -1,
	})

	var delays []time.Duration
	p.config.OnRetry = func(attempt int, err error, delay time.Duration) {
		delays = append(delays, delay)
	}

	calls := 0
	start := time.Now()
	err := p.Do(context.Background(), "api", func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return &HTTPError{Status: 429, RetryAfter: 50 * time.Millisecond}
		}
		return nil
	})
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("Do() = %v, want nil", err)
	}
	if len(delays) != 1 || delays[0] != 50*time.Millisecond {
		t.Errorf("retry delays = %v, want [50ms]", delays)
	}
	if elapsed < 50*time.Millisecond {
		t.Errorf("retry fired after %v, sooner than the Retry-After deadline", elapsed)
	}
}

func TestRetryPolicy_DoContextCanceled(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{
		MaxRetries:     5,
		BaseDelay:      time.Hour, // would hang without cancellation
		JitterFraction: -1,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := p.Do(ctx, "api", func(ctx context.Context) error {
		return &HTTPError{Status: 500}
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do() = %v, want context.Canceled", err)
	}
}

func TestRetryPolicy_WithMaxRetries(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{MaxRetries: 5, BaseDelay: time.Millisecond, JitterFraction: -1})
	none := p.WithMaxRetries(-1)

	calls := 0
	_ = none.Do(context.Background(), "api", func(ctx context.Context) error {
		calls++
		return &HTTPError{Status: 500}
	})
	if calls != 1 {
		t.Errorf("calls = %d with retries disabled, want 1", calls)
	}
	if p.MaxRetries() != 5 {
		t.Errorf("original policy MaxRetries = %d, want 5 (WithMaxRetries must copy)", p.MaxRetries())
	}
}
