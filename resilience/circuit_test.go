package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})

	if cb.config.FailureThreshold != 5 {
		t.Errorf("FailureThreshold = %d, want 5", cb.config.FailureThreshold)
	}
	if cb.config.OpenDuration != 60*time.Second {
		t.Errorf("OpenDuration = %v, want 60s", cb.config.OpenDuration)
	}
	if cb.config.HalfOpenMaxRequests != 3 {
		t.Errorf("HalfOpenMaxRequests = %d, want 3", cb.config.HalfOpenMaxRequests)
	}
	if cb.State("any") != CircuitClosed {
		t.Errorf("initial state = %v, want closed", cb.State("any"))
	}
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 3,
		OpenDuration:     time.Second,
	})

	for i := 0; i < 2; i++ {
		cb.RecordFailure("rpc")
		if cb.IsOpen("rpc") {
			t.Fatalf("open after %d failures, want closed until 3", i+1)
		}
	}

	cb.RecordFailure("rpc")
	if !cb.IsOpen("rpc") {
		t.Error("IsOpen = false after threshold failures, want true")
	}
	if got := cb.ConsecutiveFailures("rpc"); got != 3 {
		t.Errorf("ConsecutiveFailures = %d, want 3", got)
	}

	err := cb.Allow("rpc")
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Allow() = %v, want ErrCircuitOpen", err)
	}

	var openErr *CircuitOpenError
	if !errors.As(err, &openErr) {
		t.Fatalf("Allow() error type = %T, want *CircuitOpenError", err)
	}
	if openErr.Provider != "rpc" {
		t.Errorf("Provider = %q, want rpc", openErr.Provider)
	}
	if openErr.RetryAt.Before(time.Now()) {
		t.Error("RetryAt is in the past")
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3})

	cb.RecordFailure("rpc")
	cb.RecordFailure("rpc")
	cb.RecordSuccess("rpc")
	cb.RecordFailure("rpc")
	cb.RecordFailure("rpc")

	if cb.IsOpen("rpc") {
		t.Error("circuit opened despite interleaved success")
	}
	if got := cb.ConsecutiveFailures("rpc"); got != 2 {
		t.Errorf("ConsecutiveFailures = %d, want 2", got)
	}
}

func TestCircuitBreaker_HalfOpenAfterDeadline(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		OpenDuration:     10 * time.Millisecond,
	})

	cb.RecordFailure("rpc")
	if got := cb.State("rpc"); got != CircuitOpen {
		t.Fatalf("State = %v, want open", got)
	}

	time.Sleep(20 * time.Millisecond)

	if got := cb.State("rpc"); got != CircuitHalfOpen {
		t.Errorf("State = %v, want half-open", got)
	}
	if cb.IsOpen("rpc") {
		t.Error("IsOpen = true while half-open, want false")
	}
}

func TestCircuitBreaker_HalfOpenSuccessCloses(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		OpenDuration:     10 * time.Millisecond,
	})

	cb.RecordFailure("rpc")
	time.Sleep(20 * time.Millisecond)

	if err := cb.Allow("rpc"); err != nil {
		t.Fatalf("Allow() during half-open = %v, want nil", err)
	}
	cb.RecordSuccess("rpc")

	if got := cb.State("rpc"); got != CircuitClosed {
		t.Errorf("State = %v, want closed", got)
	}
	if got := cb.ConsecutiveFailures("rpc"); got != 0 {
		t.Errorf("ConsecutiveFailures = %d, want 0", got)
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		OpenDuration:     15 * time.Millisecond,
	})

	cb.RecordFailure("rpc")
	time.Sleep(25 * time.Millisecond)

	if err := cb.Allow("rpc"); err != nil {
		t.Fatalf("Allow() during half-open = %v, want nil", err)
	}
	cb.RecordFailure("rpc")

	if got := cb.State("rpc"); got != CircuitOpen {
		t.Errorf("State = %v, want open after failed probe", got)
	}
	if err := cb.Allow("rpc"); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Allow() after reopen = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreaker_HalfOpenProbeBudget(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold:    1,
		OpenDuration:        10 * time.Millisecond,
		HalfOpenMaxRequests: 2,
	})

	cb.RecordFailure("rpc")
	time.Sleep(20 * time.Millisecond)

	for i := 0; i < 2; i++ {
		if err := cb.Allow("rpc"); err != nil {
			t.Fatalf("probe %d: Allow() = %v, want nil", i+1, err)
		}
	}
	if err := cb.Allow("rpc"); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Allow() past probe budget = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreaker_ProvidersIsolated(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1})

	cb.RecordFailure("broken")

	if !cb.IsOpen("broken") {
		t.Error("broken provider not open")
	}
	if cb.IsOpen("healthy") {
		t.Error("healthy provider opened by unrelated failures")
	}
}

func TestCircuitBreaker_Configure(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 5})
	cb.Configure("fragile", CircuitBreakerConfig{FailureThreshold: 1})

	cb.RecordFailure("fragile")
	if !cb.IsOpen("fragile") {
		t.Error("override threshold not applied")
	}

	cb.RecordFailure("normal")
	if cb.IsOpen("normal") {
		t.Error("default threshold changed by override")
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	var mu sync.Mutex
	var transitions []string

	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		OpenDuration:     10 * time.Millisecond,
		OnStateChange: func(provider string, from, to CircuitState) {
			mu.Lock()
			transitions = append(transitions, provider+":"+from.String()+"->"+to.String())
			mu.Unlock()
		},
	})

	cb.RecordFailure("rpc")
	time.Sleep(20 * time.Millisecond)
	if err := cb.Allow("rpc"); err != nil {
		t.Fatalf("Allow() = %v", err)
	}
	cb.RecordSuccess("rpc")

	mu.Lock()
	defer mu.Unlock()

	want := []string{
		"rpc:closed->open",
		"rpc:open->half-open",
		"rpc:half-open->closed",
	}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition[%d] = %q, want %q", i, transitions[i], want[i])
		}
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1})

	cb.RecordFailure("a")
	cb.RecordFailure("b")
	cb.Reset("a")

	if cb.IsOpen("a") {
		t.Error("provider a still open after reset")
	}
	if !cb.IsOpen("b") {
		t.Error("provider b reset unexpectedly")
	}

	cb.Reset()
	if cb.IsOpen("b") {
		t.Error("provider b still open after full reset")
	}
}

func TestCircuitBreaker_ConcurrentRecording(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1000})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				cb.RecordFailure("rpc")
			}
		}()
	}
	wg.Wait()

	if !cb.IsOpen("rpc") {
		t.Errorf("ConsecutiveFailures = %d after 1000 concurrent failures, circuit should be open",
			cb.ConsecutiveFailures("rpc"))
	}
}
