package egress

// ProviderStats is a point-in-time snapshot of one provider's resilience
// state.
type ProviderStats struct {
	// RequestsInWindow is how many requests the current rate-limit window
	// has counted.
	RequestsInWindow int

	// ConsecutiveFailures is the breaker's current failure streak.
	ConsecutiveFailures int

	// CircuitOpen reports whether calls to the provider fail fast.
	CircuitOpen bool

	// QueuedRequests is the current pending-queue depth.
	QueuedRequests int

	// QueueCapacity is the queue's configured bound.
	QueueCapacity int
}

// Statistics returns a snapshot for every provider the executor has seen,
// including registered providers that have not been called yet.
func (e *Executor) Statistics() map[string]ProviderStats {
	seen := make(map[string]struct{})
	for _, name := range e.registry.Names() {
		seen[name] = struct{}{}
	}
	for _, name := range e.limiter.Providers() {
		seen[name] = struct{}{}
	}
	for _, name := range e.breaker.Providers() {
		seen[name] = struct{}{}
	}
	for _, name := range e.queues.Providers() {
		seen[name] = struct{}{}
	}

	stats := make(map[string]ProviderStats, len(seen))
	for name := range seen {
		stats[name] = ProviderStats{
			RequestsInWindow:    e.limiter.RequestsInWindow(name),
			ConsecutiveFailures: e.breaker.ConsecutiveFailures(name),
			CircuitOpen:         e.breaker.IsOpen(name),
			QueuedRequests:      e.queues.Len(name),
			QueueCapacity:       e.queues.Capacity(name),
		}
	}
	return stats
}

// ClearState resets rate-limit windows, circuit breakers, and pending queues
// for the named providers, or for all providers when none are named. Queued
// requests are aborted. The response cache is left alone; use cache TTLs or
// Loader.Invalidate to expire entries.
func (e *Executor) ClearState(providers ...string) {
	e.limiter.Reset(providers...)
	e.breaker.Reset(providers...)
	e.queues.Clear(providers...)
}
