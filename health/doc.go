// Package health reports per-provider health for the outbound request layer.
//
// A Checker is any component that can report its health status: Healthy,
// Degraded, or Unhealthy. ProviderChecker derives a provider's status from
// the executor's resilience statistics: an open circuit is unhealthy, a
// nearly full pending queue is degraded.
//
// Use Aggregator to combine checks and the HTTP handlers to expose them:
//
//	agg := health.NewAggregator()
//	agg.Register("providers", health.NewProviderChecker(executor))
//
//	http.Handle("/healthz", health.LivenessHandler())
//	http.Handle("/readyz", health.ReadinessHandler(agg))
//	http.Handle("/health", health.DetailedHandler(agg))
package health
