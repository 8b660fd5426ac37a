// Package provider maps outbound request targets to provider identities and
// per-provider limits.
//
// Known providers are registered by name with the hostnames they serve and
// their rate-limit, circuit-breaker, and queue settings. Targets whose host
// matches no registered provider get their own isolated bucket keyed by
// hostname, so unrelated dependencies cannot throttle each other; the shared
// fallback bucket behavior is available as an option.
//
// Header values in a provider config may reference environment variables as
// ${VAR}; missing variables fail registry construction rather than sending
// broken credentials.
package provider
