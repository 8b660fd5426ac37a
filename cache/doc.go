// Package cache provides response caching for outbound requests.
//
// It provides a Cache interface with a memory implementation, SHA-256-based
// key derivation from request method and URL, TTL policies, and a Loader
// that collapses concurrent fetches for the same key.
package cache
