package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Keyer generates deterministic cache keys from request parameters.
//
// Contract:
// - Determinism: same inputs must produce same key, regardless of query
//   parameter order in the URL.
// - Concurrency: implementations must be safe for concurrent use.
type Keyer interface {
	// Key generates a cache key from an HTTP method and target URL.
	Key(method, target string) (string, error)
}

// DefaultKeyer generates SHA-256 based cache keys.
type DefaultKeyer struct{}

// NewDefaultKeyer creates a new default keyer.
func NewDefaultKeyer() *DefaultKeyer {
	return &DefaultKeyer{}
}

// Key generates a deterministic cache key.
// Format: cache:<method>:<hash>
// where hash is the first 16 characters of SHA-256(canonical URL)
func (k *DefaultKeyer) Key(method, target string) (string, error) {
	canonical, err := canonicalizeURL(target)
	if err != nil {
		return "", fmt.Errorf("cache: failed to canonicalize url: %w", err)
	}

	hash := sha256.Sum256([]byte(canonical))
	hashStr := hex.EncodeToString(hash[:8]) // First 8 bytes = 16 hex chars

	return fmt.Sprintf("cache:%s:%s", strings.ToUpper(method), hashStr), nil
}

// canonicalizeURL produces a deterministic representation of the URL.
// Query parameters are sorted by key so equivalent URLs share a key.
func canonicalizeURL(target string) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", err
	}

	u.Host = strings.ToLower(u.Host)
	u.Scheme = strings.ToLower(u.Scheme)

	if u.RawQuery != "" {
		q := u.Query()
		keys := make([]string, 0, len(q))
		for key := range q {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		var b strings.Builder
		for i, key := range keys {
			values := q[key]
			sort.Strings(values)
			for j, v := range values {
				if i > 0 || j > 0 {
					b.WriteByte('&')
				}
				b.WriteString(url.QueryEscape(key))
				b.WriteByte('=')
				b.WriteString(url.QueryEscape(v))
			}
		}
		u.RawQuery = b.String()
	}

	return u.String(), nil
}

// Ensure DefaultKeyer implements Keyer
var _ Keyer = (*DefaultKeyer)(nil)
