package provider

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

// FallbackBucket is the shared bucket id used when the registry is built
// with WithSharedFallback.
const FallbackBucket = "default"

// Sentinel errors for registry construction and resolution.
var (
	// ErrDuplicateName indicates two configs share a provider name.
	ErrDuplicateName = errors.New("egress: duplicate provider name")

	// ErrEmptyName indicates a config without a provider name.
	ErrEmptyName = errors.New("egress: provider name is required")

	// ErrInvalidTarget indicates a target URL that cannot be resolved.
	ErrInvalidTarget = errors.New("egress: invalid target URL")
)

// Config holds one provider's identity and limits. Zero limit fields fall
// back to the executor-wide defaults.
type Config struct {
	// Name identifies the provider in statistics, logs, and metrics.
	Name string

	// Hosts are the hostnames this provider serves. A leading entry like
	// "api.example.com" matches exactly and any subdomain of it.
	Hosts []string

	// MaxRequestsPerWindow caps requests per rate-limit window.
	MaxRequestsPerWindow int

	// Window is the rate-limit window length.
	Window time.Duration

	// FailureThreshold is the consecutive failures before the circuit opens.
	FailureThreshold int

	// OpenDuration is the circuit's cooldown once open.
	OpenDuration time.Duration

	// QueueCapacity bounds this provider's pending-request queue.
	QueueCapacity int

	// Headers are sent with every request to this provider. Values may
	// reference environment variables as ${VAR}.
	Headers map[string]string
}

// Registry resolves request targets to provider ids and configs.
//
// Contract:
// - Concurrency: safe for concurrent use; the provider table is immutable
//   after construction.
type Registry struct {
	mu             sync.RWMutex
	byName         map[string]Config
	byHost         map[string]string
	sharedFallback bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithSharedFallback collapses all unmatched hosts into one shared bucket
// instead of giving each unknown host its own. This restores the
// conservative throttle across unrecognized dependencies.
func WithSharedFallback() Option {
	return func(r *Registry) {
		r.sharedFallback = true
	}
}

// NewRegistry builds a registry from the given provider configs. Header
// values are environment-expanded once, here, so a missing variable fails
// construction instead of every request.
func NewRegistry(configs []Config, opts ...Option) (*Registry, error) {
	r := &Registry{
		byName: make(map[string]Config, len(configs)),
		byHost: make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, cfg := range configs {
		if cfg.Name == "" {
			return nil, ErrEmptyName
		}
		if _, exists := r.byName[cfg.Name]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateName, cfg.Name)
		}

		if len(cfg.Headers) > 0 {
			expanded := make(map[string]string, len(cfg.Headers))
			for k, v := range cfg.Headers {
				ev, err := ExpandEnv(v)
				if err != nil {
					return nil, fmt.Errorf("egress: provider %q header %q: %w", cfg.Name, k, err)
				}
				expanded[k] = ev
			}
			cfg.Headers = expanded
		}

		r.byName[cfg.Name] = cfg
		for _, host := range cfg.Hosts {
			r.byHost[strings.ToLower(host)] = cfg.Name
		}
	}

	return r, nil
}

// Resolve maps a call to its provider id and config. An explicit id wins;
// otherwise the target's hostname is matched against registered hosts
// (exact, then parent-domain suffix); otherwise the host gets a fallback
// bucket with zero-value config.
func (r *Registry) Resolve(explicit string, target string) (string, Config, error) {
	if explicit != "" {
		r.mu.RLock()
		cfg := r.byName[explicit]
		r.mu.RUnlock()
		return explicit, cfg, nil
	}

	u, err := url.Parse(target)
	if err != nil || u.Hostname() == "" {
		return "", Config{}, fmt.Errorf("%w: %q", ErrInvalidTarget, target)
	}
	host := strings.ToLower(u.Hostname())

	r.mu.RLock()
	defer r.mu.RUnlock()

	if name, ok := r.byHost[host]; ok {
		return name, r.byName[name], nil
	}

	// Parent-domain match: api.example.com is served by a provider
	// registered as example.com.
	for candidate := host; ; {
		dot := strings.IndexByte(candidate, '.')
		if dot < 0 {
			break
		}
		candidate = candidate[dot+1:]
		if name, ok := r.byHost[candidate]; ok {
			return name, r.byName[name], nil
		}
	}

	if r.sharedFallback {
		return FallbackBucket, Config{Name: FallbackBucket}, nil
	}
	return host, Config{Name: host}, nil
}

// Lookup returns a registered provider's config.
func (r *Registry) Lookup(name string) (Config, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.byName[name]
	return cfg, ok
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
