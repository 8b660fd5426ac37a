package egress

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jonwraymond/egress/queue"
)

// Sentinel errors for request validation.
var (
	// ErrEmptyTarget is returned when Options.Target is empty.
	ErrEmptyTarget = errors.New("egress: request target is empty")

	// ErrInvalidTarget is returned when Options.Target is not an absolute
	// http or https URL.
	ErrInvalidTarget = errors.New("egress: request target is invalid")
)

// Options describes one outbound request.
type Options struct {
	// Target is the absolute request URL. Required.
	Target string

	// Method is the HTTP method.
	// Default: GET
	Method string

	// Headers are merged over the provider's configured headers.
	Headers map[string]string

	// Body is the raw request body. A JSON content type is assumed when a
	// body is present and none is set.
	Body []byte

	// Provider selects a registered provider by name, bypassing host
	// resolution. Empty resolves from the target host.
	Provider string

	// MaxRetries overrides the executor's retry budget for this request.
	// Negative disables retries entirely; zero keeps the default.
	MaxRetries int

	// Timeout bounds each attempt. Zero keeps the executor default.
	Timeout time.Duration

	// Priority orders the request within the provider's pending queue.
	// Default: queue.Normal
	Priority queue.Priority

	// CacheTTL stores a successful GET response for this long. Zero uses
	// the cache policy default; caching also requires a configured cache.
	CacheTTL time.Duration
}

func (o *Options) normalize() error {
	if o.Method == "" {
		o.Method = http.MethodGet
	}
	o.Method = strings.ToUpper(o.Method)

	if o.Target == "" {
		return ErrEmptyTarget
	}
	u, err := url.Parse(o.Target)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return ErrInvalidTarget
	}
	return nil
}

// Result is a completed response.
type Result struct {
	// Provider is the resolved provider id the request was accounted to.
	Provider string

	// Status is the HTTP status code.
	Status int

	// Headers are the response headers. Nil for cache copies.
	Headers http.Header

	// Body is the raw response body.
	Body []byte

	// JSON is the decoded body when the response declared a JSON content
	// type, nil otherwise.
	JSON any

	// Attempts is how many network attempts the request took. Zero for
	// responses served from the cache.
	Attempts int

	// FromCache reports whether the response was served from the response
	// cache or a collapsed in-flight fetch.
	FromCache bool
}
