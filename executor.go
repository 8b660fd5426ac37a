package egress

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jonwraymond/egress/cache"
	"github.com/jonwraymond/egress/observe"
	"github.com/jonwraymond/egress/provider"
	"github.com/jonwraymond/egress/queue"
	"github.com/jonwraymond/egress/resilience"
)

// DefaultMaxBodyBytes bounds how much of a response body is read.
const DefaultMaxBodyBytes = 4 << 20

// errorBodyLimit bounds how much of an error response is kept for messages.
const errorBodyLimit = 512

// Config configures an Executor. The zero value is usable: every request
// resolves to an isolated per-host fallback bucket with default limits.
type Config struct {
	// Providers declares the known providers with their hosts and limits.
	Providers []provider.Config

	// SharedFallback routes all unknown hosts through one shared bucket
	// instead of one bucket per host.
	SharedFallback bool

	// RateLimit is the default rate limit applied to every provider.
	RateLimit resilience.RateLimiterConfig

	// CircuitBreaker is the default breaker configuration.
	CircuitBreaker resilience.CircuitBreakerConfig

	// Retry is the default backoff schedule and retry budget.
	Retry resilience.RetryConfig

	// Queue configures the pending-request queues.
	Queue queue.ManagerConfig

	// Timeout bounds each network attempt.
	// Default: resilience.DefaultTimeout
	Timeout time.Duration

	// MaxBodyBytes caps how many response bytes are read.
	// Default: DefaultMaxBodyBytes
	MaxBodyBytes int64

	// HTTPClient issues the requests.
	// Default: http.DefaultClient
	HTTPClient *http.Client

	// Observer supplies tracing, metrics, and logging.
	// Default: observe.Noop()
	Observer observe.Observer

	// ResponseCache stores successful GET responses. Nil disables caching.
	ResponseCache cache.Cache

	// CachePolicy sets default and maximum TTLs for the response cache.
	// Default: cache.DefaultPolicy() when ResponseCache is set.
	CachePolicy cache.Policy
}

// Executor is the outbound request layer. All state is owned by the
// instance; two executors never share counters.
type Executor struct {
	registry *provider.Registry
	breaker  *resilience.CircuitBreaker
	limiter  *resilience.RateLimiter
	queues   *queue.Manager
	policy   *resilience.RetryPolicy

	client  *http.Client
	timeout time.Duration
	maxBody int64

	observer observe.Observer
	mw       *observe.Middleware

	loader *cache.Loader
	keyer  cache.Keyer
}

// New builds an Executor from cfg. Provider overrides for limits, breaker
// thresholds, and queue capacity are wired into the shared components here.
func New(cfg Config) (*Executor, error) {
	var regOpts []provider.Option
	if cfg.SharedFallback {
		regOpts = append(regOpts, provider.WithSharedFallback())
	}
	registry, err := provider.NewRegistry(cfg.Providers, regOpts...)
	if err != nil {
		return nil, err
	}

	obs := cfg.Observer
	if obs == nil {
		obs = observe.Noop()
	}
	mw, err := observe.MiddlewareFromObserver(obs)
	if err != nil {
		return nil, err
	}

	e := &Executor{
		registry: registry,
		client:   cfg.HTTPClient,
		timeout:  cfg.Timeout,
		maxBody:  cfg.MaxBodyBytes,
		observer: obs,
		mw:       mw,
		keyer:    cache.NewDefaultKeyer(),
	}
	if e.client == nil {
		e.client = http.DefaultClient
	}
	if e.timeout <= 0 {
		e.timeout = resilience.DefaultTimeout
	}
	if e.maxBody <= 0 {
		e.maxBody = DefaultMaxBodyBytes
	}

	breakerCfg := cfg.CircuitBreaker
	if breakerCfg.OnStateChange == nil {
		breakerCfg.OnStateChange = func(p string, from, to resilience.CircuitState) {
			mw.CircuitTransition(context.Background(), p, from.String(), to.String())
		}
	}
	e.breaker = resilience.NewCircuitBreaker(breakerCfg)
	e.limiter = resilience.NewRateLimiter(cfg.RateLimit)
	e.policy = resilience.NewRetryPolicy(cfg.Retry)

	queueCfg := cfg.Queue
	if queueCfg.OnDepthChange == nil {
		queueCfg.OnDepthChange = func(p string, depth int) {
			mw.QueueDepthChanged(context.Background(), p, depth)
		}
	}
	e.queues = queue.NewManager(&admissionGate{e: e}, queueCfg)

	policy := cfg.CachePolicy
	if cfg.ResponseCache != nil && !policy.ShouldCache() && policy.MaxTTL == 0 {
		policy = cache.DefaultPolicy()
	}
	e.loader = cache.NewLoader(cfg.ResponseCache, policy)

	for _, pc := range cfg.Providers {
		if pc.MaxRequestsPerWindow > 0 || pc.Window > 0 {
			e.limiter.SetLimit(pc.Name, pc.MaxRequestsPerWindow, pc.Window)
		}
		if pc.FailureThreshold > 0 || pc.OpenDuration > 0 {
			override := breakerCfg
			if pc.FailureThreshold > 0 {
				override.FailureThreshold = pc.FailureThreshold
			}
			if pc.OpenDuration > 0 {
				override.OpenDuration = pc.OpenDuration
			}
			e.breaker.Configure(pc.Name, override)
		}
		if pc.QueueCapacity > 0 {
			e.queues.SetCapacity(pc.Name, pc.QueueCapacity)
		}
	}

	return e, nil
}

// Close stops the drain goroutines and aborts all pending requests.
func (e *Executor) Close() {
	e.queues.Close()
}

// Do issues one request through the resilience pipeline and blocks until it
// completes, fails, or ctx is done.
func (e *Executor) Do(ctx context.Context, opts Options) (*Result, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}

	id, pcfg, err := e.registry.Resolve(opts.Provider, opts.Target)
	if err != nil {
		return nil, err
	}

	if e.cacheable(opts) {
		return e.doCached(ctx, id, pcfg, opts)
	}
	return e.execute(ctx, id, pcfg, opts)
}

// GetJSON fetches target with GET and decodes the JSON response into out.
func (e *Executor) GetJSON(ctx context.Context, target string, out any) error {
	res, err := e.Do(ctx, Options{Target: target})
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(res.Body, out)
}

// Post sends body as JSON to target and decodes the JSON response into out
// when out is non-nil.
func (e *Executor) Post(ctx context.Context, target string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("egress: failed to encode request body: %w", err)
	}

	res, err := e.Do(ctx, Options{
		Target: target,
		Method: http.MethodPost,
		Body:   payload,
	})
	if err != nil {
		return err
	}
	if out == nil || len(res.Body) == 0 {
		return nil
	}
	return json.Unmarshal(res.Body, out)
}

func (e *Executor) cacheable(opts Options) bool {
	return opts.Method == http.MethodGet && e.loader.Caches(opts.CacheTTL)
}

// cachedResponse is the envelope stored in the response cache.
type cachedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

func (e *Executor) doCached(ctx context.Context, id string, pcfg provider.Config, opts Options) (*Result, error) {
	key, err := e.keyer.Key(opts.Method, opts.Target)
	if err != nil {
		return e.execute(ctx, id, pcfg, opts)
	}

	// The originating caller keeps its own Result; collapsed callers and
	// cache hits decode a copy from the stored envelope.
	var direct *Result
	payload, _, err := e.loader.Load(ctx, key, opts.CacheTTL, func(ctx context.Context) ([]byte, error) {
		res, err := e.execute(ctx, id, pcfg, opts)
		if err != nil {
			return nil, err
		}
		direct = res
		env := cachedResponse{
			Status:      res.Status,
			ContentType: res.Headers.Get("Content-Type"),
			Body:        res.Body,
		}
		return json.Marshal(env)
	})
	if err != nil {
		return nil, err
	}
	if direct != nil {
		return direct, nil
	}

	var env cachedResponse
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("egress: corrupt cache entry for provider %q: %w", id, err)
	}

	res := &Result{
		Provider:  id,
		Status:    env.Status,
		Body:      env.Body,
		FromCache: true,
	}
	if isJSONContentType(env.ContentType) && len(env.Body) > 0 {
		var v any
		if json.Unmarshal(env.Body, &v) == nil {
			res.JSON = v
		}
	}
	return res, nil
}

// execute runs the admission flow: fail fast on an open circuit, run
// immediately when a rate slot and (if half-open) a probe slot are granted,
// otherwise wait in the provider's queue.
func (e *Executor) execute(ctx context.Context, id string, pcfg provider.Config, opts Options) (*Result, error) {
	adm := e.admit(id)
	if adm.Err != nil {
		return nil, adm.Err
	}
	if adm.OK {
		return e.call(ctx, id, pcfg, opts)
	}
	return e.enqueue(ctx, id, pcfg, opts)
}

// admit is the gate shared by direct submissions and the drain loops.
//
// Order matters: the rate limiter is consulted before the breaker so that a
// half-open probe slot is only consumed when the request will actually run.
func (e *Executor) admit(id string) queue.Admission {
	if e.breaker.IsOpen(id) {
		if err := e.breaker.Allow(id); err != nil {
			return queue.Admission{Err: err}
		}
		// The open deadline expired between the checks and Allow consumed
		// a half-open probe slot; run now and keep the limiter honest.
		e.limiter.RecordRequest(id)
		return queue.Admission{OK: true}
	}

	if !e.limiter.TryAcquire(id) {
		return queue.Admission{RetryAt: e.limiter.NextReady(id)}
	}

	if err := e.breaker.Allow(id); err != nil {
		return queue.Admission{Err: err}
	}

	return queue.Admission{OK: true}
}

// admissionGate adapts the executor to the queue.Gate interface.
type admissionGate struct {
	e *Executor
}

func (g *admissionGate) Admit(provider string) queue.Admission {
	return g.e.admit(provider)
}

type outcome struct {
	res *Result
	err error
}

func (e *Executor) enqueue(ctx context.Context, id string, pcfg provider.Config, opts Options) (*Result, error) {
	done := make(chan outcome, 1)

	task := &queue.Task{
		Priority:   opts.Priority,
		EnqueuedAt: time.Now(),
		Run: func() {
			res, err := e.call(ctx, id, pcfg, opts)
			done <- outcome{res: res, err: err}
		},
		Abort: func(err error) {
			done <- outcome{err: err}
		},
	}

	if err := e.queues.Push(id, task); err != nil {
		return nil, err
	}

	select {
	case out := <-done:
		return out.res, out.err
	case <-ctx.Done():
		// The task still drains; it will fail fast on the dead context.
		return nil, ctx.Err()
	}
}

// call performs the admitted request with retries, reporting the outcome to
// the breaker, the limiter, and the observer. Admission for the first
// attempt has already been granted.
func (e *Executor) call(ctx context.Context, id string, pcfg provider.Config, opts Options) (*Result, error) {
	meta := observe.CallMeta{Provider: id, Method: opts.Method, Target: opts.Target}

	var result *Result
	wrapped := e.mw.Wrap(func(ctx context.Context, meta observe.CallMeta) (observe.CallResult, error) {
		res, attempts, err := e.resilientCall(ctx, id, pcfg, opts)
		if err != nil {
			return observe.CallResult{Retries: attempts - 1}, err
		}
		result = res
		return observe.CallResult{Status: res.Status, Retries: attempts - 1}, nil
	})

	if _, err := wrapped(ctx, meta); err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Executor) resilientCall(ctx context.Context, id string, pcfg provider.Config, opts Options) (*Result, int, error) {
	policy := e.policy
	if opts.MaxRetries < 0 {
		policy = policy.WithMaxRetries(0)
	} else if opts.MaxRetries > 0 {
		policy = policy.WithMaxRetries(opts.MaxRetries)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = e.timeout
	}

	var result *Result
	attempts := 0

	err := policy.Do(ctx, id, func(ctx context.Context) error {
		if attempts > 0 {
			// Retries consume window capacity like any other request.
			e.limiter.RecordRequest(id)
		}
		attempts++

		return resilience.WithTimeout(ctx, id, timeout, func(ctx context.Context) error {
			res, err := e.attempt(ctx, id, pcfg, opts)
			if err != nil {
				e.noteRateLimitResponse(id, err)
				return err
			}
			result = res
			return nil
		})
	})
	if err != nil {
		if providerFault(err) {
			e.breaker.RecordFailure(id)
		}
		return nil, attempts, err
	}

	e.breaker.RecordSuccess(id)
	result.Attempts = attempts
	return result, attempts, nil
}

// noteRateLimitResponse feeds a server-imposed Retry-After into the limiter
// so queued work for the provider waits out the penalty too.
func (e *Executor) noteRateLimitResponse(id string, err error) {
	var httpErr *resilience.HTTPError
	if errors.As(err, &httpErr) && httpErr.Status == http.StatusTooManyRequests && httpErr.RetryAfter > 0 {
		e.limiter.OnRateLimitResponse(id, httpErr.RetryAfter)
	}
}

// attempt issues one HTTP request and maps non-2xx responses to HTTPError.
func (e *Executor) attempt(ctx context.Context, id string, pcfg provider.Config, opts Options) (*Result, error) {
	var bodyReader io.Reader
	if len(opts.Body) > 0 {
		bodyReader = bytes.NewReader(opts.Body)
	}

	req, err := http.NewRequestWithContext(ctx, opts.Method, opts.Target, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("egress: failed to build request: %w", err)
	}

	for k, v := range pcfg.Headers {
		req.Header.Set(k, v)
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}
	if len(opts.Body) > 0 && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, e.maxBody))
	if err != nil {
		return nil, fmt.Errorf("egress: failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &resilience.HTTPError{
			Status:     resp.StatusCode,
			Body:       truncate(string(body), errorBodyLimit),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	res := &Result{
		Provider: id,
		Status:   resp.StatusCode,
		Headers:  resp.Header,
		Body:     body,
	}
	if isJSONContentType(resp.Header.Get("Content-Type")) && len(body) > 0 {
		var v any
		if json.Unmarshal(body, &v) == nil {
			res.JSON = v
		}
	}
	return res, nil
}

// providerFault reports whether err should count against the provider's
// circuit breaker. Caller-side errors (cancellation, 4xx other than 429) and
// breaker rejections do not.
func providerFault(err error) bool {
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, resilience.ErrTimeout) || errors.Is(err, resilience.ErrRetriesExhausted) {
		return true
	}

	var httpErr *resilience.HTTPError
	if errors.As(err, &httpErr) {
		// A terminal HTTP error outside the retry loop is a 4xx the
		// caller sent; the provider answered fine.
		return httpErr.Retryable()
	}

	return true
}

// parseRetryAfter handles both forms of the header: delay seconds and an
// HTTP-date.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}

	if secs, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}

	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}

	return 0
}

func isJSONContentType(ct string) bool {
	ct = strings.ToLower(strings.TrimSpace(ct))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	return ct == "application/json" || strings.HasSuffix(ct, "+json")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
