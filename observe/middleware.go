package observe

import (
	"context"
	"time"
)

// CallResult carries the telemetry-relevant outcome of an outbound call.
type CallResult struct {
	Status  int // HTTP status code, 0 when the call never reached the server
	Retries int // Number of retry attempts beyond the first try
}

// CallFunc is the signature for outbound call functions that Middleware wraps.
type CallFunc func(ctx context.Context, meta CallMeta) (CallResult, error)

// Middleware wraps outbound calls with observability (tracing, metrics, logging).
//
// Contract:
//   - Concurrency: Wrap() returns a thread-safe CallFunc.
//   - Context: Propagates context through tracing spans.
//   - Errors: Errors from the wrapped function are recorded and propagated unchanged.
type Middleware struct {
	tracer  Tracer
	metrics Metrics
	logger  Logger
}

// NewMiddleware creates a new Middleware with the given observability components.
func NewMiddleware(tracer Tracer, metrics Metrics, logger Logger) *Middleware {
	return &Middleware{
		tracer:  tracer,
		metrics: metrics,
		logger:  logger,
	}
}

// Wrap wraps a CallFunc with tracing, metrics, and logging.
func (m *Middleware) Wrap(fn CallFunc) CallFunc {
	return func(ctx context.Context, meta CallMeta) (CallResult, error) {
		ctx, span := m.tracer.StartSpan(ctx, meta)

		start := time.Now()

		result, err := fn(ctx, meta)

		duration := time.Since(start)

		m.tracer.EndSpan(span, err)

		m.metrics.RecordRequest(ctx, meta, duration, result.Retries, err)

		callLogger := m.logger.WithCall(meta)
		fields := []Field{
			{Key: "duration_ms", Value: float64(duration.Milliseconds())},
			{Key: "retries", Value: result.Retries},
		}
		if result.Status != 0 {
			fields = append(fields, Field{Key: "status", Value: result.Status})
		}

		if err != nil {
			fields = append(fields, Field{Key: "error", Value: err.Error()})
			callLogger.Error(ctx, "request failed", fields...)
		} else {
			callLogger.Info(ctx, "request completed", fields...)
		}

		return result, err
	}
}

// QueueDepthChanged records a queue depth change for a provider.
func (m *Middleware) QueueDepthChanged(ctx context.Context, provider string, depth int) {
	m.metrics.RecordQueueDepth(ctx, provider, depth)
}

// CircuitTransition records and logs a circuit breaker state change.
func (m *Middleware) CircuitTransition(ctx context.Context, provider, from, to string) {
	m.metrics.RecordCircuitTransition(ctx, provider, from, to)
	m.logger.Warn(ctx, "circuit state changed",
		Field{Key: "provider", Value: provider},
		Field{Key: "from", Value: from},
		Field{Key: "to", Value: to},
	)
}

// MiddlewareFromObserver creates a Middleware from an Observer.
// This is a convenience function for common use cases.
func MiddlewareFromObserver(obs Observer) (*Middleware, error) {
	tracer := newTracer(obs.Tracer())

	metrics, err := newMetrics(obs.Meter())
	if err != nil {
		return nil, err
	}

	return NewMiddleware(tracer, metrics, obs.Logger()), nil
}
