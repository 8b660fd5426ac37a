package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records telemetry for outbound provider calls.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: must honor cancellation/deadlines and return quickly.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordRequest records one completed call with duration, retry count,
	// and error status.
	RecordRequest(ctx context.Context, meta CallMeta, duration time.Duration, retries int, err error)

	// RecordQueueDepth records the current pending-queue depth for a provider.
	RecordQueueDepth(ctx context.Context, provider string, depth int)

	// RecordCircuitTransition records a circuit state change for a provider.
	RecordCircuitTransition(ctx context.Context, provider, from, to string)
}

// metricsImpl is the concrete implementation of Metrics.
type metricsImpl struct {
	meter        metric.Meter
	totalCount   metric.Int64Counter
	errorCount   metric.Int64Counter
	durationHist metric.Float64Histogram
	retryCount   metric.Int64Counter
	queueDepth   metric.Int64Gauge
	transitions  metric.Int64Counter
}

// newMetrics creates a new Metrics instance with the given meter.
func newMetrics(meter metric.Meter) (*metricsImpl, error) {
	totalCount, err := meter.Int64Counter(
		"egress.request.total",
		metric.WithDescription("Total number of outbound requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	errorCount, err := meter.Int64Counter(
		"egress.request.errors",
		metric.WithDescription("Total number of failed outbound requests"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	durationHist, err := meter.Float64Histogram(
		"egress.request.duration_ms",
		metric.WithDescription("Outbound request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	retryCount, err := meter.Int64Counter(
		"egress.request.retries",
		metric.WithDescription("Total number of retry attempts"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, err
	}

	queueDepth, err := meter.Int64Gauge(
		"egress.queue.depth",
		metric.WithDescription("Current pending-queue depth per provider"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	transitions, err := meter.Int64Counter(
		"egress.circuit.transitions",
		metric.WithDescription("Circuit breaker state transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, err
	}

	return &metricsImpl{
		meter:        meter,
		totalCount:   totalCount,
		errorCount:   errorCount,
		durationHist: durationHist,
		retryCount:   retryCount,
		queueDepth:   queueDepth,
		transitions:  transitions,
	}, nil
}

// RecordRequest records metrics for one completed outbound call.
func (m *metricsImpl) RecordRequest(ctx context.Context, meta CallMeta, duration time.Duration, retries int, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("egress.provider", meta.Provider),
	}
	if meta.Method != "" {
		attrs = append(attrs, attribute.String("http.method", meta.Method))
	}

	opt := metric.WithAttributes(attrs...)

	m.totalCount.Add(ctx, 1, opt)

	if err != nil {
		m.errorCount.Add(ctx, 1, opt)
	}

	if retries > 0 {
		m.retryCount.Add(ctx, int64(retries), opt)
	}

	m.durationHist.Record(ctx, float64(duration.Milliseconds()), opt)
}

// RecordQueueDepth records the current queue depth for a provider.
func (m *metricsImpl) RecordQueueDepth(ctx context.Context, provider string, depth int) {
	m.queueDepth.Record(ctx, int64(depth), metric.WithAttributes(
		attribute.String("egress.provider", provider),
	))
}

// RecordCircuitTransition records a circuit state change.
func (m *metricsImpl) RecordCircuitTransition(ctx context.Context, provider, from, to string) {
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("egress.provider", provider),
		attribute.String("egress.circuit.from", from),
		attribute.String("egress.circuit.to", to),
	))
}

// noopMetrics is a metrics implementation that does nothing.
type noopMetrics struct{}

func (m *noopMetrics) RecordRequest(ctx context.Context, meta CallMeta, duration time.Duration, retries int, err error) {
}

func (m *noopMetrics) RecordQueueDepth(ctx context.Context, provider string, depth int) {}

func (m *noopMetrics) RecordCircuitTransition(ctx context.Context, provider, from, to string) {}
