package health

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jonwraymond/egress"
)

// DegradedQueueFraction is the pending-queue fill level at which a provider
// counts as degraded.
const DegradedQueueFraction = 0.8

// StatsSource supplies per-provider resilience snapshots. Implemented by
// egress.Executor.
type StatsSource interface {
	Statistics() map[string]egress.ProviderStats
}

// ProviderChecker derives health from outbound-provider state: any open
// circuit makes the check unhealthy, a nearly full queue makes it degraded.
type ProviderChecker struct {
	source StatsSource
}

// NewProviderChecker creates a checker over the given statistics source.
func NewProviderChecker(source StatsSource) *ProviderChecker {
	return &ProviderChecker{source: source}
}

// Name returns the name of this checker.
func (c *ProviderChecker) Name() string {
	return "providers"
}

// Check inspects every known provider and reports the worst status found.
func (c *ProviderChecker) Check(_ context.Context) Result {
	stats := c.source.Statistics()

	var open, congested []string
	details := make(map[string]any, len(stats))

	for name, ps := range stats {
		details[name] = map[string]any{
			"circuit_open":         ps.CircuitOpen,
			"consecutive_failures": ps.ConsecutiveFailures,
			"requests_in_window":   ps.RequestsInWindow,
			"queued":               ps.QueuedRequests,
			"queue_capacity":       ps.QueueCapacity,
		}

		if ps.CircuitOpen {
			open = append(open, name)
		} else if queueCongested(ps) {
			congested = append(congested, name)
		}
	}
	sort.Strings(open)
	sort.Strings(congested)

	switch {
	case len(open) > 0:
		msg := fmt.Sprintf("circuit open for %s", strings.Join(open, ", "))
		return Unhealthy(msg, ErrCheckFailed).WithDetails(details)
	case len(congested) > 0:
		msg := fmt.Sprintf("queue nearly full for %s", strings.Join(congested, ", "))
		return Degraded(msg).WithDetails(details)
	default:
		return Healthy(fmt.Sprintf("%d providers nominal", len(stats))).WithDetails(details)
	}
}

func queueCongested(ps egress.ProviderStats) bool {
	if ps.QueueCapacity <= 0 {
		return false
	}
	return float64(ps.QueuedRequests) >= DegradedQueueFraction*float64(ps.QueueCapacity)
}

var _ Checker = (*ProviderChecker)(nil)
