package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// RateLimitMetrics counts admission decisions and store-failure fallbacks.
// It satisfies ratelimit.Recorder.
type RateLimitMetrics struct {
	decisions metric.Int64Counter
	fallbacks metric.Int64Counter
}

// NewRateLimitMetrics creates the counters on the global meter provider.
func NewRateLimitMetrics() (*RateLimitMetrics, error) {
	meter := otel.Meter(instrumentationName + "/ratelimit")

	decisions, err := meter.Int64Counter(
		"ratelimit.decisions",
		metric.WithDescription("Rate limit decisions by outcome"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, err
	}

	fallbacks, err := meter.Int64Counter(
		"ratelimit.fallbacks",
		metric.WithDescription("Decisions made by the store failure policy instead of the store"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, err
	}

	return &RateLimitMetrics{decisions: decisions, fallbacks: fallbacks}, nil
}

func (m *RateLimitMetrics) RecordDecision(ctx context.Context, allowed bool) {
	m.decisions.Add(ctx, 1, metric.WithAttributes(attribute.Bool("allowed", allowed)))
}

func (m *RateLimitMetrics) RecordFallback(ctx context.Context, mode string) {
	m.fallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode)))
}
