package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"edgelimit/internal/storage"
)

// InstrumentedStore wraps a storage.Store with spans, a latency histogram and
// an error counter per operation.
type InstrumentedStore struct {
	inner    storage.Store
	backend  string
	tracer   trace.Tracer
	duration metric.Float64Histogram
	errors   metric.Int64Counter
}

// NewInstrumentedStore instruments inner. backend labels every span and
// metric (e.g. "redis").
func NewInstrumentedStore(inner storage.Store, backend string) (*InstrumentedStore, error) {
	meter := otel.Meter(instrumentationName + "/storage")

	duration, err := meter.Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Duration of bucket store operations in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1),
	)
	if err != nil {
		return nil, err
	}

	errCounter, err := meter.Int64Counter(
		"storage.operation.errors",
		metric.WithDescription("Number of failed bucket store operations"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &InstrumentedStore{
		inner:    inner,
		backend:  backend,
		tracer:   otel.Tracer(instrumentationName + "/storage"),
		duration: duration,
		errors:   errCounter,
	}, nil
}

func (s *InstrumentedStore) startSpan(ctx context.Context, operation, key string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String("storage.operation", operation),
		attribute.String("storage.backend", s.backend),
	}
	if key != "" {
		attrs = append(attrs, attribute.String("storage.key", key))
	}
	return s.tracer.Start(ctx, "storage."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
}

func (s *InstrumentedStore) record(ctx context.Context, span trace.Span, operation string, start time.Time, err error) {
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("backend", s.backend),
	)

	s.duration.Record(ctx, time.Since(start).Seconds(), attrs)

	if err != nil {
		s.errors.Add(ctx, 1, attrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

func (s *InstrumentedStore) Get(ctx context.Context, key string) (string, bool, error) {
	ctx, span := s.startSpan(ctx, "get", key)
	start := time.Now()
	value, found, err := s.inner.Get(ctx, key)
	span.SetAttributes(attribute.Bool("storage.hit", found))
	s.record(ctx, span, "get", start, err)
	return value, found, err
}

func (s *InstrumentedStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, span := s.startSpan(ctx, "set", key)
	span.SetAttributes(attribute.Int64("storage.ttl_ms", ttl.Milliseconds()))
	start := time.Now()
	err := s.inner.Set(ctx, key, value, ttl)
	s.record(ctx, span, "set", start, err)
	return err
}

func (s *InstrumentedStore) Ping(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "ping", "")
	start := time.Now()
	err := s.inner.Ping(ctx)
	s.record(ctx, span, "ping", start, err)
	return err
}

func (s *InstrumentedStore) Close() error {
	return s.inner.Close()
}

// Unwrap returns the instrumented store.
func (s *InstrumentedStore) Unwrap() storage.Store {
	return s.inner
}
