// Package observability wires OpenTelemetry tracing and metrics for edgelimit.
// Traces go to stdout or an OTLP collector; metrics are exported through a
// Prometheus registry served by MetricsServer.
package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"edgelimit/internal/models"
	"edgelimit/internal/version"
)

// instrumentationName scopes every tracer and meter created by edgelimit.
const instrumentationName = "edgelimit"

// Provider owns the OpenTelemetry providers for shutdown.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	promExporter   *prometheus.Exporter
	gatherer       promclient.Gatherer
}

// Option customises Setup.
type Option func(*setupOptions)

type setupOptions struct {
	registerer promclient.Registerer
	gatherer   promclient.Gatherer
}

// WithRegistry exports metrics into reg instead of the default Prometheus
// registry.
func WithRegistry(reg *promclient.Registry) Option {
	return func(o *setupOptions) {
		o.registerer = reg
		o.gatherer = reg
	}
}

// Handler serves the exported metrics in the Prometheus text format. It
// returns nil when metrics are disabled.
func (p *Provider) Handler() http.Handler {
	if p == nil || p.promExporter == nil {
		return nil
	}
	return promhttp.HandlerFor(p.gatherer, promhttp.HandlerOpts{})
}

// Shutdown flushes pending spans and stops metric collection.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error

	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown: %w", err))
		}
	}

	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}

	return errors.Join(errs...)
}

// Setup installs global tracer and meter providers according to the config.
// The returned Provider must be shut down on exit.
func Setup(metrics models.MetricsConfig, obs models.ObservabilityConfig, ver version.Info, opts ...Option) (*Provider, error) {
	o := setupOptions{
		registerer: promclient.DefaultRegisterer,
		gatherer:   promclient.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(&o)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(obs.ServiceName),
			semconv.ServiceVersion(ver.Version),
			attribute.String("service.instance.id", ver.InstanceID),
			attribute.String("host.name", ver.Hostname),
			attribute.String("git.commit", ver.GitCommit),
			attribute.String("deployment.environment", deploymentEnvironment()),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	p := &Provider{gatherer: o.gatherer}

	if obs.Tracing.Enabled {
		tp, err := setupTracing(res, obs.Tracing)
		if err != nil {
			return nil, fmt.Errorf("failed to setup tracing: %w", err)
		}
		p.tracerProvider = tp
		otel.SetTracerProvider(tp)
	}

	if metrics.Enabled {
		promExporter, err := prometheus.New(prometheus.WithRegisterer(o.registerer))
		if err != nil {
			return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
		}
		p.promExporter = promExporter

		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(promExporter),
		)
		p.meterProvider = mp
		otel.SetMeterProvider(mp)
	}

	return p, nil
}

func setupTracing(res *resource.Resource, cfg models.TracingConfig) (*sdktrace.TracerProvider, error) {
	var exporter sdktrace.SpanExporter
	var err error

	switch cfg.Exporter {
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "otlp":
		exporter, err = otlptracegrpc.New(context.Background(),
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
	default:
		return nil, fmt.Errorf("unsupported trace exporter: %s", cfg.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s exporter: %w", cfg.Exporter, err)
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sampler(cfg.SampleRate)),
	), nil
}

// sampler respects the parent decision so a request traced by the edge
// proxy stays traced through the limiter.
func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case rate <= 0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}

func deploymentEnvironment() string {
	for _, key := range []string{"EDGELIMIT_ENVIRONMENT", "ENVIRONMENT"} {
		if env := os.Getenv(key); env != "" {
			return env
		}
	}
	return "development"
}
