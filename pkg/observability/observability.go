package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Config selects which signals are exported
type Config struct {
	ServiceName    string
	TracingEnabled bool
	MetricsEnabled bool
	// TraceOutput receives stdout spans; defaults to os.Stdout
	TraceOutput io.Writer
}

// Provider owns the meter and tracer providers for the process
type Provider struct {
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	handler        http.Handler
	shutdowns      []func(context.Context) error
}

// Setup initializes OpenTelemetry. Metrics are exported through a private
// Prometheus registry served by Handler; spans go to stdout.
func Setup(cfg Config) (*Provider, error) {
	p := &Provider{
		meterProvider:  noop.NewMeterProvider(),
		tracerProvider: tracenoop.NewTracerProvider(),
		handler:        http.NotFoundHandler(),
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(semconv.ServiceName(cfg.ServiceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build resource: %w", err)
	}

	if cfg.MetricsEnabled {
		registry := promclient.NewRegistry()
		exp, err := prometheus.New(prometheus.WithRegisterer(registry))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize prometheus exporter: %w", err)
		}
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(exp),
			sdkmetric.WithResource(res),
		)
		p.meterProvider = mp
		p.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
		p.shutdowns = append(p.shutdowns, mp.Shutdown)
		otel.SetMeterProvider(mp)
	}

	if cfg.TracingEnabled {
		opts := []stdouttrace.Option{stdouttrace.WithPrettyPrint()}
		if cfg.TraceOutput != nil {
			opts = append(opts, stdouttrace.WithWriter(cfg.TraceOutput))
		}
		exp, err := stdouttrace.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize stdouttrace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exp),
			sdktrace.WithResource(res),
		)
		p.tracerProvider = tp
		p.shutdowns = append(p.shutdowns, tp.Shutdown)
		otel.SetTracerProvider(tp)
	}

	return p, nil
}

// Meter returns a named meter
func (p *Provider) Meter(name string) metric.Meter {
	return p.meterProvider.Meter(name)
}

// Tracer returns a named tracer
func (p *Provider) Tracer(name string) trace.Tracer {
	return p.tracerProvider.Tracer(name)
}

// Handler serves the Prometheus exposition format
func (p *Provider) Handler() http.Handler {
	return p.handler
}

// Shutdown flushes and stops all exporters
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range p.shutdowns {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
