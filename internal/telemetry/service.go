package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Service manages OpenTelemetry providers and the Prometheus registry behind /metrics
type Service struct {
	config Config

	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	registry       *prometheus.Registry

	tracer trace.Tracer
	meter  metric.Meter

	resource *resource.Resource
}

// NewService creates a new telemetry service
func NewService(config Config) (*Service, error) {
	if config.ServiceName == "" {
		config.ServiceName = "sketchroom"
	}

	service := &Service{
		config: config,
		tracer: tracenoop.NewTracerProvider().Tracer(config.ServiceName),
		meter:  metricnoop.NewMeterProvider().Meter(config.ServiceName),
	}

	if err := service.initResource(); err != nil {
		return nil, fmt.Errorf("failed to initialize resource: %w", err)
	}

	if config.TracingStdout {
		if err := service.initTracing(); err != nil {
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
	}

	if config.MetricsEnabled {
		if err := service.initMetrics(); err != nil {
			return nil, fmt.Errorf("failed to initialize metrics: %w", err)
		}
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return service, nil
}

func (s *Service) initResource() error {
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		resource.Default().SchemaURL(),
		attribute.String("service.name", s.config.ServiceName),
		attribute.String("service.version", s.config.ServiceVersion),
	))
	if err != nil {
		return fmt.Errorf("failed to merge with default resource: %w", err)
	}
	s.resource = res
	return nil
}

// initTracing installs a synchronous stdout span exporter. It is meant for
// development; production deployments leave tracing off.
func (s *Service) initTracing() error {
	exporter, err := stdouttrace.New(
		stdouttrace.WithWriter(s.config.traceWriter()),
		stdouttrace.WithPrettyPrint(),
	)
	if err != nil {
		return fmt.Errorf("failed to create console trace exporter: %w", err)
	}

	s.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(s.resource),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
	)
	otel.SetTracerProvider(s.tracerProvider)

	s.tracer = s.tracerProvider.Tracer(s.config.ServiceName,
		trace.WithInstrumentationVersion(s.config.ServiceVersion),
	)
	return nil
}

func (s *Service) initMetrics() error {
	// A private registry keeps repeated service construction (tests) from
	// colliding on the default registerer.
	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	exporter, err := otelprom.New(otelprom.WithRegisterer(s.registry))
	if err != nil {
		return fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}

	s.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(s.resource),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(s.meterProvider)

	s.meter = s.meterProvider.Meter(s.config.ServiceName,
		metric.WithInstrumentationVersion(s.config.ServiceVersion),
	)
	return nil
}

// Meter returns the service meter, a no-op meter when metrics are disabled
func (s *Service) Meter() metric.Meter {
	return s.meter
}

// Tracer returns the service tracer, a no-op tracer when tracing is disabled
func (s *Service) Tracer() trace.Tracer {
	return s.tracer
}

// TracerProvider returns the SDK tracer provider or the global one when tracing is off
func (s *Service) TracerProvider() trace.TracerProvider {
	if s.tracerProvider == nil {
		return otel.GetTracerProvider()
	}
	return s.tracerProvider
}

// MeterProvider returns the SDK meter provider or the global one when metrics are off
func (s *Service) MeterProvider() metric.MeterProvider {
	if s.meterProvider == nil {
		return otel.GetMeterProvider()
	}
	return s.meterProvider
}

// MetricsHandler serves the Prometheus exposition for this service
func (s *Service) MetricsHandler() http.Handler {
	if s.registry == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics disabled", http.StatusNotFound)
		})
	}
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// Shutdown gracefully shuts down all telemetry providers
func (s *Service) Shutdown(ctx context.Context) error {
	var errs []error

	if s.tracerProvider != nil {
		if err := s.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown tracer provider: %w", err))
		}
	}

	if s.meterProvider != nil {
		if err := s.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown meter provider: %w", err))
		}
	}

	return errors.Join(errs...)
}
