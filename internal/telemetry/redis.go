package telemetry

import (
	"fmt"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
)

// InstrumentRedis attaches OpenTelemetry tracing and metrics hooks to client
// using the service's providers
func (s *Service) InstrumentRedis(client redis.UniversalClient) error {
	if err := redisotel.InstrumentTracing(client, redisotel.WithTracerProvider(s.TracerProvider())); err != nil {
		return fmt.Errorf("failed to instrument Redis tracing: %w", err)
	}

	if err := redisotel.InstrumentMetrics(client, redisotel.WithMeterProvider(s.MeterProvider())); err != nil {
		return fmt.Errorf("failed to instrument Redis metrics: %w", err)
	}

	return nil
}
