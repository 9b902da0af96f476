// Package telemetry installs the process-wide OpenTelemetry providers.
//
// Metrics are bridged into the Prometheus registry that the HTTP server
// exposes at /metrics. The provider must be installed before any instrumented
// component is constructed; instruments created against the default no-op
// meter never record.
package telemetry

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.uber.org/zap"
)

// Telemetry holds the installed providers and shuts them down on exit.
type Telemetry struct {
	meterProvider *sdkmetric.MeterProvider
	logger        *zap.Logger
}

// Option configures telemetry initialization.
type Option func(*options)

type options struct {
	registerer prometheus.Registerer
}

// WithRegisterer overrides the Prometheus registerer (for testing).
func WithRegisterer(r prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = r
	}
}

// New installs a MeterProvider backed by the Prometheus exporter as the
// global OpenTelemetry meter provider.
func New(serviceName, serviceVersion string, logger *zap.Logger, opts ...Option) (*Telemetry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(serviceVersion),
	)

	exporterOpts := []otelprom.Option{}
	if o.registerer != nil {
		exporterOpts = append(exporterOpts, otelprom.WithRegisterer(o.registerer))
	}
	exporter, err := otelprom.New(exporterOpts...)
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(mp)

	logger.Info("telemetry initialized",
		zap.String("service", serviceName),
		zap.String("version", serviceVersion))

	return &Telemetry{meterProvider: mp, logger: logger}, nil
}

// Shutdown flushes and stops the meter provider.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil || t.meterProvider == nil {
		return nil
	}
	if err := t.meterProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("meter provider shutdown: %w", err)
	}
	return nil
}
