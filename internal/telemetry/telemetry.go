// Package telemetry stands up the OTel SDK for the process: OTLP gRPC
// exporters for traces and metrics behind a single Init/Shutdown pair.
// Disabled telemetry leaves the global providers noop and opens no
// connections.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"

	"github.com/BaSui01/sagaflow/config"
)

// Providers owns the SDK trace and meter providers for the process
// lifetime. The zero value is the disabled form: Shutdown is a no-op
// and nothing was registered globally.
type Providers struct {
	tracer *sdktrace.TracerProvider
	meter  *sdkmetric.MeterProvider
}

// Init builds the providers from config and installs them as the OTel
// globals, along with a W3C trace-context + baggage propagator.
func Init(cfg config.TelemetryConfig, logger *zap.Logger) (*Providers, error) {
	if !cfg.Enabled {
		logger.Info("telemetry disabled, using noop providers")
		return &Providers{}, nil
	}

	ctx := context.Background()
	res, err := serviceResource(ctx, cfg.ServiceName)
	if err != nil {
		return nil, err
	}

	p := &Providers{}
	if p.tracer, err = newTracerProvider(ctx, cfg, res); err != nil {
		return nil, err
	}
	if p.meter, err = newMeterProvider(ctx, cfg, res); err != nil {
		return nil, err
	}

	otel.SetTracerProvider(p.tracer)
	otel.SetMeterProvider(p.meter)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info("telemetry initialized",
		zap.String("endpoint", cfg.OTLPEndpoint),
		zap.String("service_name", cfg.ServiceName),
		zap.Float64("sample_rate", cfg.SampleRate),
	)
	return p, nil
}

// Shutdown flushes and closes whichever providers Init built. Safe on
// nil and on the disabled zero value.
func (p *Providers) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	type component struct {
		name string
		stop func(context.Context) error
	}
	var components []component
	if p.tracer != nil {
		components = append(components, component{"tracer", p.tracer.Shutdown})
	}
	if p.meter != nil {
		components = append(components, component{"meter", p.meter.Shutdown})
	}
	var errs []error
	for _, c := range components {
		if err := c.stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown %s provider: %w", c.name, err))
		}
	}
	return errors.Join(errs...)
}

// serviceResource identifies the process in every exported signal.
func serviceResource(ctx context.Context, service string) (*resource.Resource, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(service),
			semconv.ServiceVersionKey.String(buildVersion()),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create otel resource: %w", err)
	}
	return res, nil
}

func newTracerProvider(ctx context.Context, cfg config.TelemetryConfig, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SampleRate)),
	), nil
}

func newMeterProvider(ctx context.Context, cfg config.TelemetryConfig, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	exporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create metric exporter: %w", err)
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	), nil
}

// buildVersion extracts the module version from Go build info, falling
// back to "dev" when unavailable.
func buildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	if info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}
