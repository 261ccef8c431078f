// Package instrumentation provides OpenTelemetry metrics and tracing for the
// authorization server. By default it wires no-op providers so instrumentation
// adds zero overhead unless the host application installs real exporters via
// Config.Resource and the returned providers.
package instrumentation

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	// DefaultServiceVersion is used when no version is provided.
	DefaultServiceVersion = "unknown"

	// instrumentationScope prefixes every meter and tracer name.
	instrumentationScope = "github.com/grantline/grantline/"
)

// Config holds instrumentation configuration.
type Config struct {
	// ServiceName identifies the service in exported telemetry.
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// Enabled controls whether instrumentation is active.
	// When false, no-op providers are used.
	Enabled bool

	// Resource allows custom resource attributes.
	// If nil, a default resource is created from service name and version.
	Resource *resource.Resource
}

// Instrumentation provides OpenTelemetry instrumentation components.
type Instrumentation struct {
	config   Config
	resource *resource.Resource

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider

	httpMeter     metric.Meter
	flowMeter     metric.Meter
	securityMeter metric.Meter
	storageMeter  metric.Meter

	metrics *Metrics

	shutdownFuncs []func(context.Context) error
	shutdownOnce  sync.Once
}

// New creates a new instrumentation instance.
func New(config Config) (*Instrumentation, error) {
	if config.ServiceName == "" {
		config.ServiceName = "grantline"
	}
	if config.ServiceVersion == "" {
		config.ServiceVersion = DefaultServiceVersion
	}

	res := config.Resource
	if res == nil {
		var err error
		res, err = resource.New(
			context.Background(),
			resource.WithAttributes(
				semconv.ServiceName(config.ServiceName),
				semconv.ServiceVersion(config.ServiceVersion),
			),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create resource: %w", err)
		}
	}

	inst := &Instrumentation{
		config:   config,
		resource: res,
	}

	// No-op providers carry no exporter cost. Real exporters can be attached
	// by a host application that swaps in its own providers before use.
	inst.meterProvider = noop.NewMeterProvider()
	inst.tracerProvider = tracenoop.NewTracerProvider()

	inst.httpMeter = inst.Meter("http")
	inst.flowMeter = inst.Meter("server")
	inst.securityMeter = inst.Meter("security")
	inst.storageMeter = inst.Meter("storage")

	var err error
	inst.metrics, err = newMetrics(inst)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	return inst, nil
}

// Shutdown gracefully shuts down all registered instrumentation components.
func (i *Instrumentation) Shutdown(ctx context.Context) error {
	var shutdownErr error

	i.shutdownOnce.Do(func() {
		for _, fn := range i.shutdownFuncs {
			if err := fn(ctx); err != nil && shutdownErr == nil {
				shutdownErr = err
			}
		}
	})

	return shutdownErr
}

// Meter returns a named meter for the given scope, typically a layer name
// like "http", "server", "storage" or "security".
func (i *Instrumentation) Meter(scope string) metric.Meter {
	return i.meterProvider.Meter(instrumentationScope + scope)
}

// Tracer returns a named tracer for the given scope.
func (i *Instrumentation) Tracer(scope string) trace.Tracer {
	return i.tracerProvider.Tracer(instrumentationScope + scope)
}

// Metrics returns the metrics holder for recording metric values.
func (i *Instrumentation) Metrics() *Metrics {
	return i.metrics
}

// TracerProvider returns the underlying tracer provider.
func (i *Instrumentation) TracerProvider() trace.TracerProvider {
	return i.tracerProvider
}

// MeterProvider returns the underlying meter provider.
func (i *Instrumentation) MeterProvider() metric.MeterProvider {
	return i.meterProvider
}
