// Package telemetry initializes OpenTelemetry tracing and metrics exporters
// and hands out the tracers and meters used by the generation pipeline.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Metric names shared between the instruments and the views below.
const (
	GenerationDurationMetric = "gazou.generation.duration"
	ArtifactsStoredMetric    = "gazou.artifacts.stored"
)

// GenerationDurationBuckets (ms) span a fast-tier draft through a batch of
// 4K renders; the SDK defaults stop at ten seconds.
var GenerationDurationBuckets = []float64{
	250, 500, 1000, 2500, 5000, 10000, 20000, 30000, 60000, 120000, 300000,
}

// Config selects where telemetry goes and how the process identifies itself.
type Config struct {
	Endpoint    string // OTLP/HTTP host:port; empty disables export
	Insecure    bool
	ServiceName string
	Version     string
	Transport   string // "http" or "stdio"
}

// Shutdown flushes and stops the exporters.
type Shutdown func(ctx context.Context) error

// Init configures the global OpenTelemetry tracer and meter providers.
// With no endpoint the global no-op providers stay in place.
func Init(ctx context.Context, cfg Config) (Shutdown, error) {
	if cfg.Endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.Version),
			attribute.String("gazou.transport", cfg.Transport),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create resource: %w", err)
	}

	traceExp, err := otlptracehttp.New(ctx, exporterOptions(cfg,
		otlptracehttp.WithEndpoint, otlptracehttp.WithInsecure)...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	// Incoming traceparent headers on /v1/generate and /mcp join the
	// caller's trace.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	metricExp, err := otlpmetrichttp.New(ctx, exporterOptions(cfg,
		otlpmetrichttp.WithEndpoint, otlpmetrichttp.WithInsecure)...)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, fmt.Errorf("telemetry: create metric exporter: %w", err)
	}
	mp := newMeterProvider(sdkmetric.NewPeriodicReader(metricExp,
		sdkmetric.WithInterval(15*time.Second)), res)
	otel.SetMeterProvider(mp)

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

// exporterOptions builds the endpoint and TLS options shared by the trace
// and metric exporters.
func exporterOptions[O any](cfg Config, withEndpoint func(string) O, withInsecure func() O) []O {
	opts := []O{withEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, withInsecure())
	}
	return opts
}

// newMeterProvider attaches gazou's histogram views to reader.
func newMeterProvider(reader sdkmetric.Reader, res *resource.Resource) *sdkmetric.MeterProvider {
	durationView := sdkmetric.NewView(
		sdkmetric.Instrument{Name: GenerationDurationMetric},
		sdkmetric.Stream{Aggregation: sdkmetric.AggregationExplicitBucketHistogram{
			Boundaries: GenerationDurationBuckets,
		}},
	)
	opts := []sdkmetric.Option{
		sdkmetric.WithReader(reader),
		sdkmetric.WithView(durationView),
	}
	if res != nil {
		opts = append(opts, sdkmetric.WithResource(res))
	}
	return sdkmetric.NewMeterProvider(opts...)
}

// ObserveArtifactCount registers a gauge that reports count on every
// collection. Collection errors skip the observation.
func ObserveArtifactCount(meter metric.Meter, count func(context.Context) (int, error)) (metric.Registration, error) {
	gauge, err := meter.Int64ObservableGauge(ArtifactsStoredMetric,
		metric.WithDescription("Artifacts currently in the index, including expired ones awaiting eviction"),
		metric.WithUnit("{artifact}"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: artifact gauge: %w", err)
	}
	return meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		n, err := count(ctx)
		if err != nil {
			return nil
		}
		o.ObserveInt64(gauge, int64(n))
		return nil
	}, gauge)
}

// Tracer returns the global tracer for the given instrumentation scope.
func Tracer(name string) trace.Tracer {
	return otel.GetTracerProvider().Tracer(name)
}

// Meter returns the global meter for the given instrumentation scope.
func Meter(name string) metric.Meter {
	return otel.GetMeterProvider().Meter(name)
}
