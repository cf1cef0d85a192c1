// Package observability wires OpenTelemetry tracing and metrics for the
// core. Metrics follow the RED pattern over the invocation pipeline:
// submissions, denials and errors, and end-to-end duration.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "lewis.core"

// Config controls the telemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string
	SampleRate     float64
	Enabled        bool
	Insecure       bool
}

// DefaultConfig returns development defaults.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "lewis-core",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		Enabled:        false,
		Insecure:       true,
	}
}

// Provider owns the trace and metric providers plus the pipeline
// instruments. A disabled Provider is safe to use; every method is a
// no-op.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	invocations metric.Int64Counter
	denials     metric.Int64Counter
	errors      metric.Int64Counter
	duration    metric.Float64Histogram
	active      metric.Int64UpDownCounter
}

// New builds a Provider and installs it as the global OTel provider
// when enabled.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}
	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}
	if !config.Enabled {
		p.logger.InfoContext(ctx, "telemetry disabled")
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: resource: %w", err)
	}

	if err := p.initTraces(ctx, res); err != nil {
		return nil, err
	}
	if err := p.initMetrics(ctx, res); err != nil {
		return nil, err
	}

	p.tracer = otel.Tracer(scopeName, trace.WithInstrumentationVersion(config.ServiceVersion))
	p.meter = otel.Meter(scopeName, metric.WithInstrumentationVersion(config.ServiceVersion))
	if err := p.initInstruments(); err != nil {
		return nil, err
	}

	p.logger.InfoContext(ctx, "telemetry initialized",
		"service", config.ServiceName,
		"endpoint", config.OTLPEndpoint,
		"sample_rate", config.SampleRate)
	return p, nil
}

func (p *Provider) initTraces(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("observability: trace exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case p.config.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case p.config.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(p.config.SampleRate)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

func (p *Provider) initMetrics(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("observability: metric exporter: %w", err)
	}
	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(15*time.Second))),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initInstruments() error {
	var err error
	if p.invocations, err = p.meter.Int64Counter("lewis.invocations.total",
		metric.WithDescription("Invocations submitted"),
		metric.WithUnit("{invocation}")); err != nil {
		return err
	}
	if p.denials, err = p.meter.Int64Counter("lewis.denials.total",
		metric.WithDescription("Authorization denials"),
		metric.WithUnit("{denial}")); err != nil {
		return err
	}
	if p.errors, err = p.meter.Int64Counter("lewis.errors.total",
		metric.WithDescription("Pipeline errors"),
		metric.WithUnit("{error}")); err != nil {
		return err
	}
	if p.duration, err = p.meter.Float64Histogram("lewis.invocation.duration",
		metric.WithDescription("End-to-end invocation duration"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300)); err != nil {
		return err
	}
	if p.active, err = p.meter.Int64UpDownCounter("lewis.invocations.active",
		metric.WithDescription("Invocations currently in the pipeline"),
		metric.WithUnit("{invocation}")); err != nil {
		return err
	}
	return nil
}

// Tracer returns the configured tracer.
func (p *Provider) Tracer() trace.Tracer {
	if p.tracer == nil {
		return otel.Tracer(scopeName)
	}
	return p.tracer
}

// RecordInvocation counts one submission.
func (p *Provider) RecordInvocation(ctx context.Context, command string) {
	if p.invocations != nil {
		p.invocations.Add(ctx, 1, metric.WithAttributes(attribute.String("command", command)))
	}
}

// RecordDenial counts one denial by reason.
func (p *Provider) RecordDenial(ctx context.Context, command, reason string) {
	if p.denials != nil {
		p.denials.Add(ctx, 1, metric.WithAttributes(
			attribute.String("command", command),
			attribute.String("reason", reason)))
	}
}

// RecordError counts one pipeline error.
func (p *Provider) RecordError(ctx context.Context, stage string) {
	if p.errors != nil {
		p.errors.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
	}
}

// TrackInvocation opens a span and the active gauge for one invocation.
// The returned func closes both and records duration.
func (p *Provider) TrackInvocation(ctx context.Context, command string) (context.Context, func(status string)) {
	start := time.Now()
	var span trace.Span
	ctx, span = p.Tracer().Start(ctx, "invocation",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("command", command)))
	if p.active != nil {
		p.active.Add(ctx, 1)
	}
	return ctx, func(status string) {
		if p.active != nil {
			p.active.Add(ctx, -1)
		}
		if p.duration != nil {
			p.duration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
				attribute.String("command", command),
				attribute.String("status", status)))
		}
		span.SetAttributes(attribute.String("status", status))
		span.End()
	}
}

// Shutdown flushes and stops both providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "trace provider shutdown", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			return err
		}
	}
	return nil
}
