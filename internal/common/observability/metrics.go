package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Observability bundles the OTel meter and tracer used by the orchestrator.
// The zero value is usable and records nothing.
type Observability struct {
	meterProvider *metric.MeterProvider
	meter         otelmetric.Meter
	jobCounter    otelmetric.Int64Counter
	jobDuration   otelmetric.Float64Histogram
	imageCounter  otelmetric.Int64Counter

	tracing *Tracing
	tracer  trace.Tracer
}

// New wires the OTel meter to the prometheus exporter. Failures degrade to a
// no-op instance.
func New(serviceName string) *Observability {
	exporter, err := prometheus.New()
	if err != nil {
		otel.Handle(err)
		return &Observability{}
	}

	provider := metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter(serviceName)

	jobCounter, _ := meter.Int64Counter(
		"imagegen.jobs.processed",
		otelmetric.WithDescription("Number of image generation jobs processed"),
	)
	jobDuration, _ := meter.Float64Histogram(
		"imagegen.jobs.duration",
		otelmetric.WithDescription("Image generation job duration"),
		otelmetric.WithUnit("ms"),
	)
	imageCounter, _ := meter.Int64Counter(
		"imagegen.images.returned",
		otelmetric.WithDescription("Images returned in completed responses"),
	)

	return &Observability{
		meterProvider: provider,
		meter:         meter,
		jobCounter:    jobCounter,
		jobDuration:   jobDuration,
		imageCounter:  imageCounter,
	}
}

// WithTracing attaches a tracer provider built by NewTracing.
func (o *Observability) WithTracing(t *Tracing) *Observability {
	o.tracing = t
	if t != nil {
		o.tracer = t.Tracer()
	}
	return o
}

// StartSpan starts a span on the configured tracer, or a no-op span.
func (o *Observability) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := o.tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func (o *Observability) RecordJobProcessed(ctx context.Context, status string) {
	if o.jobCounter != nil {
		o.jobCounter.Add(ctx, 1, otelmetric.WithAttributes(
			attribute.String("status", status),
		))
	}
}

func (o *Observability) RecordJobDuration(ctx context.Context, duration time.Duration, status string) {
	if o.jobDuration != nil {
		o.jobDuration.Record(ctx, float64(duration.Milliseconds()), otelmetric.WithAttributes(
			attribute.String("status", status),
		))
	}
}

func (o *Observability) RecordImagesReturned(ctx context.Context, n int) {
	if o.imageCounter != nil && n > 0 {
		o.imageCounter.Add(ctx, int64(n))
	}
}

func (o *Observability) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if o.meterProvider != nil {
		_ = o.meterProvider.Shutdown(ctx)
	}
	if o.tracing != nil {
		_ = o.tracing.Shutdown(ctx)
	}
}
