package observability

import (
	"context"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Observability bundles the OpenTelemetry meter and tracer used by the resolver and the
// batch orchestrator. A nil *Observability is valid and records nothing.
type Observability struct {
	meterProvider  *metric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	meter          otelmetric.Meter
	tracer         trace.Tracer

	resolutionCounter  otelmetric.Int64Counter
	resolutionDuration otelmetric.Float64Histogram
	batchCounter       otelmetric.Int64Counter
}

// Option adjusts New.
type Option func(*options)

type options struct {
	registerer promclient.Registerer
	spanOpts   []sdktrace.TracerProviderOption
}

// WithRegisterer exports metrics into reg instead of the default prometheus registry.
func WithRegisterer(reg promclient.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithSpanProcessor attaches a span processor, e.g. a tracetest.SpanRecorder.
func WithSpanProcessor(sp sdktrace.SpanProcessor) Option {
	return func(o *options) { o.spanOpts = append(o.spanOpts, sdktrace.WithSpanProcessor(sp)) }
}

func New(serviceName string, opts ...Option) (*Observability, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	var exporterOpts []prometheus.Option
	if o.registerer != nil {
		exporterOpts = append(exporterOpts, prometheus.WithRegisterer(o.registerer))
	}
	exporter, err := prometheus.New(exporterOpts...)
	if err != nil {
		return nil, err
	}

	res := resource.NewSchemaless(attribute.String("service.name", serviceName))

	meterProvider := metric.NewMeterProvider(metric.WithReader(exporter), metric.WithResource(res))
	otel.SetMeterProvider(meterProvider)

	tracerProvider := sdktrace.NewTracerProvider(append([]sdktrace.TracerProviderOption{sdktrace.WithResource(res)}, o.spanOpts...)...)
	otel.SetTracerProvider(tracerProvider)

	meter := meterProvider.Meter(serviceName)

	resolutionCounter, err := meter.Int64Counter(
		"formfill.resolutions",
		otelmetric.WithDescription("Field resolutions by outcome"),
	)
	if err != nil {
		return nil, err
	}
	resolutionDuration, err := meter.Float64Histogram(
		"formfill.resolution.duration",
		otelmetric.WithDescription("Field resolution duration"),
		otelmetric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	batchCounter, err := meter.Int64Counter(
		"formfill.batches",
		otelmetric.WithDescription("Completed batches"),
	)
	if err != nil {
		return nil, err
	}

	return &Observability{
		meterProvider:      meterProvider,
		tracerProvider:     tracerProvider,
		meter:              meter,
		tracer:             tracerProvider.Tracer(serviceName),
		resolutionCounter:  resolutionCounter,
		resolutionDuration: resolutionDuration,
		batchCounter:       batchCounter,
	}, nil
}

// StartSpan starts a span named name. On a nil receiver it returns a no-op span.
func (o *Observability) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if o == nil || o.tracer == nil {
		return noop.NewTracerProvider().Tracer("").Start(ctx, name)
	}
	return o.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err on span (if any) and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (o *Observability) RecordResolution(ctx context.Context, outcome string, duration time.Duration) {
	if o == nil || o.resolutionCounter == nil {
		return
	}
	attrs := otelmetric.WithAttributes(attribute.String("outcome", outcome))
	o.resolutionCounter.Add(ctx, 1, attrs)
	o.resolutionDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
}

func (o *Observability) RecordBatch(ctx context.Context, filled, failed int) {
	if o == nil || o.batchCounter == nil {
		return
	}
	result := "complete"
	if failed > 0 {
		result = "partial"
	}
	if filled == 0 && failed > 0 {
		result = "empty"
	}
	o.batchCounter.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("result", result)))
}

func (o *Observability) Shutdown(ctx context.Context) error {
	if o == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if o.tracerProvider != nil {
		if err := o.tracerProvider.Shutdown(ctx); err != nil {
			return err
		}
	}
	if o.meterProvider != nil {
		return o.meterProvider.Shutdown(ctx)
	}
	return nil
}
