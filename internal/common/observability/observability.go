package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Observability bundles the OpenTelemetry meter and tracer used around
// generation. The zero value is usable and records nothing.
type Observability struct {
	meterProvider *metric.MeterProvider
	meter         otelmetric.Meter
	tracer        trace.Tracer
	genCounter    otelmetric.Int64Counter
	genDuration   otelmetric.Float64Histogram
}

// New wires a prometheus-backed meter provider. Exported instruments are
// served by the default prometheus registry.
func New(serviceName string) (*Observability, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	provider := metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	o := &Observability{
		meterProvider: provider,
		meter:         provider.Meter(serviceName),
		tracer:        otel.Tracer(serviceName),
	}
	if err := o.initInstruments(); err != nil {
		return nil, err
	}
	return o, nil
}

// NewNoop returns an instance that records nothing, for tests and CLI commands.
func NewNoop() *Observability {
	o := &Observability{
		meter:  noop.NewMeterProvider().Meter("noop"),
		tracer: tracenoop.NewTracerProvider().Tracer("noop"),
	}
	_ = o.initInstruments()
	return o
}

func (o *Observability) initInstruments() error {
	var err error
	o.genCounter, err = o.meter.Int64Counter(
		"generation.attempts",
		otelmetric.WithDescription("Analysis endpoint attempts"),
	)
	if err != nil {
		return err
	}
	o.genDuration, err = o.meter.Float64Histogram(
		"generation.attempt.duration",
		otelmetric.WithDescription("Duration of one analysis attempt"),
		otelmetric.WithUnit("ms"),
	)
	return err
}

// StartSpan opens a span; callers must End it.
func (o *Observability) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if o == nil || o.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return o.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func (o *Observability) RecordAttempt(ctx context.Context, attempt int, duration time.Duration, status string) {
	if o == nil {
		return
	}
	attrs := otelmetric.WithAttributes(
		attribute.String("status", status),
		attribute.Int("attempt", attempt),
	)
	if o.genCounter != nil {
		o.genCounter.Add(ctx, 1, attrs)
	}
	if o.genDuration != nil {
		o.genDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
	}
}

func (o *Observability) Shutdown(ctx context.Context) error {
	if o == nil || o.meterProvider == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return o.meterProvider.Shutdown(ctx)
}
