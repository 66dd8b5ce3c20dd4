package compliance

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	// InstrumentationName is the name used for OTEL instrumentation.
	InstrumentationName = "github.com/fyrsmithlabs/outreachd/internal/compliance"
)

// Metrics provides OpenTelemetry metrics for the gate.
type Metrics struct {
	verdictsTotal metric.Int64Counter
	blocksTotal   metric.Int64Counter
	duration      metric.Float64Histogram

	initialized bool
}

// NewMetrics creates gate metrics. If meter is nil, uses the global meter provider.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(InstrumentationName)
	}

	m := &Metrics{}
	var err error

	m.verdictsTotal, err = meter.Int64Counter(
		"compliance.gate.verdicts.total",
		metric.WithDescription("Gate verdicts by kind and result"),
		metric.WithUnit("{verdict}"),
	)
	if err != nil {
		return nil, err
	}

	m.blocksTotal, err = meter.Int64Counter(
		"compliance.gate.blocks.total",
		metric.WithDescription("Gate blocks by failing check"),
		metric.WithUnit("{verdict}"),
	)
	if err != nil {
		return nil, err
	}

	m.duration, err = meter.Float64Histogram(
		"compliance.gate.duration.seconds",
		metric.WithDescription("Gate validation latency including the audit append"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1),
	)
	if err != nil {
		return nil, err
	}

	m.initialized = true
	return m, nil
}

// RecordVerdict records one verdict. Campaign and lead ids stay out of
// metric attributes; they are in the compliance log and traces.
func (m *Metrics) RecordVerdict(ctx context.Context, kind, result, check string, d time.Duration) {
	if m == nil || !m.initialized {
		return
	}
	m.verdictsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("result", result),
	))
	if result == "block" {
		m.blocksTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("check", check)))
	}
	m.duration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("kind", kind)))
}

// Tracer returns the package tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}

// StartSpan starts a span carrying campaign and lead identity.
func StartSpan(ctx context.Context, name, campaignID, leadID, kind string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithAttributes(
		attribute.String("outreach.campaign_id", campaignID),
		attribute.String("outreach.lead_id", leadID),
		attribute.String("compliance.kind", kind),
	))
}

// RecordError records an error on the current span.
func RecordError(ctx context.Context, err error, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.RecordError(err, trace.WithAttributes(attrs...))
	}
}

// SetSpanStatus sets the status on the current span.
func SetSpanStatus(ctx context.Context, code codes.Code, description string) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.SetStatus(code, description)
	}
}
