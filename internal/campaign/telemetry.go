package campaign

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	// InstrumentationName is the name used for OTEL instrumentation.
	InstrumentationName = "github.com/fyrsmithlabs/outreachd/internal/campaign"
)

// Metrics provides OpenTelemetry metrics for the campaign package.
type Metrics struct {
	createdTotal     metric.Int64Counter
	rejectedTotal    metric.Int64Counter
	transitionsTotal metric.Int64Counter
	breachesTotal    metric.Int64Counter
	activeCount      metric.Int64UpDownCounter

	initialized bool
}

// NewMetrics creates a new Metrics instance with the provided meter.
// If meter is nil, uses the global meter provider.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(InstrumentationName)
	}

	m := &Metrics{}
	var err error

	m.createdTotal, err = meter.Int64Counter(
		"campaign.created.total",
		metric.WithDescription("Total number of campaigns created"),
		metric.WithUnit("{campaign}"),
	)
	if err != nil {
		return nil, err
	}

	m.rejectedTotal, err = meter.Int64Counter(
		"campaign.rejected.total",
		metric.WithDescription("Total number of campaigns rejected at creation"),
		metric.WithUnit("{campaign}"),
	)
	if err != nil {
		return nil, err
	}

	m.transitionsTotal, err = meter.Int64Counter(
		"campaign.transitions.total",
		metric.WithDescription("Total number of campaign status transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, err
	}

	m.breachesTotal, err = meter.Int64Counter(
		"campaign.guardrail.breaches.total",
		metric.WithDescription("Total number of guardrail breaches that paused a campaign"),
		metric.WithUnit("{breach}"),
	)
	if err != nil {
		return nil, err
	}

	m.activeCount, err = meter.Int64UpDownCounter(
		"campaign.active.count",
		metric.WithDescription("Number of currently active campaigns"),
		metric.WithUnit("{campaign}"),
	)
	if err != nil {
		return nil, err
	}

	m.initialized = true
	return m, nil
}

// RecordCreated records a created campaign.
func (m *Metrics) RecordCreated(ctx context.Context, jurisdiction, mode string) {
	if m == nil || !m.initialized {
		return
	}
	m.createdTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("jurisdiction", jurisdiction),
		attribute.String("mode", mode),
	))
	m.activeCount.Add(ctx, 1)
}

// RecordRejected records a campaign rejected at creation.
func (m *Metrics) RecordRejected(ctx context.Context, reason string) {
	if m == nil || !m.initialized {
		return
	}
	m.rejectedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordTransition records a status change.
func (m *Metrics) RecordTransition(ctx context.Context, from, to Status) {
	if m == nil || !m.initialized {
		return
	}
	m.transitionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
	))
	if from == StatusActive {
		m.activeCount.Add(ctx, -1)
	}
	if to == StatusActive {
		m.activeCount.Add(ctx, 1)
	}
}

// RecordBreach records a guardrail breach.
func (m *Metrics) RecordBreach(ctx context.Context, violations int) {
	if m == nil || !m.initialized {
		return
	}
	m.breachesTotal.Add(ctx, 1, metric.WithAttributes(attribute.Int("violations", violations)))
}

// StartSpan starts a span for a campaign operation.
func StartSpan(ctx context.Context, name, campaignID string) (context.Context, trace.Span) {
	return otel.Tracer(InstrumentationName).Start(ctx, name,
		trace.WithAttributes(attribute.String("outreach.campaign_id", campaignID)))
}

// SetSpanStatus sets the status on the current span.
func SetSpanStatus(ctx context.Context, code codes.Code, description string) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.SetStatus(code, description)
	}
}
