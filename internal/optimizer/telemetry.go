package optimizer

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// InstrumentationName is the name used for OTEL instrumentation.
	InstrumentationName = "github.com/fyrsmithlabs/outreachd/internal/optimizer"
)

// Telemetry provides OpenTelemetry metrics for the optimizer.
type Telemetry struct {
	updatesTotal    metric.Int64Counter
	selectionsTotal metric.Int64Counter

	initialized bool
}

// NewTelemetry creates a new Telemetry instance with the provided meter.
// If meter is nil, uses the global meter provider.
func NewTelemetry(meter metric.Meter) (*Telemetry, error) {
	if meter == nil {
		meter = otel.Meter(InstrumentationName)
	}

	m := &Telemetry{}
	var err error

	m.updatesTotal, err = meter.Int64Counter(
		"optimizer.updates.total",
		metric.WithDescription("Total number of reward samples, by result"),
		metric.WithUnit("{sample}"),
	)
	if err != nil {
		return nil, err
	}

	m.selectionsTotal, err = meter.Int64Counter(
		"optimizer.selections.total",
		metric.WithDescription("Total number of action selections, by mode"),
		metric.WithUnit("{selection}"),
	)
	if err != nil {
		return nil, err
	}

	m.initialized = true
	return m, nil
}

// RecordUpdate records a reward sample that was applied or rejected.
func (m *Telemetry) RecordUpdate(ctx context.Context, result string) {
	if m == nil || !m.initialized {
		return
	}
	m.updatesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordSelection records an explore or exploit decision.
func (m *Telemetry) RecordSelection(ctx context.Context, mode string) {
	if m == nil || !m.initialized {
		return
	}
	m.selectionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode)))
}
