package campaign

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/outreachd/internal/guardrail"
)

// Logger wraps zap.Logger with campaign-specific structured logging.
type Logger struct {
	logger *zap.Logger
}

// NewLogger creates a new Logger. If logger is nil, uses a no-op logger.
func NewLogger(logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{logger: logger.Named("campaign")}
}

// Created logs a campaign creation.
func (l *Logger) Created(ctx context.Context, c *Campaign) {
	if l == nil || l.logger == nil {
		return
	}
	fields := l.baseFields(ctx, c.ID)
	fields = append(fields,
		zap.String("jurisdiction", c.Policy.JurisdictionID),
		zap.String("mode", string(c.Mode)),
		zap.Float64("policy_confidence", c.Policy.Confidence),
	)
	l.logger.Info("campaign created", fields...)
}

// UnknownPolicy logs a jurisdiction that fell back to the default policy.
func (l *Logger) UnknownPolicy(ctx context.Context, country string) {
	if l == nil || l.logger == nil {
		return
	}
	fields := append(l.traceFields(ctx), zap.String("country", country))
	l.logger.Warn("unknown jurisdiction, forcing SAFE mode", fields...)
}

// Rejected logs a campaign rejected at creation.
func (l *Logger) Rejected(ctx context.Context, country, reason string) {
	if l == nil || l.logger == nil {
		return
	}
	fields := append(l.traceFields(ctx), zap.String("country", country), zap.String("reason", reason))
	l.logger.Warn("campaign rejected", fields...)
}

// Transition logs a status change.
func (l *Logger) Transition(ctx context.Context, id string, from, to Status, reason string) {
	if l == nil || l.logger == nil {
		return
	}
	fields := l.baseFields(ctx, id)
	fields = append(fields,
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("reason", reason),
	)
	l.logger.Info("campaign status changed", fields...)
}

// Breach logs a guardrail breach.
func (l *Logger) Breach(ctx context.Context, id string, vs []guardrail.Violation) {
	if l == nil || l.logger == nil {
		return
	}
	fields := l.baseFields(ctx, id)
	fields = append(fields, zap.String("violations", guardrail.Reasons(vs)))
	l.logger.Warn("guardrail breach, campaign paused", fields...)
}

// Error logs an error with context.
func (l *Logger) Error(ctx context.Context, msg string, err error, fields ...zap.Field) {
	if l == nil || l.logger == nil {
		return
	}
	all := l.traceFields(ctx)
	all = append(all, zap.Error(err))
	all = append(all, fields...)
	l.logger.Error(msg, all...)
}

func (l *Logger) baseFields(ctx context.Context, id string) []zap.Field {
	return append(l.traceFields(ctx), zap.String("campaign_id", id))
}

func (l *Logger) traceFields(ctx context.Context) []zap.Field {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return nil
	}
	return []zap.Field{
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	}
}
