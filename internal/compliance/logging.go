package compliance

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/outreachd/internal/compliancelog"
)

// Logger wraps zap.Logger with gate-specific structured logging.
type Logger struct {
	logger *zap.Logger
}

// NewLogger creates a new Logger. If logger is nil, uses a no-op logger.
func NewLogger(logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{logger: logger.Named("compliance")}
}

// Verdict logs a gate decision. Blocks log at warn, everything else at debug.
func (l *Logger) Verdict(ctx context.Context, a Action, v Verdict) {
	if l == nil || l.logger == nil {
		return
	}
	fields := []zap.Field{
		zap.String("campaign_id", a.CampaignID),
		zap.String("lead_id", a.LeadID),
		zap.String("kind", string(a.Kind)),
		zap.String("channel", string(a.Channel)),
		zap.String("result", string(v.Result)),
		zap.String("event_id", v.EventID),
	}
	fields = append(fields, l.traceFields(ctx)...)
	switch v.Result {
	case compliancelog.ResultBlock:
		fields = append(fields, zap.String("check", string(v.Check)), zap.String("reason", v.Reason))
		l.logger.Warn("action blocked", fields...)
	case compliancelog.ResultWarning:
		fields = append(fields, zap.String("reason", v.Reason))
		l.logger.Info("action permitted with warning", fields...)
	default:
		l.logger.Debug("action permitted", fields...)
	}
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
