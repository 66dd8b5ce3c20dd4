package sequencer

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Logger wraps zap.Logger with sequencer-specific structured logging.
type Logger struct {
	logger *zap.Logger
}

// NewLogger creates a new Logger. If logger is nil, uses a no-op logger.
func NewLogger(logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{logger: logger.Named("sequencer")}
}

// Dispatched logs the outcome of one due touch.
func (l *Logger) Dispatched(ctx context.Context, s *Sequence, r SendResult) {
	if l == nil || l.logger == nil {
		return
	}
	fields := l.seqFields(ctx, s)
	fields = append(fields,
		zap.String("disposition", string(r.Disposition)),
		zap.Int("touch", r.TouchIndex),
	)
	if r.Reason != "" {
		fields = append(fields, zap.String("reason", r.Reason))
	}
	if !r.NextTouchAt.IsZero() {
		fields = append(fields, zap.Time("next_touch_at", r.NextTouchAt))
	}
	switch r.Disposition {
	case DispositionPaused:
		l.logger.Warn("sequence paused", fields...)
	case DispositionSkipped:
		l.logger.Debug("touch skipped", fields...)
	default:
		l.logger.Info("touch processed", fields...)
	}
}

// Reply logs a handled reply.
func (l *Logger) Reply(ctx context.Context, s *Sequence, intent Intent, action string) {
	if l == nil || l.logger == nil {
		return
	}
	fields := l.seqFields(ctx, s)
	fields = append(fields,
		zap.String("intent", string(intent)),
		zap.String("action", action),
		zap.String("status", string(s.Status)),
	)
	l.logger.Info("reply handled", fields...)
}

// Warn logs a non-fatal problem.
func (l *Logger) Warn(ctx context.Context, msg string, fields ...zap.Field) {
	if l == nil || l.logger == nil {
		return
	}
	l.logger.Warn(msg, append(l.traceFields(ctx), fields...)...)
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

func (l *Logger) seqFields(ctx context.Context, s *Sequence) []zap.Field {
	return append(l.traceFields(ctx),
		zap.String("sequence_id", s.ID),
		zap.String("campaign_id", s.CampaignID),
		zap.String("lead_id", s.LeadID),
	)
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
