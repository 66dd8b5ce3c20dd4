package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type (
	campaignCtxKey struct{}
	leadCtxKey     struct{}
	requestCtxKey  struct{}
	loggerCtxKey   struct{}
)

// ContextFields extracts correlation data from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if id := CampaignIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("campaign_id", id))
	}
	if id := LeadIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("lead_id", id))
	}
	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("request_id", id))
	}
	return fields
}

func stringValue(ctx context.Context, key any) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// WithCampaignID tags ctx with a campaign. Empty ids leave ctx unchanged.
func WithCampaignID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, campaignCtxKey{}, id)
}

// CampaignIDFromContext returns the campaign id carried by ctx.
func CampaignIDFromContext(ctx context.Context) string {
	return stringValue(ctx, campaignCtxKey{})
}

// WithLeadID tags ctx with a lead. Empty ids leave ctx unchanged.
func WithLeadID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, leadCtxKey{}, id)
}

// LeadIDFromContext returns the lead id carried by ctx.
func LeadIDFromContext(ctx context.Context) string {
	return stringValue(ctx, leadCtxKey{})
}

// WithRequestID tags ctx with an HTTP request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestCtxKey{}, id)
}

// RequestIDFromContext returns the request id carried by ctx.
func RequestIDFromContext(ctx context.Context) string {
	return stringValue(ctx, requestCtxKey{})
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext returns the logger stored in ctx, or a no-op logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok && l != nil {
		return l
	}
	return Nop()
}
