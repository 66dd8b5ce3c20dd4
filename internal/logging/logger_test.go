package logging

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger_Defaults(t *testing.T) {
	l, err := NewLogger(nil, nil)
	require.NoError(t, err)
	assert.True(t, l.Enabled(zapcore.InfoLevel))
	assert.False(t, l.Enabled(zapcore.DebugLevel))
}

func TestNewLogger_RejectsOTELOnlyWithoutProvider(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Output = OutputConfig{OTEL: true}
	_, err := NewLogger(cfg, nil)
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad level", func(c *Config) { c.Level = "loud" }},
		{"bad format", func(c *Config) { c.Format = "xml" }},
		{"no output", func(c *Config) { c.Output = OutputConfig{} }},
		{"zero tick", func(c *Config) { c.Sampling.Tick = 0 }},
		{"bad pattern", func(c *Config) { c.Redaction.Patterns = []string{"("} }},
		{"empty field value", func(c *Config) { c.Fields = map[string]string{"service": ""} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, NewDefaultConfig().Validate())
}

func TestLevelFromString(t *testing.T) {
	l, err := LevelFromString("trace")
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, l)

	l, err = LevelFromString("warn")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, l)

	_, err = LevelFromString("nope")
	assert.Error(t, err)
}

func TestContextFields(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithCampaignID(context.Background(), "camp-1")
	ctx = WithLeadID(ctx, "lead-9")
	ctx = WithRequestID(ctx, "req-3")

	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	spanID, _ := trace.SpanIDFromHex("0102030405060708")
	ctx = trace.ContextWithSpanContext(ctx, trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled,
	}))

	tl.Info(ctx, "touch dispatched", zap.Int("touch", 2))

	tl.AssertLogged(t, zapcore.InfoLevel, "touch dispatched")
	tl.AssertField(t, "touch dispatched", "campaign_id", "camp-1")
	tl.AssertField(t, "touch dispatched", "lead_id", "lead-9")
	tl.AssertField(t, "touch dispatched", "request_id", "req-3")
	tl.AssertTraceCorrelation(t, "touch dispatched")
}

func TestContext_EmptyIDsAreIgnored(t *testing.T) {
	ctx := WithCampaignID(context.Background(), "")
	ctx = WithLeadID(ctx, "")
	assert.Empty(t, ContextFields(ctx))
}

func TestFromContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	FromContext(ctx).Warn(ctx, "stored logger")
	tl.AssertLogged(t, zapcore.WarnLevel, "stored logger")
}

func TestRedactingEncoder(t *testing.T) {
	var buf bytes.Buffer
	enc, err := NewRedactingEncoder(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), NewDefaultConfig().Redaction)
	require.NoError(t, err)
	z := zap.New(zapcore.NewCore(enc, zapcore.AddSync(&buf), zapcore.DebugLevel))

	z.With(zap.String("phone", "+1 555 0100")).Info("reply from ana@example.com",
		zap.String("email", "ana@example.com"),
		zap.String("note", "forwarded to bob@example.org today"),
		zap.String("channel", "email"),
	)

	out := buf.String()
	assert.NotContains(t, out, "ana@example.com")
	assert.NotContains(t, out, "bob@example.org")
	assert.NotContains(t, out, "555 0100")
	assert.Contains(t, out, `"email":"[REDACTED]"`)
	assert.Contains(t, out, `forwarded to [REDACTED] today`)
	assert.Contains(t, out, `"channel":"email"`)
}

func TestRedactingEncoder_Disabled(t *testing.T) {
	var buf bytes.Buffer
	enc, err := NewRedactingEncoder(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), RedactionConfig{})
	require.NoError(t, err)
	zap.New(zapcore.NewCore(enc, zapcore.AddSync(&buf), zapcore.InfoLevel)).Info("x", zap.String("email", "a@b.io"))
	assert.Contains(t, buf.String(), "a@b.io")
}

func TestRedactedString(t *testing.T) {
	f := RedactedString("recipient", "ana@example.com")
	assert.Equal(t, "[REDACTED:15]", f.String)
}

func TestSampling_ErrorsAlwaysPass(t *testing.T) {
	core, observed := observer.New(zapcore.DebugLevel)
	sampled := zapcore.NewSamplerWithOptions(&levelRange{Core: core, max: zapcore.WarnLevel}, time.Minute, 2, 0)
	z := zap.New(zapcore.NewTee(&levelRange{Core: core, min: zapcore.ErrorLevel, hasMin: true}, sampled))

	for i := 0; i < 10; i++ {
		z.Info("repeated")
		z.Error("failure")
	}

	assert.Equal(t, 2, observed.FilterMessage("repeated").Len())
	assert.Equal(t, 10, observed.FilterMessage("failure").Len())
}

func TestAssertNoContactData(t *testing.T) {
	tl := NewTestLogger()
	tl.Info(context.Background(), "reply received", RedactedString("recipient", "ana@example.com"), zap.String("intent", "interested"))
	tl.AssertNoContactData(t)
}
