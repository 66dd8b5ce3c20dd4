package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewResource(t *testing.T) {
	cfg := NewDefaultConfig()

	res := newResource(cfg)
	found := map[string]string{}
	for _, attr := range res.Attributes() {
		found[string(attr.Key)] = attr.Value.AsString()
	}
	assert.Equal(t, "outreachd", found["service.name"])
	assert.Equal(t, cfg.ServiceVersion, found["service.version"])
}

func TestStripScheme(t *testing.T) {
	assert.Equal(t, "otel.example.com:4318", stripScheme("https://otel.example.com:4318"))
	assert.Equal(t, "localhost:4318", stripScheme("http://localhost:4318"))
	assert.Equal(t, "localhost:4317", stripScheme("localhost:4317"))
}

func TestNewMeterProvider_DisabledMetrics(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Metrics.Enabled = false
	mp, err := newMeterProvider(context.Background(), cfg, newResource(cfg))
	require.NoError(t, err)
	assert.Nil(t, mp)
}

func TestNewProviders_HTTPProtocol(t *testing.T) {
	ctx := context.Background()
	cfg := NewDefaultConfig()
	cfg.Protocol = protocolHTTP
	cfg.Endpoint = "http://127.0.0.1:4318"
	res := newResource(cfg)

	tp, err := newTracerProvider(ctx, cfg, res)
	require.NoError(t, err)
	mp, err := newMeterProvider(ctx, cfg, res)
	require.NoError(t, err)
	require.NotNil(t, mp)

	shutdownCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_ = tp.Shutdown(shutdownCtx)
	_ = mp.Shutdown(shutdownCtx)
}
