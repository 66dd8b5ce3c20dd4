package dashboard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fyrsmithlabs/outreachd/internal/guardrail"
)

func TestFormatPercentage(t *testing.T) {
	tests := []struct {
		name     string
		ratio    float64
		expected string
	}{
		{"zero", 0, "0.0%"},
		{"reply rate", 0.085, "8.5%"},
		{"complaint rate", 0.0012, "0.12%"},
		{"whole", 1, "100.0%"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatPercentage(tt.ratio))
		})
	}
}

func TestFormatCount(t *testing.T) {
	assert.Equal(t, "999", FormatCount(999))
	assert.Equal(t, "1.5k", FormatCount(1500))
	assert.Equal(t, "2.0M", FormatCount(2_000_000))
}

func TestFormatThroughput(t *testing.T) {
	assert.Equal(t, "60.0 touches/min", FormatThroughput(60, time.Minute))
	assert.Equal(t, "120.0 touches/min", FormatThroughput(10, 5*time.Second))
	assert.Equal(t, "0.0 touches/min", FormatThroughput(10, 0))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "2h 15m", FormatDuration(8100))
	assert.Equal(t, "5m", FormatDuration(300))
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "abc", ShortID("abc", 8))
	assert.Equal(t, "abcdefgh", ShortID("abcdefghij", 8))
}

func TestUtilization(t *testing.T) {
	th := guardrail.DefaultThresholds()
	assert.Zero(t, Utilization(guardrail.Rates{}, th))
	assert.InDelta(t, 0.5, Utilization(guardrail.Rates{BounceRate: 0.015}, th), 1e-9)
	assert.InDelta(t, 2.0, Utilization(guardrail.Rates{BounceRate: 0.015, ComplaintRate: 0.002}, th), 1e-9)
	assert.Equal(t, 1.0, Utilization(guardrail.Rates{OptOutRate: 0.1}, guardrail.Thresholds{}))
}
