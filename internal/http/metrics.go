package http

import (
	"errors"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/outreachd/internal/compliance"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/outreachd/internal/http"

// apiMetrics instruments the operator API:
//
//   - outreachd.http.requests_total and outreachd.http.request_duration_seconds,
//     by method, route pattern and status
//   - outreachd.http.active_requests
//   - outreachd.http.compliance_rejections_total, by the gate check that
//     refused a campaign or touch submitted through the API
//
// Instruments that fail to register are left nil and skipped.
type apiMetrics struct {
	requests   metric.Int64Counter
	duration   metric.Float64Histogram
	active     metric.Int64UpDownCounter
	rejections metric.Int64Counter
}

func newAPIMetrics(meter metric.Meter, logger *zap.Logger) *apiMetrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	warn := func(name string, err error) {
		if err != nil {
			logger.Warn("failed to create instrument", zap.String("instrument", name), zap.Error(err))
		}
	}

	m := &apiMetrics{}
	var err error
	m.requests, err = meter.Int64Counter("outreachd.http.requests_total",
		metric.WithDescription("Operator API requests by method, route pattern and status."),
		metric.WithUnit("{request}"))
	warn("requests_total", err)

	m.duration, err = meter.Float64Histogram("outreachd.http.request_duration_seconds",
		metric.WithDescription("Operator API latency by method, route pattern and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10))
	warn("request_duration_seconds", err)

	m.active, err = meter.Int64UpDownCounter("outreachd.http.active_requests",
		metric.WithDescription("Operator API requests in flight."),
		metric.WithUnit("{request}"))
	warn("active_requests", err)

	m.rejections, err = meter.Int64Counter("outreachd.http.compliance_rejections_total",
		metric.WithDescription("API requests refused by the compliance gate, by check."),
		metric.WithUnit("{request}"))
	warn("compliance_rejections_total", err)
	return m
}

// middleware records every request against its route pattern.
func (m *apiMetrics) middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			start := time.Now()
			if m.active != nil {
				m.active.Add(ctx, 1)
				defer m.active.Add(ctx, -1)
			}

			err := next(c)

			status := c.Response().Status
			if err != nil {
				status = statusFor(err)
				var he *echo.HTTPError
				if errors.As(err, &he) {
					status = he.Code
				}
			}
			attrs := metric.WithAttributes(
				attribute.String("method", c.Request().Method),
				attribute.String("endpoint", normalizePath(c.Path())),
				attribute.Int("status", status),
			)
			if m.requests != nil {
				m.requests.Add(ctx, 1, attrs)
			}
			if m.duration != nil {
				m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
			}

			var be *compliance.BlockError
			if m.rejections != nil && errors.As(err, &be) {
				m.rejections.Add(ctx, 1, metric.WithAttributes(attribute.String("check", string(be.Check))))
			}
			return err
		}
	}
}

// normalizePath returns the route pattern used as the endpoint label.
// echo reports patterns (/api/v1/campaigns/:id), never raw ids, so label
// cardinality is bounded by the route table. Unmatched requests share one
// label.
func normalizePath(path string) string {
	if path == "" {
		return "unmatched"
	}
	return path
}
