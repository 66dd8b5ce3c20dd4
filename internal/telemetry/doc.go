// Package telemetry wires OpenTelemetry tracing and metrics for outreachd.
//
// Providers export over OTLP (gRPC or HTTP/protobuf) to a collector and
// are installed as the otel globals, so the gate, campaign, sequencer and
// optimizer instruments pick them up without a handle. When telemetry is
// disabled or an exporter cannot be built, Meter falls back to the global
// no-op provider.
//
//	tel, err := telemetry.New(ctx, cfg.Observability)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(ctx)
//
//	reg, err := services.Build(ctx, cfg, services.BuildOptions{
//	    Meter: tel.Meter("github.com/fyrsmithlabs/outreachd"),
//	})
//
// Configuration lives under the observability key:
//
//	observability:
//	  enabled: true
//	  endpoint: "localhost:4317"
//	  protocol: grpc
//	  metrics:
//	    export_interval: 15s
package telemetry
