// Package telemetry sets up OpenTelemetry tracing and metrics for orgchartd.
//
// Spans and OTLP metrics are exported to a collector when
// observability.enable_telemetry is set. When telemetry is disabled, or a
// provider cannot be created, Tracer and Meter fall back to the global no-op
// providers and the service keeps running.
//
//	tel, err := telemetry.New(ctx, telemetry.FromObservability(cfg.Observability, version))
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// Tests use NewTestTelemetry, which records spans and metrics in memory.
package telemetry
