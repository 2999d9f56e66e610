// Package telemetry provides the observability stack for genproj.
//
// It bundles structured logging (zerolog), tracing (OpenTelemetry), metrics
// (Prometheus) and a small synchronous event publisher used for host
// notifications such as refresh requests and error dialogs.
//
// Initialize telemetry at startup:
//
//	cfg := telemetry.DefaultConfig()
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// Metrics and tracers are nil-safe: a nil *Metrics records nothing and a nil
// *Tracer starts no-op spans, so components can take them as optional
// dependencies.
package telemetry
