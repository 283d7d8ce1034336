// Package instrument provides stan.Hooks implementations that export
// registry activity to Prometheus and OpenTelemetry.
//
//	metrics := instrument.Prometheus(instrument.WithRegistry(reg))
//	tracing := instrument.OpenTelemetry(instrument.WithTracerName("app"))
//	r := stan.NewRegistry(stan.WithHooks(metrics, tracing))
package instrument
