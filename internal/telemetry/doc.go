// Package telemetry bootstraps OpenTelemetry trace and metric export.
//
// Export failures never crash the process: a provider that cannot be
// built leaves the instance degraded and the application running on
// no-op telemetry. Prometheus metrics are independent of this package;
// it only covers OTLP export.
package telemetry
