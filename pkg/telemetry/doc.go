// Package telemetry provides structured logging, metrics collection, and
// distributed tracing for infravista.
//
// Logging is built on zerolog with component-scoped child loggers, metrics on
// Prometheus, and tracing on OpenTelemetry with stdout or OTLP exporters.
// All three are optional at runtime; a zero Config produces quiet defaults
// suitable for CI logs.
package telemetry
