// Package observe provides telemetry for outbound provider calls: OpenTelemetry
// tracing and metrics, a structured JSON logger with credential redaction, and
// exporter wiring. Construct a single Observer at startup and hand it to the
// request executor.
package observe
