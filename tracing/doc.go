// Package tracing wraps OpenTelemetry so that engine steps and gateway calls
// can be traced without importing the upstream packages everywhere.
package tracing
