// Package telemetry wires OpenTelemetry tracing and metrics export.
//
// The pipeline opens one span per stage ("pipeline.<STAGE>") and the
// service buses one span per provider call ("bus.<domain>.<op>"). Packages
// build their own instruments from Telemetry.Meter. When export is
// disabled the global no-op providers are used, so instrumented code never
// needs to check whether telemetry is on.
//
// NewTestTelemetry records spans and metrics in memory for assertions.
package telemetry
