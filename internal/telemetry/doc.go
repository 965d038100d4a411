// Package telemetry wires the OpenTelemetry SDK for traces and metrics.
package telemetry
