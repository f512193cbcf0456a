package core

import "time"

// Metric names shared by the metrics backends and their callers.
const (
	MetricEventsApplied    = "classguard_events_applied_total"
	MetricEventsDropped    = "classguard_events_dropped_total"
	MetricCommandsEmitted  = "classguard_commands_emitted_total"
	MetricCommandsDropped  = "classguard_commands_dropped_total"
	MetricReconnects       = "classguard_relay_reconnects_total"
	MetricStudentsOnline   = "classguard_students_online"
	MetricAnalysisFailures = "classguard_analysis_failures_total"
	MetricAnalysisLatency  = "classguard_analysis_latency_seconds"
	MetricRelayConnected   = "classguard_relay_connected"
	MetricTelemetrySamples = "classguard_telemetry_samples"
)

// Metrics is the observability port. Labels are optional, the meaning of each one depends on the metric.
type Metrics interface {
	IncCounter(name string, labels ...string)
	SetGauge(name string, v float64)
	ObserveDuration(name string, d time.Duration, labels ...string)
}

type nopMetrics struct{}

var NopMetrics Metrics = nopMetrics{}

func (nopMetrics) IncCounter(string, ...string)                     {}
func (nopMetrics) SetGauge(string, float64)                         {}
func (nopMetrics) ObserveDuration(string, time.Duration, ...string) {}
