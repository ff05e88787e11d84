// Package telemetry wires structured logging and metrics for every request
// handler, worker iteration, and tool dispatch in the engine. Logging is
// rs/zerolog; metrics are prometheus/client_golang. Every log call uses
// structured fields (job id, thread id, tool name) rather than string
// interpolation.
package telemetry

import (
	"io"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// NewLogger builds the process-wide zerolog.Logger. When pretty is true,
// output is human-readable (local dev); otherwise it is newline-delimited
// JSON suitable for log aggregation.
func NewLogger(pretty bool, level string) zerolog.Logger {
	var w io.Writer = os.Stdout
	if pretty {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// Metrics bundles the counters and gauges the engine exposes on /metrics.
// One instance is constructed at process startup and threaded through the
// Redis bus and the worker pool.
type Metrics struct {
	JobsTotal           *prometheus.CounterVec
	ToolInvocationsTotal *prometheus.CounterVec
	BusPublishSeconds   prometheus.Histogram
	ActiveSubscribers   prometheus.Gauge
	ActiveJobs          prometheus.Gauge
}

// NewMetrics registers and returns the engine's Prometheus collectors
// against reg. Pass prometheus.NewRegistry() in tests to avoid collisions
// with the global default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		JobsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "convoengine",
			Name:      "jobs_total",
			Help:      "Jobs reaching a terminal status, labeled by status.",
		}, []string{"status"}),
		ToolInvocationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "convoengine",
			Name:      "tool_invocations_total",
			Help:      "Tool invocations, labeled by tool name and success.",
		}, []string{"tool", "success"}),
		BusPublishSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "convoengine",
			Name:      "bus_publish_seconds",
			Help:      "Latency of a single event bus publish (state mutation + pipeline exec).",
			Buckets:   prometheus.DefBuckets,
		}),
		ActiveSubscribers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "convoengine",
			Name:      "active_subscribers",
			Help:      "Currently connected WebSocket subscribers across all projects.",
		}),
		ActiveJobs: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "convoengine",
			Name:      "active_jobs",
			Help:      "Jobs currently in pending or running status.",
		}),
	}
}
