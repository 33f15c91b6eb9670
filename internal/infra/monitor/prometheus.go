package monitor

import (
	"github.com/prometheus/client_golang/prometheus"

	"essim_battery/internal/infra"
)

const metricPrefix = "essim_battery_"

// NewRegistry exposes m through a dedicated Prometheus registry.
func NewRegistry(m *infra.Metrics) *prometheus.Registry {
	reg := prometheus.NewRegistry()

	counter := func(name, help string, read func(infra.MetricsSnapshot) uint64) {
		reg.MustRegister(prometheus.NewCounterFunc(
			prometheus.CounterOpts{Name: metricPrefix + name, Help: help},
			func() float64 { return float64(read(m.Snapshot())) },
		))
	}
	counter("messages_processed_total", "Messages handled by the controller",
		func(s infra.MetricsSnapshot) uint64 { return s.MessagesProcessed })
	counter("bids_published_total", "Bid curves sent to the market",
		func(s infra.MetricsSnapshot) uint64 { return s.BidsPublished })
	counter("allocations_resolved_total", "Allocations applied to the asset",
		func(s infra.MetricsSnapshot) uint64 { return s.AllocationsResolved })
	counter("messages_dropped_total", "Malformed or out of order messages",
		func(s infra.MetricsSnapshot) uint64 { return s.MessagesDropped })
	counter("fatal_errors_total", "Runs halted by a fatal error",
		func(s infra.MetricsSnapshot) uint64 { return s.FatalErrors })
	counter("runs_completed_total", "Runs ended by a stop message",
		func(s infra.MetricsSnapshot) uint64 { return s.RunsCompleted })
	counter("recorder_failures_total", "Failed result writes",
		func(s infra.MetricsSnapshot) uint64 { return s.RecorderFailures })

	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: metricPrefix + "handle_latency_seconds", Help: "Average message handling latency"},
		func() float64 { return float64(m.Snapshot().AvgLatencyNs) / 1e9 },
	))
	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: metricPrefix + "broker_connections", Help: "Open broker connections"},
		func() float64 { return float64(m.Snapshot().ActiveConnections) },
	))
	return reg
}
